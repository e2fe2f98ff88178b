package repository

import "testing"

func TestPageRequestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   PageRequest
		want PageRequest
	}{
		{name: "zero value", in: PageRequest{}, want: PageRequest{Page: DefaultPage, PageSize: DefaultPageSize}},
		{name: "negative page", in: PageRequest{Page: -3, PageSize: 5}, want: PageRequest{Page: DefaultPage, PageSize: 5}},
		{name: "negative size", in: PageRequest{Page: 4, PageSize: -1}, want: PageRequest{Page: 4, PageSize: DefaultPageSize}},
		{name: "oversized", in: PageRequest{Page: 1, PageSize: MaxPageSize + 1}, want: PageRequest{Page: 1, PageSize: MaxPageSize}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.in.Normalize(); got != tc.want {
				t.Fatalf("Normalize(%+v) = %+v, want %+v", tc.in, got, tc.want)
			}
		})
	}
}

func TestPageResultSetTotal(t *testing.T) {
	res := newPageResult[int](PageRequest{Page: 3, PageSize: 10}.Normalize())
	res.setTotal(21)
	if res.Page != 3 || res.PageSize != 10 || res.Total != 21 || res.TotalPages != 3 {
		t.Fatalf("unexpected page result: %+v", res)
	}
	if off := (PageRequest{Page: 3, PageSize: 10}).offset(); off != 20 {
		t.Fatalf("expected offset 20, got %d", off)
	}

	empty := newPageResult[int](PageRequest{}.Normalize())
	empty.setTotal(0)
	if empty.TotalPages != 0 {
		t.Fatalf("expected no pages for empty result, got %d", empty.TotalPages)
	}
}

func TestOrderClauseWhitelist(t *testing.T) {
	if got := orderClause("users", "email", "desc", "email", "created_at"); got != "users.email DESC" {
		t.Fatalf("unexpected clause %q", got)
	}
	if got := orderClause("users", "created_at", "", "email", "created_at"); got != "users.created_at ASC" {
		t.Fatalf("unexpected clause %q", got)
	}
	if got := orderClause("users", "password_hash; DROP TABLE users", "asc", "email"); got != "" {
		t.Fatalf("expected unknown column to be rejected, got %q", got)
	}
}

func FuzzPageRequestNormalize(f *testing.F) {
	f.Add(0, 0)
	f.Add(-1, -1)
	f.Add(7, MaxPageSize*3)
	f.Add(1<<30, 1)

	f.Fuzz(func(t *testing.T, page, pageSize int) {
		got := PageRequest{Page: page, PageSize: pageSize}.Normalize()
		if got.Page < 1 || got.PageSize < 1 || got.PageSize > MaxPageSize {
			t.Fatalf("out of bounds: %+v", got)
		}
		if got.Normalize() != got {
			t.Fatalf("Normalize is not idempotent for %+v", got)
		}
	})
}

func FuzzPageCount(f *testing.F) {
	f.Add(int64(0), 10)
	f.Add(int64(21), 20)
	f.Add(int64(1<<62), 1)
	f.Add(int64(-5), 3)

	f.Fuzz(func(t *testing.T, total int64, pageSize int) {
		got := pageCount(total, pageSize)
		if total <= 0 || pageSize <= 0 {
			if got != 0 {
				t.Fatalf("expected 0 pages, got %d (total=%d size=%d)", got, total, pageSize)
			}
			return
		}
		covered := int64(got) * int64(pageSize)
		if covered < total || covered-int64(pageSize) >= total {
			t.Fatalf("pages=%d does not tightly cover total=%d with size=%d", got, total, pageSize)
		}
	})
}
