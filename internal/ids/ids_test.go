package ids

import (
	"testing"

	"github.com/oklog/ulid/v2"
)

func TestNewIsSortableAndUnique(t *testing.T) {
	prev := ""
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := New()
		if _, err := ulid.ParseStrict(id); err != nil {
			t.Fatalf("invalid ulid %q: %v", id, err)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
		if prev != "" && id <= prev {
			t.Fatalf("ids must increase: %q after %q", id, prev)
		}
		prev = id
	}
}
