package common

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/sandeepkv93/secure-auth-core/internal/domain"
	"github.com/sandeepkv93/secure-auth-core/internal/service"
)

func TestWriteCIResult(t *testing.T) {
	var buf bytes.Buffer
	WriteCIResult(&buf, false, "reconcile", []string{"create users:read"}, errors.New("db down"))
	var got CIResult
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.OK || got.Title != "reconcile" || got.Error != "db down" || len(got.Details) != 1 {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestPlanDetailsOrdering(t *testing.T) {
	plan := service.ReconcilePlan{
		Create:     []domain.Permission{{Code: "users:update"}, {Code: "roles:read"}},
		Deactivate: []domain.Permission{{Code: "legacy:delete"}},
		Duplicates: []service.DuplicateDeclaration{{Code: "roles:read", Kept: "a", Ignored: "b"}},
		Unchanged:  4,
	}
	want := []string{
		"create roles:read",
		"create users:update",
		"deactivate legacy:delete",
		"duplicate roles:read kept=a ignored=b",
		"unchanged 4",
	}
	got := PlanDetails(plan)
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Fatalf("unexpected details:\n%v", got)
	}
}

func TestRenderEmptyPlan(t *testing.T) {
	out := RenderPlan(service.ReconcilePlan{})
	if !strings.Contains(out, "no changes") {
		t.Fatalf("expected no changes marker, got %q", out)
	}
}
