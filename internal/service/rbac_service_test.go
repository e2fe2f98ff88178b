package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sandeepkv93/secure-auth-core/internal/domain"
	"github.com/sandeepkv93/secure-auth-core/internal/repository"
)

func TestEffectivePermissionsAreDeduplicatedAcrossRoles(t *testing.T) {
	h := newCoreHarness(t)
	ctx := context.Background()
	res := h.register(t, "dedupe@example.com")

	h.grant(t, res.User.ID, "support", "users:read", "users:update")
	h.grant(t, res.User.ID, "auditor", "users:read")

	got, err := h.rbac.EffectivePermissions(ctx, res.User.ID)
	if err != nil {
		t.Fatalf("effective permissions: %v", err)
	}
	want := []string{"users:read", "users:update"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestSystemRolesAreImmutable(t *testing.T) {
	h := newCoreHarness(t)
	ctx := context.Background()
	admin, err := h.roles.FindByName(ctx, domain.RoleAdmin)
	if err != nil {
		t.Fatalf("find admin: %v", err)
	}
	if _, err := h.rbac.CreatePermission(ctx, PermissionInput{Resource: "reports", Action: "read"}); err != nil {
		t.Fatalf("create permission: %v", err)
	}

	tests := []struct {
		name string
		run  func() error
	}{
		{"delete", func() error { return h.rbac.DeleteRole(ctx, admin.ID) }},
		{"rename", func() error {
			name := "root"
			_, err := h.rbac.UpdateRole(ctx, admin.ID, RolePatch{Name: &name})
			return err
		}},
		{"replace permissions", func() error { return h.rbac.SetRolePermissions(ctx, admin.ID, []string{"reports:read"}) }},
		{"assign permissions", func() error { return h.rbac.AssignPermissions(ctx, admin.ID, []string{"reports:read"}) }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.run(); !errors.Is(err, ErrSystemEntityImmutable) {
				t.Fatalf("expected ErrSystemEntityImmutable, got %v", err)
			}
		})
	}
}

func TestSystemPermissionsCannotBeDeleted(t *testing.T) {
	h := newCoreHarness(t)
	ctx := context.Background()
	if _, _, err := h.reconciler.Reconcile(ctx, testOperations()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	p, err := h.perms.FindByCode(ctx, "users:read")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if err := h.rbac.DeletePermission(ctx, p.ID); !errors.Is(err, ErrSystemEntityImmutable) {
		t.Fatalf("expected ErrSystemEntityImmutable, got %v", err)
	}

	manual, err := h.rbac.CreatePermission(ctx, PermissionInput{Resource: "Reports", Action: "Export"})
	if err != nil {
		t.Fatalf("create manual: %v", err)
	}
	if manual.Code != "reports:export" || manual.Name != "Reports: Export" || manual.IsSystem {
		t.Fatalf("unexpected manual permission: %+v", manual)
	}
	if err := h.rbac.DeletePermission(ctx, manual.ID); err != nil {
		t.Fatalf("delete manual: %v", err)
	}
}

func TestEnsureRoleIsIdempotent(t *testing.T) {
	h := newCoreHarness(t)
	ctx := context.Background()
	a, err := h.rbac.EnsureRole(ctx, "editor")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	b, err := h.rbac.EnsureRole(ctx, "editor")
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if a.ID != b.ID {
		t.Fatalf("expected same role, got %d and %d", a.ID, b.ID)
	}
	if _, err := h.rbac.CreateRole(ctx, RoleInput{Name: "editor"}, nil); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate role name: expected ErrConflict, got %v", err)
	}
}

func TestAssignUnknownPermissionCode(t *testing.T) {
	h := newCoreHarness(t)
	ctx := context.Background()
	role, err := h.rbac.EnsureRole(ctx, "ops")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := h.rbac.AssignPermissions(ctx, role.ID, []string{"ghost:read"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := h.rbac.AssignPermissions(ctx, role.ID, []string{"no-colon"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCustomRoleCannotTakeDefaultFromSystemRole(t *testing.T) {
	h := newCoreHarness(t)
	ctx := context.Background()

	if _, err := h.rbac.CreateRole(ctx, RoleInput{Name: "custom", IsDefault: true}, nil); !errors.Is(err, ErrSystemEntityImmutable) {
		t.Fatalf("create default: expected ErrSystemEntityImmutable, got %v", err)
	}
	custom, err := h.rbac.CreateRole(ctx, RoleInput{Name: "custom"}, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	yes := true
	if _, err := h.rbac.UpdateRole(ctx, custom.ID, RolePatch{IsDefault: &yes}); !errors.Is(err, ErrSystemEntityImmutable) {
		t.Fatalf("update default: expected ErrSystemEntityImmutable, got %v", err)
	}

	def, err := h.rbac.DefaultRole(ctx)
	if err != nil {
		t.Fatalf("default role: %v", err)
	}
	if def.Name != domain.RoleUser || !def.IsSystem {
		t.Fatalf("system user role must stay default, got %+v", def)
	}
}

func TestPatchRoleChangesOnlyGivenFields(t *testing.T) {
	h := newCoreHarness(t)
	ctx := context.Background()
	userRole, err := h.roles.FindByName(ctx, domain.RoleUser)
	if err != nil {
		t.Fatalf("find user role: %v", err)
	}

	desc := "  everyone who signs up  "
	updated, err := h.rbac.UpdateRole(ctx, userRole.ID, RolePatch{Description: &desc})
	if err != nil {
		t.Fatalf("patch description: %v", err)
	}
	if updated.Description != "everyone who signs up" || !updated.IsDefault || updated.Name != domain.RoleUser {
		t.Fatalf("unexpected role after patch: %+v", updated)
	}
	if def, err := h.rbac.DefaultRole(ctx); err != nil || def.ID != userRole.ID {
		t.Fatalf("default role lost after description patch: %v %v", def, err)
	}
	if _, err := h.rbac.UpdateRole(ctx, userRole.ID, RolePatch{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty patch: expected ErrInvalidInput, got %v", err)
	}
}

func TestDefaultFlagMovesBetweenCustomRoles(t *testing.T) {
	h := newCoreHarness(t)
	ctx := context.Background()
	// databases seeded before the system default existed can carry a custom default
	if err := h.db.Model(&domain.Role{}).Where("name = ?", domain.RoleUser).Update("is_default", false).Error; err != nil {
		t.Fatalf("clear system default: %v", err)
	}

	first, err := h.rbac.CreateRole(ctx, RoleInput{Name: "member", IsDefault: true}, nil)
	if err != nil {
		t.Fatalf("create member: %v", err)
	}
	second, err := h.rbac.CreateRole(ctx, RoleInput{Name: "guest"}, nil)
	if err != nil {
		t.Fatalf("create guest: %v", err)
	}
	no := false
	if _, err := h.rbac.UpdateRole(ctx, first.ID, RolePatch{IsDefault: &no}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unsetting the default: expected ErrInvalidInput, got %v", err)
	}
	yes := true
	if _, err := h.rbac.UpdateRole(ctx, second.ID, RolePatch{IsDefault: &yes}); err != nil {
		t.Fatalf("move default: %v", err)
	}
	def, err := h.rbac.DefaultRole(ctx)
	if err != nil || def.ID != second.ID {
		t.Fatalf("expected guest to be default, got %v %v", def, err)
	}
	res := h.register(t, "guest@example.com")
	if names := res.User.RoleNames(); len(names) != 1 || names[0] != "guest" {
		t.Fatalf("new user should get the default role, got %v", names)
	}
}

type gatedPermissionRepository struct {
	repository.PermissionRepository
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (g *gatedPermissionRepository) ListEffectiveCodesByUserID(ctx context.Context, userID uint) ([]string, error) {
	g.calls.Add(1)
	g.started <- struct{}{}
	select {
	case <-g.release:
		return []string{"users:read"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestEffectivePermissionsSurvivesCancelledFirstCaller(t *testing.T) {
	repo := &gatedPermissionRepository{started: make(chan struct{}, 4), release: make(chan struct{})}
	rbac := NewRBACService(nil, repo, nil, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	type result struct {
		codes []string
		err   error
	}
	first, second := make(chan result, 1), make(chan result, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		codes, err := rbac.EffectivePermissions(ctx, 7)
		first <- result{codes, err}
	}()
	<-repo.started
	go func() {
		codes, err := rbac.EffectivePermissions(context.Background(), 7)
		second <- result{codes, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case res := <-first:
		if !errors.Is(res.err, context.Canceled) {
			t.Fatalf("cancelled caller: expected context.Canceled, got %v", res.err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting for the shared load")
	}

	close(repo.release)
	res := <-second
	if res.err != nil {
		t.Fatalf("second caller: %v", res.err)
	}
	if !reflect.DeepEqual(res.codes, []string{"users:read"}) {
		t.Fatalf("unexpected codes %v", res.codes)
	}
	if n := repo.calls.Load(); n != 1 {
		t.Fatalf("expected one shared load, got %d", n)
	}
}
