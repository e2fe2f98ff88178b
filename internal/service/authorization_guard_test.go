package service

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/sandeepkv93/secure-auth-core/internal/permission"
	"github.com/sandeepkv93/secure-auth-core/internal/security"
)

func TestGuardForbiddenNamesMissingCodes(t *testing.T) {
	h := newCoreHarness(t)
	ctx := context.Background()
	res := h.register(t, "reader@example.com")
	h.grant(t, res.User.ID, "reader", "users:read")
	session := h.login(t, "reader@example.com")

	principal, err := h.guard.Authorize(ctx, Credentials{Source: security.SourceBearer, Token: session.Tokens.AccessToken},
		[]permission.Requirement{permission.CanRead("users"), permission.CanDelete("users")})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	var fe *ForbiddenError
	if !errors.As(err, &fe) || !reflect.DeepEqual(fe.Missing, []string{"users:delete"}) {
		t.Fatalf("expected missing [users:delete], got %v", err)
	}
	if principal == nil || principal.UserID != res.User.ID {
		t.Fatalf("principal should still be resolved: %+v", principal)
	}

	if _, err := h.guard.Authorize(ctx, Credentials{Token: session.Tokens.AccessToken},
		[]permission.Requirement{permission.CanRead("users")}); err != nil {
		t.Fatalf("held permission must be allowed: %v", err)
	}
}

func TestGuardWithoutRequirementsAllowsAuthenticated(t *testing.T) {
	h := newCoreHarness(t)
	res := h.register(t, "open@example.com")
	principal, err := h.guard.Authorize(context.Background(), Credentials{Token: res.Tokens.AccessToken}, nil)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if principal.Kind != PrincipalUser || principal.Email != "open@example.com" {
		t.Fatalf("unexpected principal: %+v", principal)
	}
	if _, err := h.guard.Authorize(context.Background(), Credentials{}, nil); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("missing credential: expected ErrUnauthenticated, got %v", err)
	}
}

func TestGuardDetectsStalePermissions(t *testing.T) {
	for name, opts := range map[string][]harnessOption{"memory": nil, "redis": {withRedis()}} {
		t.Run(name, func(t *testing.T) {
			h := newCoreHarness(t, opts...)
			ctx := context.Background()
			res := h.register(t, "stale@example.com")
			role := h.grant(t, res.User.ID, "writer", "posts:create")
			session := h.login(t, "stale@example.com")

			if _, err := h.guard.Authorize(ctx, Credentials{Token: session.Tokens.AccessToken}, nil); err != nil {
				t.Fatalf("authorize before change: %v", err)
			}
			if _, err := h.rbac.CreatePermission(ctx, PermissionInput{Resource: "posts", Action: "delete"}); err != nil {
				t.Fatalf("create permission: %v", err)
			}
			if err := h.rbac.SetRolePermissions(ctx, role.ID, []string{"posts:create", "posts:delete"}); err != nil {
				t.Fatalf("set role permissions: %v", err)
			}
			if _, err := h.guard.Authorize(ctx, Credentials{Token: session.Tokens.AccessToken}, nil); !errors.Is(err, ErrPermissionsStale) {
				t.Fatalf("expected ErrPermissionsStale, got %v", err)
			}
			if !errors.Is(ErrPermissionsStale, ErrUnauthenticated) {
				t.Fatal("stale permissions must force re-authentication")
			}

			pair, err := h.auth.Refresh(ctx, session.Tokens.RefreshToken, ClientMeta{})
			if err != nil {
				t.Fatalf("refresh: %v", err)
			}
			principal, err := h.guard.Authorize(ctx, Credentials{Token: pair.AccessToken},
				[]permission.Requirement{permission.CanDelete("posts")})
			if err != nil {
				t.Fatalf("authorize after refresh: %v", err)
			}
			if !reflect.DeepEqual(principal.Permissions, []string{"posts:create", "posts:delete"}) {
				t.Fatalf("unexpected permissions: %v", principal.Permissions)
			}
		})
	}
}

func TestGuardRejectsDisabledAccount(t *testing.T) {
	h := newCoreHarness(t)
	res := h.register(t, "disabled@example.com")
	if err := h.db.Exec("UPDATE users SET is_active = ? WHERE id = ?", false, res.User.ID).Error; err != nil {
		t.Fatalf("disable: %v", err)
	}
	if _, err := h.guard.Authorize(context.Background(), Credentials{Token: res.Tokens.AccessToken}, nil); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
	if _, err := h.auth.Login(context.Background(), LoginInput{Email: "disabled@example.com", Password: testPassword}, ClientMeta{}); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("login: expected ErrAccountDisabled, got %v", err)
	}
}

func TestGuardAPIKeyPrincipal(t *testing.T) {
	for name, opts := range map[string][]harnessOption{"memory": nil, "redis": {withRedis()}} {
		t.Run(name, func(t *testing.T) {
			h := newCoreHarness(t, opts...)
			ctx := context.Background()
			if _, err := h.apiKeys.Register(ctx, "billing", "billing-key-1", []string{"tokens:validate"}); err != nil {
				t.Fatalf("register key: %v", err)
			}

			principal, err := h.guard.Authorize(ctx, Credentials{Source: security.SourceAPIKey, Token: "billing-key-1"},
				[]permission.Requirement{permission.Require("tokens", "validate")})
			if err != nil {
				t.Fatalf("authorize api key: %v", err)
			}
			if principal.Kind != PrincipalService || principal.ServiceID != "billing" {
				t.Fatalf("unexpected principal: %+v", principal)
			}

			_, err = h.guard.Authorize(ctx, Credentials{Source: security.SourceAPIKey, Token: "billing-key-1"},
				[]permission.Requirement{permission.CanDelete("users")})
			if !errors.Is(err, ErrForbidden) {
				t.Fatalf("expected ErrForbidden, got %v", err)
			}

			for i := 0; i < 2; i++ {
				if _, err := h.guard.Authorize(ctx, Credentials{Source: security.SourceAPIKey, Token: "wrong"}, nil); !errors.Is(err, ErrTokenInvalid) {
					t.Fatalf("unknown key attempt %d: expected ErrTokenInvalid, got %v", i, err)
				}
			}
			seen, err := h.apiKeys.negative.Seen(ctx, apiKeyNegativeNamespace, security.HashAPIKey("wrong"))
			if err != nil || !seen {
				t.Fatalf("unknown key should be negatively cached: seen=%v err=%v", seen, err)
			}
		})
	}
}

func TestLoginWrongPasswordCountsFailure(t *testing.T) {
	h := newCoreHarness(t)
	ctx := context.Background()
	res := h.register(t, "fail@example.com")

	_, err := h.auth.Login(ctx, LoginInput{Email: "fail@example.com", Password: "wrong-password"}, ClientMeta{})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	_, unknownErr := h.auth.Login(ctx, LoginInput{Email: "nobody@example.com", Password: "wrong-password"}, ClientMeta{})
	if unknownErr == nil || unknownErr.Error() != err.Error() {
		t.Fatalf("unknown email must fail identically: %v vs %v", unknownErr, err)
	}
	user, err := h.users.FindByID(ctx, res.User.ID)
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if user.FailedLoginAttempts != 1 {
		t.Fatalf("expected 1 failed attempt, got %d", user.FailedLoginAttempts)
	}
	if _, err := h.auth.Register(ctx, RegisterInput{Email: "FAIL@example.com", Password: testPassword}, ClientMeta{}); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate registration: expected ErrConflict, got %v", err)
	}
}
