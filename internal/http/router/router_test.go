package router

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/secure-auth-core/internal/audit"
	"github.com/sandeepkv93/secure-auth-core/internal/domain"
	"github.com/sandeepkv93/secure-auth-core/internal/health"
	"github.com/sandeepkv93/secure-auth-core/internal/http/handler"
	"github.com/sandeepkv93/secure-auth-core/internal/http/middleware"
	"github.com/sandeepkv93/secure-auth-core/internal/repository"
	"github.com/sandeepkv93/secure-auth-core/internal/security"
	"github.com/sandeepkv93/secure-auth-core/internal/service"
)

const testPassword = "correct-horse-battery"

type unhealthyChecker struct{}

func (unhealthyChecker) Check(ctx context.Context) health.CheckResult {
	return health.CheckResult{Name: "db", Healthy: false, Error: "db down"}
}

type routerHarness struct {
	handler    http.Handler
	rbac       *service.RBACService
	apiKeys    *service.APIKeyService
	reconciler *service.PermissionReconciler
	users      repository.UserRepository
}

func newRouterHarness(t *testing.T, mutate func(*Dependencies)) *routerHarness {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:router_%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(domain.Models()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	users := repository.NewUserRepository(db)
	perms := repository.NewPermissionRepository(db)
	revocations := service.NewInMemoryRevocationIndex()
	snapshots := service.NewInMemoryPermissionSnapshotStore()
	registry := service.NewSessionRegistry(repository.NewSessionRepository(db), service.NewInMemorySessionCache(), revocations, service.SessionRegistryConfig{
		Pepper:       "pepper-for-tests",
		RefreshTTL:   time.Hour,
		StoreTimeout: 2 * time.Second,
	}, log)
	jwtMgr := security.NewJWTManager("authcore-test", "authcore-clients",
		"access-secret-for-tests-0123456789abcdef", "refresh-secret-for-tests-0123456789abcdef")
	tokens := service.NewTokenService(jwtMgr, registry, revocations, snapshots, service.TokenServiceConfig{
		AccessTTL:            15 * time.Minute,
		RefreshTTL:           time.Hour,
		EmailVerificationTTL: time.Hour,
	}, log)
	rbac := service.NewRBACService(repository.NewRoleRepository(db), perms, users, snapshots, nil, log)
	apiKeys := service.NewAPIKeyService(repository.NewAPIKeyRepository(db), service.NewInMemoryNegativeLookupCache(), time.Minute, log)
	guard := service.NewAuthorizationGuard(tokens, users, rbac, snapshots, apiKeys, time.Hour, log)
	reconciler := service.NewPermissionReconciler(perms, snapshots, log)
	userAdmin := service.NewUserAdminService(users, registry, snapshots, log)
	dispatcher := audit.NewDispatcher(audit.Config{BufferSize: 16, DropIfFull: true}, audit.NoOpSink{})
	t.Cleanup(dispatcher.Close)
	auth := service.NewAuthService(users, rbac, tokens, registry, service.NewLogNotifier("", log), nil, dispatcher,
		service.NewInMemoryAuthAbuseGuard(service.AuthAbusePolicy{}), service.AuthServiceConfig{
			BcryptCost:        bcrypt.MinCost,
			SessionMaxPerUser: 5,
		}, log)

	ctx := context.Background()
	if err := rbac.SeedSystemRoles(ctx); err != nil {
		t.Fatalf("seed roles: %v", err)
	}
	if _, _, err := reconciler.Reconcile(ctx, Operations()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if _, err := rbac.GrantAllActiveToAdmin(ctx); err != nil {
		t.Fatalf("grant admin: %v", err)
	}

	dep := Dependencies{
		AuthHandler:     handler.NewAuthHandler(auth),
		AdminHandler:    handler.NewAdminHandler(rbac, userAdmin, reconciler, apiKeys, Operations),
		InternalHandler: handler.NewInternalHandler(auth),
		Guard:           guard,
		CORSOrigins:     []string{"http://localhost"},
	}
	if mutate != nil {
		mutate(&dep)
	}
	return &routerHarness{handler: NewRouter(dep), rbac: rbac, apiKeys: apiKeys, reconciler: reconciler, users: users}
}

func perform(r http.Handler, method, target string, headers map[string]string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.RemoteAddr = "10.10.10.10:1234"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string         `json:"code"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v body=%s", err, rr.Body.String())
	}
	return env
}

type authData struct {
	User struct {
		ID uint `json:"id"`
	} `json:"user"`
	Tokens service.TokenPair `json:"tokens"`
}

func (h *routerHarness) registerAndLogin(t *testing.T, email string) authData {
	t.Helper()
	body := fmt.Sprintf(`{"email":%q,"password":%q,"name":"Test"}`, email, testPassword)
	rr := perform(h.handler, http.MethodPost, "/api/v1/auth/register", nil, body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var data authData
	if err := json.Unmarshal(decode(t, rr).Data, &data); err != nil {
		t.Fatalf("decode register: %v", err)
	}
	return data
}

func (h *routerHarness) login(t *testing.T, email string) authData {
	t.Helper()
	body := fmt.Sprintf(`{"email":%q,"password":%q}`, email, testPassword)
	rr := perform(h.handler, http.MethodPost, "/api/v1/auth/login", nil, body)
	if rr.Code != http.StatusOK {
		t.Fatalf("login expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var data authData
	if err := json.Unmarshal(decode(t, rr).Data, &data); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return data
}

func TestRouterHealthReadyNilAndUnreadyBranches(t *testing.T) {
	t.Run("nil readiness returns ready", func(t *testing.T) {
		h := newRouterHarness(t, nil)
		rr := perform(h.handler, http.MethodGet, "/health/ready", nil, "")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), `"status":"ready"`) {
			t.Fatalf("expected ready status payload, got %s", rr.Body.String())
		}
	})

	t.Run("unready dependency returns 503", func(t *testing.T) {
		h := newRouterHarness(t, func(d *Dependencies) {
			d.Readiness = health.NewReadinessRunner(time.Second, 0, unhealthyChecker{})
		})
		rr := perform(h.handler, http.MethodGet, "/health/ready", nil, "")
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), `"code":"DEPENDENCY_UNREADY"`) {
			t.Fatalf("expected DEPENDENCY_UNREADY error envelope, got %s", rr.Body.String())
		}
	})
}

func TestRouterMountsEveryOperation(t *testing.T) {
	h := newRouterHarness(t, nil)
	routes, ok := h.handler.(chi.Routes)
	if !ok {
		t.Fatalf("expected chi router, got %T", h.handler)
	}
	mounted := map[string]bool{}
	err := chi.Walk(routes, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		mounted[method+" "+route] = true
		return nil
	})
	if err != nil {
		t.Fatalf("walk routes: %v", err)
	}
	for _, op := range Operations() {
		if !mounted[op.Route()] {
			t.Fatalf("operation %s (%s) is not mounted", op.Name, op.Route())
		}
	}
}

func TestOperationsManifestIsConsistent(t *testing.T) {
	names := map[string]bool{}
	routes := map[string]bool{}
	for _, op := range Operations() {
		if names[op.Name] {
			t.Fatalf("duplicate operation name %s", op.Name)
		}
		names[op.Name] = true
		if routes[op.Route()] {
			t.Fatalf("duplicate route %s", op.Route())
		}
		routes[op.Route()] = true
		if !strings.HasPrefix(op.Path, APIPrefix+"/") {
			t.Fatalf("operation %s path %q is outside %s", op.Name, op.Path, APIPrefix)
		}
		for _, req := range op.Requirements {
			if !req.Valid() {
				t.Fatalf("operation %s has invalid requirement %+v", op.Name, req)
			}
		}
		if op.Module == moduleAdmin && !op.Protected() {
			t.Fatalf("admin operation %s must declare requirements", op.Name)
		}
	}
}

func TestRouterAuthFlowThroughGuard(t *testing.T) {
	h := newRouterHarness(t, nil)
	reg := h.registerAndLogin(t, "flow@example.com")

	rr := perform(h.handler, http.MethodGet, "/api/v1/me", bearer(reg.Tokens.AccessToken), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("me expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = perform(h.handler, http.MethodGet, "/api/v1/me", nil, "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("me without token expected 401, got %d", rr.Code)
	}

	rr = perform(h.handler, http.MethodPost, "/api/v1/auth/refresh", nil, fmt.Sprintf(`{"refresh_token":%q}`, reg.Tokens.RefreshToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = perform(h.handler, http.MethodPost, "/api/v1/auth/refresh", nil, fmt.Sprintf(`{"refresh_token":%q}`, reg.Tokens.RefreshToken))
	if rr.Code != http.StatusUnauthorized || decode(t, rr).Error.Code != "TOKEN_INVALID" {
		t.Fatalf("reused refresh token expected 401 TOKEN_INVALID, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = perform(h.handler, http.MethodPost, "/api/v1/auth/login", nil, `{"email":"flow@example.com","password":"wrong-password"}`)
	if rr.Code != http.StatusUnauthorized || decode(t, rr).Error.Code != "INVALID_CREDENTIALS" {
		t.Fatalf("bad password expected 401 INVALID_CREDENTIALS, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRouterAdminRequiresPermissions(t *testing.T) {
	h := newRouterHarness(t, nil)
	user := h.registerAndLogin(t, "plain@example.com")

	rr := perform(h.handler, http.MethodGet, "/api/v1/admin/users", bearer(user.Tokens.AccessToken), "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for plain user, got %d: %s", rr.Code, rr.Body.String())
	}
	env := decode(t, rr)
	if env.Error == nil || !strings.Contains(fmt.Sprint(env.Error.Details["missing"]), "users:read") {
		t.Fatalf("expected missing users:read in details, got %s", rr.Body.String())
	}

	if err := h.rbac.AssignRoleByName(context.Background(), user.User.ID, domain.RoleAdmin); err != nil {
		t.Fatalf("promote: %v", err)
	}
	rr = perform(h.handler, http.MethodGet, "/api/v1/admin/users", bearer(user.Tokens.AccessToken), "")
	if rr.Code != http.StatusUnauthorized || decode(t, rr).Error.Code != "PERMISSIONS_STALE" {
		t.Fatalf("expected stale token after promotion, got %d: %s", rr.Code, rr.Body.String())
	}

	admin := h.login(t, "plain@example.com")
	rr = perform(h.handler, http.MethodGet, "/api/v1/admin/users", bearer(admin.Tokens.AccessToken), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("admin list users expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var listed struct {
		Data []map[string]any `json:"data"`
		Meta struct {
			Pagination struct {
				Page  int   `json:"page"`
				Total int64 `json:"total"`
			} `json:"pagination"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode user list: %v", err)
	}
	if listed.Meta.Pagination.Page != 1 || listed.Meta.Pagination.Total != int64(len(listed.Data)) {
		t.Fatalf("unexpected pagination meta: %s", rr.Body.String())
	}
	if rr.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("expected no-store, got %q", rr.Header().Get("Cache-Control"))
	}

	rr = perform(h.handler, http.MethodPost, "/api/v1/admin/permissions/sync?dry_run=true", bearer(admin.Tokens.AccessToken), "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"dry_run":true`) {
		t.Fatalf("dry run sync expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = perform(h.handler, http.MethodDelete, "/api/v1/admin/roles/1", bearer(admin.Tokens.AccessToken), "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("deleting a system role expected 409, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRouterInternalValidateUsesAPIKey(t *testing.T) {
	h := newRouterHarness(t, nil)
	user := h.registerAndLogin(t, "svc-target@example.com")
	if _, err := h.apiKeys.Register(context.Background(), "billing", "billing-key", []string{"tokens:validate"}); err != nil {
		t.Fatalf("register api key: %v", err)
	}
	body := fmt.Sprintf(`{"token":%q}`, user.Tokens.AccessToken)

	rr := perform(h.handler, http.MethodPost, "/api/v1/internal/tokens/validate", bearer(user.Tokens.AccessToken), body)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("user bearer on service route expected 401, got %d", rr.Code)
	}

	rr = perform(h.handler, http.MethodPost, "/api/v1/internal/tokens/validate", map[string]string{security.APIKeyHeader: "billing-key"}, body)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"valid":true`) {
		t.Fatalf("validate expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRouterAuthRateLimiterAppliesToAuthModuleOnly(t *testing.T) {
	h := newRouterHarness(t, func(d *Dependencies) {
		d.AuthRateLimiter = middleware.NewRateLimiter(middleware.RateLimitPolicy{RatePerSec: 0.01, Burst: 1}, "auth").Middleware()
	})

	first := perform(h.handler, http.MethodPost, "/api/v1/auth/login", nil, `{"email":"nobody@example.com","password":"x"}`)
	if first.Code != http.StatusUnauthorized {
		t.Fatalf("first login expected 401, got %d", first.Code)
	}
	second := perform(h.handler, http.MethodPost, "/api/v1/auth/login", nil, `{"email":"nobody@example.com","password":"x"}`)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second login expected 429, got %d", second.Code)
	}
	live := perform(h.handler, http.MethodGet, "/health/live", nil, "")
	if live.Code != http.StatusOK {
		t.Fatalf("health expected 200, got %d", live.Code)
	}
}

func (h *routerHarness) admin(t *testing.T, email string) authData {
	t.Helper()
	user := h.registerAndLogin(t, email)
	if err := h.rbac.AssignRoleByName(context.Background(), user.User.ID, domain.RoleAdmin); err != nil {
		t.Fatalf("promote %s: %v", email, err)
	}
	return h.login(t, email)
}

func TestRouterPatchRoleKeepsUnsetFields(t *testing.T) {
	h := newRouterHarness(t, nil)
	admin := h.admin(t, "roles-admin@example.com")
	ctx := context.Background()
	def, err := h.rbac.DefaultRole(ctx)
	if err != nil {
		t.Fatalf("default role: %v", err)
	}
	target := fmt.Sprintf("/api/v1/admin/roles/%d", def.ID)

	rr := perform(h.handler, http.MethodPatch, target, bearer(admin.Tokens.AccessToken), `{"description":"everyone"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("description patch expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	after, err := h.rbac.DefaultRole(ctx)
	if err != nil || after.ID != def.ID || after.Description != "everyone" {
		t.Fatalf("default role changed by description patch: %+v err=%v", after, err)
	}
	newcomer := h.registerAndLogin(t, "newcomer@example.com")
	stored, err := h.users.FindByID(ctx, newcomer.User.ID)
	if err != nil || len(stored.Roles) != 1 || stored.Roles[0].ID != def.ID {
		t.Fatalf("new user should still get the default role: %+v err=%v", stored, err)
	}

	rr = perform(h.handler, http.MethodPatch, target, bearer(admin.Tokens.AccessToken), `{"permissions":["users:read"]}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("permissions in a role patch expected 400, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = perform(h.handler, http.MethodPost, "/api/v1/admin/roles", bearer(admin.Tokens.AccessToken), `{"name":"members","is_default":true}`)
	if rr.Code != http.StatusConflict || decode(t, rr).Error.Code != "SYSTEM_ENTITY_IMMUTABLE" {
		t.Fatalf("custom default over the system role expected 409, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRouterAdminUserLifecycle(t *testing.T) {
	h := newRouterHarness(t, nil)
	admin := h.admin(t, "lifecycle-admin@example.com")
	member := h.registerAndLogin(t, "member@example.com")
	auth := bearer(admin.Tokens.AccessToken)
	userPath := fmt.Sprintf("/api/v1/admin/users/%d", member.User.ID)

	rr := perform(h.handler, http.MethodGet, userPath, auth, "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"email":"member@example.com"`) {
		t.Fatalf("get user expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = perform(h.handler, http.MethodGet, "/api/v1/admin/users/9999", auth, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get missing user expected 404, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = perform(h.handler, http.MethodPatch, userPath+"/status", auth, `{}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status without active expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = perform(h.handler, http.MethodPatch, userPath+"/status", auth, `{"active":false}`)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"sessions_revoked":1`) {
		t.Fatalf("deactivate expected 200 with one revoked session, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = perform(h.handler, http.MethodGet, "/api/v1/me", bearer(member.Tokens.AccessToken), "")
	if rr.Code != http.StatusUnauthorized && rr.Code != http.StatusForbidden {
		t.Fatalf("deactivated user must lose access, got %d: %s", rr.Code, rr.Body.String())
	}
	body := fmt.Sprintf(`{"email":"member@example.com","password":%q}`, testPassword)
	rr = perform(h.handler, http.MethodPost, "/api/v1/auth/login", nil, body)
	if rr.Code != http.StatusForbidden || decode(t, rr).Error.Code != "ACCOUNT_DISABLED" {
		t.Fatalf("login of deactivated user expected 403 ACCOUNT_DISABLED, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = perform(h.handler, http.MethodDelete, fmt.Sprintf("/api/v1/admin/users/%d", admin.User.ID), auth, "")
	if rr.Code != http.StatusConflict || decode(t, rr).Error.Code != "LAST_ADMIN" {
		t.Fatalf("deleting the last admin expected 409 LAST_ADMIN, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = perform(h.handler, http.MethodDelete, userPath, auth, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("delete user expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if _, err := h.users.FindByID(context.Background(), member.User.ID); err != repository.ErrUserNotFound {
		t.Fatalf("expected user removed, got %v", err)
	}
}

func TestRouterRefreshAndLogoutReadBodyToken(t *testing.T) {
	h := newRouterHarness(t, nil)
	reg := h.registerAndLogin(t, "body@example.com")

	rr := perform(h.handler, http.MethodPost, "/api/v1/auth/refresh", nil, `{}`)
	if rr.Code != http.StatusUnauthorized || decode(t, rr).Error.Code != "TOKEN_INVALID" {
		t.Fatalf("refresh without token expected 401 TOKEN_INVALID, got %d: %s", rr.Code, rr.Body.String())
	}

	body := fmt.Sprintf(`{"refresh_token":%q}`, reg.Tokens.RefreshToken)
	rr = perform(h.handler, http.MethodPost, "/api/v1/auth/logout", bearer(reg.Tokens.AccessToken), body)
	if rr.Code != http.StatusOK {
		t.Fatalf("logout expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = perform(h.handler, http.MethodPost, "/api/v1/auth/refresh", nil, body)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout expected 401, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = perform(h.handler, http.MethodPost, "/api/v1/auth/logout", bearer(h.login(t, "body@example.com").Tokens.AccessToken), `{"refresh_token":"x","extra":1}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("logout with unknown field expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
}
