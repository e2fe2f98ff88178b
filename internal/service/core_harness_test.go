package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/secure-auth-core/internal/audit"
	"github.com/sandeepkv93/secure-auth-core/internal/domain"
	"github.com/sandeepkv93/secure-auth-core/internal/repository"
	"github.com/sandeepkv93/secure-auth-core/internal/security"
)

const testPassword = "correct-horse-battery"

var loginPolicy = AuthAbusePolicy{FreeAttempts: 3, BaseDelay: time.Minute, MaxDelay: time.Hour, ResetWindow: time.Hour}

type coreHarness struct {
	db          *gorm.DB
	redis       *miniredis.Miniredis
	users       repository.UserRepository
	roles       repository.RoleRepository
	perms       repository.PermissionRepository
	apiKeyRepo  repository.APIKeyRepository
	registry    *SessionRegistry
	revocations RevocationIndex
	snapshots   PermissionSnapshotStore
	tokens      *TokenService
	rbac        *RBACService
	apiKeys     *APIKeyService
	guard       *AuthorizationGuard
	reconciler  *PermissionReconciler
	auth        *AuthService
	userAdmin   *UserAdminService
}

type harnessOption func(*harnessSettings)

type harnessSettings struct {
	redis          bool
	requireVerify  bool
	maxSessions    int
	revocationsFor func(RevocationIndex) RevocationIndex
}

func withRedis() harnessOption { return func(s *harnessSettings) { s.redis = true } }

func withVerifiedEmailRequired() harnessOption {
	return func(s *harnessSettings) { s.requireVerify = true }
}

func withRevocationIndex(wrap func(RevocationIndex) RevocationIndex) harnessOption {
	return func(s *harnessSettings) { s.revocationsFor = wrap }
}

func newCoreHarness(t *testing.T, opts ...harnessOption) *coreHarness {
	t.Helper()
	settings := harnessSettings{maxSessions: 5}
	for _, opt := range opts {
		opt(&settings)
	}

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
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

	h := &coreHarness{
		db:         db,
		users:      repository.NewUserRepository(db),
		roles:      repository.NewRoleRepository(db),
		perms:      repository.NewPermissionRepository(db),
		apiKeyRepo: repository.NewAPIKeyRepository(db),
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	var (
		cache    SessionCache        = NewInMemorySessionCache()
		negative NegativeLookupCache = NewInMemoryNegativeLookupCache()
		events   EventPublisher      = NoopEventPublisher{}
		abuse    AuthAbuseGuard      = NewInMemoryAuthAbuseGuard(loginPolicy)
	)
	h.revocations = NewInMemoryRevocationIndex()
	h.snapshots = NewInMemoryPermissionSnapshotStore()
	if settings.redis {
		server, client := newRedisClientForTest(t)
		h.redis = server
		var uc redis.UniversalClient = client
		cache = NewRedisSessionCache(uc, "authcore:")
		negative = NewRedisNegativeLookupCache(uc, "authcore:")
		events = NewRedisEventPublisher(uc, "authcore:")
		abuse = NewRedisAuthAbuseGuard(uc, "authcore:", loginPolicy)
		h.revocations = NewRedisRevocationIndex(uc, "authcore:")
		h.snapshots = NewRedisPermissionSnapshotStore(uc, "authcore:")
	}
	if settings.revocationsFor != nil {
		h.revocations = settings.revocationsFor(h.revocations)
	}

	jwtMgr := security.NewJWTManager("authcore-test", "authcore-clients",
		"access-secret-for-tests-0123456789abcdef", "refresh-secret-for-tests-0123456789abcdef")
	h.registry = NewSessionRegistry(repository.NewSessionRepository(db), cache, h.revocations, SessionRegistryConfig{
		Pepper:           "pepper-for-tests",
		RefreshTTL:       time.Hour,
		RevokedRetention: time.Hour,
		StoreTimeout:     2 * time.Second,
	}, log)
	h.tokens = NewTokenService(jwtMgr, h.registry, h.revocations, h.snapshots, TokenServiceConfig{
		AccessTTL:            15 * time.Minute,
		RefreshTTL:           time.Hour,
		EmailVerificationTTL: 24 * time.Hour,
	}, log)
	h.rbac = NewRBACService(h.roles, h.perms, h.users, h.snapshots, events, log)
	h.apiKeys = NewAPIKeyService(h.apiKeyRepo, negative, time.Minute, log)
	h.guard = NewAuthorizationGuard(h.tokens, h.users, h.rbac, h.snapshots, h.apiKeys, time.Hour, log)
	h.reconciler = NewPermissionReconciler(h.perms, h.snapshots, log)
	h.userAdmin = NewUserAdminService(h.users, h.registry, h.snapshots, log)

	dispatcher := audit.NewDispatcher(audit.Config{BufferSize: 32, DropIfFull: true}, audit.NoOpSink{})
	t.Cleanup(dispatcher.Close)
	h.auth = NewAuthService(h.users, h.rbac, h.tokens, h.registry, NewLogNotifier("", log), events, dispatcher, abuse, AuthServiceConfig{
		BcryptCost:           bcrypt.MinCost,
		SessionMaxPerUser:    settings.maxSessions,
		RequireVerifiedEmail: settings.requireVerify,
	}, log)

	if err := h.rbac.SeedSystemRoles(context.Background()); err != nil {
		t.Fatalf("seed roles: %v", err)
	}
	return h
}

func (h *coreHarness) register(t *testing.T, email string) *AuthResult {
	t.Helper()
	res, err := h.auth.Register(context.Background(), RegisterInput{Email: email, Password: testPassword, Name: "Test"}, ClientMeta{IP: "127.0.0.1", UserAgent: "go-test"})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return res
}

func (h *coreHarness) login(t *testing.T, email string) *AuthResult {
	t.Helper()
	res, err := h.auth.Login(context.Background(), LoginInput{Email: email, Password: testPassword}, ClientMeta{IP: "127.0.0.1", UserAgent: "go-test"})
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	return res
}

// grant creates (if needed) a custom role holding codes and assigns it to the
// user in addition to the roles it already has.
func (h *coreHarness) grant(t *testing.T, userID uint, roleName string, codes ...string) *domain.Role {
	t.Helper()
	ctx := context.Background()
	for _, code := range codes {
		if _, err := h.perms.FindByCode(ctx, code); err == nil {
			continue
		}
		resource, action, _ := strings.Cut(code, ":")
		if _, err := h.rbac.CreatePermission(ctx, PermissionInput{Resource: resource, Action: action}); err != nil {
			t.Fatalf("create permission %s: %v", code, err)
		}
	}
	role, err := h.rbac.EnsureRole(ctx, roleName)
	if err != nil {
		t.Fatalf("ensure role: %v", err)
	}
	if err := h.rbac.AssignPermissions(ctx, role.ID, codes); err != nil {
		t.Fatalf("assign permissions: %v", err)
	}
	if err := h.rbac.AssignRoleByName(ctx, userID, roleName); err != nil {
		t.Fatalf("assign role: %v", err)
	}
	return role
}
