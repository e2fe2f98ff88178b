package di

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/sandeepkv93/secure-auth-core/internal/app"
	"github.com/sandeepkv93/secure-auth-core/internal/audit"
	"github.com/sandeepkv93/secure-auth-core/internal/config"
	"github.com/sandeepkv93/secure-auth-core/internal/database"
	"github.com/sandeepkv93/secure-auth-core/internal/health"
	"github.com/sandeepkv93/secure-auth-core/internal/http/handler"
	"github.com/sandeepkv93/secure-auth-core/internal/http/middleware"
	"github.com/sandeepkv93/secure-auth-core/internal/http/router"
	"github.com/sandeepkv93/secure-auth-core/internal/observability"
	"github.com/sandeepkv93/secure-auth-core/internal/repository"
	"github.com/sandeepkv93/secure-auth-core/internal/security"
	"github.com/sandeepkv93/secure-auth-core/internal/service"
)

const apiKeyNegativeTTL = time.Minute

// Maintenance is the object graph the offline CLI commands work with.
type Maintenance struct {
	RBAC       *service.RBACService
	Reconciler *service.PermissionReconciler
	Sessions   *service.SessionRegistry
	Bootstrap  *app.Bootstrapper
}

var storageSet = wire.NewSet(
	provideDB,
	provideRedis,
	repository.NewUserRepository,
	repository.NewRoleRepository,
	repository.NewPermissionRepository,
	repository.NewSessionRepository,
	repository.NewAPIKeyRepository,
)

var storeSet = wire.NewSet(
	provideSessionCache,
	provideRevocationIndex,
	providePermissionSnapshotStore,
	provideNegativeLookupCache,
	provideAuthAbuseGuard,
	provideEventPublisher,
)

var coreSet = wire.NewSet(
	provideJWTManager,
	provideSessionRegistry,
	provideTokenService,
	provideRBACService,
	provideUserAdminService,
	provideAPIKeyService,
	provideAuthorizationGuard,
	providePermissionReconciler,
	provideBootstrapper,
)

var httpSet = wire.NewSet(
	provideAuditDispatcher,
	provideNotifier,
	provideAuthService,
	handler.NewAuthHandler,
	handler.NewInternalHandler,
	provideAdminHandler,
	provideAuthRateLimiter,
	provideReadiness,
	provideRouter,
	provideHTTPServer,
	provideSessionSweeper,
	provideApp,
)

func provideDB(cfg *config.Config) (*gorm.DB, func(), error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := database.Migrate(db); err != nil {
		_ = database.Close(db)
		return nil, nil, err
	}
	return db, func() { _ = database.Close(db) }, nil
}

func provideRedis(ctx context.Context, cfg *config.Config) (redis.UniversalClient, func(), error) {
	client, err := database.NewRedisClient(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if client == nil {
		return nil, func() {}, nil
	}
	return client, func() { _ = client.Close() }, nil
}

func provideSessionCache(cfg *config.Config, client redis.UniversalClient) service.SessionCache {
	if client == nil {
		return service.NewInMemorySessionCache()
	}
	return service.NewRedisSessionCache(client, cfg.RedisKeyPrefix)
}

func provideRevocationIndex(cfg *config.Config, client redis.UniversalClient) service.RevocationIndex {
	if client == nil {
		return service.NewInMemoryRevocationIndex()
	}
	return service.NewRedisRevocationIndex(client, cfg.RedisKeyPrefix)
}

func providePermissionSnapshotStore(cfg *config.Config, client redis.UniversalClient) service.PermissionSnapshotStore {
	if client == nil {
		return service.NewInMemoryPermissionSnapshotStore()
	}
	return service.NewRedisPermissionSnapshotStore(client, cfg.RedisKeyPrefix)
}

func provideNegativeLookupCache(cfg *config.Config, client redis.UniversalClient) service.NegativeLookupCache {
	if client == nil {
		return service.NewInMemoryNegativeLookupCache()
	}
	return service.NewRedisNegativeLookupCache(client, cfg.RedisKeyPrefix)
}

func provideAuthAbuseGuard(cfg *config.Config, client redis.UniversalClient) service.AuthAbuseGuard {
	policy := service.AuthAbusePolicy{
		FreeAttempts: cfg.LoginFreeAttempts,
		BaseDelay:    cfg.LoginBaseDelay,
		MaxDelay:     cfg.LoginMaxDelay,
		ResetWindow:  cfg.LoginResetWindow,
	}
	if client == nil {
		return service.NewInMemoryAuthAbuseGuard(policy)
	}
	return service.NewRedisAuthAbuseGuard(client, cfg.RedisKeyPrefix, policy)
}

func provideEventPublisher(cfg *config.Config, client redis.UniversalClient) service.EventPublisher {
	if client == nil {
		return service.NoopEventPublisher{}
	}
	return service.NewRedisEventPublisher(client, cfg.RedisKeyPrefix)
}

func provideJWTManager(cfg *config.Config) *security.JWTManager {
	return security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessSecret, cfg.JWTRefreshSecret)
}

func provideSessionRegistry(cfg *config.Config, repo repository.SessionRepository, cache service.SessionCache, revocations service.RevocationIndex, logger *slog.Logger) *service.SessionRegistry {
	return service.NewSessionRegistry(repo, cache, revocations, service.SessionRegistryConfig{
		Pepper:           cfg.RefreshTokenPepper,
		RefreshTTL:       cfg.JWTRefreshTTL,
		RevokedRetention: cfg.SessionRevokedRetention,
		StoreTimeout:     cfg.StoreTimeout,
	}, logger)
}

func provideTokenService(cfg *config.Config, jwtMgr *security.JWTManager, sessions *service.SessionRegistry, revocations service.RevocationIndex, snapshots service.PermissionSnapshotStore, logger *slog.Logger) *service.TokenService {
	return service.NewTokenService(jwtMgr, sessions, revocations, snapshots, service.TokenServiceConfig{
		AccessTTL:            cfg.JWTAccessTTL,
		RefreshTTL:           cfg.JWTRefreshTTL,
		EmailVerificationTTL: cfg.EmailVerificationTTL,
		SnapshotTTL:          cfg.PermissionSnapshotTTL,
	}, logger)
}

func provideRBACService(roles repository.RoleRepository, perms repository.PermissionRepository, users repository.UserRepository, snapshots service.PermissionSnapshotStore, events service.EventPublisher, logger *slog.Logger) *service.RBACService {
	return service.NewRBACService(roles, perms, users, snapshots, events, logger)
}

func provideUserAdminService(users repository.UserRepository, sessions *service.SessionRegistry, snapshots service.PermissionSnapshotStore, logger *slog.Logger) *service.UserAdminService {
	return service.NewUserAdminService(users, sessions, snapshots, logger)
}

func provideAPIKeyService(repo repository.APIKeyRepository, negative service.NegativeLookupCache, logger *slog.Logger) *service.APIKeyService {
	return service.NewAPIKeyService(repo, negative, apiKeyNegativeTTL, logger)
}

func provideAuthorizationGuard(cfg *config.Config, tokens *service.TokenService, users repository.UserRepository, rbac *service.RBACService, snapshots service.PermissionSnapshotStore, apiKeys *service.APIKeyService, logger *slog.Logger) *service.AuthorizationGuard {
	return service.NewAuthorizationGuard(tokens, users, rbac, snapshots, apiKeys, cfg.PermissionSnapshotTTL, logger)
}

func providePermissionReconciler(perms repository.PermissionRepository, snapshots service.PermissionSnapshotStore, logger *slog.Logger) *service.PermissionReconciler {
	return service.NewPermissionReconciler(perms, snapshots, logger)
}

func provideBootstrapper(cfg *config.Config, rbac *service.RBACService, reconciler *service.PermissionReconciler, users repository.UserRepository, logger *slog.Logger) *app.Bootstrapper {
	return &app.Bootstrapper{
		RBAC:       rbac,
		Reconciler: reconciler,
		Users:      users,
		Operations: router.Operations(),
		AdminEmail: cfg.BootstrapAdminEmail,
		Reconcile:  cfg.ReconcileOnStartup,
		Logger:     logger,
	}
}

func provideMaintenance(rbac *service.RBACService, reconciler *service.PermissionReconciler, sessions *service.SessionRegistry, bootstrap *app.Bootstrapper) *Maintenance {
	return &Maintenance{RBAC: rbac, Reconciler: reconciler, Sessions: sessions, Bootstrap: bootstrap}
}

func provideAuditDispatcher(cfg *config.Config, logger *slog.Logger) (*audit.Dispatcher, func()) {
	d := audit.NewDispatcher(audit.Config{BufferSize: cfg.AuditBufferSize, DropIfFull: true}, audit.NewSlogSink(logger))
	return d, d.Close
}

func provideNotifier(cfg *config.Config, logger *slog.Logger) service.Notifier {
	return service.NewLogNotifier(cfg.VerificationURLBase, logger)
}

func provideAuthService(
	cfg *config.Config,
	users repository.UserRepository,
	rbac *service.RBACService,
	tokens *service.TokenService,
	sessions *service.SessionRegistry,
	notifier service.Notifier,
	events service.EventPublisher,
	auditor *audit.Dispatcher,
	abuse service.AuthAbuseGuard,
	logger *slog.Logger,
) *service.AuthService {
	return service.NewAuthService(users, rbac, tokens, sessions, notifier, events, auditor, abuse, service.AuthServiceConfig{
		BcryptCost:           cfg.BcryptCost,
		SessionMaxPerUser:    cfg.SessionMaxPerUser,
		RequireVerifiedEmail: cfg.RequireVerifiedEmail,
	}, logger)
}

func provideAdminHandler(rbac *service.RBACService, users *service.UserAdminService, reconciler *service.PermissionReconciler, apiKeys *service.APIKeyService) *handler.AdminHandler {
	return handler.NewAdminHandler(rbac, users, reconciler, apiKeys, router.Operations)
}

// provideAuthRateLimiter shares counters across replicas when Redis is
// available and fails open if Redis stops answering.
func provideAuthRateLimiter(cfg *config.Config, client redis.UniversalClient) *middleware.RateLimiter {
	policy := middleware.RateLimitPolicy{RatePerSec: cfg.AuthRateLimitPerSec, Burst: cfg.AuthRateLimitBurst}
	if client == nil {
		return middleware.NewRateLimiter(policy, "auth")
	}
	return middleware.NewDistributedRateLimiter(middleware.NewRedisWindowLimiter(client, cfg.RedisKeyPrefix), policy, middleware.FailOpen, "auth")
}

func provideReadiness(cfg *config.Config, db *gorm.DB, client redis.UniversalClient) *health.ReadinessRunner {
	checkers := []health.Checker{health.DBChecker(db)}
	if client != nil {
		checkers = append(checkers, health.RedisChecker(client))
	}
	return health.NewReadinessRunner(cfg.StoreTimeout, 2*time.Second, checkers...)
}

func provideRouter(
	cfg *config.Config,
	authHandler *handler.AuthHandler,
	adminHandler *handler.AdminHandler,
	internalHandler *handler.InternalHandler,
	guard *service.AuthorizationGuard,
	limiter *middleware.RateLimiter,
	readiness *health.ReadinessRunner,
) http.Handler {
	return router.NewRouter(router.Dependencies{
		AuthHandler:     authHandler,
		AdminHandler:    adminHandler,
		InternalHandler: internalHandler,
		Guard:           guard,
		CORSOrigins:     cfg.CORSOrigins,
		AuthRateLimiter: limiter.Middleware(),
		Readiness:       readiness,
		EnableOTelHTTP:  cfg.OTELTracingEnabled,
	})
}

func provideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func provideSessionSweeper(cfg *config.Config, sessions *service.SessionRegistry, logger *slog.Logger) *app.SessionSweeper {
	return &app.SessionSweeper{Registry: sessions, Interval: cfg.SessionSweepInterval, Logger: logger}
}

func provideApp(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	bootstrap *app.Bootstrapper,
	sweeper *app.SessionSweeper,
	readiness *health.ReadinessRunner,
) *app.App {
	return app.New(cfg, logger, server, runtime, bootstrap, sweeper, readiness, nil)
}
