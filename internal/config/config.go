package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv   string
	HTTPAddr string
	LogLevel string

	DBDriver    string
	DatabaseURL string

	RedisEnabled   bool
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	JWTIssuer            string
	JWTAudience          string
	JWTAccessSecret      string
	JWTRefreshSecret     string
	JWTAccessTTL         time.Duration
	JWTRefreshTTL        time.Duration
	EmailVerificationTTL time.Duration
	RefreshTokenPepper   string
	BcryptCost           int

	SessionMaxPerUser       int
	SessionRevokedRetention time.Duration
	SessionSweepInterval    time.Duration
	StoreTimeout            time.Duration
	PermissionSnapshotTTL   time.Duration
	RequireVerifiedEmail    bool
	ReconcileOnStartup      bool

	AuthRateLimitPerSec float64
	AuthRateLimitBurst  int

	LoginFreeAttempts int
	LoginBaseDelay    time.Duration
	LoginMaxDelay     time.Duration
	LoginResetWindow  time.Duration

	CORSOrigins         []string
	AuditBufferSize     int
	BootstrapAdminEmail string
	VerificationURLBase string

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsEnabled        bool
	OTELTracingEnabled        bool
	OTELLogsEnabled           bool
	OTELMetricsExportInterval time.Duration
	OTELTraceSampleRatio      float64

	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration
}

const minSecretLength = 32

// Load reads configuration from the process environment and validates it.
func Load() (*Config, error) {
	cfg, err := load()
	if err == nil {
		err = cfg.Validate()
	}
	recordLoad(context.Background(), os.Getenv("APP_ENV"), err)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func load() (*Config, error) {
	p := &envParser{}
	cfg := &Config{
		AppEnv:   getEnv("APP_ENV", "development"),
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DBDriver:    strings.ToLower(getEnv("DB_DRIVER", "postgres")),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		RedisEnabled:   p.bool("REDIS_ENABLED", true),
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        p.int("REDIS_DB", 0),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "authcore:"),

		JWTIssuer:            getEnv("JWT_ISSUER", "core-auth-service"),
		JWTAudience:          getEnv("JWT_AUDIENCE", "enterprise-app"),
		JWTAccessSecret:      os.Getenv("JWT_ACCESS_SECRET"),
		JWTRefreshSecret:     os.Getenv("JWT_REFRESH_SECRET"),
		JWTAccessTTL:         p.duration("JWT_ACCESS_TTL", 15*time.Minute),
		JWTRefreshTTL:        p.duration("JWT_REFRESH_TTL", 7*24*time.Hour),
		EmailVerificationTTL: p.duration("EMAIL_VERIFICATION_TTL", 24*time.Hour),
		RefreshTokenPepper:   os.Getenv("REFRESH_TOKEN_PEPPER"),
		BcryptCost:           p.int("BCRYPT_COST", 12),

		SessionMaxPerUser:       p.int("SESSION_MAX_PER_USER", 5),
		SessionRevokedRetention: p.duration("SESSION_REVOKED_RETENTION", 7*24*time.Hour),
		SessionSweepInterval:    p.duration("SESSION_SWEEP_INTERVAL", time.Hour),
		StoreTimeout:            p.duration("STORE_TIMEOUT", 3*time.Second),
		RequireVerifiedEmail:    p.bool("REQUIRE_VERIFIED_EMAIL", true),
		ReconcileOnStartup:      p.bool("RECONCILE_ON_STARTUP", true),

		AuthRateLimitPerSec: p.float("AUTH_RATE_LIMIT_PER_SEC", 5),
		AuthRateLimitBurst:  p.int("AUTH_RATE_LIMIT_BURST", 10),

		LoginFreeAttempts: p.int("LOGIN_FREE_ATTEMPTS", 5),
		LoginBaseDelay:    p.duration("LOGIN_BASE_DELAY", time.Second),
		LoginMaxDelay:     p.duration("LOGIN_MAX_DELAY", 5*time.Minute),
		LoginResetWindow:  p.duration("LOGIN_RESET_WINDOW", 15*time.Minute),

		CORSOrigins:         splitList(os.Getenv("CORS_ORIGINS")),
		AuditBufferSize:     p.int("AUDIT_BUFFER_SIZE", 1024),
		BootstrapAdminEmail: os.Getenv("BOOTSTRAP_ADMIN_EMAIL"),
		VerificationURLBase: getEnv("VERIFICATION_URL_BASE", "http://localhost:8080/api/v1/auth/verify-email"),

		OTELServiceName:           getEnv("OTEL_SERVICE_NAME", "secure-auth-core"),
		OTELEnvironment:           getEnv("OTEL_ENVIRONMENT", getEnv("APP_ENV", "development")),
		OTELExporterOTLPEndpoint:  getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure:  p.bool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELMetricsEnabled:        p.bool("OTEL_METRICS_ENABLED", false),
		OTELTracingEnabled:        p.bool("OTEL_TRACING_ENABLED", false),
		OTELLogsEnabled:           p.bool("OTEL_LOGS_ENABLED", false),
		OTELMetricsExportInterval: p.duration("OTEL_METRICS_EXPORT_INTERVAL", 15*time.Second),
		OTELTraceSampleRatio:      p.float("OTEL_TRACE_SAMPLE_RATIO", 1),

		ShutdownTimeout:              p.duration("SHUTDOWN_TIMEOUT", 20*time.Second),
		ShutdownHTTPDrainTimeout:     p.duration("SHUTDOWN_HTTP_DRAIN_TIMEOUT", 10*time.Second),
		ShutdownObservabilityTimeout: p.duration("SHUTDOWN_OBSERVABILITY_TIMEOUT", 5*time.Second),
	}
	cfg.PermissionSnapshotTTL = p.duration("PERMISSION_SNAPSHOT_TTL", cfg.JWTRefreshTTL)
	if p.err != nil {
		return nil, p.err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	verr := &ValidationError{}
	fail := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		key, _, _ := strings.Cut(msg, " ")
		verr.Problems = append(verr.Problems, Problem{Key: key, Message: msg})
	}

	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		fail("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver)
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		fail("DATABASE_URL is required")
	}
	if c.RedisEnabled && strings.TrimSpace(c.RedisAddr) == "" {
		fail("REDIS_ADDR is required when REDIS_ENABLED=true")
	}
	if len(c.JWTAccessSecret) < minSecretLength {
		fail("JWT_ACCESS_SECRET must be at least %d bytes", minSecretLength)
	}
	if len(c.JWTRefreshSecret) < minSecretLength {
		fail("JWT_REFRESH_SECRET must be at least %d bytes", minSecretLength)
	}
	if c.JWTAccessSecret != "" && c.JWTAccessSecret == c.JWTRefreshSecret {
		fail("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}
	if len(c.RefreshTokenPepper) < 16 {
		fail("REFRESH_TOKEN_PEPPER must be at least 16 bytes")
	}
	if c.JWTIssuer == "" || c.JWTAudience == "" {
		fail("JWT_ISSUER and JWT_AUDIENCE are required")
	}
	positive := map[string]time.Duration{
		"JWT_ACCESS_TTL":            c.JWTAccessTTL,
		"JWT_REFRESH_TTL":           c.JWTRefreshTTL,
		"EMAIL_VERIFICATION_TTL":    c.EmailVerificationTTL,
		"SESSION_REVOKED_RETENTION": c.SessionRevokedRetention,
		"SESSION_SWEEP_INTERVAL":    c.SessionSweepInterval,
		"STORE_TIMEOUT":             c.StoreTimeout,
		"PERMISSION_SNAPSHOT_TTL":   c.PermissionSnapshotTTL,
		"SHUTDOWN_TIMEOUT":          c.ShutdownTimeout,
		"LOGIN_BASE_DELAY":          c.LoginBaseDelay,
		"LOGIN_MAX_DELAY":           c.LoginMaxDelay,
		"LOGIN_RESET_WINDOW":        c.LoginResetWindow,
	}
	for _, key := range sortedKeys(positive) {
		if positive[key] <= 0 {
			fail("%s must be positive", key)
		}
	}
	if c.JWTAccessTTL >= c.JWTRefreshTTL {
		fail("JWT_ACCESS_TTL must be shorter than JWT_REFRESH_TTL")
	}
	if c.SessionMaxPerUser < 1 {
		fail("SESSION_MAX_PER_USER must be >= 1")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		fail("BCRYPT_COST must be between 4 and 31")
	}
	if c.AuthRateLimitPerSec <= 0 || c.AuthRateLimitBurst < 1 {
		fail("AUTH_RATE_LIMIT_PER_SEC and AUTH_RATE_LIMIT_BURST must be positive")
	}
	if c.LoginFreeAttempts < 0 {
		fail("LOGIN_FREE_ATTEMPTS must be >= 0")
	}
	if c.AuditBufferSize < 1 {
		fail("AUDIT_BUFFER_SIZE must be >= 1")
	}
	if c.OTELTraceSampleRatio < 0 || c.OTELTraceSampleRatio > 1 {
		fail("OTEL_TRACE_SAMPLE_RATIO must be within [0,1]")
	}
	if len(verr.Problems) > 0 {
		return verr
	}
	return nil
}

func (c *Config) IsProduction() bool {
	v := profileLabel(c.AppEnv)
	return v == "prod" || v == "production"
}

// ParseError reports an environment value that could not be parsed.
type ParseError struct {
	Key string
	Err error
}

func (e *ParseError) Error() string { return "parse " + e.Key + ": " + e.Err.Error() }

func (e *ParseError) Unwrap() error { return e.Err }

// Problem is one violated rule. Key names the offending variable.
type Problem struct {
	Key     string
	Message string
}

// ValidationError collects every problem found by Validate.
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		msgs = append(msgs, p.Message)
	}
	return "validate config: " + strings.Join(msgs, "; ")
}

type envParser struct{ err error }

func (p *envParser) record(key string, err error) {
	if p.err == nil {
		p.err = &ParseError{Key: key, Err: err}
	}
}

func (p *envParser) duration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.record(key, err)
		return def
	}
	return v
}

func (p *envParser) int(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.record(key, err)
		return def
	}
	return v
}

func (p *envParser) float(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.record(key, err)
		return def
	}
	return v
}

func (p *envParser) bool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.record(key, err)
		return def
	}
	return v
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func sortedKeys(m map[string]time.Duration) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
