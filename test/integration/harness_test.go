package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/sandeepkv93/secure-auth-core/internal/app"
	"github.com/sandeepkv93/secure-auth-core/internal/config"
	"github.com/sandeepkv93/secure-auth-core/internal/di"
	"github.com/sandeepkv93/secure-auth-core/internal/observability"
)

const testPassword = "Valid#Pass1234"

type authTestServerOptions struct {
	cfgOverride  func(cfg *config.Config)
	withoutRedis bool
	logOutput    io.Writer
	// shareWith points a second replica at the database and Redis of an
	// existing server.
	shareWith *testServer
}

type testServer struct {
	baseURL string
	client  *http.Client
	app     *app.App
	redis   *miniredis.Miniredis
	dbURL   string
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func newAuthTestServer(t *testing.T) (*testServer, func()) {
	return newAuthTestServerWithOptions(t, authTestServerOptions{})
}

// newAuthTestServerWithOptions builds the production object graph against a
// throwaway sqlite file and, unless disabled, an in-process Redis.
func newAuthTestServerWithOptions(t *testing.T, opts authTestServerOptions) (*testServer, func()) {
	t.Helper()
	t.Setenv("APP_ENV", "test")
	t.Setenv("DB_DRIVER", "sqlite")
	dbURL := filepath.Join(t.TempDir(), "integration.db")
	if opts.shareWith != nil {
		dbURL = opts.shareWith.dbURL
	}
	t.Setenv("DATABASE_URL", dbURL)
	t.Setenv("JWT_ACCESS_SECRET", strings.Repeat("a", 40))
	t.Setenv("JWT_REFRESH_SECRET", strings.Repeat("r", 40))
	t.Setenv("REFRESH_TOKEN_PEPPER", "integration-pepper-value")
	t.Setenv("BCRYPT_COST", "4")
	t.Setenv("REQUIRE_VERIFIED_EMAIL", "false")
	t.Setenv("AUTH_RATE_LIMIT_PER_SEC", "1000")
	t.Setenv("AUTH_RATE_LIMIT_BURST", "1000")
	t.Setenv("LOGIN_FREE_ATTEMPTS", "100")

	var mr *miniredis.Miniredis
	switch {
	case opts.shareWith != nil && opts.shareWith.redis != nil:
		mr = opts.shareWith.redis
		t.Setenv("REDIS_ENABLED", "true")
		t.Setenv("REDIS_ADDR", mr.Addr())
	case opts.withoutRedis:
		t.Setenv("REDIS_ENABLED", "false")
	default:
		mr = miniredis.RunT(t)
		t.Setenv("REDIS_ENABLED", "true")
		t.Setenv("REDIS_ADDR", mr.Addr())
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if opts.cfgOverride != nil {
		opts.cfgOverride(cfg)
	}
	out := opts.logOutput
	if out == nil {
		out = io.Discard
	}
	logger := observability.NewLogger(cfg, out, nil)

	ctx := context.Background()
	a, cleanup, err := di.InitializeApp(ctx, cfg, logger, nil)
	if err != nil {
		t.Fatalf("initialize app: %v", err)
	}
	if err := a.Bootstrap.Run(ctx); err != nil {
		cleanup()
		t.Fatalf("bootstrap: %v", err)
	}
	srv := httptest.NewServer(a.Server.Handler)
	return &testServer{baseURL: srv.URL, client: srv.Client(), app: a, redis: mr, dbURL: dbURL}, func() {
		srv.Close()
		cleanup()
	}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode envelope %q: %v", string(raw), err)
		}
	}
	return resp, env
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func errorCode(env envelope) string {
	if env.Error == nil {
		return ""
	}
	return env.Error.Code
}

func decodeTokens(t *testing.T, env envelope) tokenPair {
	t.Helper()
	var payload struct {
		Tokens tokenPair `json:"tokens"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decode tokens: %v", err)
	}
	if payload.Tokens.AccessToken == "" || payload.Tokens.RefreshToken == "" {
		t.Fatalf("expected token pair, got %s", string(env.Data))
	}
	return payload.Tokens
}

func register(t *testing.T, s *testServer, email string) tokenPair {
	t.Helper()
	resp, env := doJSON(t, s.client, http.MethodPost, s.baseURL+"/api/v1/auth/register", map[string]string{
		"email": email, "name": "Integration User", "password": testPassword,
	}, nil)
	if resp.StatusCode != http.StatusCreated || !env.Success {
		t.Fatalf("register %s failed: status=%d code=%s", email, resp.StatusCode, errorCode(env))
	}
	return decodeTokens(t, env)
}

func login(t *testing.T, s *testServer, email string) tokenPair {
	t.Helper()
	resp, env := doJSON(t, s.client, http.MethodPost, s.baseURL+"/api/v1/auth/login", map[string]string{
		"email": email, "password": testPassword,
	}, nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("login %s failed: status=%d code=%s", email, resp.StatusCode, errorCode(env))
	}
	return decodeTokens(t, env)
}

// registerAdmin registers email, reruns the bootstrapper so the account is
// promoted, and returns a fresh admin token pair.
func registerAdmin(t *testing.T, s *testServer, email string) tokenPair {
	t.Helper()
	register(t, s, email)
	s.app.Bootstrap.AdminEmail = email
	if err := s.app.Bootstrap.Run(context.Background()); err != nil {
		t.Fatalf("promote admin: %v", err)
	}
	return login(t, s, email)
}

func itoa(v uint) string { return strconv.FormatUint(uint64(v), 10) }

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
