package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type Config struct {
	BaseURL     string
	Profile     string
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        int64
	Client      *http.Client
}

type Result struct {
	TotalRequests int            `json:"total_requests"`
	Failures      int            `json:"failures"`
	RateLimited   int            `json:"rate_limited"`
	StatusClasses map[string]int `json:"status_classes"`
}

type request struct {
	method string
	path   string
	body   any
}

// Run drives traffic against a running server until cfg.Duration elapses.
// Transport errors and 5xx responses count as failures; 429 responses are
// expected under the auth profile and are tallied separately.
func Run(ctx context.Context, cfg Config) (Result, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return Result{}, errors.New("base url is required")
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 5 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	profile := normalizeProfile(cfg.Profile)
	base := strings.TrimRight(cfg.BaseURL, "/")

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Concurrency)
	var (
		mu  sync.Mutex
		res = Result{StatusClasses: map[string]int{}}
	)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < cfg.Concurrency; w++ {
		rng := rand.New(rand.NewSource(cfg.Seed + int64(w)))
		g.Go(func() error {
			for {
				if err := limiter.Wait(gctx); err != nil {
					return nil
				}
				status, err := do(gctx, client, base, pick(profile, rng))
				if gctx.Err() != nil {
					return nil
				}
				mu.Lock()
				res.TotalRequests++
				if err != nil {
					res.Failures++
				} else {
					res.StatusClasses[classifyStatusClass(status)]++
					if status == http.StatusTooManyRequests {
						res.RateLimited++
					}
					if status >= 500 {
						res.Failures++
					}
				}
				mu.Unlock()
			}
		})
	}
	_ = g.Wait()
	return res, nil
}

func do(ctx context.Context, client *http.Client, base string, r request) (int, error) {
	var body io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, base+r.path, body)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func pick(profile string, rng *rand.Rand) request {
	switch profile {
	case "auth":
		return loginAttempt(rng)
	case "health":
		return request{method: http.MethodGet, path: "/health/live"}
	default:
		if rng.Intn(3) == 0 {
			return loginAttempt(rng)
		}
		return request{method: http.MethodGet, path: "/health/ready"}
	}
}

func loginAttempt(rng *rand.Rand) request {
	return request{
		method: http.MethodPost,
		path:   "/api/v1/auth/login",
		body: map[string]string{
			"email":    fmt.Sprintf("loadgen-%d@example.test", rng.Intn(50)),
			"password": "not-the-password",
		},
	}
}

func normalizeProfile(p string) string {
	switch v := strings.ToLower(strings.TrimSpace(p)); v {
	case "auth", "health":
		return v
	default:
		return "mixed"
	}
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}
