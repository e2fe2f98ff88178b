package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/sandeepkv93/secure-auth-core/internal/http/response"
	"github.com/sandeepkv93/secure-auth-core/internal/observability"
)

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
	ResetAt    time.Time
}

// RateLimitPolicy is a token bucket: Burst requests at once, refilled at
// RatePerSec.
type RateLimitPolicy struct {
	RatePerSec float64
	Burst      int
}

type Limiter interface {
	Allow(ctx context.Context, key string, policy RateLimitPolicy) (Decision, error)
}

type FailureMode string

const (
	FailOpen   FailureMode = "fail_open"
	FailClosed FailureMode = "fail_closed"
)

type RateLimiter struct {
	limiter Limiter
	policy  RateLimitPolicy
	mode    FailureMode
	scope   string
	keyFunc func(r *http.Request) string
}

func NewRateLimiter(policy RateLimitPolicy, scope string) *RateLimiter {
	return NewDistributedRateLimiter(NewLocalLimiter(), policy, FailClosed, scope)
}

func NewDistributedRateLimiter(limiter Limiter, policy RateLimitPolicy, mode FailureMode, scope string) *RateLimiter {
	if scope == "" {
		scope = "api"
	}
	return &RateLimiter{
		limiter: limiter,
		policy:  normalizePolicy(policy),
		mode:    mode,
		scope:   scope,
		keyFunc: clientIPKey,
	}
}

func (rl *RateLimiter) WithKeyFunc(keyFunc func(r *http.Request) string) *RateLimiter {
	if keyFunc != nil {
		rl.keyFunc = keyFunc
	}
	return rl
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.keyFunc(r)
			if key == "" {
				key = clientIPKey(r)
			}
			decision, err := rl.limiter.Allow(r.Context(), rl.scope+":"+key, rl.policy)
			if err != nil {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "backend_error")
				if rl.mode == FailOpen {
					slog.WarnContext(r.Context(), "rate limiter backend unavailable, allowing request",
						"scope", rl.scope,
						"error", err.Error(),
					)
					next.ServeHTTP(w, r)
					return
				}
				w.Header().Set("Retry-After", retryAfterHeader(time.Second))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			writeRateLimitHeaders(w.Header(), rl.policy.Burst, decision.Remaining, decision.ResetAt)
			if !decision.Allowed {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "deny")
				w.Header().Set("Retry-After", retryAfterHeader(decision.RetryAfter))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			observability.RecordRateLimitDecision(r.Context(), rl.scope, "allow")
			next.ServeHTTP(w, r)
		})
	}
}

type localLimiter struct {
	mu      sync.Mutex
	buckets map[string]*localBucket
	cleanup time.Time
	now     func() time.Time
}

type localBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalLimiter keeps one token bucket per key in process memory.
func NewLocalLimiter() Limiter {
	return &localLimiter{
		buckets: make(map[string]*localBucket),
		cleanup: time.Now().Add(time.Minute),
		now:     time.Now,
	}
}

func (l *localLimiter) Allow(_ context.Context, key string, policy RateLimitPolicy) (Decision, error) {
	policy = normalizePolicy(policy)
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.cleanup) {
		idle := policy.fillTime() * 2
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > idle {
				delete(l.buckets, k)
			}
		}
		l.cleanup = now.Add(time.Minute)
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &localBucket{limiter: rate.NewLimiter(rate.Limit(policy.RatePerSec), policy.Burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	reservation := b.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return Decision{Allowed: false, RetryAfter: policy.fillTime(), ResetAt: now.Add(policy.fillTime())}, nil
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: delay, ResetAt: now.Add(delay)}, nil
	}
	tokens := b.limiter.TokensAt(now)
	missing := float64(policy.Burst) - tokens
	resetAt := now.Add(time.Duration(missing / policy.RatePerSec * float64(time.Second)))
	return Decision{
		Allowed:   true,
		Remaining: max(int(math.Floor(tokens)), 0),
		ResetAt:   resetAt,
	}, nil
}

// RedisWindowLimiter shares limits between replicas with a fixed window
// counter per key. The window is the time the policy needs to refill a full
// burst.
type RedisWindowLimiter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisWindowLimiter(client redis.UniversalClient, prefix string) *RedisWindowLimiter {
	if prefix == "" {
		prefix = "authcore:"
	}
	return &RedisWindowLimiter{client: client, prefix: prefix + "ratelimit:", now: time.Now}
}

func (l *RedisWindowLimiter) Allow(ctx context.Context, key string, policy RateLimitPolicy) (Decision, error) {
	policy = normalizePolicy(policy)
	window := policy.fillTime()
	now := l.now()
	slot := now.UnixMilli() / window.Milliseconds()
	windowEnd := time.UnixMilli((slot + 1) * window.Milliseconds())

	redisKey := fmt.Sprintf("%s%s:%d", l.prefix, key, slot)
	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.PExpire(ctx, redisKey, window)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit incr: %w", err)
	}
	count := int(incr.Val())
	if count > policy.Burst {
		return Decision{Allowed: false, RetryAfter: windowEnd.Sub(now), ResetAt: windowEnd}, nil
	}
	return Decision{Allowed: true, Remaining: policy.Burst - count, ResetAt: windowEnd}, nil
}

func clientIPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		host = strings.TrimSpace(r.RemoteAddr)
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return host
}

func retryAfterHeader(d time.Duration) string {
	if d <= 0 {
		return "1"
	}
	seconds := int(math.Ceil(d.Seconds()))
	if seconds <= 0 {
		seconds = 1
	}
	return fmt.Sprintf("%d", seconds)
}

func writeRateLimitHeaders(h http.Header, limit int, remaining int, resetAt time.Time) {
	h.Set("X-RateLimit-Limit", fmt.Sprintf("%d", max(limit, 0)))
	h.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", max(remaining, 0)))
	if resetAt.IsZero() {
		resetAt = time.Now().Add(time.Second)
	}
	h.Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetAt.Unix()))
}

func normalizePolicy(policy RateLimitPolicy) RateLimitPolicy {
	if policy.RatePerSec <= 0 {
		policy.RatePerSec = 1
	}
	if policy.Burst <= 0 {
		policy.Burst = int(math.Max(1, math.Ceil(policy.RatePerSec)))
	}
	return policy
}

func (p RateLimitPolicy) fillTime() time.Duration {
	d := time.Duration(float64(p.Burst) / p.RatePerSec * float64(time.Second))
	if d < time.Second {
		return time.Second
	}
	return d
}
