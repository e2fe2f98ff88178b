package health

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type CheckResult struct {
	Name       string `json:"name"`
	Healthy    bool   `json:"healthy"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

type Checker interface {
	Check(ctx context.Context) CheckResult
}

// CheckerFunc adapts a ping function into a named Checker.
type CheckerFunc struct {
	Name string
	Fn   func(ctx context.Context) error
}

func (c CheckerFunc) Check(ctx context.Context) CheckResult {
	start := time.Now()
	err := c.Fn(ctx)
	res := CheckResult{Name: c.Name, Healthy: err == nil, DurationMS: time.Since(start).Milliseconds()}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

func DBChecker(db *gorm.DB) Checker {
	return CheckerFunc{Name: "db", Fn: func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}}
}

func RedisChecker(client redis.UniversalClient) Checker {
	return CheckerFunc{Name: "redis", Fn: func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}}
}

// ReadinessRunner runs every checker concurrently with a per-check timeout.
// Results are reused for cacheTTL so a busy readiness endpoint does not
// hammer the dependencies.
type ReadinessRunner struct {
	timeout  time.Duration
	cacheTTL time.Duration
	checkers []Checker

	mu      sync.Mutex
	last    []CheckResult
	lastOK  bool
	lastRun time.Time
	now     func() time.Time
}

func NewReadinessRunner(timeout, cacheTTL time.Duration, checkers ...Checker) *ReadinessRunner {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &ReadinessRunner{timeout: timeout, cacheTTL: cacheTTL, checkers: checkers, now: time.Now}
}

func (p *ReadinessRunner) Ready(ctx context.Context) (bool, []CheckResult) {
	p.mu.Lock()
	if p.cacheTTL > 0 && !p.lastRun.IsZero() && p.now().Sub(p.lastRun) < p.cacheTTL {
		ok, res := p.lastOK, append([]CheckResult(nil), p.last...)
		p.mu.Unlock()
		return ok, res
	}
	p.mu.Unlock()

	results := make([]CheckResult, len(p.checkers))
	var g errgroup.Group
	for i, c := range p.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()
			results[i] = c.Check(cctx)
			return nil
		})
	}
	_ = g.Wait()

	ready := true
	for _, r := range results {
		if !r.Healthy {
			ready = false
		}
	}
	p.mu.Lock()
	p.last, p.lastOK, p.lastRun = results, ready, p.now()
	p.mu.Unlock()
	return ready, append([]CheckResult(nil), results...)
}
