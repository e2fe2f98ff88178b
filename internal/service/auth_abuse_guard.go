package service

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"
)

type AuthAbuseScope string

const (
	AuthAbuseScopeLogin  AuthAbuseScope = "login"
	AuthAbuseScopeVerify AuthAbuseScope = "verify"
)

// AuthAbusePolicy grows a cooldown after FreeAttempts consecutive failures:
// BaseDelay * Multiplier^(n-FreeAttempts-1), capped at MaxDelay. Failure
// state is forgotten after ResetWindow without failures.
type AuthAbusePolicy struct {
	FreeAttempts int
	BaseDelay    time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	ResetWindow  time.Duration
}

func normalizeAuthAbusePolicy(p AuthAbusePolicy) AuthAbusePolicy {
	if p.FreeAttempts < 0 {
		p.FreeAttempts = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.ResetWindow <= 0 {
		p.ResetWindow = 15 * time.Minute
	}
	return p
}

func (p AuthAbusePolicy) cooldown(failures int64) time.Duration {
	over := failures - int64(p.FreeAttempts)
	if over <= 0 {
		return 0
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(over-1))
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// AuthAbuseGuard tracks failed credential attempts per identity and per
// client IP. The returned cooldown is the longer of the two.
type AuthAbuseGuard interface {
	Check(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error)
	RegisterFailure(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error)
	Reset(ctx context.Context, scope AuthAbuseScope, identity, ip string) error
}

func normalizeAuthIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

type abuseState struct {
	failures      int64
	lastFailure   time.Time
	cooldownUntil time.Time
}

type InMemoryAuthAbuseGuard struct {
	mu     sync.Mutex
	policy AuthAbusePolicy
	state  map[string]*abuseState
	now    func() time.Time
}

func NewInMemoryAuthAbuseGuard(policy AuthAbusePolicy) *InMemoryAuthAbuseGuard {
	return &InMemoryAuthAbuseGuard{
		policy: normalizeAuthAbusePolicy(policy),
		state:  make(map[string]*abuseState),
		now:    time.Now,
	}
}

func (g *InMemoryAuthAbuseGuard) Check(_ context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	var longest time.Duration
	for _, key := range abuseKeys(scope, identity, ip) {
		st, ok := g.live(key, now)
		if !ok {
			continue
		}
		if d := st.cooldownUntil.Sub(now); d > longest {
			longest = d
		}
	}
	return longest, nil
}

func (g *InMemoryAuthAbuseGuard) RegisterFailure(_ context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	var longest time.Duration
	for _, key := range abuseKeys(scope, identity, ip) {
		st, ok := g.live(key, now)
		if !ok {
			st = &abuseState{}
			g.state[key] = st
		}
		st.failures++
		st.lastFailure = now
		d := g.policy.cooldown(st.failures)
		st.cooldownUntil = now.Add(d)
		if d > longest {
			longest = d
		}
	}
	return longest, nil
}

func (g *InMemoryAuthAbuseGuard) Reset(_ context.Context, scope AuthAbuseScope, identity, ip string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, key := range abuseKeys(scope, identity, ip) {
		delete(g.state, key)
	}
	return nil
}

func (g *InMemoryAuthAbuseGuard) live(key string, now time.Time) (*abuseState, bool) {
	st, ok := g.state[key]
	if !ok {
		return nil, false
	}
	if now.Sub(st.lastFailure) > g.policy.ResetWindow && !now.Before(st.cooldownUntil) {
		delete(g.state, key)
		return nil, false
	}
	return st, true
}

// abuseKeys returns the relative keys for the identity and, when known, the
// client IP.
func abuseKeys(scope AuthAbuseScope, identity, ip string) []string {
	keys := make([]string, 0, 2)
	if id := normalizeAuthIdentity(identity); id != "" {
		keys = append(keys, abuseKey(scope, "id", id))
	}
	if ip = strings.TrimSpace(ip); ip != "" {
		keys = append(keys, abuseKey(scope, "ip", ip))
	}
	return keys
}

func abuseKey(scope AuthAbuseScope, kind, value string) string {
	return "abuse:" + string(scope) + ":" + kind + ":" + value
}
