// Package ratelimit provides the per-user, per-endpoint issuance limiter.
// Buckets live in process; the verification endpoint is covered separately
// by the per-IP HTTP middleware.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Rule describes one endpoint budget: at most Limit calls per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Registry hands out token buckets keyed by user and endpoint.
type Registry struct {
	mu      sync.Mutex
	rules   map[string]Rule
	buckets map[string]*bucket
	ttl     time.Duration
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// New creates a registry with the given endpoint rules. Unknown endpoints
// are unrestricted.
func New(rules map[string]Rule) *Registry {
	r := &Registry{
		rules:   rules,
		buckets: make(map[string]*bucket),
		ttl:     30 * time.Minute,
	}
	return r
}

// Allow reports whether the user may call the endpoint now, consuming one
// token on success. Fails open only for endpoints with no configured rule.
func (r *Registry) Allow(userID, endpoint string) bool {
	rule, ok := r.rules[endpoint]
	if !ok || rule.Limit <= 0 || rule.Window <= 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.sweep(now)

	key := userID + "|" + endpoint
	b, ok := r.buckets[key]
	if !ok {
		perSecond := float64(rule.Limit) / rule.Window.Seconds()
		b = &bucket{lim: rate.NewLimiter(rate.Limit(perSecond), rule.Limit)}
		r.buckets[key] = b
	}
	b.seen = now
	return b.lim.Allow()
}

// sweep drops buckets idle past the TTL. Callers hold the lock.
func (r *Registry) sweep(now time.Time) {
	for k, b := range r.buckets {
		if now.Sub(b.seen) > r.ttl {
			delete(r.buckets, k)
		}
	}
}
