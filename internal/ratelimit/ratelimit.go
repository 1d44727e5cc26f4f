// Package ratelimit implements per-(tenant, tool) rate limiting and a
// per-upstream bulkhead: a token bucket paired with a concurrency
// semaphore for every key.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	mcperrors "github.com/pulsegrid/mcpcore/internal/errors"
)

// Policy is the limiter configuration for one tenant tier.
type Policy struct {
	RequestsPerSecond float64
	Burst             int
	Concurrency       int
	// MaxWait bounds how long Allow blocks for a rate-limit token before
	// failing with RESOURCE_EXHAUSTED. Zero means fail fast with no wait.
	MaxWait time.Duration
}

const (
	defaultIdleTTL      = 10 * time.Minute
	defaultCleanupEvery = 5 * time.Minute
)

type entry struct {
	limiter   *rate.Limiter
	semaphore chan struct{}
	lastSeen  time.Time
}

// Limiter tracks one token bucket plus concurrency semaphore per
// (tenant, tool) key, and one global bulkhead semaphore per upstream
// connection id.
type Limiter struct {
	mu       sync.Mutex
	entries  map[string]*entry
	policies map[string]Policy
	fallback Policy

	upstreamMu sync.Mutex
	upstreams  map[string]chan struct{}

	quit chan struct{}
}

// New builds a Limiter. fallback is used for any tenant tier without an
// explicit entry in policies.
func New(policies map[string]Policy, fallback Policy) *Limiter {
	l := &Limiter{
		entries:   make(map[string]*entry),
		policies:  policies,
		fallback:  fallback,
		upstreams: make(map[string]chan struct{}),
		quit:      make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Release undoes the concurrency slot reserved by a successful Allow.
type Release func()

// Allow reserves a rate-limit token and a concurrency slot for
// (tenantID, tool, tier), waiting up to the policy's configured MaxWait for
// a token before giving up. It returns RESOURCE_EXHAUSTED, with retryAfter
// set to the wait the caller would still need, if either the token bucket
// or the concurrency bulkhead is saturated past that budget.
func (l *Limiter) Allow(ctx context.Context, tenantID, tool, tier string) (Release, error) {
	key := tenantID + ":" + tool
	policy := l.policyFor(tier)

	l.mu.Lock()
	e := l.entries[key]
	if e == nil {
		e = &entry{
			limiter:   rate.NewLimiter(rate.Limit(policy.RequestsPerSecond), policy.Burst),
			semaphore: make(chan struct{}, max(1, policy.Concurrency)),
		}
		l.entries[key] = e
	}
	e.lastSeen = time.Now()
	l.mu.Unlock()

	var waitErr error
	if policy.MaxWait > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, policy.MaxWait)
		defer cancel()
		waitErr = e.limiter.WaitN(waitCtx, 1)
	} else if !e.limiter.Allow() {
		waitErr = context.DeadlineExceeded
	}

	if waitErr != nil {
		reservation := e.limiter.Reserve()
		retryAfter := reservation.Delay()
		reservation.Cancel()
		rerr := mcperrors.New(mcperrors.ResourceExhausted, "rate limit exceeded for tenant %q tool %q", tenantID, tool)
		return nil, rerr.WithRetryAfter(retryAfter)
	}

	select {
	case e.semaphore <- struct{}{}:
		return func() { <-e.semaphore }, nil
	default:
		rerr := mcperrors.New(mcperrors.ResourceExhausted, "concurrency limit exceeded for tenant %q tool %q", tenantID, tool)
		return nil, rerr.WithRetryAfter(policy.MaxWait)
	}
}

// AcquireUpstream reserves a slot in the bulkhead for upstream connection
// id, capped at capacity concurrent callers across all tenants.
func (l *Limiter) AcquireUpstream(upstreamID string, capacity int) (Release, error) {
	l.upstreamMu.Lock()
	sem, ok := l.upstreams[upstreamID]
	if !ok {
		sem = make(chan struct{}, max(1, capacity))
		l.upstreams[upstreamID] = sem
	}
	l.upstreamMu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	default:
		return nil, mcperrors.New(mcperrors.ResourceExhausted, "upstream %q at capacity", upstreamID)
	}
}

func (l *Limiter) policyFor(tier string) Policy {
	if p, ok := l.policies[tier]; ok {
		return p
	}
	return l.fallback
}

// Shutdown stops the idle-entry cleanup loop.
func (l *Limiter) Shutdown() {
	close(l.quit)
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(defaultCleanupEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			for key, e := range l.entries {
				if time.Since(e.lastSeen) > defaultIdleTTL {
					delete(l.entries, key)
				}
			}
			l.mu.Unlock()
		case <-l.quit:
			return
		}
	}
}
