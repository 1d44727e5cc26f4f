// Package circuit implements the circuit breaker state machine used by the
// connection manager to fail fast when a database pool is unhealthy:
// CLOSED until consecutive failures cross a threshold, OPEN through a
// cooldown that backs off exponentially, then a single HALF_OPEN probe.
package circuit

import (
	"sync"
	"time"
)

// State is one node of the breaker's state machine.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config parameterizes the breaker's thresholds and backoff curve.
type Config struct {
	FailureThreshold  int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultConfig caps the exponential cooldown growth at MaxBackoff.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:  5,
		InitialBackoff:    time.Second,
		MaxBackoff:        time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// Breaker is one named circuit breaker, one per connection pool.
type Breaker struct {
	mu     sync.Mutex
	config Config
	name   string

	state               State
	consecutiveFailures int
	currentBackoff      time.Duration
	openedAt            time.Time
	halfOpenProbeInFlight bool
}

// New creates a breaker in the CLOSED state.
func New(name string, config Config) *Breaker {
	return &Breaker{name: name, config: config, state: StateClosed}
}

// Allow reports whether an acquire/exec may proceed right now. When the
// breaker is OPEN and the cooldown has not elapsed it returns false without
// touching the driver. When the cooldown has elapsed it transitions to
// HALF_OPEN and admits exactly one probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) < b.currentBackoff {
			return false
		}
		b.state = StateHalfOpen
		b.halfOpenProbeInFlight = true
		return true
	case StateHalfOpen:
		if b.halfOpenProbeInFlight {
			return false
		}
		b.halfOpenProbeInFlight = true
		return true
	default:
		return false
	}
}

// RecordSuccess closes the breaker and resets failure tracking.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.consecutiveFailures = 0
	b.currentBackoff = 0
	b.halfOpenProbeInFlight = false
}

// RecordFailure tracks a failed operation. In CLOSED it may trip the
// breaker to OPEN once consecutiveFailures reaches the threshold; in
// HALF_OPEN a single failed probe reopens with an extended (capped)
// backoff.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.halfOpenProbeInFlight = false

	switch b.state {
	case StateHalfOpen:
		b.trip()
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.config.FailureThreshold {
			b.trip()
		}
	case StateOpen:
		// already open; extend backoff on a failed external signal (health
		// monitor) the same way a failed probe would.
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = time.Now()
	if b.currentBackoff == 0 {
		b.currentBackoff = b.config.InitialBackoff
	} else {
		next := time.Duration(float64(b.currentBackoff) * b.config.BackoffMultiplier)
		if next > b.config.MaxBackoff {
			next = b.config.MaxBackoff
		}
		b.currentBackoff = next
	}
}

// Snapshot returns the current state for health reporting.
func (b *Breaker) Snapshot() (State, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.consecutiveFailures
}

// Name returns the breaker's identifier.
func (b *Breaker) Name() string { return b.name }
