package dbpool

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// HealthMonitor periodically probes every registered connection, updating
// its breaker. Breaker state is mutated only here and on the pool acquire
// path; both call Breaker.RecordSuccess/RecordFailure, which serialize
// internally under the breaker's own mutex.
type HealthMonitor struct {
	manager  *Manager
	interval time.Duration
	timeout  time.Duration
	stop     chan struct{}
}

// NewHealthMonitor builds a monitor for manager, probing every interval.
func NewHealthMonitor(manager *Manager, interval time.Duration) *HealthMonitor {
	return &HealthMonitor{
		manager:  manager,
		interval: interval,
		timeout:  5 * time.Second,
		stop:     make(chan struct{}),
	}
}

// Run blocks, probing on a ticker until ctx is canceled or Stop is called.
func (h *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			return
		case <-ticker.C:
			h.probeAll(ctx)
		}
	}
}

func (h *HealthMonitor) Stop() {
	close(h.stop)
}

func (h *HealthMonitor) probeAll(ctx context.Context) {
	h.manager.mu.RLock()
	conns := make([]*Connection, 0, len(h.manager.conns))
	for _, c := range h.manager.conns {
		conns = append(conns, c)
	}
	h.manager.mu.RUnlock()

	for _, c := range conns {
		probeCtx, cancel := context.WithTimeout(ctx, h.timeout)
		_, err := c.pool.Exec(probeCtx, h.manager.probeQuery)
		cancel()
		if err != nil {
			log.Warn().Str("connection", c.ID).Err(err).Msg("health probe failed")
			c.breaker.RecordFailure()
			c.mu.Lock()
			c.consecutiveFailures++
			c.lastFailure = time.Now()
			c.mu.Unlock()
		} else {
			c.breaker.RecordSuccess()
			c.mu.Lock()
			c.consecutiveFailures = 0
			c.mu.Unlock()
		}
	}
}
