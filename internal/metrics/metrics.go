// Package metrics exposes Prometheus collectors for tool dispatch, caching,
// connection pooling, circuit breaking and rate limiting, served over an
// internal /metrics HTTP listener wrapping promhttp.Handler.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry bundles every collector this module reports. All fields are safe
// for concurrent use, matching the underlying prometheus client types.
type Registry struct {
	reg *prometheus.Registry

	ToolCalls       *prometheus.CounterVec
	ToolDuration    *prometheus.HistogramVec
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	PoolTotal       *prometheus.GaugeVec
	PoolIdle        *prometheus.GaugeVec
	PoolInUse       *prometheus.GaugeVec
	PoolWaiting     *prometheus.GaugeVec
	BreakerTrips    *prometheus.CounterVec
	BreakerState    *prometheus.GaugeVec
	RateLimitRejects *prometheus.CounterVec
}

// New registers and returns the full collector set against a fresh registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcpcore",
			Name:      "tool_calls_total",
			Help:      "Total tool invocations by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mcpcore",
			Name:      "tool_call_duration_seconds",
			Help:      "Tool invocation latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcpcore",
			Name:      "query_cache_hits_total",
			Help:      "Query cache hits by tier (l1, l2).",
		}, []string{"tier"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcpcore",
			Name:      "query_cache_misses_total",
			Help:      "Query cache misses.",
		}, []string{"tier"}),
		PoolTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mcpcore",
			Name:      "pool_connections_total",
			Help:      "Total connections held by a pool.",
		}, []string{"connection"}),
		PoolIdle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mcpcore",
			Name:      "pool_connections_idle",
			Help:      "Idle connections in a pool.",
		}, []string{"connection"}),
		PoolInUse: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mcpcore",
			Name:      "pool_connections_in_use",
			Help:      "Connections currently checked out of a pool.",
		}, []string{"connection"}),
		PoolWaiting: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mcpcore",
			Name:      "pool_connections_waiting",
			Help:      "Callers waiting on a pool connection.",
		}, []string{"connection"}),
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcpcore",
			Name:      "breaker_trips_total",
			Help:      "Circuit breaker transitions into the open state.",
		}, []string{"connection"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mcpcore",
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half_open, 2=open).",
		}, []string{"connection"}),
		RateLimitRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcpcore",
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected by the rate limiter, by tenant and tool.",
		}, []string{"tenant", "tool"}),
	}

	reg.MustRegister(
		r.ToolCalls, r.ToolDuration,
		r.CacheHits, r.CacheMisses,
		r.PoolTotal, r.PoolIdle, r.PoolInUse, r.PoolWaiting,
		r.BreakerTrips, r.BreakerState,
		r.RateLimitRejects,
	)
	return r
}

// ObserveToolCall records a completed tool invocation.
func (r *Registry) ObserveToolCall(tool, outcome string, d time.Duration) {
	r.ToolCalls.WithLabelValues(tool, outcome).Inc()
	r.ToolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// ObservePoolStats snapshots a named pool's connection counts.
func (r *Registry) ObservePoolStats(connection string, total, idle, inUse, waiting int) {
	r.PoolTotal.WithLabelValues(connection).Set(float64(total))
	r.PoolIdle.WithLabelValues(connection).Set(float64(idle))
	r.PoolInUse.WithLabelValues(connection).Set(float64(inUse))
	r.PoolWaiting.WithLabelValues(connection).Set(float64(waiting))
}

// ObserveBreakerState records the current breaker state (0/1/2) and counts a
// trip whenever state transitions into open (state == 2).
func (r *Registry) ObserveBreakerState(connection string, state int, tripped bool) {
	r.BreakerState.WithLabelValues(connection).Set(float64(state))
	if tripped {
		r.BreakerTrips.WithLabelValues(connection).Inc()
	}
}

var metricsShutdownTimeout = 5 * time.Second

// Serve starts an HTTP listener exposing /metrics on addr, shutting down
// when ctx is cancelled. It never blocks the caller.
func (r *Registry) Serve(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			log.Warn().
				Err(err).
				Str("component", "metrics_server").
				Str("action", "shutdown_failed").
				Str("addr", addr).
				Msg("failed to shut down metrics server cleanly")
		}
	}()

	go func() {
		log.Info().
			Str("component", "metrics_server").
			Str("action", "listening").
			Str("addr", addr).
			Msg("metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn().
				Err(err).
				Str("component", "metrics_server").
				Str("action", "stopped_unexpectedly").
				Str("addr", addr).
				Msg("metrics server stopped unexpectedly")
		}
	}()
}
