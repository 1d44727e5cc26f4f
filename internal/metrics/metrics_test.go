package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveToolCall_IncrementsCounterAndHistogram(t *testing.T) {
	r := New()
	r.ObserveToolCall("db_query", "ok", 25*time.Millisecond)
	r.ObserveToolCall("db_query", "error", 10*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(r.ToolCalls.WithLabelValues("db_query", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.ToolCalls.WithLabelValues("db_query", "error")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.ToolDuration))
}

func TestObservePoolStats_SetsGauges(t *testing.T) {
	r := New()
	r.ObservePoolStats("primary", 10, 4, 6, 2)

	assert.Equal(t, float64(10), testutil.ToFloat64(r.PoolTotal.WithLabelValues("primary")))
	assert.Equal(t, float64(4), testutil.ToFloat64(r.PoolIdle.WithLabelValues("primary")))
	assert.Equal(t, float64(6), testutil.ToFloat64(r.PoolInUse.WithLabelValues("primary")))
	assert.Equal(t, float64(2), testutil.ToFloat64(r.PoolWaiting.WithLabelValues("primary")))
}

func TestObserveBreakerState_CountsTripOnlyWhenTripped(t *testing.T) {
	r := New()
	r.ObserveBreakerState("primary", 0, false)
	r.ObserveBreakerState("primary", 2, true)

	assert.Equal(t, float64(2), testutil.ToFloat64(r.BreakerState.WithLabelValues("primary")))
	assert.Equal(t, float64(1), testutil.ToFloat64(r.BreakerTrips.WithLabelValues("primary")))
}

func TestRateLimitRejects_TracksTenantAndTool(t *testing.T) {
	r := New()
	r.RateLimitRejects.WithLabelValues("tenant-a", "db_query").Inc()
	r.RateLimitRejects.WithLabelValues("tenant-a", "db_query").Inc()

	assert.Equal(t, float64(2), testutil.ToFloat64(r.RateLimitRejects.WithLabelValues("tenant-a", "db_query")))
}
