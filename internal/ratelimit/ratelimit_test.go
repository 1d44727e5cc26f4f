package ratelimit

import (
	"context"
	"testing"
	"time"

	mcperrors "github.com/pulsegrid/mcpcore/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_RejectsOverBurst(t *testing.T) {
	l := New(nil, Policy{RequestsPerSecond: 1, Burst: 1, Concurrency: 10})
	defer l.Shutdown()

	release, err := l.Allow(context.Background(), "tenant-a", "db_query", "default")
	require.NoError(t, err)
	release()

	_, err = l.Allow(context.Background(), "tenant-a", "db_query", "default")
	require.Error(t, err)
	assert.Equal(t, mcperrors.ResourceExhausted, mcperrors.CodeOf(err))
}

func TestLimiter_RejectsOverConcurrency(t *testing.T) {
	l := New(nil, Policy{RequestsPerSecond: 1000, Burst: 1000, Concurrency: 1})
	defer l.Shutdown()

	release, err := l.Allow(context.Background(), "tenant-a", "db_query", "default")
	require.NoError(t, err)

	_, err = l.Allow(context.Background(), "tenant-a", "db_query", "default")
	require.Error(t, err)

	release()
	_, err = l.Allow(context.Background(), "tenant-a", "db_query", "default")
	assert.NoError(t, err)
}

func TestLimiter_IsolatesTenantsIndependently(t *testing.T) {
	l := New(nil, Policy{RequestsPerSecond: 1, Burst: 1, Concurrency: 10})
	defer l.Shutdown()

	_, err := l.Allow(context.Background(), "tenant-a", "db_query", "default")
	require.NoError(t, err)

	_, err = l.Allow(context.Background(), "tenant-b", "db_query", "default")
	assert.NoError(t, err, "a different tenant must have its own bucket")
}

func TestLimiter_AcquireUpstreamRespectsCapacity(t *testing.T) {
	l := New(nil, Policy{})
	defer l.Shutdown()

	release, err := l.AcquireUpstream("primary", 1)
	require.NoError(t, err)

	_, err = l.AcquireUpstream("primary", 1)
	require.Error(t, err)

	release()
	_, err = l.AcquireUpstream("primary", 1)
	assert.NoError(t, err)
}

// A saturated bucket with MaxWait configured blocks roughly until a token
// refills instead of failing immediately, and a request that still can't
// get a token within MaxWait fails with retryAfter attached.
func TestLimiter_WaitsUpToMaxWaitThenFailsWithRetryAfter(t *testing.T) {
	l := New(nil, Policy{RequestsPerSecond: 10, Burst: 1, Concurrency: 10, MaxWait: 500 * time.Millisecond})
	defer l.Shutdown()

	release, err := l.Allow(context.Background(), "tenant-a", "db_query", "default")
	require.NoError(t, err)
	release()

	start := time.Now()
	release, err = l.Allow(context.Background(), "tenant-a", "db_query", "default")
	require.NoError(t, err)
	require.Greater(t, time.Since(start), 50*time.Millisecond, "should have waited for the bucket to refill")
	release()

	l2 := New(nil, Policy{RequestsPerSecond: 0.1, Burst: 1, Concurrency: 10, MaxWait: 100 * time.Millisecond})
	defer l2.Shutdown()

	release, err = l2.Allow(context.Background(), "tenant-a", "db_query", "default")
	require.NoError(t, err)
	release()

	_, err = l2.Allow(context.Background(), "tenant-a", "db_query", "default")
	require.Error(t, err)
	assert.Equal(t, mcperrors.ResourceExhausted, mcperrors.CodeOf(err))
	mcpErr := mcperrors.As(err)
	require.NotNil(t, mcpErr.RetryAfter)
	assert.Greater(t, *mcpErr.RetryAfter, time.Duration(0))
}
