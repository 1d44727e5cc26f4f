package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b := New("test", Config{
		FailureThreshold:  3,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        100 * time.Millisecond,
		BackoffMultiplier: 2,
	})

	for i := 0; i < 2; i++ {
		require.True(t, b.Allow())
		b.RecordFailure()
	}
	state, failures := b.Snapshot()
	assert.Equal(t, StateClosed, state)
	assert.Equal(t, 2, failures)

	require.True(t, b.Allow())
	b.RecordFailure()
	state, _ = b.Snapshot()
	assert.Equal(t, StateOpen, state)

	assert.False(t, b.Allow(), "breaker must fail fast while open")
}

func TestBreaker_HalfOpenProbeAdmittedOnce(t *testing.T) {
	b := New("test", Config{
		FailureThreshold:  1,
		InitialBackoff:    5 * time.Millisecond,
		MaxBackoff:        50 * time.Millisecond,
		BackoffMultiplier: 2,
	})
	require.True(t, b.Allow())
	b.RecordFailure()

	state, _ := b.Snapshot()
	require.Equal(t, StateOpen, state)

	time.Sleep(10 * time.Millisecond)

	require.True(t, b.Allow(), "cooldown elapsed, first probe must be admitted")
	assert.False(t, b.Allow(), "a second concurrent probe must not be admitted")
}

func TestBreaker_SuccessClosesFromHalfOpen(t *testing.T) {
	b := New("test", circuitTestConfig())
	b.RecordFailure()
	time.Sleep(10 * time.Millisecond)
	require.True(t, b.Allow())
	b.RecordSuccess()

	state, failures := b.Snapshot()
	assert.Equal(t, StateClosed, state)
	assert.Equal(t, 0, failures)
}

func TestBreaker_BackoffCapsAtMax(t *testing.T) {
	b := New("test", Config{
		FailureThreshold:  1,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        15 * time.Millisecond,
		BackoffMultiplier: 10,
	})
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	require.True(t, b.Allow())
	b.RecordFailure() // failed probe, reopens with extended backoff

	assert.LessOrEqual(t, b.currentBackoff, b.config.MaxBackoff)
}

func circuitTestConfig() Config {
	return Config{FailureThreshold: 1, InitialBackoff: 5 * time.Millisecond, MaxBackoff: 50 * time.Millisecond, BackoffMultiplier: 2}
}
