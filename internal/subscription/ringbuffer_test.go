package subscription

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBuffer_DrainReturnsInFIFOOrder(t *testing.T) {
	r := newRingBuffer(4, OverflowDropOldest)
	r.push(Event{Table: "a"})
	r.push(Event{Table: "b"})
	r.push(Event{Table: "c"})

	drained := r.drain()
	require.Len(t, drained, 3)
	assert.Equal(t, "a", drained[0].Table)
	assert.Equal(t, "c", drained[2].Table)
}

func TestRingBuffer_DropOldestEvictsFirstOnOverflow(t *testing.T) {
	r := newRingBuffer(2, OverflowDropOldest)
	r.push(Event{Table: "a"})
	r.push(Event{Table: "b"})
	r.push(Event{Table: "c"})

	drained := r.drain()
	require.Len(t, drained, 2)
	assert.Equal(t, "b", drained[0].Table)
	assert.Equal(t, "c", drained[1].Table)
}

func TestRingBuffer_DropNewestKeepsExistingEntries(t *testing.T) {
	r := newRingBuffer(2, OverflowDropNewest)
	r.push(Event{Table: "a"})
	r.push(Event{Table: "b"})
	r.push(Event{Table: "c"})

	drained := r.drain()
	require.Len(t, drained, 2)
	assert.Equal(t, "a", drained[0].Table)
	assert.Equal(t, "b", drained[1].Table)
}

func TestRingBuffer_DisconnectClosesOnOverflow(t *testing.T) {
	r := newRingBuffer(1, OverflowDisconnect)
	ok := r.push(Event{Table: "a"})
	require.True(t, ok)

	ok = r.push(Event{Table: "b"})
	assert.False(t, ok, "push must fail once the disconnect policy triggers")
	assert.True(t, r.isClosed())
}
