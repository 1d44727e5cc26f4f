package subscription

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_SubscribeAndPoll(t *testing.T) {
	h := NewHub(0)
	id := h.Subscribe(16, OverflowDropOldest)

	h.Publish(Event{Table: "users", Operation: "insert"})
	h.Publish(Event{Table: "users", Operation: "update"})

	events, err := h.Poll(id)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "insert", events[0].Operation)
}

func TestHub_PollUnknownSubscriberReturnsNotFound(t *testing.T) {
	h := NewHub(0)
	_, err := h.Poll("missing")
	assert.Error(t, err)
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	h := NewHub(0)
	id := h.Subscribe(16, OverflowDropOldest)
	h.Unsubscribe(id)

	h.Publish(Event{Table: "users", Operation: "insert"})
	_, err := h.Poll(id)
	assert.Error(t, err)
}
