// Package subscription implements the real-time change-notification hub:
// one LISTEN/NOTIFY (or polling) listener per active connection, fanning
// out to per-subscriber bounded ring buffers with a configurable overflow
// policy, plus stall detection that disconnects subscribers whose acks
// have stopped advancing.
package subscription

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	mcperrors "github.com/pulsegrid/mcpcore/internal/errors"
)

// Subscriber is one registered listener's delivery state.
type Subscriber struct {
	ID          string
	buffer      *ringBuffer
	lastAck     int64
	lastAckTime int64 // UnixNano, updated every time Poll advances lastAck
	created     time.Time
}

// Hub owns every active subscriber for one connection's change stream.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	sequence    int64
	stallAfter  time.Duration

	quit chan struct{}
}

// NewHub builds a Hub. stallAfter is the maximum time a subscriber may go
// without acknowledging delivery before it is disconnected; zero disables
// stall detection.
func NewHub(stallAfter time.Duration) *Hub {
	h := &Hub{
		subscribers: make(map[string]*Subscriber),
		stallAfter:  stallAfter,
		quit:        make(chan struct{}),
	}
	if stallAfter > 0 {
		go h.stallLoop()
	}
	return h
}

// Subscribe registers a new subscriber with the given buffer capacity and
// overflow policy, returning its id.
func (h *Hub) Subscribe(capacity int, policy OverflowPolicy) string {
	id := uuid.New().String()
	now := time.Now()
	h.mu.Lock()
	h.subscribers[id] = &Subscriber{ID: id, buffer: newRingBuffer(capacity, policy), created: now, lastAckTime: now.UnixNano()}
	h.mu.Unlock()
	return id
}

// Unsubscribe removes a subscriber.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subscribers, id)
}

// Publish fans e out to every subscriber, closing any whose buffer signals
// Disconnect on overflow.
func (h *Hub) Publish(e Event) {
	seq := atomic.AddInt64(&h.sequence, 1)
	_ = seq

	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		if !s.buffer.push(e) {
			h.disconnect(s.ID, mcperrors.New(mcperrors.ResourceExhausted, "subscriber %q buffer overflowed", s.ID))
		}
	}
}

// Poll drains and returns every event buffered for subscriber id, updating
// its ack sequence so stall detection sees it as alive.
func (h *Hub) Poll(id string) ([]Event, error) {
	h.mu.RLock()
	s, ok := h.subscribers[id]
	h.mu.RUnlock()
	if !ok {
		return nil, mcperrors.New(mcperrors.NotFound, "no such subscriber: %s", id)
	}
	prevAck := atomic.LoadInt64(&s.lastAck)
	newAck := atomic.LoadInt64(&h.sequence)
	atomic.StoreInt64(&s.lastAck, newAck)
	if newAck != prevAck {
		atomic.StoreInt64(&s.lastAckTime, time.Now().UnixNano())
	}
	return s.buffer.drain(), nil
}

func (h *Hub) disconnect(id string, reason error) {
	h.mu.Lock()
	s, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
	}
	h.mu.Unlock()
	if ok {
		s.buffer.close()
		log.Warn().Str("subscriber_id", id).Err(reason).Msg("subscriber disconnected")
	}
}

// Shutdown stops stall detection.
func (h *Hub) Shutdown() {
	close(h.quit)
}

func (h *Hub) stallLoop() {
	ticker := time.NewTicker(h.stallAfter / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			current := atomic.LoadInt64(&h.sequence)
			h.mu.RLock()
			var stalled []string
			for id, s := range h.subscribers {
				lastAckTime := time.Unix(0, atomic.LoadInt64(&s.lastAckTime))
				if current-atomic.LoadInt64(&s.lastAck) > 0 && time.Since(lastAckTime) > h.stallAfter {
					stalled = append(stalled, id)
				}
			}
			h.mu.RUnlock()
			for _, id := range stalled {
				h.disconnect(id, mcperrors.New(mcperrors.DeadlineExceeded, "subscriber missed acknowledgement window"))
			}
		case <-h.quit:
			return
		}
	}
}

// Listener abstracts the per-connection change source: either a genuine
// LISTEN/NOTIFY loop against pgx or a polling fallback.
type Listener interface {
	Run(ctx context.Context, onEvent func(Event)) error
}
