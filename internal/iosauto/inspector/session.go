package inspector

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	mcperrors "github.com/pulsegrid/mcpcore/internal/errors"
)

const (
	pingInterval  = 5 * time.Second
	pingWriteWait = 5 * time.Second
	maxPingMisses = 3
)

// Command is a CDP-style {id, method, params} request sent to a target.
type Command struct {
	ID     int64          `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

// Result is a CDP-style {id, result} or {id, error} response.
type Result struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// session is one target's WebSocket connection plus its in-flight command
// correlation state.
type session struct {
	conn        *websocket.Conn
	writeMu     sync.Mutex
	pendingMu   sync.Mutex
	pending     map[int64]chan Result
	nextID      int64
	done        chan struct{}
}

type sessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[string]*session)}
}

// Attach registers conn as the live session for targetID, replacing and
// closing any existing connection for that target, then starts its read
// and ping loops.
func (r *sessionRegistry) Attach(targetID string, conn *websocket.Conn) {
	s := &session{conn: conn, pending: make(map[int64]chan Result), done: make(chan struct{})}

	r.mu.Lock()
	if existing, ok := r.sessions[targetID]; ok {
		close(existing.done)
		_ = existing.conn.Close()
	}
	r.sessions[targetID] = s
	r.mu.Unlock()

	go s.readLoop()
	go s.pingLoop()
}

// Detach removes and closes the session for targetID, if any.
func (r *sessionRegistry) Detach(targetID string) {
	r.mu.Lock()
	s, ok := r.sessions[targetID]
	if ok {
		delete(r.sessions, targetID)
	}
	r.mu.Unlock()
	if ok {
		close(s.done)
		_ = s.conn.Close()
	}
}

// Send issues method/params against targetID and blocks for its correlated
// result or ctx's deadline, whichever comes first.
func (r *sessionRegistry) Send(ctx context.Context, targetID, method string, params map[string]any) (Result, error) {
	r.mu.RLock()
	s, ok := r.sessions[targetID]
	r.mu.RUnlock()
	if !ok {
		return Result{}, mcperrors.New(mcperrors.NotFound, "no inspector session for target %q", targetID)
	}

	id := atomic.AddInt64(&s.nextID, 1)
	respCh := make(chan Result, 1)
	s.pendingMu.Lock()
	s.pending[id] = respCh
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	body, err := json.Marshal(Command{ID: id, Method: method, Params: params})
	if err != nil {
		return Result{}, mcperrors.Wrap(mcperrors.Internal, err, "failed to encode inspector command")
	}

	s.writeMu.Lock()
	err = s.conn.WriteMessage(websocket.TextMessage, body)
	s.writeMu.Unlock()
	if err != nil {
		return Result{}, mcperrors.Wrap(mcperrors.ServiceUnavailable, err, "failed to send inspector command")
	}

	select {
	case res := <-respCh:
		return res, nil
	case <-ctx.Done():
		return Result{}, mcperrors.New(mcperrors.DeadlineExceeded, "inspector command %q timed out", method)
	case <-s.done:
		return Result{}, mcperrors.New(mcperrors.Cancelled, "inspector session for target %q closed", targetID)
	}
}

func (s *session) readLoop() {
	defer func() {
		_ = s.conn.Close()
	}()
	for {
		select {
		case <-s.done:
			return
		default:
		}

		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Msg("inspector read loop exiting")
			return
		}

		var res Result
		if err := json.Unmarshal(raw, &res); err != nil {
			log.Warn().Err(err).Msg("failed to decode inspector result")
			continue
		}

		s.pendingMu.Lock()
		ch, ok := s.pending[res.ID]
		s.pendingMu.Unlock()
		if ok {
			select {
			case ch <- res:
			default:
				log.Warn().Int64("id", res.ID).Msg("inspector result channel full, dropping")
			}
		}
	}
}

func (s *session) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	misses := 0
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingWriteWait))
			s.writeMu.Unlock()
			if err != nil {
				misses++
				if misses >= maxPingMisses {
					log.Warn().Msg("inspector session appears dead after repeated ping failures, closing")
					_ = s.conn.Close()
					return
				}
				continue
			}
			misses = 0
		}
	}
}
