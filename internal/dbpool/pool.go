// Package dbpool implements the connection manager: a named set of pgx
// pools, exactly one active at a time, each guarded by a circuit.Breaker
// and periodically health-checked.
package dbpool

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/pulsegrid/mcpcore/internal/circuit"
	mcperrors "github.com/pulsegrid/mcpcore/internal/errors"
)

// Stats reports the pool-invariant fields: idle + in_use == total <= max,
// waiters non-negative.
type Stats struct {
	Total   int32
	Idle    int32
	InUse   int32
	Waiting int32
	Max     int32
}

// Connection is one named pool plus its health state.
type Connection struct {
	ID      string
	pool    *pgxpool.Pool
	breaker *circuit.Breaker

	mu                  sync.Mutex
	consecutiveFailures int
	lastFailure         time.Time
}

// Pool exposes the underlying pgxpool.Pool for callers that need it
// directly, such as internal/migrate's Runner which runs outside the
// per-request Acquire/Release cycle.
func (c *Connection) Pool() *pgxpool.Pool {
	return c.pool
}

func (c *Connection) Stats() Stats {
	st := c.pool.Stat()
	return Stats{
		Total:   st.TotalConns(),
		Idle:    st.IdleConns(),
		InUse:   st.AcquiredConns(),
		Waiting: int32(st.EmptyAcquireCount()),
		Max:     st.MaxConns(),
	}
}

// BreakerState exposes the circuit breaker's current state for health
// resources and monitoring tools.
func (c *Connection) BreakerState() (circuit.State, int) {
	return c.breaker.Snapshot()
}

// Manager owns the named set of pools and the single active pointer.
// Exactly one pool is active at all times once any connection has been
// added.
type Manager struct {
	mu         sync.RWMutex
	conns      map[string]*Connection
	activeID   string
	probeQuery string
}

// NewManager returns an empty manager. probeQuery is run once when a
// connection is added and periodically by the health monitor.
func NewManager() *Manager {
	return &Manager{conns: make(map[string]*Connection), probeQuery: "SELECT 1"}
}

// AddConnection opens a pool for connString, probes it, and — if no
// connection is currently active — makes it active. id is used exactly as
// given; registering an id twice fails with ALREADY_EXISTS.
func (m *Manager) AddConnection(ctx context.Context, id, connString string) error {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return mcperrors.Wrap(mcperrors.InvalidArgument, err, "invalid connection string")
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return mcperrors.Wrap(mcperrors.Internal, err, "failed to open pool")
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := pool.Exec(probeCtx, m.probeQuery); err != nil {
		pool.Close()
		return mcperrors.Wrap(mcperrors.ServiceUnavailable, err, "connection probe failed")
	}

	conn := &Connection{ID: id, pool: pool, breaker: circuit.New(id, circuit.DefaultConfig())}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.conns[id]; exists {
		conn.pool.Close()
		return mcperrors.New(mcperrors.AlreadyExists, "connection %q already registered", id)
	}
	m.conns[id] = conn
	if m.activeID == "" {
		m.activeID = id
	}
	log.Info().Str("connection", id).Bool("active", m.activeID == id).Msg("database connection added")
	return nil
}

// SwitchConnection atomically retargets the active pointer. In-flight
// operations on the previous pool continue to completion because they
// already hold a *Connection reference, not a lookup into m.activeID.
func (m *Manager) SwitchConnection(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conns[id]; !ok {
		return mcperrors.New(mcperrors.NotFound, "no such connection: %s", id)
	}
	m.activeID = id
	return nil
}

// Active returns the currently active connection.
func (m *Manager) Active() (*Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.activeID == "" {
		return nil, mcperrors.New(mcperrors.FailedPrecondition, "no active connection")
	}
	return m.conns[m.activeID], nil
}

// Get returns a connection by id regardless of active state, used by
// per-tenant connection overrides.
func (m *Manager) Get(id string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[id]
	return c, ok
}

// List enumerates every connection's id and stats, for the db://connections
// resource.
func (m *Manager) List() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Stats, len(m.conns))
	for id, c := range m.conns {
		out[id] = c.Stats()
	}
	return out
}

// ActiveID returns the id of the currently active connection, or "".
func (m *Manager) ActiveID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeID
}

// Acquire checks out a connection from the active pool, honoring the
// breaker and a caller-supplied timeout. Returns SERVICE_UNAVAILABLE
// immediately if the breaker is open, RESOURCE_EXHAUSTED if the acquire
// deadline is exceeded.
func (m *Manager) Acquire(ctx context.Context, timeout time.Duration) (*pgxpool.Conn, *Connection, error) {
	conn, err := m.Active()
	if err != nil {
		return nil, nil, err
	}
	return m.AcquireFrom(ctx, conn, timeout)
}

// AcquireFrom acquires from a specific connection, used once a tenant
// override or explicit connection id has been resolved.
func (m *Manager) AcquireFrom(ctx context.Context, conn *Connection, timeout time.Duration) (*pgxpool.Conn, *Connection, error) {
	if !conn.breaker.Allow() {
		return nil, nil, mcperrors.New(mcperrors.ServiceUnavailable, "connection %q circuit open", conn.ID)
	}

	acquireCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		acquireCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	c, err := conn.pool.Acquire(acquireCtx)
	if err != nil {
		if isTransient(err) {
			conn.breaker.RecordFailure()
		}
		if acquireCtx.Err() != nil {
			return nil, nil, mcperrors.Wrap(mcperrors.ResourceExhausted, err, "acquire timed out on connection %q", conn.ID)
		}
		return nil, nil, mcperrors.Wrap(mcperrors.Internal, err, "acquire failed on connection %q", conn.ID)
	}
	conn.breaker.RecordSuccess()
	return c, conn, nil
}

// isTransient narrows retry/breaker-tripping eligibility to network and
// timeout classes, never constraint violations or syntax errors.
// pool.Acquire only ever fails on connection-establishment
// or context problems (syntax/constraint errors surface later, from Exec),
// so every acquire failure here is transient except an already-canceled
// caller context, which reflects the caller giving up rather than the
// backend misbehaving.
func isTransient(err error) bool {
	return err != nil && err != context.Canceled
}

// Shutdown closes every pool. The dispatcher is expected to have already
// drained in-flight handlers before calling this.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.conns {
		c.pool.Close()
		log.Info().Str("connection", id).Msg("database connection closed")
	}
}
