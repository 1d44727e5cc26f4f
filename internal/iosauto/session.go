package iosauto

import (
	"context"
	"sync"
	"time"

	mcperrors "github.com/pulsegrid/mcpcore/internal/errors"
)

// Session is one active test session bound to a device and bundle id.
type Session struct {
	ID        string
	DeviceUDID string
	BundleID  string
	CreatedAt time.Time
}

// Launcher starts or stops a bundle on a device, implemented against the
// test-runner subprocess's HTTP control surface by the caller (kept as an
// interface here so this package stays free of the runner's HTTP details).
type Launcher interface {
	Launch(ctx context.Context, deviceUDID, bundleID string) error
	Terminate(ctx context.Context, deviceUDID, bundleID string) error
}

// SessionManager tracks the single active session per device. Swapping
// bundles on a device deletes the old session first; two bundles are never
// considered simultaneously active on one device.
type SessionManager struct {
	launcher Launcher
	newID    func() string

	mu       sync.Mutex
	byDevice map[string]*Session
}

func NewSessionManager(launcher Launcher, newID func() string) *SessionManager {
	return &SessionManager{launcher: launcher, newID: newID, byDevice: make(map[string]*Session)}
}

// Create starts bundleID on deviceUDID, first deleting any existing
// session on that device.
func (m *SessionManager) Create(ctx context.Context, deviceUDID, bundleID string) (*Session, error) {
	m.mu.Lock()
	existing := m.byDevice[deviceUDID]
	m.mu.Unlock()

	if existing != nil {
		if err := m.Delete(ctx, deviceUDID); err != nil {
			return nil, err
		}
	}

	if err := m.launcher.Launch(ctx, deviceUDID, bundleID); err != nil {
		return nil, mcperrors.Wrap(mcperrors.Internal, err, "failed to launch %q on device %q", bundleID, deviceUDID)
	}

	sess := &Session{ID: m.newID(), DeviceUDID: deviceUDID, BundleID: bundleID, CreatedAt: time.Now()}
	m.mu.Lock()
	m.byDevice[deviceUDID] = sess
	m.mu.Unlock()
	return sess, nil
}

// Delete terminates and forgets the active session on deviceUDID, if any.
func (m *SessionManager) Delete(ctx context.Context, deviceUDID string) error {
	m.mu.Lock()
	sess, ok := m.byDevice[deviceUDID]
	if ok {
		delete(m.byDevice, deviceUDID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if err := m.launcher.Terminate(ctx, deviceUDID, sess.BundleID); err != nil {
		return mcperrors.Wrap(mcperrors.Internal, err, "failed to terminate %q on device %q", sess.BundleID, deviceUDID)
	}
	return nil
}

// Active returns the session currently running on deviceUDID, if any.
func (m *SessionManager) Active(deviceUDID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.byDevice[deviceUDID]
	return sess, ok
}

// Reap terminates every session older than maxAge, so an agent that
// creates a session and never cleans it up doesn't pin a simulator bundle
// running forever. One failed terminate doesn't stop the rest of the sweep.
func (m *SessionManager) Reap(ctx context.Context, maxAge time.Duration) {
	m.mu.Lock()
	now := time.Now()
	var stale []string
	for udid, sess := range m.byDevice {
		if now.Sub(sess.CreatedAt) > maxAge {
			stale = append(stale, udid)
		}
	}
	m.mu.Unlock()

	for _, udid := range stale {
		_ = m.Delete(ctx, udid)
	}
}

// RunReaper calls Reap every interval until ctx is done, the same ticking
// shape as dbpool.HealthMonitor.Run.
func (m *SessionManager) RunReaper(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Reap(ctx, maxAge)
		case <-ctx.Done():
			return
		}
	}
}
