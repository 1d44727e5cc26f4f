package iosauto

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLauncher struct {
	launched    []string
	terminated  []string
}

func (f *fakeLauncher) Launch(_ context.Context, deviceUDID, bundleID string) error {
	f.launched = append(f.launched, deviceUDID+":"+bundleID)
	return nil
}

func (f *fakeLauncher) Terminate(_ context.Context, deviceUDID, bundleID string) error {
	f.terminated = append(f.terminated, deviceUDID+":"+bundleID)
	return nil
}

func TestSessionManager_CreateLaunchesBundle(t *testing.T) {
	launcher := &fakeLauncher{}
	i := 0
	m := NewSessionManager(launcher, func() string { i++; return "sess-1" })

	sess, err := m.Create(context.Background(), "device-1", "com.example.app")
	require.NoError(t, err)
	assert.Equal(t, "com.example.app", sess.BundleID)
	assert.Contains(t, launcher.launched, "device-1:com.example.app")
}

func TestSessionManager_SwappingBundleTerminatesPreviousFirst(t *testing.T) {
	launcher := &fakeLauncher{}
	m := NewSessionManager(launcher, func() string { return "sess-1" })

	_, err := m.Create(context.Background(), "device-1", "com.example.a")
	require.NoError(t, err)

	_, err = m.Create(context.Background(), "device-1", "com.example.b")
	require.NoError(t, err)

	assert.Contains(t, launcher.terminated, "device-1:com.example.a")
	active, ok := m.Active("device-1")
	require.True(t, ok)
	assert.Equal(t, "com.example.b", active.BundleID)
}

func TestSessionManager_ReapTerminatesStaleSessions(t *testing.T) {
	launcher := &fakeLauncher{}
	m := NewSessionManager(launcher, func() string { return "sess-1" })

	_, err := m.Create(context.Background(), "device-1", "com.example.a")
	require.NoError(t, err)

	m.mu.Lock()
	m.byDevice["device-1"].CreatedAt = time.Now().Add(-time.Hour)
	m.mu.Unlock()

	m.Reap(context.Background(), time.Minute)

	_, ok := m.Active("device-1")
	assert.False(t, ok, "a session older than maxAge must be reaped")
	assert.Contains(t, launcher.terminated, "device-1:com.example.a")
}

func TestSessionManager_ReapLeavesFreshSessions(t *testing.T) {
	launcher := &fakeLauncher{}
	m := NewSessionManager(launcher, func() string { return "sess-1" })

	_, err := m.Create(context.Background(), "device-1", "com.example.a")
	require.NoError(t, err)

	m.Reap(context.Background(), time.Hour)

	_, ok := m.Active("device-1")
	assert.True(t, ok, "a session younger than maxAge must survive a reap pass")
}
