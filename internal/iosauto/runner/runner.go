// Package runner supervises one local HTTP test-runner subprocess per
// simulator device: spawn bound to a unique port, poll /status until
// healthy, watch for exit.
package runner

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	mcperrors "github.com/pulsegrid/mcpcore/internal/errors"
)

const (
	healthPollInterval = 250 * time.Millisecond
	maxPortRetries      = 10
)

// Config describes how to launch a test-runner subprocess.
type Config struct {
	ProjectPath     string
	Scheme          string
	BasePort        int
	StartupTimeout  time.Duration
	Command         func(port int, deviceUDID string) *exec.Cmd // overridable for tests
	HealthURL       func(port int) string
}

// Instance is one running test-runner subprocess for a single device.
type Instance struct {
	DeviceUDID string
	Port       int

	mu      sync.Mutex
	cmd     *exec.Cmd
	done    chan struct{}
	healthy bool
}

// Manager supervises one Instance per device, assigning ports by
// contextIndex and retrying on bind collision.
type Manager struct {
	cfg Config

	mu        sync.Mutex
	instances map[string]*Instance
}

func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, instances: make(map[string]*Instance)}
}

// Start launches (or returns the existing) runner for deviceUDID, bound to
// cfg.BasePort + contextIndex, retrying at the next port on a bind
// collision up to maxPortRetries times.
func (m *Manager) Start(ctx context.Context, deviceUDID string, contextIndex int) (*Instance, error) {
	m.mu.Lock()
	if existing, ok := m.instances[deviceUDID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < maxPortRetries; attempt++ {
		port := m.cfg.BasePort + contextIndex + attempt
		cmd := m.cfg.Command(port, deviceUDID)
		if err := cmd.Start(); err != nil {
			lastErr = err
			continue
		}

		inst := &Instance{DeviceUDID: deviceUDID, Port: port, cmd: cmd, done: make(chan struct{})}
		go inst.waitForExit()

		if err := m.waitHealthy(ctx, inst); err != nil {
			_ = inst.Stop()
			lastErr = err
			continue
		}

		m.mu.Lock()
		m.instances[deviceUDID] = inst
		m.mu.Unlock()
		log.Info().Str("device", deviceUDID).Int("port", port).Msg("test runner started")
		return inst, nil
	}
	return nil, mcperrors.Wrap(mcperrors.Internal, lastErr, "failed to start test runner for device %q after %d attempts", deviceUDID, maxPortRetries)
}

func (m *Manager) waitHealthy(ctx context.Context, inst *Instance) error {
	deadline := time.Now().Add(m.cfg.StartupTimeout)
	url := m.cfg.HealthURL(inst.Port)
	client := &http.Client{Timeout: healthPollInterval}

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-inst.done:
			return mcperrors.New(mcperrors.Internal, "test runner process exited before becoming healthy")
		default:
		}

		resp, err := client.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				inst.mu.Lock()
				inst.healthy = true
				inst.mu.Unlock()
				return nil
			}
		}
		time.Sleep(healthPollInterval)
	}
	return mcperrors.New(mcperrors.DeadlineExceeded, "test runner on port %d did not become healthy within %s", inst.Port, m.cfg.StartupTimeout)
}

// Get returns the running instance for deviceUDID, if any, without
// starting one.
func (m *Manager) Get(deviceUDID string) (*Instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[deviceUDID]
	return inst, ok
}

// Stop terminates the runner for deviceUDID, if any.
func (m *Manager) Stop(deviceUDID string) error {
	m.mu.Lock()
	inst, ok := m.instances[deviceUDID]
	if ok {
		delete(m.instances, deviceUDID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return inst.Stop()
}

func (inst *Instance) Stop() error {
	inst.mu.Lock()
	cmd := inst.cmd
	inst.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func (inst *Instance) waitForExit() {
	_ = inst.cmd.Wait()
	close(inst.done)
}

// IsHealthy reports the last known health state without polling again.
func (inst *Instance) IsHealthy() bool {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.healthy
}

// StatusURL builds the conventional /status health endpoint for port.
func StatusURL(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d/status", port)
}
