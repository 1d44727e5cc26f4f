// Package iosauto implements the iOS automation core:
// simulator device discovery, per-device test-runner subprocess
// supervision, session lifecycle management, and a WebKit inspector proxy.
package iosauto

import (
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"time"

	mcperrors "github.com/pulsegrid/mcpcore/internal/errors"
)

// Device is one normalized simulator record.
type Device struct {
	UDID     string `json:"udid"`
	Name     string `json:"name"`
	Runtime  string `json:"runtime"`
	State    string `json:"state"`
	Platform string `json:"platform"`
}

// rawSimctlList mirrors the subset of `xcrun simctl list devices --json`
// this package consumes.
type rawSimctlList struct {
	Devices map[string][]rawDevice `json:"devices"`
}

type rawDevice struct {
	UDID                 string `json:"udid"`
	Name                 string `json:"name"`
	State                string `json:"state"`
	IsAvailable          bool   `json:"isAvailable"`
	AvailabilityError    string `json:"availabilityError"`
}

// runSimctl is a package variable so tests can substitute a fake
// implementation without shelling out to the real xcrun toolchain.
var runSimctl = func(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "xcrun", append([]string{"simctl"}, args...)...)
	return cmd.Output()
}

// ListDevices shells out to `xcrun simctl list devices --json` and
// normalizes every entry to {udid, name, runtime, state, platform}.
func ListDevices(ctx context.Context) ([]Device, error) {
	out, err := runSimctl(ctx, "list", "devices", "--json")
	if err != nil {
		return nil, mcperrors.Wrap(mcperrors.Internal, err, "failed to list simulator devices")
	}

	var raw rawSimctlList
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, mcperrors.Wrap(mcperrors.Internal, err, "failed to parse simctl output")
	}

	var devices []Device
	for runtimeKey, entries := range raw.Devices {
		platform, runtime := splitRuntimeKey(runtimeKey)
		for _, d := range entries {
			if !d.IsAvailable {
				continue
			}
			devices = append(devices, Device{
				UDID:     d.UDID,
				Name:     d.Name,
				Runtime:  runtime,
				State:    d.State,
				Platform: platform,
			})
		}
	}
	return devices, nil
}

func deviceByUDID(ctx context.Context, udid string) (Device, error) {
	devices, err := ListDevices(ctx)
	if err != nil {
		return Device{}, err
	}
	for _, d := range devices {
		if d.UDID == udid {
			return d, nil
		}
	}
	return Device{}, mcperrors.New(mcperrors.NotFound, "no such simulator device: %s", udid)
}

// EnsureBooted reads udid's current state and, if Shutdown, boots it and
// waits (polling at pollEvery) for it to reach Booted before timeout
// elapses. Already-Booted and already-Booting devices are left alone; the
// latter is simply waited on. Failure to transition within timeout is
// FAILED_PRECONDITION.
func EnsureBooted(ctx context.Context, udid string, timeout, pollEvery time.Duration) error {
	if pollEvery <= 0 {
		pollEvery = 500 * time.Millisecond
	}
	device, err := deviceByUDID(ctx, udid)
	if err != nil {
		return err
	}
	if device.State == "Shutdown" {
		if _, err := runSimctl(ctx, "boot", udid); err != nil {
			return mcperrors.Wrap(mcperrors.Internal, err, "failed to boot device %q", udid)
		}
	} else if device.State == "Booted" {
		return nil
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		device, err := deviceByUDID(ctx, udid)
		if err != nil {
			return err
		}
		if device.State == "Booted" {
			return nil
		}
		select {
		case <-ctx.Done():
			return mcperrors.Wrap(mcperrors.Cancelled, ctx.Err(), "ensure-booted canceled for device %q", udid)
		case <-time.After(pollEvery):
		}
	}
	return mcperrors.New(mcperrors.FailedPrecondition, "device %q did not reach Booted within %s", udid, timeout)
}

// splitRuntimeKey turns "com.apple.CoreSimulator.SimRuntime.iOS-17-5" into
// ("iOS", "17.5").
func splitRuntimeKey(key string) (platform, runtime string) {
	const prefix = "com.apple.CoreSimulator.SimRuntime."
	trimmed := strings.TrimPrefix(key, prefix)
	parts := strings.SplitN(trimmed, "-", 2)
	if len(parts) != 2 {
		return trimmed, ""
	}
	return parts[0], strings.ReplaceAll(parts[1], "-", ".")
}
