package iosauto

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	mcperrors "github.com/pulsegrid/mcpcore/internal/errors"
	"github.com/pulsegrid/mcpcore/internal/iosauto/runner"
)

// RunnerClient proxies session commands (launch, terminate, tap, swipe,
// type, press, page source) to a device's test-runner subprocess over
// HTTP, implementing SessionManager's Launcher interface with a
// conventional WebDriver-style JSON body.
type RunnerClient struct {
	runners *runner.Manager
	http    *http.Client
}

// NewRunnerClient builds a client bound to the given runner supervisor.
func NewRunnerClient(runners *runner.Manager, timeout time.Duration) *RunnerClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RunnerClient{runners: runners, http: &http.Client{Timeout: timeout}}
}

func (c *RunnerClient) instanceURL(deviceUDID, path string) (string, error) {
	inst, ok := c.runners.Get(deviceUDID)
	if !ok {
		return "", mcperrors.New(mcperrors.FailedPrecondition, "no test runner is running for device %q", deviceUDID)
	}
	return fmt.Sprintf("http://127.0.0.1:%d%s", inst.Port, path), nil
}

func (c *RunnerClient) postJSON(ctx context.Context, deviceUDID, path string, body any) (map[string]any, error) {
	url, err := c.instanceURL(deviceUDID, path)
	if err != nil {
		return nil, err
	}
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, mcperrors.Wrap(mcperrors.Internal, err, "failed to encode runner request")
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return nil, mcperrors.Wrap(mcperrors.Internal, err, "failed to build runner request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *RunnerClient) getJSON(ctx context.Context, deviceUDID, path string) (map[string]any, error) {
	url, err := c.instanceURL(deviceUDID, path)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, mcperrors.Wrap(mcperrors.Internal, err, "failed to build runner request")
	}
	return c.do(req)
}

func (c *RunnerClient) do(req *http.Request) (map[string]any, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, mcperrors.Wrap(mcperrors.ServiceUnavailable, err, "test runner request failed")
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, mcperrors.Wrap(mcperrors.Internal, err, "failed to read runner response")
	}
	if resp.StatusCode >= 400 {
		return nil, mcperrors.New(mcperrors.Internal, "test runner returned %d: %s", resp.StatusCode, string(body))
	}
	if len(body) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, mcperrors.Wrap(mcperrors.Internal, err, "failed to decode runner response")
	}
	return out, nil
}

// Launch implements Launcher, installing/foregrounding bundleID.
func (c *RunnerClient) Launch(ctx context.Context, deviceUDID, bundleID string) error {
	_, err := c.postJSON(ctx, deviceUDID, "/launch", map[string]any{"bundleId": bundleID})
	return err
}

// Terminate implements Launcher.
func (c *RunnerClient) Terminate(ctx context.Context, deviceUDID, bundleID string) error {
	_, err := c.postJSON(ctx, deviceUDID, "/terminate", map[string]any{"bundleId": bundleID})
	return err
}

// Tap proxies a tap gesture at the given coordinate.
func (c *RunnerClient) Tap(ctx context.Context, deviceUDID string, x, y float64) error {
	_, err := c.postJSON(ctx, deviceUDID, "/tap", map[string]any{"x": x, "y": y})
	return err
}

// Swipe proxies a swipe gesture from (x1,y1) to (x2,y2).
func (c *RunnerClient) Swipe(ctx context.Context, deviceUDID string, x1, y1, x2, y2 float64) error {
	_, err := c.postJSON(ctx, deviceUDID, "/swipe", map[string]any{"x1": x1, "y1": y1, "x2": x2, "y2": y2})
	return err
}

// TypeText proxies keyboard input into the currently focused element.
func (c *RunnerClient) TypeText(ctx context.Context, deviceUDID, text string) error {
	_, err := c.postJSON(ctx, deviceUDID, "/type", map[string]any{"text": text})
	return err
}

// PressButton proxies a hardware button press (e.g. "home", "volumeUp").
func (c *RunnerClient) PressButton(ctx context.Context, deviceUDID, button string) error {
	_, err := c.postJSON(ctx, deviceUDID, "/press", map[string]any{"button": button})
	return err
}

// PageSource returns the accessibility tree of the foreground application.
func (c *RunnerClient) PageSource(ctx context.Context, deviceUDID string) (string, error) {
	out, err := c.getJSON(ctx, deviceUDID, "/source")
	if err != nil {
		return "", err
	}
	source, _ := out["source"].(string)
	return source, nil
}
