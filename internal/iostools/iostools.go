// Package iostools wires the iOS automation core to the
// MCP registry: device discovery, ensure-booted, the test-runner proxy
// (tap/swipe/type/press/source/launch/terminate), and the WebKit inspector
// session (screenshot, evaluate), each a thin layer over internal/iosauto.
package iostools

import (
	"context"
	"time"

	"github.com/pulsegrid/mcpcore/internal/audit"
	mcperrors "github.com/pulsegrid/mcpcore/internal/errors"
	"github.com/pulsegrid/mcpcore/internal/iosauto"
	"github.com/pulsegrid/mcpcore/internal/iosauto/inspector"
	"github.com/pulsegrid/mcpcore/internal/iosauto/runner"
	"github.com/pulsegrid/mcpcore/internal/policy"
	"github.com/pulsegrid/mcpcore/internal/registry"
	"github.com/pulsegrid/mcpcore/internal/rpc"
	"github.com/pulsegrid/mcpcore/internal/toolguard"
)

// Deps bundles everything the ios_* tools need.
type Deps struct {
	Runners          *runner.Manager
	Client           *iosauto.RunnerClient
	Sessions         *iosauto.SessionManager
	Inspector        *inspector.Proxy
	Policy           *policy.Engine
	Audit            *audit.Logger
	BootTimeout      time.Duration
	BootPollEvery    time.Duration
	InspectorTimeout time.Duration
	ConfirmTTL       time.Duration
	DefaultBundleID  string
}

// Register wires every ios_* tool into reg. Mutating device commands
// (boot, session lifecycle, interaction, script evaluation) go through a
// toolguard.Guard keyed by udid; reads (device list, page source,
// screenshot) do not.
func Register(reg *registry.Registry, deps Deps) error {
	if deps.BootTimeout <= 0 {
		deps.BootTimeout = 60 * time.Second
	}
	if deps.InspectorTimeout <= 0 {
		deps.InspectorTimeout = 10 * time.Second
	}
	guard := toolguard.New(deps.Policy, deps.Audit, "udid", deps.ConfirmTTL)
	t := &toolset{deps: deps}

	tools := []struct {
		tool rpc.Tool
		exec registry.Executor
	}{
		{listDevicesTool(), t.listDevices},
		{ensureBootedTool(), guard.Wrap("ios_device_ensure_booted", t.ensureBooted)},
		{sessionCreateTool(), guard.Wrap("ios_session_create", t.sessionCreate)},
		{tapTool(), guard.Wrap("ios_session_tap", t.tap)},
		{swipeTool(), guard.Wrap("ios_session_swipe", t.swipe)},
		{typeTextTool(), guard.Wrap("ios_session_type_text", t.typeText)},
		{pressButtonTool(), guard.Wrap("ios_session_press_button", t.pressButton)},
		{pageSourceTool(), t.pageSource},
		{launchTool(), guard.Wrap("ios_session_launch", t.launch)},
		{terminateTool(), guard.Wrap("ios_session_terminate", t.terminate)},
		{confirmTool(), guard.Confirm},
		{inspectorScreenshotTool(), t.inspectorScreenshot},
		{inspectorEvaluateTool(), guard.Wrap("ios_inspector_evaluate", t.inspectorEvaluate)},
	}
	for _, e := range tools {
		if err := reg.RegisterTool(e.tool, e.exec); err != nil {
			return err
		}
	}
	return nil
}

type toolset struct {
	deps Deps
}

func (t *toolset) listDevices(ctx context.Context, _ map[string]any) (rpc.CallToolResult, error) {
	devices, err := iosauto.ListDevices(ctx)
	if err != nil {
		return rpc.ErrorResult(err), nil
	}
	return rpc.JSONResult(map[string]any{"devices": devices}), nil
}

func (t *toolset) ensureBooted(ctx context.Context, args map[string]any) (rpc.CallToolResult, error) {
	udid, _ := args["udid"].(string)
	if udid == "" {
		return rpc.ErrorResult(mcperrors.New(mcperrors.InvalidArgument, "udid is required")), nil
	}
	if err := iosauto.EnsureBooted(ctx, udid, t.deps.BootTimeout, t.deps.BootPollEvery); err != nil {
		return rpc.ErrorResult(err), nil
	}
	return rpc.JSONResult(map[string]any{"udid": udid, "state": "Booted"}), nil
}

// sessionCreate starts (or reuses) a runner for udid and creates a session
// for bundleId, swapping out any previously active bundle on that device
// first.
func (t *toolset) sessionCreate(ctx context.Context, args map[string]any) (rpc.CallToolResult, error) {
	udid, _ := args["udid"].(string)
	bundleID, _ := args["bundleId"].(string)
	if bundleID == "" {
		bundleID = t.deps.DefaultBundleID
	}
	contextIndex, _ := args["contextIndex"].(float64)
	if udid == "" || bundleID == "" {
		return rpc.ErrorResult(mcperrors.New(mcperrors.InvalidArgument, "udid and bundleId are required")), nil
	}
	if _, err := t.deps.Runners.Start(ctx, udid, int(contextIndex)); err != nil {
		return rpc.ErrorResult(err), nil
	}
	sess, err := t.deps.Sessions.Create(ctx, udid, bundleID)
	if err != nil {
		return rpc.ErrorResult(err), nil
	}
	return rpc.JSONResult(map[string]any{"sessionId": sess.ID, "bundleId": sess.BundleID}), nil
}

func (t *toolset) tap(ctx context.Context, args map[string]any) (rpc.CallToolResult, error) {
	udid, bundleID, x, y, err := deviceBundleXY(args)
	if err != nil {
		return rpc.ErrorResult(err), nil
	}
	if err := t.swapBundleIfNeeded(ctx, udid, bundleID); err != nil {
		return rpc.ErrorResult(err), nil
	}
	if err := t.deps.Client.Tap(ctx, udid, x, y); err != nil {
		return rpc.ErrorResult(err), nil
	}
	return rpc.JSONResult(map[string]any{"tapped": true}), nil
}

func (t *toolset) swipe(ctx context.Context, args map[string]any) (rpc.CallToolResult, error) {
	udid, _ := args["udid"].(string)
	x1, _ := args["x1"].(float64)
	y1, _ := args["y1"].(float64)
	x2, _ := args["x2"].(float64)
	y2, _ := args["y2"].(float64)
	if udid == "" {
		return rpc.ErrorResult(mcperrors.New(mcperrors.InvalidArgument, "udid is required")), nil
	}
	if err := t.deps.Client.Swipe(ctx, udid, x1, y1, x2, y2); err != nil {
		return rpc.ErrorResult(err), nil
	}
	return rpc.JSONResult(map[string]any{"swiped": true}), nil
}

func (t *toolset) typeText(ctx context.Context, args map[string]any) (rpc.CallToolResult, error) {
	udid, _ := args["udid"].(string)
	text, _ := args["text"].(string)
	if udid == "" {
		return rpc.ErrorResult(mcperrors.New(mcperrors.InvalidArgument, "udid is required")), nil
	}
	if err := t.deps.Client.TypeText(ctx, udid, text); err != nil {
		return rpc.ErrorResult(err), nil
	}
	return rpc.JSONResult(map[string]any{"typed": text}), nil
}

func (t *toolset) pressButton(ctx context.Context, args map[string]any) (rpc.CallToolResult, error) {
	udid, _ := args["udid"].(string)
	button, _ := args["button"].(string)
	if udid == "" || button == "" {
		return rpc.ErrorResult(mcperrors.New(mcperrors.InvalidArgument, "udid and button are required")), nil
	}
	if err := t.deps.Client.PressButton(ctx, udid, button); err != nil {
		return rpc.ErrorResult(err), nil
	}
	return rpc.JSONResult(map[string]any{"pressed": button}), nil
}

func (t *toolset) pageSource(ctx context.Context, args map[string]any) (rpc.CallToolResult, error) {
	udid, _ := args["udid"].(string)
	if udid == "" {
		return rpc.ErrorResult(mcperrors.New(mcperrors.InvalidArgument, "udid is required")), nil
	}
	source, err := t.deps.Client.PageSource(ctx, udid)
	if err != nil {
		return rpc.ErrorResult(err), nil
	}
	return rpc.JSONResult(map[string]any{"source": source}), nil
}

func (t *toolset) launch(ctx context.Context, args map[string]any) (rpc.CallToolResult, error) {
	udid, _ := args["udid"].(string)
	bundleID, _ := args["bundleId"].(string)
	if bundleID == "" {
		bundleID = t.deps.DefaultBundleID
	}
	if udid == "" || bundleID == "" {
		return rpc.ErrorResult(mcperrors.New(mcperrors.InvalidArgument, "udid and bundleId are required")), nil
	}
	sess, err := t.deps.Sessions.Create(ctx, udid, bundleID)
	if err != nil {
		return rpc.ErrorResult(err), nil
	}
	return rpc.JSONResult(map[string]any{"sessionId": sess.ID}), nil
}

func (t *toolset) terminate(ctx context.Context, args map[string]any) (rpc.CallToolResult, error) {
	udid, _ := args["udid"].(string)
	if udid == "" {
		return rpc.ErrorResult(mcperrors.New(mcperrors.InvalidArgument, "udid is required")), nil
	}
	if err := t.deps.Sessions.Delete(ctx, udid); err != nil {
		return rpc.ErrorResult(err), nil
	}
	return rpc.JSONResult(map[string]any{"terminated": true}), nil
}

func (t *toolset) inspectorScreenshot(ctx context.Context, args map[string]any) (rpc.CallToolResult, error) {
	targetID, _ := args["targetId"].(string)
	if targetID == "" {
		return rpc.ErrorResult(mcperrors.New(mcperrors.InvalidArgument, "targetId is required")), nil
	}
	ctx, cancel := context.WithTimeout(ctx, t.deps.InspectorTimeout)
	defer cancel()
	result, err := t.deps.Inspector.Sessions().Send(ctx, targetID, "Page.captureScreenshot", nil)
	if err != nil {
		return rpc.ErrorResult(err), nil
	}
	if result.Error != nil {
		return rpc.ErrorResult(mcperrors.New(mcperrors.Internal, "%s", result.Error.Message)), nil
	}
	return rpc.CallToolResult{
		Content:           []rpc.Content{{Type: "text", Text: "screenshot captured"}},
		StructuredContent: result.Result,
	}, nil
}

func (t *toolset) inspectorEvaluate(ctx context.Context, args map[string]any) (rpc.CallToolResult, error) {
	targetID, _ := args["targetId"].(string)
	expression, _ := args["expression"].(string)
	if targetID == "" || expression == "" {
		return rpc.ErrorResult(mcperrors.New(mcperrors.InvalidArgument, "targetId and expression are required")), nil
	}
	ctx, cancel := context.WithTimeout(ctx, t.deps.InspectorTimeout)
	defer cancel()
	result, err := t.deps.Inspector.Sessions().Send(ctx, targetID, "Runtime.evaluate", map[string]any{"expression": expression})
	if err != nil {
		return rpc.ErrorResult(err), nil
	}
	if result.Error != nil {
		return rpc.ErrorResult(mcperrors.New(mcperrors.Internal, "%s", result.Error.Message)), nil
	}
	return rpc.CallToolResult{
		Content:           []rpc.Content{{Type: "text", Text: "evaluated"}},
		StructuredContent: result.Result,
	}, nil
}

// swapBundleIfNeeded creates a session for bundleID on udid when bundleID
// is supplied and differs from the currently active session, terminating
// the previous one first (SessionManager.Create already does the
// swap-before-create itself; this just makes it optional for tap calls,
// which don't always name a bundle).
func (t *toolset) swapBundleIfNeeded(ctx context.Context, udid, bundleID string) error {
	if bundleID == "" {
		return nil
	}
	if active, ok := t.deps.Sessions.Active(udid); ok && active.BundleID == bundleID {
		return nil
	}
	_, err := t.deps.Sessions.Create(ctx, udid, bundleID)
	return err
}

func deviceBundleXY(args map[string]any) (udid, bundleID string, x, y float64, err error) {
	udid, _ = args["udid"].(string)
	bundleID, _ = args["bundleId"].(string)
	x, _ = args["x"].(float64)
	y, _ = args["y"].(float64)
	if udid == "" {
		return "", "", 0, 0, mcperrors.New(mcperrors.InvalidArgument, "udid is required")
	}
	return udid, bundleID, x, y, nil
}
