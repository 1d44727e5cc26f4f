package toolguard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsegrid/mcpcore/internal/audit"
	"github.com/pulsegrid/mcpcore/internal/policy"
	"github.com/pulsegrid/mcpcore/internal/registry"
	"github.com/pulsegrid/mcpcore/internal/rpc"
)

func countingExecutor(calls *int) registry.Executor {
	return func(ctx context.Context, args map[string]any) (rpc.CallToolResult, error) {
		*calls++
		return rpc.JSONResult(map[string]any{"ok": true}), nil
	}
}

func TestWrap_AllowsWhenNoPolicyConfigured(t *testing.T) {
	g := New(nil, nil, "connectionId", time.Minute)
	calls := 0
	exec := g.Wrap("db_connection_switch", countingExecutor(&calls))

	_, err := exec(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWrap_RequiresConfirmationThenRunsOnce(t *testing.T) {
	eng := policy.New([]policy.Rule{
		{Name: "switch", Match: policy.Matcher{Action: "db_connection_switch"}, Risk: policy.RiskHigh, Decision: policy.DecisionRequireConfirmation},
	}, nil, nil, time.Minute)
	defer eng.Shutdown()

	calls := 0
	g := New(eng, nil, "connectionId", time.Minute)
	guarded := g.Wrap("db_connection_switch", countingExecutor(&calls))

	result, err := guarded(context.Background(), map[string]any{"connectionId": "replica"})
	require.NoError(t, err)
	require.Equal(t, 0, calls, "the underlying executor must not run before confirmation")
	payload, ok := result.StructuredContent.(map[string]any)
	require.True(t, ok)
	token, _ := payload["confirmationToken"].(string)
	require.NotEmpty(t, token)

	confirmResult, err := g.Confirm(context.Background(), map[string]any{"confirmationToken": token})
	require.NoError(t, err)
	assert.False(t, confirmResult.IsError)
	assert.Equal(t, 1, calls, "confirming must run the original executor exactly once")

	again, err := g.Confirm(context.Background(), map[string]any{"confirmationToken": token})
	require.NoError(t, err)
	assert.True(t, again.IsError, "a redeemed token must not be usable twice")
}

func TestWrap_ConfirmedHighRiskActionRecordsAllowAuditEntryWithRiskAndActor(t *testing.T) {
	eng := policy.New([]policy.Rule{
		{Name: "switch", Match: policy.Matcher{Action: "db_connection_switch"}, Risk: policy.RiskHigh, Decision: policy.DecisionRequireConfirmation},
	}, nil, nil, time.Minute)
	defer eng.Shutdown()
	logger := audit.NewLogger(16)

	calls := 0
	g := New(eng, logger, "connectionId", time.Minute)
	guarded := g.Wrap("db_connection_switch", countingExecutor(&calls))

	result, err := guarded(context.Background(), map[string]any{"connectionId": "replica"})
	require.NoError(t, err)
	payload, ok := result.StructuredContent.(map[string]any)
	require.True(t, ok)
	token, _ := payload["confirmationToken"].(string)
	require.NotEmpty(t, token)

	_, err = g.Confirm(context.Background(), map[string]any{"confirmationToken": token, "actor": "alice"})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	entries := logger.Recent(0)
	require.Len(t, entries, 2, "confirming a pending action must write both the pending and the post-execution audit entry")

	pending := entries[0]
	assert.Equal(t, string(policy.DecisionRequireConfirmation), pending.Decision)
	assert.Equal(t, string(policy.RiskHigh), pending.Risk)

	allowed := entries[1]
	assert.Equal(t, string(policy.DecisionAllow), allowed.Decision)
	assert.Equal(t, string(policy.RiskHigh), allowed.Risk)
	assert.Equal(t, "alice", allowed.Actor)
	assert.Equal(t, "db_connection_switch", allowed.Action)
}

func TestWrap_DeniesWhenPolicyDenies(t *testing.T) {
	eng := policy.New([]policy.Rule{
		{Name: "block-shutdown", Match: policy.Matcher{Action: "db_connection_shutdown"}, Risk: policy.RiskHigh, Decision: policy.DecisionDeny},
	}, nil, nil, time.Minute)
	defer eng.Shutdown()

	calls := 0
	g := New(eng, nil, "connectionId", time.Minute)
	guarded := g.Wrap("db_connection_shutdown", countingExecutor(&calls))

	result, err := guarded(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, 0, calls)
}

func TestWrap_UsesConfiguredTargetKey(t *testing.T) {
	eng := policy.New([]policy.Rule{
		{Name: "device", Match: policy.Matcher{Target: "UDID-*", Action: "ios_session_terminate"}, Risk: policy.RiskMedium, Decision: policy.DecisionDeny},
	}, nil, nil, time.Minute)
	defer eng.Shutdown()

	calls := 0
	g := New(eng, nil, "udid", time.Minute)
	guarded := g.Wrap("ios_session_terminate", countingExecutor(&calls))

	result, err := guarded(context.Background(), map[string]any{"udid": "UDID-1234"})
	require.NoError(t, err)
	assert.True(t, result.IsError, "the rule matches the udid argument as the policy target")
	assert.Equal(t, 0, calls)
}
