package rpcmw

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/pulsegrid/mcpcore/internal/errors"
	"github.com/pulsegrid/mcpcore/internal/ratelimit"
	"github.com/pulsegrid/mcpcore/internal/rpc"
	"github.com/pulsegrid/mcpcore/internal/tenant"
)

func pass(ctx context.Context, name string, args map[string]any) (rpc.CallToolResult, error) {
	return rpc.JSONResult(map[string]any{"ok": true}), nil
}

func TestRateLimit_UnknownTenantUsesFallbackTier(t *testing.T) {
	limiter := ratelimit.New(tenant.DefaultPolicies(), ratelimit.Policy{})
	defer limiter.Shutdown()
	tenants := tenant.NewRegistry()

	mw := RateLimit(limiter, tenants, nil, string(tenant.TierTrial))
	next := mw(pass)

	_, err := next(context.Background(), "db_query", map[string]any{"tenantId": "unregistered"})
	require.NoError(t, err)

	_, err = next(context.Background(), "db_query", map[string]any{"tenantId": "unregistered"})
	require.NoError(t, err, "trial tier's token bucket starts full, so burst 2 allows 2 immediate calls")

	_, err = next(context.Background(), "db_query", map[string]any{"tenantId": "unregistered"})
	require.Error(t, err, "a 3rd immediate call exceeds burst 2 and must be rejected")
	assert.Equal(t, mcperrors.ResourceExhausted, mcperrors.CodeOf(err))
}

func TestRateLimit_DefaultsToStandardTierWhenFallbackUnset(t *testing.T) {
	limiter := ratelimit.New(tenant.DefaultPolicies(), ratelimit.Policy{})
	defer limiter.Shutdown()
	tenants := tenant.NewRegistry()

	mw := RateLimit(limiter, tenants, nil, "")
	next := mw(pass)

	_, err := next(context.Background(), "db_query", map[string]any{"tenantId": "unregistered"})
	require.NoError(t, err, "standard tier's burst of 20 must absorb a first call")
}

func TestTenantGate_BlocksDisallowedTool(t *testing.T) {
	tenants := tenant.NewRegistry()
	tenants.Upsert(tenant.Tenant{ID: "acme", Tier: tenant.TierStandard, AllowedToolGlobs: []string{"db_query*"}})

	mw := TenantGate(tenants)
	next := mw(pass)

	result, err := next(context.Background(), "db_connection_shutdown", map[string]any{"tenantId": "acme"})
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = next(context.Background(), "db_query", map[string]any{"tenantId": "acme"})
	require.NoError(t, err)
	assert.False(t, result.IsError)
}
