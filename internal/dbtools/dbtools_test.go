package dbtools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsegrid/mcpcore/internal/dbpool"
	"github.com/pulsegrid/mcpcore/internal/policy"
	"github.com/pulsegrid/mcpcore/internal/registry"
	"github.com/pulsegrid/mcpcore/internal/tenant"
)

func TestRegister_WiresToolsAndResources(t *testing.T) {
	reg := registry.New()
	eng := policy.New(policy.DefaultRules(), nil, nil, time.Minute)
	defer eng.Shutdown()

	err := Register(reg, Deps{Manager: dbpool.NewManager(), Policy: eng})
	require.NoError(t, err)

	for _, name := range []string{
		"db_connection_add", "db_connection_switch", "db_query", "db_batch",
		"db_migration_apply", "db_data_import", "db_subscribe", "db_confirm",
	} {
		_, _, ok := reg.Lookup(name)
		assert.True(t, ok, "tool %s must be registered", name)
	}
	resources := reg.ListResources()
	require.Len(t, resources, 3)
	assert.Equal(t, "db://connections", resources[0].URI)
}

func TestAcquire_FallsBackToActiveWhenNoOverride(t *testing.T) {
	manager := dbpool.NewManager()
	tenants := tenant.NewRegistry()
	tenants.Upsert(tenant.Tenant{ID: "acme", Tier: tenant.TierStandard})

	ts := &toolset{deps: Deps{Manager: manager, Tenants: tenants, AcquireTimeout: time.Second}}
	_, _, err := ts.acquire(context.Background(), map[string]any{"tenantId": "acme"})
	require.Error(t, err, "no connection has been registered, so this must fail the same way Manager.Active does")
}
