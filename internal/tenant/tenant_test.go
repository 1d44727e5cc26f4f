package tenant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_UpsertAndGet(t *testing.T) {
	r := NewRegistry()
	r.Upsert(Tenant{ID: "t1", Tier: TierStandard})

	got, err := r.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, TierStandard, got.Tier)
}

func TestRegistry_GetUnknownReturnsNotFound(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("missing")
	assert.Error(t, err)
}

func TestTenant_ToolAllowed_EmptyGlobsPermitsEverything(t *testing.T) {
	tn := Tenant{ID: "t1"}
	assert.True(t, tn.ToolAllowed("db_query"))
}

func TestTenant_ToolAllowed_MatchesGlob(t *testing.T) {
	tn := Tenant{ID: "t1", AllowedToolGlobs: []string{"db_*"}}
	assert.True(t, tn.ToolAllowed("db_query"))
	assert.False(t, tn.ToolAllowed("ios_session_start"))
}
