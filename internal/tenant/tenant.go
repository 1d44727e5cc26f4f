// Package tenant implements the multi-tenant layer: tenant records,
// tier-derived rate-limit policies, and per-tenant
// connection overrides consulted by dbtools.toolset.acquire before falling
// back to the manager's globally active connection.
package tenant

import (
	"sync"
	"time"

	wildcard "github.com/IGLOU-EU/go-wildcard/v2"

	mcperrors "github.com/pulsegrid/mcpcore/internal/errors"
	"github.com/pulsegrid/mcpcore/internal/ratelimit"
)

// Tier names a rate-limit policy class. Unknown tiers fall back to the
// limiter's default policy.
type Tier string

const (
	TierTrial      Tier = "trial"
	TierStandard   Tier = "standard"
	TierEnterprise Tier = "enterprise"
)

// Tenant is one registered caller.
type Tenant struct {
	ID                string
	Tier              Tier
	ConnectionOverride string   // connection id to use instead of the active one, if set
	AllowedToolGlobs  []string // e.g. "db_*", "ios_session_*"; empty means all tools
}

// Registry holds tenant records in memory, keyed by id.
type Registry struct {
	mu      sync.RWMutex
	tenants map[string]Tenant
}

func NewRegistry() *Registry {
	return &Registry{tenants: make(map[string]Tenant)}
}

// Upsert registers or replaces a tenant record.
func (r *Registry) Upsert(t Tenant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants[t.ID] = t
}

// Get looks up a tenant by id.
func (r *Registry) Get(id string) (Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[id]
	if !ok {
		return Tenant{}, mcperrors.New(mcperrors.NotFound, "no such tenant: %s", id)
	}
	return t, nil
}

// Remove deletes a tenant record.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tenants, id)
}

// ToolAllowed reports whether tool matches one of the tenant's allowed
// globs. An empty AllowedToolGlobs list permits every tool.
func (t Tenant) ToolAllowed(tool string) bool {
	if len(t.AllowedToolGlobs) == 0 {
		return true
	}
	for _, pattern := range t.AllowedToolGlobs {
		if wildcard.Match(pattern, tool) {
			return true
		}
	}
	return false
}

// DefaultPolicies maps tiers to ratelimit.Policy, used to construct the
// ratelimit.Limiter shared by every tenant.
func DefaultPolicies() map[string]ratelimit.Policy {
	return map[string]ratelimit.Policy{
		string(TierTrial):      {RequestsPerSecond: 1, Burst: 2, Concurrency: 1, MaxWait: 500 * time.Millisecond},
		string(TierStandard):   {RequestsPerSecond: 10, Burst: 20, Concurrency: 4, MaxWait: 1 * time.Second},
		string(TierEnterprise): {RequestsPerSecond: 100, Burst: 200, Concurrency: 16, MaxWait: 2 * time.Second},
	}
}
