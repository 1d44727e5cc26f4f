// Package rpcmw supplies the rate-limiter, tenant-gate, and metrics
// middlewares that wrap internal/rpc.Dispatcher's tool-call path, in
// control-flow order: rate limiter -> policy (wired per-tool inside
// internal/dbtools and internal/iostools) -> cache (internal/query.Executor)
// -> executor.
package rpcmw

import (
	"context"
	"time"

	mcperrors "github.com/pulsegrid/mcpcore/internal/errors"
	"github.com/pulsegrid/mcpcore/internal/metrics"
	"github.com/pulsegrid/mcpcore/internal/ratelimit"
	"github.com/pulsegrid/mcpcore/internal/rpc"
	"github.com/pulsegrid/mcpcore/internal/tenant"
)

const defaultTenantID = "default"

func tenantIDFromArgs(args map[string]any) string {
	if id, ok := args["tenantId"].(string); ok && id != "" {
		return id
	}
	return defaultTenantID
}

// RateLimit builds a Middleware enforcing limiter.Allow for every call,
// keyed by the caller-supplied tenantId arg (or defaultTenantID when
// absent) and the tenant's tier as recorded in tenants. m may be nil to
// skip the rejection counter. fallbackTier is used for unknown tenants;
// an empty string falls back to tenant.TierStandard.
func RateLimit(limiter *ratelimit.Limiter, tenants *tenant.Registry, m *metrics.Registry, fallbackTier string) rpc.Middleware {
	if fallbackTier == "" {
		fallbackTier = string(tenant.TierStandard)
	}
	return func(next rpc.ToolCallFunc) rpc.ToolCallFunc {
		return func(ctx context.Context, name string, args map[string]any) (rpc.CallToolResult, error) {
			tenantID := tenantIDFromArgs(args)
			tier := fallbackTier
			if tenants != nil {
				if t, err := tenants.Get(tenantID); err == nil {
					tier = string(t.Tier)
				}
			}

			release, err := limiter.Allow(ctx, tenantID, name, tier)
			if err != nil {
				if m != nil {
					m.RateLimitRejects.WithLabelValues(tenantID, name).Inc()
				}
				return rpc.CallToolResult{}, err
			}
			defer release()

			return next(ctx, name, args)
		}
	}
}

// TenantGate builds a Middleware rejecting calls to tools the tenant's
// AllowedToolGlobs does not permit. Unknown tenants pass through
// unrestricted, matching an ungated single-tenant deployment.
func TenantGate(tenants *tenant.Registry) rpc.Middleware {
	return func(next rpc.ToolCallFunc) rpc.ToolCallFunc {
		return func(ctx context.Context, name string, args map[string]any) (rpc.CallToolResult, error) {
			tenantID := tenantIDFromArgs(args)
			if tenants != nil {
				if t, err := tenants.Get(tenantID); err == nil && !t.ToolAllowed(name) {
					return rpc.ErrorResult(mcperrors.New(mcperrors.PermissionDenied, "tenant %q is not permitted to call %q", tenantID, name)), nil
				}
			}
			return next(ctx, name, args)
		}
	}
}

// Metrics builds a Middleware recording ObserveToolCall for every call,
// regardless of whether downstream middlewares or the executor itself
// produced the outcome.
func Metrics(r *metrics.Registry) rpc.Middleware {
	return func(next rpc.ToolCallFunc) rpc.ToolCallFunc {
		return func(ctx context.Context, name string, args map[string]any) (rpc.CallToolResult, error) {
			start := time.Now()
			result, err := next(ctx, name, args)
			outcome := "ok"
			if err != nil || result.IsError {
				outcome = "error"
			}
			r.ObserveToolCall(name, outcome, time.Since(start))
			return result, err
		}
	}
}
