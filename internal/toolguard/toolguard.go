// Package toolguard wraps tool executors with policy evaluation, audit
// logging, and the confirmation-token redemption flow, so the db_* and
// ios_* tool surfaces gate their mutating commands the same way. The
// deferred-executor store is kept separate from policy.Engine's own
// pending map: the engine deals in policy.Request values (decision state,
// expiry, redemption accounting), never arbitrary closures, and the
// original tool call must run exactly once on confirmation.
package toolguard

import (
	"context"
	"sync"
	"time"

	"github.com/pulsegrid/mcpcore/internal/audit"
	mcperrors "github.com/pulsegrid/mcpcore/internal/errors"
	"github.com/pulsegrid/mcpcore/internal/policy"
	"github.com/pulsegrid/mcpcore/internal/registry"
	"github.com/pulsegrid/mcpcore/internal/rpc"
)

// Guard evaluates every wrapped executor against a policy.Engine before it
// runs. targetKey names the argument holding the policy target for this
// tool surface ("connectionId" for db_*, "udid" for ios_*).
type Guard struct {
	policy    *policy.Engine
	audit     *audit.Logger
	targetKey string
	confirms  *confirmationStore
}

// New builds a Guard. engine and auditLog may be nil, in which case
// wrapped executors run unguarded (single-tenant local deployments with
// no policy file configured).
func New(engine *policy.Engine, auditLog *audit.Logger, targetKey string, confirmTTL time.Duration) *Guard {
	if confirmTTL <= 0 {
		confirmTTL = 5 * time.Minute
	}
	return &Guard{
		policy:    engine,
		audit:     auditLog,
		targetKey: targetKey,
		confirms:  newConfirmationStore(confirmTTL),
	}
}

// Wrap returns exec gated by a policy evaluation keyed by action: every
// mutating call is evaluated before the executor runs. A
// REQUIRE_CONFIRMATION decision stashes exec itself (with its
// original args) behind the issued token instead of running it,
// satisfying the confirm-then-execute-once flow.
func (g *Guard) Wrap(action string, exec registry.Executor) registry.Executor {
	return func(ctx context.Context, args map[string]any) (rpc.CallToolResult, error) {
		if g.policy == nil {
			return exec(ctx, args)
		}
		target, _ := args[g.targetKey].(string)
		tenantID, _ := args["tenantId"].(string)
		actor, _ := args["actor"].(string)
		decision, risk, token, err := g.policy.Evaluate(policy.Request{
			Target:   target,
			Action:   action,
			TenantID: tenantID,
		})
		if err != nil {
			g.record(action, target, string(policy.DecisionDeny), string(risk), actor, false, err.Error())
			return rpc.ErrorResult(err), nil
		}
		switch decision {
		case policy.DecisionDeny:
			g.record(action, target, string(decision), string(risk), actor, false, "denied by policy")
			return rpc.ErrorResult(mcperrors.New(mcperrors.PermissionDenied, "%s denied by policy", action)), nil
		case policy.DecisionRequireConfirmation:
			g.confirms.put(token, func(innerCtx context.Context) (rpc.CallToolResult, error) {
				return exec(innerCtx, args)
			})
			g.record(action, target, string(decision), string(risk), actor, false, "awaiting confirmation")
			return rpc.JSONResult(map[string]any{
				"decision":          string(decision),
				"confirmationToken": token,
			}), nil
		default:
			result, err := exec(ctx, args)
			g.record(action, target, string(decision), string(risk), actor, err == nil, errString(err))
			return result, err
		}
	}
}

// Confirm re-dispatches the executor stashed under args["confirmationToken"]
// exactly once. It is itself a registry.Executor so callers register it as
// their *_confirm tool.
func (g *Guard) Confirm(ctx context.Context, args map[string]any) (rpc.CallToolResult, error) {
	token, _ := args["confirmationToken"].(string)
	actor, _ := args["actor"].(string)
	if token == "" {
		return rpc.ErrorResult(mcperrors.New(mcperrors.InvalidArgument, "confirmationToken is required")), nil
	}
	var confirmed policy.Request
	var risk policy.Risk
	if g.policy != nil {
		var err error
		confirmed, risk, err = g.policy.Confirm(token)
		if err != nil {
			g.confirms.delete(token)
			return rpc.ErrorResult(err), nil
		}
	}
	exec, ok := g.confirms.take(token)
	if !ok {
		return rpc.ErrorResult(mcperrors.New(mcperrors.NotFound, "unknown or already-redeemed confirmation token")), nil
	}
	result, err := exec(ctx)
	g.record(confirmed.Action, confirmed.Target, string(policy.DecisionAllow), string(risk), actor, err == nil, errString(err))
	return result, err
}

func (g *Guard) record(action, target, decision, risk, actor string, success bool, errText string) {
	if g.audit == nil {
		return
	}
	g.audit.Record(audit.Entry{
		Timestamp: time.Now().UTC(),
		Action:    action,
		Target:    target,
		Decision:  decision,
		Risk:      risk,
		Actor:     actor,
		Detail:    map[string]any{"success": success, "error": errText},
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// confirmationStore is a TTL-swept map from confirmation token to the
// deferred executor closure it unlocks.
type confirmationStore struct {
	mu  sync.Mutex
	m   map[string]pendingCall
	ttl time.Duration
}

type pendingCall struct {
	exec    func(ctx context.Context) (rpc.CallToolResult, error)
	created time.Time
}

func newConfirmationStore(ttl time.Duration) *confirmationStore {
	return &confirmationStore{m: make(map[string]pendingCall), ttl: ttl}
}

func (s *confirmationStore) put(token string, exec func(ctx context.Context) (rpc.CallToolResult, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[token] = pendingCall{exec: exec, created: time.Now()}
}

func (s *confirmationStore) take(token string) (func(ctx context.Context) (rpc.CallToolResult, error), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.m[token]
	if !ok {
		return nil, false
	}
	delete(s.m, token)
	if s.ttl > 0 && time.Since(p.created) > s.ttl {
		return nil, false
	}
	return p.exec, true
}

func (s *confirmationStore) delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, token)
}
