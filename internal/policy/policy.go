// Package policy implements the safety decision engine: a declarative rule
// list matched by glob against named fields (target, action, tag, area)
// rather than runtime-constructed predicates.
package policy

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	wildcard "github.com/IGLOU-EU/go-wildcard/v2"

	mcperrors "github.com/pulsegrid/mcpcore/internal/errors"
)

// Risk classifies how dangerous an operation is judged to be.
type Risk string

const (
	RiskSafe   Risk = "safe"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Decision is the outcome of evaluating a request against the rule set.
type Decision string

const (
	DecisionAllow              Decision = "allow"
	DecisionDeny               Decision = "deny"
	DecisionRequireConfirmation Decision = "require_confirmation"
	DecisionModify             Decision = "modify"
	DecisionLogOnly            Decision = "log_only"
)

// Matcher selects which requests a Rule applies to. Empty fields match
// anything; non-empty fields are glob patterns.
type Matcher struct {
	Target string
	Action string
	Tag    string
	Area   string
}

// Rule binds a Matcher to a Risk classification and the Decision it
// produces. Rules are evaluated in list order; the first match wins, a
// highest-priority-first blocked -> require-approval -> auto-approve
// precedence.
type Rule struct {
	Name     string
	Match    Matcher
	Risk     Risk
	Decision Decision
}

// Request is one operation submitted for policy evaluation.
type Request struct {
	Target string
	Action string
	Tags   []string
	Area   string
	// NumericBound, if non-nil, is checked against Engine's configured
	// bounds for Action; out-of-bounds values are denied regardless of
	// rule match.
	NumericBound *float64
	TenantID     string
}

// Engine evaluates requests against a rule list plus quiet-hour windows and
// numeric bounds, and tracks pending confirmations.
type Engine struct {
	rules        []Rule
	quietHours   []QuietWindow
	numericBound map[string][2]float64 // action -> [min, max]

	mu          sync.Mutex
	pending     map[string]pendingAction
	ttl         time.Duration
	quit        chan struct{}
}

// QuietWindow is a recurring daily window, in the window's own Location
// (UTC when nil), during which matching requests whose rule decision is
// ALLOW are escalated to REQUIRE_CONFIRMATION. Other decisions are left
// unchanged.
type QuietWindow struct {
	StartHour, EndHour int // 0-23, EndHour may wrap past midnight
	Location           *time.Location
	AppliesTo          Matcher
}

type pendingAction struct {
	request Request
	risk    Risk
	created time.Time
}

// New builds an Engine. confirmationTTL bounds how long a confirmation
// token issued by Evaluate stays redeemable.
func New(rules []Rule, quietHours []QuietWindow, numericBounds map[string][2]float64, confirmationTTL time.Duration) *Engine {
	e := &Engine{
		rules:        rules,
		quietHours:   quietHours,
		numericBound: numericBounds,
		pending:      make(map[string]pendingAction),
		ttl:          confirmationTTL,
		quit:         make(chan struct{}),
	}
	go e.sweepLoop()
	return e
}

// Evaluate returns the decision and matched risk for req and, when the
// decision is REQUIRE_CONFIRMATION, a confirmation token the caller must
// present to Confirm before the action proceeds. When no rule matches, the
// decision is REQUIRE_CONFIRMATION and the risk is RiskMedium.
func (e *Engine) Evaluate(req Request) (Decision, Risk, string, error) {
	if bound, ok := e.numericBound[req.Action]; ok && req.NumericBound != nil {
		if *req.NumericBound < bound[0] || *req.NumericBound > bound[1] {
			return DecisionDeny, RiskHigh, "", mcperrors.New(mcperrors.InvalidArgument,
				"value %v for action %q outside allowed range [%v, %v]", *req.NumericBound, req.Action, bound[0], bound[1])
		}
	}

	decision := DecisionRequireConfirmation
	risk := RiskMedium
	for _, r := range e.rules {
		if ruleMatches(r.Match, req) {
			decision = r.Decision
			risk = r.Risk
			break
		}
	}

	if decision == DecisionAllow && e.inQuietHours(req) {
		decision = DecisionRequireConfirmation
	}

	if decision == DecisionDeny {
		return decision, risk, "", nil
	}
	if decision != DecisionRequireConfirmation {
		return decision, risk, "", nil
	}

	token := uuid.New().String()
	e.mu.Lock()
	e.pending[token] = pendingAction{request: req, risk: risk, created: time.Now()}
	e.mu.Unlock()
	return decision, risk, token, nil
}

// Confirm redeems a confirmation token issued by Evaluate, returning the
// original request and its matched risk. A token may be redeemed exactly
// once and only before it expires.
func (e *Engine) Confirm(token string) (Request, Risk, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pending[token]
	if !ok {
		return Request{}, "", mcperrors.New(mcperrors.NotFound, "unknown or expired confirmation token")
	}
	if e.ttl > 0 && time.Since(p.created) > e.ttl {
		delete(e.pending, token)
		return Request{}, "", mcperrors.New(mcperrors.FailedPrecondition, "confirmation token expired")
	}
	delete(e.pending, token)
	return p.request, p.risk, nil
}

func (e *Engine) Shutdown() {
	close(e.quit)
}

func (e *Engine) sweepLoop() {
	interval := e.ttl / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.mu.Lock()
			now := time.Now()
			for token, p := range e.pending {
				if e.ttl > 0 && now.Sub(p.created) > e.ttl {
					delete(e.pending, token)
				}
			}
			e.mu.Unlock()
		case <-e.quit:
			return
		}
	}
}

func (e *Engine) inQuietHours(req Request) bool {
	now := time.Now()
	for _, w := range e.quietHours {
		if !ruleMatches(w.AppliesTo, req) {
			continue
		}
		loc := w.Location
		if loc == nil {
			loc = time.UTC
		}
		hour := now.In(loc).Hour()
		if w.StartHour <= w.EndHour {
			if hour >= w.StartHour && hour < w.EndHour {
				return true
			}
		} else if hour >= w.StartHour || hour < w.EndHour {
			return true
		}
	}
	return false
}

func ruleMatches(m Matcher, req Request) bool {
	if m.Target != "" && !wildcard.Match(m.Target, req.Target) {
		return false
	}
	if m.Action != "" && !wildcard.Match(m.Action, req.Action) {
		return false
	}
	if m.Area != "" && !wildcard.Match(m.Area, req.Area) {
		return false
	}
	if m.Tag != "" {
		found := false
		for _, tag := range req.Tags {
			if wildcard.Match(m.Tag, tag) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// DefaultRules tiers the built-in db_*/ios_* actions by how much damage
// they can do: queries and inspection are allowed, db data/admin writes and
// ios_session_terminate want confirmation, other ios_session_* commands are
// allowed, and destructive schema changes are denied outright.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "deny-schema-drop", Match: Matcher{Action: "db_schema_drop*"}, Risk: RiskHigh, Decision: DecisionDeny},
		{Name: "confirm-data-write", Match: Matcher{Action: "db_data_*"}, Risk: RiskMedium, Decision: DecisionRequireConfirmation},
		{Name: "confirm-admin", Match: Matcher{Action: "db_admin_*"}, Risk: RiskMedium, Decision: DecisionRequireConfirmation},
		{Name: "allow-query", Match: Matcher{Action: "db_query*"}, Risk: RiskSafe, Decision: DecisionAllow},
		{Name: "allow-schema-read", Match: Matcher{Action: "db_schema_list*"}, Risk: RiskSafe, Decision: DecisionAllow},
		{Name: "allow-ios-inspect", Match: Matcher{Action: "ios_device_*"}, Risk: RiskSafe, Decision: DecisionAllow},
		{Name: "confirm-ios-terminate", Match: Matcher{Action: "ios_session_terminate"}, Risk: RiskMedium, Decision: DecisionRequireConfirmation},
		{Name: "allow-ios-session", Match: Matcher{Action: "ios_session_*"}, Risk: RiskSafe, Decision: DecisionAllow},
		{Name: "allow-ios-inspector", Match: Matcher{Action: "ios_inspector_*"}, Risk: RiskMedium, Decision: DecisionAllow},
	}
}

// NormalizeAction lowercases and trims an action name before matching.
func NormalizeAction(action string) string {
	return strings.ToLower(strings.TrimSpace(action))
}
