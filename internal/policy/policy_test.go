package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(rules []Rule) *Engine {
	return New(rules, nil, nil, time.Minute)
}

func TestEvaluate_FirstMatchingRuleWins(t *testing.T) {
	e := newTestEngine(DefaultRules())
	defer e.Shutdown()

	decision, risk, token, err := e.Evaluate(Request{Action: "db_query_run"})
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, decision)
	assert.Equal(t, RiskSafe, risk)
	assert.Empty(t, token)
}

func TestEvaluate_UnmatchedActionDefaultsToConfirmation(t *testing.T) {
	e := newTestEngine(DefaultRules())
	defer e.Shutdown()

	decision, _, token, err := e.Evaluate(Request{Action: "something_unknown"})
	require.NoError(t, err)
	assert.Equal(t, DecisionRequireConfirmation, decision)
	assert.NotEmpty(t, token)
}

func TestEvaluate_DenyTakesEffectBeforeBroaderRules(t *testing.T) {
	e := newTestEngine(DefaultRules())
	defer e.Shutdown()

	decision, risk, _, err := e.Evaluate(Request{Action: "db_schema_drop_table"})
	require.NoError(t, err)
	assert.Equal(t, DecisionDeny, decision)
	assert.Equal(t, RiskHigh, risk)
}

func TestConfirm_RedeemsTokenExactlyOnce(t *testing.T) {
	e := newTestEngine(DefaultRules())
	defer e.Shutdown()

	_, risk, token, err := e.Evaluate(Request{Action: "db_data_delete"})
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.Equal(t, RiskMedium, risk)

	_, confirmedRisk, err := e.Confirm(token)
	require.NoError(t, err)
	assert.Equal(t, risk, confirmedRisk)

	_, _, err = e.Confirm(token)
	assert.Error(t, err, "a redeemed token must not be reusable")
}

func TestEvaluate_NumericBoundRejectsOutOfRange(t *testing.T) {
	bounds := map[string][2]float64{"db_admin_set_pool_size": {1, 100}}
	e := New(DefaultRules(), nil, bounds, time.Minute)
	defer e.Shutdown()

	v := 500.0
	decision, _, _, err := e.Evaluate(Request{Action: "db_admin_set_pool_size", NumericBound: &v})
	require.Error(t, err)
	assert.Equal(t, DecisionDeny, decision)
}

func TestEvaluate_QuietHoursEscalatesAllowToConfirmation(t *testing.T) {
	now := time.Now().UTC()
	window := QuietWindow{
		StartHour: now.Hour(),
		EndHour:   (now.Hour() + 1) % 24,
		Location:  time.UTC,
		AppliesTo: Matcher{Action: "db_query*"},
	}
	e := New(DefaultRules(), []QuietWindow{window}, nil, time.Minute)
	defer e.Shutdown()

	decision, _, token, err := e.Evaluate(Request{Action: "db_query_run"})
	require.NoError(t, err)
	assert.Equal(t, DecisionRequireConfirmation, decision)
	assert.NotEmpty(t, token)
}
