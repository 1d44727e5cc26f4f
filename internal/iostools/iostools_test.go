package iostools

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsegrid/mcpcore/internal/policy"
	"github.com/pulsegrid/mcpcore/internal/registry"
)

func TestRegister_WiresAllTools(t *testing.T) {
	reg := registry.New()
	eng := policy.New(policy.DefaultRules(), nil, nil, time.Minute)
	defer eng.Shutdown()

	require.NoError(t, Register(reg, Deps{Policy: eng}))

	for _, name := range []string{
		"ios_device_list", "ios_device_ensure_booted", "ios_session_create",
		"ios_session_tap", "ios_session_swipe", "ios_session_type_text",
		"ios_session_press_button", "ios_session_page_source",
		"ios_session_launch", "ios_session_terminate", "ios_confirm",
		"ios_inspector_screenshot", "ios_inspector_evaluate",
	} {
		_, _, ok := reg.Lookup(name)
		assert.True(t, ok, "tool %s must be registered", name)
	}
}

func TestDefaultRules_TerminateRequiresConfirmationButTapDoesNot(t *testing.T) {
	eng := policy.New(policy.DefaultRules(), nil, nil, time.Minute)
	defer eng.Shutdown()

	decision, _, token, err := eng.Evaluate(policy.Request{Action: "ios_session_terminate", Target: "UDID-1"})
	require.NoError(t, err)
	assert.Equal(t, policy.DecisionRequireConfirmation, decision)
	assert.NotEmpty(t, token)

	decision, risk, _, err := eng.Evaluate(policy.Request{Action: "ios_session_tap", Target: "UDID-1"})
	require.NoError(t, err)
	assert.Equal(t, policy.DecisionAllow, decision)
	assert.Equal(t, policy.RiskSafe, risk)
}
