package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRows() []map[string]any {
	return []map[string]any{
		{"id": "1", "status": "ok", "latency": 10.0},
		{"id": "2", "status": "error", "latency": 50.0},
		{"id": "3", "status": "ok", "latency": 20.0},
	}
}

func TestInterpreter_FilterThenSortThenLimit(t *testing.T) {
	i := NewInterpreter()
	p := Pipeline{Steps: []Step{
		{Kind: StepFilter, Args: map[string]any{"rows": sampleRows(), "field": "status", "equals": "ok"}, Bind: "okRows"},
		{Kind: StepSort, Args: map[string]any{"from": "okRows", "field": "latency", "descending": true}, Bind: "sorted"},
		{Kind: StepLimit, Args: map[string]any{"from": "sorted", "count": 1.0}},
	}}

	result, err := i.Run(context.Background(), p, time.Second, NewBudget(0))
	require.NoError(t, err)

	rows, ok := result.([]map[string]any)
	require.True(t, ok)
	require.Len(t, rows, 1)
	assert.Equal(t, "3", rows[0]["id"])
}

func TestInterpreter_UnknownStepKindFails(t *testing.T) {
	i := NewInterpreter()
	p := Pipeline{Steps: []Step{{Kind: "bogus"}}}
	_, err := i.Run(context.Background(), p, time.Second, NewBudget(0))
	assert.Error(t, err)
}

func TestInterpreter_GroupBy(t *testing.T) {
	i := NewInterpreter()
	p := Pipeline{Steps: []Step{
		{Kind: StepGroupBy, Args: map[string]any{"rows": sampleRows(), "field": "status"}},
	}}
	result, err := i.Run(context.Background(), p, time.Second, NewBudget(0))
	require.NoError(t, err)

	groups, ok := result.([]map[string]any)
	require.True(t, ok)
	assert.Len(t, groups, 2)
}

func TestBudget_ChargeFailsPastLimit(t *testing.T) {
	b := NewBudget(10)
	require.NoError(t, b.Charge(5))
	err := b.Charge(10)
	assert.Error(t, err)
}
