package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	name string
	caps []Capability
}

func (s *stubAdapter) Name() string                { return s.name }
func (s *stubAdapter) Capabilities() []Capability   { return s.caps }
func (s *stubAdapter) GetOrders(context.Context, string) ([]Order, error) { return nil, nil }
func (s *stubAdapter) GetProducts(context.Context) ([]Product, error)     { return nil, nil }
func (s *stubAdapter) CreateLabel(context.Context, string) (Label, error) { return Label{}, nil }
func (s *stubAdapter) CreateInvoice(context.Context, string) (Invoice, error) {
	return Invoice{}, nil
}

func TestSupports_ChecksDeclaredCapabilities(t *testing.T) {
	a := &stubAdapter{name: "acme", caps: []Capability{CapabilityGetOrders}}
	assert.True(t, Supports(a, CapabilityGetOrders))
	assert.False(t, Supports(a, CapabilityCreateLabel))
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	a := &stubAdapter{name: "acme"}
	r.Register(a)

	got, ok := r.Get("acme")
	require.True(t, ok)
	assert.Equal(t, a, got)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubAdapter{name: "acme"})
	r.Register(&stubAdapter{name: "widgetco"})
	assert.ElementsMatch(t, []string{"acme", "widgetco"}, r.Names())
}
