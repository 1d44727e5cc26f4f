package dbpool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/pulsegrid/mcpcore/internal/errors"
)

func TestActive_FailsBeforeAnyConnectionIsAdded(t *testing.T) {
	m := NewManager()
	_, err := m.Active()
	var mcpErr *mcperrors.Error
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, mcperrors.FailedPrecondition, mcpErr.Code)
	assert.Empty(t, m.ActiveID())
}

func TestSwitchConnection_UnknownIDIsNotFound(t *testing.T) {
	m := NewManager()
	err := m.SwitchConnection("replica")
	var mcpErr *mcperrors.Error
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, mcperrors.NotFound, mcpErr.Code)
}

func TestAddConnection_RejectsMalformedConnString(t *testing.T) {
	m := NewManager()
	err := m.AddConnection(context.Background(), "bad", "://not-a-url")
	var mcpErr *mcperrors.Error
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, mcperrors.InvalidArgument, mcpErr.Code)
}

func TestAcquire_SurfacesActiveError(t *testing.T) {
	m := NewManager()
	_, _, err := m.Acquire(context.Background(), time.Second)
	require.Error(t, err)
}

func TestIsTransient_CallerCancellationDoesNotTripTheBreaker(t *testing.T) {
	assert.False(t, isTransient(context.Canceled))
	assert.False(t, isTransient(nil))
	assert.True(t, isTransient(context.DeadlineExceeded))
}
