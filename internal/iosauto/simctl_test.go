package iosauto

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListDevices_NormalizesRuntimeAndSkipsUnavailable(t *testing.T) {
	orig := runSimctl
	defer func() { runSimctl = orig }()

	runSimctl = func(ctx context.Context, args ...string) ([]byte, error) {
		return []byte(`{
			"devices": {
				"com.apple.CoreSimulator.SimRuntime.iOS-17-5": [
					{"udid": "AAA", "name": "iPhone 15", "state": "Booted", "isAvailable": true},
					{"udid": "BBB", "name": "iPhone 14", "state": "Shutdown", "isAvailable": false}
				]
			}
		}`), nil
	}

	devices, err := ListDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "AAA", devices[0].UDID)
	assert.Equal(t, "iOS", devices[0].Platform)
	assert.Equal(t, "17.5", devices[0].Runtime)
}
