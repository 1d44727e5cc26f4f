package inspector

import (
	"context"
	"encoding/json"
	"net/http"

	mcperrors "github.com/pulsegrid/mcpcore/internal/errors"
)

// HTTPDiscovery builds a listTargets func for NewProxy that fetches a
// webkit-debug-proxy-style /json/list endpoint (the convention every
// WebKit remote-debugging bridge, including Apple's own ios_webkit_debug_proxy,
// exposes) and decodes it straight into []Target.
func HTTPDiscovery(url string) func(ctx context.Context) ([]Target, error) {
	client := &http.Client{}
	return func(ctx context.Context) ([]Target, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, mcperrors.Wrap(mcperrors.Internal, err, "failed to build discovery request")
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, mcperrors.Wrap(mcperrors.ServiceUnavailable, err, "inspector discovery endpoint unreachable")
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return nil, mcperrors.New(mcperrors.ServiceUnavailable, "inspector discovery endpoint returned %d", resp.StatusCode)
		}
		var targets []Target
		if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
			return nil, mcperrors.Wrap(mcperrors.Internal, err, "failed to decode inspector target list")
		}
		return targets, nil
	}
}
