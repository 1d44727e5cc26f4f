// Package inspector proxies a WebKit inspector subprocess, exposing
// /json/list over HTTP and per-target WebSocket debugger URLs. session.go
// correlates CDP-style {id, method, params} commands with their responses
// by id.
package inspector

import (
	"context"
	"encoding/json"
	"net/http"
)

// Target is one inspectable WebKit context, the /json/list entry shape.
type Target struct {
	ID                   string `json:"id"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Proxy serves /json/list from the supplied target-list function. It does
// not start or supervise the inspector subprocess itself.
type Proxy struct {
	listTargets func(ctx context.Context) ([]Target, error)
	sessions    *sessionRegistry
}

func NewProxy(listTargets func(ctx context.Context) ([]Target, error)) *Proxy {
	return &Proxy{listTargets: listTargets, sessions: newSessionRegistry()}
}

// ServeHTTP implements /json/list.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	targets, err := p.listTargets(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(targets)
}

// Sessions exposes the correlation-by-id session registry for targets
// already connected over WebSocket.
func (p *Proxy) Sessions() *sessionRegistry {
	return p.sessions
}
