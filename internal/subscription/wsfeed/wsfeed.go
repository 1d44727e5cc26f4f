// Package wsfeed upgrades an HTTP connection to WebSocket and pushes a
// subscription hub's event stream to browser-based dashboards: origin
// check against the request host, ping/pong keepalive, and a write-mutex
// guarding every WriteMessage.
package wsfeed

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/pulsegrid/mcpcore/internal/subscription"
)

const (
	pingInterval  = 5 * time.Second
	pingWriteWait = 5 * time.Second
	maxPingMisses = 3
)

var upgrader = websocket.Upgrader{CheckOrigin: isAllowedOrigin}

// Feed serves one hub's events over WebSocket to any number of dashboard
// connections, independent of the hub's own Poll-based subscribers.
type Feed struct {
	hub *subscription.Hub
}

func New(hub *subscription.Hub) *Feed {
	return &Feed{hub: hub}
}

// ServeHTTP upgrades the connection, registers a hub subscriber, and
// streams drained events as JSON text frames until the socket closes.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	subID := f.hub.Subscribe(256, subscription.OverflowDropOldest)
	defer f.hub.Unsubscribe(subID)

	var writeMu sync.Mutex
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Time{})
	})

	done := make(chan struct{})
	go pingLoop(conn, &writeMu, done)
	defer close(done)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		events, err := f.hub.Poll(subID)
		if err != nil {
			return
		}
		for _, e := range events {
			writeMu.Lock()
			err := conn.WriteJSON(e)
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func pingLoop(conn *websocket.Conn, writeMu *sync.Mutex, done chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	misses := 0
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingWriteWait))
			writeMu.Unlock()
			if err != nil {
				misses++
				if misses >= maxPingMisses {
					conn.Close()
					return
				}
				continue
			}
			misses = 0
		}
	}
}

func isAllowedOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	return normalizeHost(parsed.Host) == normalizeHost(r.Host)
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	h, port, err := net.SplitHostPort(host)
	if err != nil {
		return host
	}
	if port == "80" || port == "443" {
		return h
	}
	return net.JoinHostPort(h, port)
}
