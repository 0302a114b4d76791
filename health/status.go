// Package health exposes the bridge's liveness over HTTP. The payload
// reflects the session manager's tri-state plus the bus connection when one
// exists.
package health

import (
	"time"

	"github.com/c360/syncbridge/session"
)

// Status is the liveness report returned by the endpoint
type Status struct {
	Service   string           `json:"service"`
	Version   string           `json:"version"`
	Session   session.Liveness `json:"session"`
	Bus       string           `json:"bus,omitempty"`
	Channels  []string         `json:"channels,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Healthy reports whether the status should map to HTTP 200. A reconnecting
// session is still considered live; only a fully disconnected one is not.
func (s Status) Healthy() bool {
	return s.Session != session.LivenessDisconnected
}
