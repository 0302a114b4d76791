// Package capability implements the mode gate: a pure mapping from operating
// mode to the set of subsystems the composition root may construct. Disabled
// subsystems are never instantiated, so guest mode cannot leak bus activity
// through a forgotten runtime flag.
package capability

import (
	"sort"
	"strings"

	"github.com/c360/syncbridge/config"
)

// Capability identifies one constructible subsystem
type Capability string

const (
	// Transport is the origin-platform session transport
	Transport Capability = "transport"
	// Translator maps raw frames to canonical events
	Translator Capability = "translator"
	// StateStore is the in-memory channel state snapshot
	StateStore Capability = "state_store"
	// Liveness is the session liveness predicate for the health endpoint
	Liveness Capability = "liveness"
	// BusConnection is the NATS client itself
	BusConnection Capability = "bus_connection"
	// EventPublisher relays canonical events to the bus
	EventPublisher Capability = "event_publisher"
	// LifecyclePublisher emits connection transitions and registry heartbeats
	LifecyclePublisher Capability = "lifecycle_publisher"
	// CommandRouter serves command/query requests from the bus
	CommandRouter Capability = "command_router"
	// StatePersistence mirrors channel state into JetStream KV buckets
	StatePersistence Capability = "state_persistence"
	// ActionSender executes inbound bus actions against the origin platform
	ActionSender Capability = "action_sender"
)

// Set is an immutable collection of enabled capabilities
type Set struct {
	enabled map[Capability]bool
}

// Has reports whether the capability is enabled
func (s Set) Has(c Capability) bool {
	return s.enabled[c]
}

// List returns the enabled capabilities in stable order
func (s Set) List() []Capability {
	out := make([]Capability, 0, len(s.enabled))
	for c := range s.enabled {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// String renders the set for startup logging
func (s Set) String() string {
	list := s.List()
	parts := make([]string, len(list))
	for i, c := range list {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}

func newSet(caps ...Capability) Set {
	enabled := make(map[Capability]bool, len(caps))
	for _, c := range caps {
		enabled[c] = true
	}
	return Set{enabled: enabled}
}

// Resolve computes the subsystem set for an operating mode. It is total over
// valid configuration: invalid combinations (missing credentials outside guest
// mode) are rejected by config validation before this point, never here.
func Resolve(mode config.Mode) Set {
	if mode.Guest {
		return newSet(Transport, Translator, StateStore, Liveness)
	}

	return newSet(
		Transport,
		Translator,
		StateStore,
		Liveness,
		BusConnection,
		EventPublisher,
		LifecyclePublisher,
		CommandRouter,
		StatePersistence,
		ActionSender,
	)
}
