// Package session drives the origin-platform connection through its
// lifecycle: connect, authenticate, join, reconnect with backoff, shutdown.
// It owns the Session data exclusively; every other component sees it through
// read-only accessors.
package session

import (
	"sync"
	"time"
)

// State is the connection lifecycle state
type State int

const (
	// StateDisconnected is the initial and terminal state
	StateDisconnected State = iota
	// StateConnecting covers transport dialing
	StateConnecting
	// StateAuthenticating covers credential exchange (credentialed mode only)
	StateAuthenticating
	// StateConnected is the steady state
	StateConnected
	// StateReconnecting covers backoff between attempts after a failure
	StateReconnecting
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// AuthMode distinguishes the session's authentication variant
type AuthMode string

const (
	// AuthCredentialed logs in with username and password
	AuthCredentialed AuthMode = "credentialed"
	// AuthGuest joins anonymously and never sends credentials
	AuthGuest AuthMode = "anonymous-guest"
)

// Liveness is the tri-state exposed to the external health endpoint
type Liveness string

const (
	// LivenessConnected means the session is up
	LivenessConnected Liveness = "connected"
	// LivenessReconnecting means the session dropped and is being re-established
	LivenessReconnecting Liveness = "reconnecting"
	// LivenessDisconnected means no session exists
	LivenessDisconnected Liveness = "disconnected"
)

// ErrKind distinguishes failure causes in lifecycle reporting
type ErrKind string

const (
	// ErrKindTransport is a network-level failure, always retried
	ErrKindTransport ErrKind = "transport"
	// ErrKindAuth is an authentication rejection, retried but reported distinctly
	ErrKindAuth ErrKind = "auth"
)

// Info is a read-only copy of the session data
type Info struct {
	State           State     `json:"state"`
	AuthMode        AuthMode  `json:"auth_mode"`
	Rank            int       `json:"rank"`
	ReconnectCount  int       `json:"reconnect_count"`
	LastReconnectAt time.Time `json:"last_reconnect_at,omitempty"`
}

// Notifier receives connection lifecycle transitions. The lifecycle publisher
// implements it in full mode; in guest mode no notifier exists and the manager
// runs silently.
type Notifier interface {
	Connected(info Info)
	Disconnected(reason error)
	ReconnectStarted(attempt int, kind ErrKind, reason error)
	ReconnectSucceeded(info Info)
	ReconnectFailed(attempt int, kind ErrKind, reason error)
}

// session is the mutable data behind Info, guarded by its own lock so the
// liveness predicate and the suppression flag stay cheap to read.
type session struct {
	mu              sync.RWMutex
	state           State
	authMode        AuthMode
	rank            int
	reconnectCount  int
	lastReconnectAt time.Time
	armedUntil      time.Time // replay-suppression window end; zero when disarmed
	everConnected   bool
}

func (s *session) setState(st State) {
	s.mu.Lock()
	s.state = st
	if st == StateConnected {
		s.everConnected = true
	}
	s.mu.Unlock()
}

func (s *session) setRank(rank int) {
	s.mu.Lock()
	s.rank = rank
	s.mu.Unlock()
}

func (s *session) recordReconnect(now time.Time) int {
	s.mu.Lock()
	s.reconnectCount++
	s.lastReconnectAt = now
	n := s.reconnectCount
	s.mu.Unlock()
	return n
}

// armSuppression opens the replay-suppression window. Only the manager's run
// loop calls this, and only on reconnect success, never on first connect.
func (s *session) armSuppression(until time.Time) {
	s.mu.Lock()
	s.armedUntil = until
	s.mu.Unlock()
}

func (s *session) suppressing(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return now.Before(s.armedUntil)
}

func (s *session) info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{
		State:           s.state,
		AuthMode:        s.authMode,
		Rank:            s.rank,
		ReconnectCount:  s.reconnectCount,
		LastReconnectAt: s.lastReconnectAt,
	}
}

func (s *session) liveness() Liveness {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch s.state {
	case StateConnected:
		return LivenessConnected
	case StateReconnecting:
		return LivenessReconnecting
	case StateConnecting, StateAuthenticating:
		if s.everConnected {
			return LivenessReconnecting
		}
		return LivenessDisconnected
	default:
		return LivenessDisconnected
	}
}
