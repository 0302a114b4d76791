package session

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/c360/syncbridge/errors"
	"github.com/c360/syncbridge/pkg/retry"
	"github.com/c360/syncbridge/transport"
)

// ReplaySuppressionWindow is how long chat-class events are discarded after a
// reconnect. The origin platform replays recent chat history on rejoin but not
// on first join, so the window is armed only on reconnect success.
const ReplaySuppressionWindow = 3 * time.Second

// readDeadline bounds each transport read so shutdown stays responsive
const readDeadline = 1 * time.Second

// authTimeout bounds the wait for a login acknowledgement
const authTimeout = 15 * time.Second

// Conn is the transport surface the manager drives. *transport.Conn satisfies
// it; tests substitute scripted connections.
type Conn interface {
	ReadFrame() (transport.Frame, error)
	WriteFrame(transport.Frame) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// Dialer opens one connection attempt
type Dialer func(ctx context.Context, cfg transport.Config) (Conn, error)

func defaultDialer(ctx context.Context, cfg transport.Config) (Conn, error) {
	return transport.Dial(ctx, cfg)
}

// Config holds the manager's session parameters
type Config struct {
	Origin        transport.Config
	Channel       string
	Guest         bool
	Username      string
	Password      string
	MaxReconnects int // 0 = reconnect forever
	Backoff       retry.Config
}

// Manager is the connection state machine. One Run loop owns the transport;
// other components read liveness and the suppression flag concurrently.
type Manager struct {
	cfg      Config
	sess     *session
	notifier Notifier
	dial     Dialer
	logger   *slog.Logger

	connMu sync.RWMutex
	conn   Conn
}

// Option configures a Manager
type Option func(*Manager)

// WithDialer substitutes the transport dialer (used by tests)
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dial = d }
}

// NewManager creates a connection manager. notifier may be nil (guest mode);
// every notification is then skipped entirely.
func NewManager(cfg Config, notifier Notifier, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Backoff.InitialDelay == 0 {
		cfg.Backoff = retry.Config{
			InitialDelay: time.Second,
			MaxDelay:     time.Minute,
			Multiplier:   2.0,
			AddJitter:    true,
		}
	}

	authMode := AuthCredentialed
	if cfg.Guest {
		authMode = AuthGuest
	}

	m := &Manager{
		cfg:      cfg,
		sess:     &session{authMode: authMode},
		notifier: notifier,
		dial:     defaultDialer,
		logger:   logger.With("component", "session"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Info returns a copy of the current session data
func (m *Manager) Info() Info {
	return m.sess.info()
}

// Liveness returns the tri-state connection status for the health endpoint
func (m *Manager) Liveness() Liveness {
	return m.sess.liveness()
}

// SuppressChat reports whether the replay-suppression window is armed. The
// translator reads this; nothing else writes it.
func (m *Manager) SuppressChat() bool {
	return m.sess.suppressing(time.Now())
}

// Send writes a frame on the live connection. It fails when no session is up;
// callers (the action sender) surface that as a structured error, not a retry.
func (m *Manager) Send(f transport.Frame) error {
	m.connMu.RLock()
	conn := m.conn
	m.connMu.RUnlock()

	if conn == nil || m.sess.liveness() != LivenessConnected {
		return errors.WrapTransient(errors.ErrNoConnection, "session", "Send", "write frame")
	}
	return conn.WriteFrame(f)
}

// Run drives the session until ctx is cancelled or the configured reconnect
// ceiling is exhausted. Frames read from the origin are delivered in order on
// the frames channel. Run always leaves the session in terminal Disconnected.
func (m *Manager) Run(ctx context.Context, frames chan<- transport.Frame) error {
	defer m.shutdown()

	backoff := retry.NewBackoff(m.cfg.Backoff)
	first := true
	attempt := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		kind, err := m.connectOnce(ctx, frames, first)
		if err == nil {
			// Session established and then dropped (or shut down)
			if ctx.Err() != nil {
				return nil
			}
			first = false
			attempt = 0
			backoff.Reset()

			m.sess.setState(StateReconnecting)
			attempt++
			m.notifyReconnectStarted(attempt, ErrKindTransport, errors.ErrConnectionLost)
		} else {
			if ctx.Err() != nil {
				return nil
			}
			attempt++
			m.sess.setState(StateReconnecting)
			m.logger.Warn("Connection attempt failed",
				"attempt", attempt, "kind", string(kind), "error", err)
			m.notifyReconnectFailed(attempt, kind, err)
		}

		if m.cfg.MaxReconnects > 0 && attempt > m.cfg.MaxReconnects {
			return errors.WrapFatal(errors.ErrRetriesExceeded, "session", "Run",
				fmt.Sprintf("reconnect after %d attempts", attempt-1))
		}

		delay := backoff.Next()
		m.logger.Info("Backing off before next attempt", "delay", delay, "attempt", attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// connectOnce performs one full connect-serve cycle: dial, join,
// authenticate, then read frames until the connection drops. A nil error
// means the session reached Connected and later ended; a non-nil error means
// the attempt failed before reaching Connected.
func (m *Manager) connectOnce(ctx context.Context, frames chan<- transport.Frame, first bool) (ErrKind, error) {
	m.sess.setState(StateConnecting)
	m.logger.Info("Connecting to origin platform",
		"domain", m.cfg.Origin.Domain, "channel", m.cfg.Channel, "guest", m.cfg.Guest)

	conn, err := m.dial(ctx, m.cfg.Origin)
	if err != nil {
		return ErrKindTransport, err
	}

	if kind, err := m.establish(ctx, conn, frames); err != nil {
		_ = conn.Close()
		return kind, err
	}

	m.connMu.Lock()
	m.conn = conn
	m.connMu.Unlock()

	now := time.Now()
	m.sess.setState(StateConnected)
	if first {
		m.logger.Info("Session established")
		m.notifyConnected()
	} else {
		n := m.sess.recordReconnect(now)
		m.sess.armSuppression(now.Add(ReplaySuppressionWindow))
		m.logger.Info("Session re-established", "reconnect_count", n)
		m.notifyReconnectSucceeded()
	}

	readErr := m.readLoop(ctx, conn, frames)

	m.connMu.Lock()
	m.conn = nil
	m.connMu.Unlock()
	_ = conn.Close()

	if ctx.Err() == nil {
		m.logger.Warn("Session lost", "error", readErr)
		m.notifyDisconnected(readErr)
	}
	return ErrKindTransport, nil
}

// establish joins the channel and, in credentialed mode, completes the login
// exchange. Guest mode never enters Authenticating and never sends
// credentials; rank stays 0.
func (m *Manager) establish(ctx context.Context, conn Conn, frames chan<- transport.Frame) (ErrKind, error) {
	join, _ := json.Marshal(map[string]string{"name": m.cfg.Channel})
	if err := conn.WriteFrame(transport.Frame{Name: "joinChannel", Data: join}); err != nil {
		return ErrKindTransport, err
	}

	if m.cfg.Guest {
		m.sess.setRank(0)
		return ErrKindTransport, nil
	}

	m.sess.setState(StateAuthenticating)
	login, _ := json.Marshal(map[string]string{
		"name": m.cfg.Username,
		"pw":   m.cfg.Password,
	})
	if err := conn.WriteFrame(transport.Frame{Name: "login", Data: login}); err != nil {
		return ErrKindTransport, err
	}

	deadline := time.Now().Add(authTimeout)
	for {
		if ctx.Err() != nil {
			return ErrKindTransport, ctx.Err()
		}
		_ = conn.SetReadDeadline(deadline)

		frame, err := conn.ReadFrame()
		if err != nil {
			return ErrKindTransport,
				errors.WrapTransient(err, "session", "establish", "await login acknowledgement")
		}

		if frame.Name != "login" {
			// The origin streams channel state while login is pending;
			// forward it so the store sees everything in order.
			m.forward(ctx, frames, frame)
			continue
		}

		var ack struct {
			Success bool   `json:"success"`
			Error   string `json:"error,omitempty"`
		}
		if err := json.Unmarshal(frame.Data, &ack); err != nil {
			return ErrKindTransport,
				errors.WrapInvalid(err, "session", "establish", "parse login acknowledgement")
		}
		if !ack.Success {
			return ErrKindAuth, errors.WrapTransient(
				fmt.Errorf("%w: %s", errors.ErrAuthFailed, ack.Error),
				"session", "establish", "authenticate")
		}
		return ErrKindTransport, nil
	}
}

// readLoop delivers frames in order until the connection fails or ctx is
// cancelled. Rank frames update the session on the way through.
func (m *Manager) readLoop(ctx context.Context, conn Conn, frames chan<- transport.Frame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		frame, err := conn.ReadFrame()
		if err != nil {
			if netErr, ok := asNetError(err); ok && netErr.Timeout() {
				continue // deadline lap, check ctx and read again
			}
			return err
		}

		if frame.Name == "rank" && !m.cfg.Guest {
			var rank int
			if json.Unmarshal(frame.Data, &rank) == nil {
				m.sess.setRank(rank)
			}
		}

		m.forward(ctx, frames, frame)
	}
}

func (m *Manager) forward(ctx context.Context, frames chan<- transport.Frame, frame transport.Frame) {
	select {
	case frames <- frame:
	case <-ctx.Done():
	}
}

// shutdown moves the session to terminal Disconnected and emits the final
// disconnect event. Safe from any state, including mid-backoff.
func (m *Manager) shutdown() {
	m.connMu.Lock()
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.connMu.Unlock()

	wasConnected := m.sess.liveness() == LivenessConnected
	m.sess.setState(StateDisconnected)
	m.logger.Info("Session shut down")
	if wasConnected {
		m.notifyDisconnected(nil)
	}
}

func asNetError(err error) (net.Error, bool) {
	var netErr net.Error
	ok := stderrors.As(err, &netErr)
	return netErr, ok
}

// Notifier calls are nil-guarded in one place so the run loop stays readable

func (m *Manager) notifyConnected() {
	if m.notifier != nil {
		m.notifier.Connected(m.sess.info())
	}
}

func (m *Manager) notifyDisconnected(reason error) {
	if m.notifier != nil {
		m.notifier.Disconnected(reason)
	}
}

func (m *Manager) notifyReconnectStarted(attempt int, kind ErrKind, reason error) {
	if m.notifier != nil {
		m.notifier.ReconnectStarted(attempt, kind, reason)
	}
}

func (m *Manager) notifyReconnectSucceeded() {
	if m.notifier != nil {
		m.notifier.ReconnectSucceeded(m.sess.info())
	}
}

func (m *Manager) notifyReconnectFailed(attempt int, kind ErrKind, reason error) {
	if m.notifier != nil {
		m.notifier.ReconnectFailed(attempt, kind, reason)
	}
}
