package session

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/syncbridge/errors"
	"github.com/c360/syncbridge/pkg/retry"
	"github.com/c360/syncbridge/transport"
)

// timeoutError satisfies net.Error so the read loop treats it as a deadline
// lap rather than a dropped connection.
type timeoutError struct{}

func (timeoutError) Error() string   { return "read timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

type readStep struct {
	frame transport.Frame
	err   error
}

// fakeConn replays a scripted sequence of reads and records writes. When the
// script runs out the connection stays up, returning deadline timeouts until
// the test cancels the run context.
type fakeConn struct {
	mu     sync.Mutex
	steps  []readStep
	writes []transport.Frame
	closed bool
}

func (c *fakeConn) ReadFrame() (transport.Frame, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.Frame{}, io.ErrClosedPipe
	}
	if len(c.steps) == 0 {
		c.mu.Unlock()
		time.Sleep(time.Millisecond)
		return transport.Frame{}, timeoutError{}
	}
	step := c.steps[0]
	c.steps = c.steps[1:]
	c.mu.Unlock()
	return step.frame, step.err
}

func (c *fakeConn) WriteFrame(f transport.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, f)
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) wroteFrame(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.writes {
		if f.Name == name {
			return true
		}
	}
	return false
}

type recordingNotifier struct {
	mu        sync.Mutex
	connected int
	succeeded int
	failed    int
	lastKind  ErrKind
}

func (n *recordingNotifier) Connected(Info) {
	n.mu.Lock()
	n.connected++
	n.mu.Unlock()
}

func (n *recordingNotifier) Disconnected(error) {}

func (n *recordingNotifier) ReconnectStarted(int, ErrKind, error) {}

func (n *recordingNotifier) ReconnectSucceeded(Info) {
	n.mu.Lock()
	n.succeeded++
	n.mu.Unlock()
}

func (n *recordingNotifier) ReconnectFailed(attempt int, kind ErrKind, reason error) {
	n.mu.Lock()
	n.failed++
	n.lastKind = kind
	n.mu.Unlock()
}

func (n *recordingNotifier) counts() (connected, succeeded, failed int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connected, n.succeeded, n.failed
}

func fastBackoff() retry.Config {
	return retry.Config{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2.0}
}

func loginAck(success bool) readStep {
	if success {
		return readStep{frame: transport.Frame{Name: "login", Data: []byte(`{"success":true}`)}}
	}
	return readStep{frame: transport.Frame{Name: "login", Data: []byte(`{"success":false,"error":"invalid password"}`)}}
}

func TestManager_GuestModeSkipsAuthentication(t *testing.T) {
	conn := &fakeConn{}
	m := NewManager(Config{
		Channel: "lounge",
		Guest:   true,
		Backoff: fastBackoff(),
	}, nil, nil, WithDialer(func(context.Context, transport.Config) (Conn, error) {
		return conn, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	frames := make(chan transport.Frame, 16)
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, frames) }()

	require.Eventually(t, func() bool {
		return m.Liveness() == LivenessConnected
	}, time.Second, time.Millisecond)

	assert.True(t, conn.wroteFrame("joinChannel"))
	assert.False(t, conn.wroteFrame("login"), "guest session must never send credentials")

	info := m.Info()
	assert.Equal(t, AuthGuest, info.AuthMode)
	assert.Equal(t, 0, info.Rank)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, LivenessDisconnected, m.Liveness())
}

func TestManager_CredentialedLoginAndRank(t *testing.T) {
	conn := &fakeConn{steps: []readStep{
		loginAck(true),
		{frame: transport.Frame{Name: "rank", Data: []byte(`3`)}},
	}}
	notifier := &recordingNotifier{}
	m := NewManager(Config{
		Channel:  "lounge",
		Username: "bridge",
		Password: "secret",
		Backoff:  fastBackoff(),
	}, notifier, nil, WithDialer(func(context.Context, transport.Config) (Conn, error) {
		return conn, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	frames := make(chan transport.Frame, 16)
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, frames) }()

	require.Eventually(t, func() bool {
		return m.Info().Rank == 3
	}, time.Second, time.Millisecond)

	assert.True(t, conn.wroteFrame("login"))
	connected, _, _ := notifier.counts()
	assert.Equal(t, 1, connected)
	assert.False(t, m.SuppressChat(), "first connect must not arm replay suppression")

	cancel()
	require.NoError(t, <-done)
}

func TestManager_ReconnectArmsSuppression(t *testing.T) {
	first := &fakeConn{steps: []readStep{
		loginAck(true),
		{err: io.EOF}, // connection drops after the session is up
	}}
	second := &fakeConn{steps: []readStep{loginAck(true)}}

	var dials int
	var mu sync.Mutex
	notifier := &recordingNotifier{}
	m := NewManager(Config{
		Channel:  "lounge",
		Username: "bridge",
		Password: "secret",
		Backoff:  fastBackoff(),
	}, notifier, nil, WithDialer(func(context.Context, transport.Config) (Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials == 1 {
			return first, nil
		}
		return second, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	frames := make(chan transport.Frame, 16)
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, frames) }()

	require.Eventually(t, func() bool {
		return m.Info().ReconnectCount == 1 && m.Liveness() == LivenessConnected
	}, time.Second, time.Millisecond)

	assert.True(t, m.SuppressChat(), "reconnect must arm the replay-suppression window")
	_, succeeded, _ := notifier.counts()
	assert.Equal(t, 1, succeeded)
	assert.False(t, m.Info().LastReconnectAt.IsZero())

	cancel()
	require.NoError(t, <-done)
}

func TestManager_AuthFailureReportedAsAuthKind(t *testing.T) {
	notifier := &recordingNotifier{}
	m := NewManager(Config{
		Channel:       "lounge",
		Username:      "bridge",
		Password:      "wrong",
		MaxReconnects: 1,
		Backoff:       fastBackoff(),
	}, notifier, nil, WithDialer(func(context.Context, transport.Config) (Conn, error) {
		return &fakeConn{steps: []readStep{loginAck(false)}}, nil
	}))

	frames := make(chan transport.Frame, 16)
	err := m.Run(context.Background(), frames)

	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.ErrorIs(t, err, errors.ErrRetriesExceeded)

	notifier.mu.Lock()
	kind := notifier.lastKind
	notifier.mu.Unlock()
	assert.Equal(t, ErrKindAuth, kind)
}

func TestManager_ReconnectCeilingExhausted(t *testing.T) {
	var dials int
	var mu sync.Mutex
	m := NewManager(Config{
		Channel:       "lounge",
		Guest:         true,
		MaxReconnects: 3,
		Backoff:       fastBackoff(),
	}, nil, nil, WithDialer(func(context.Context, transport.Config) (Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		return nil, io.ErrUnexpectedEOF
	}))

	err := m.Run(context.Background(), make(chan transport.Frame, 1))

	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	mu.Lock()
	assert.Equal(t, 4, dials) // ceiling of 3 allows three retries after the first failure
	mu.Unlock()
	assert.Equal(t, LivenessDisconnected, m.Liveness())
}

func TestManager_CancelDuringBackoff(t *testing.T) {
	m := NewManager(Config{
		Channel: "lounge",
		Guest:   true,
		Backoff: retry.Config{InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 2.0},
	}, nil, nil, WithDialer(func(context.Context, transport.Config) (Conn, error) {
		return nil, io.ErrUnexpectedEOF
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, make(chan transport.Frame, 1)) }()

	require.Eventually(t, func() bool {
		return m.Liveness() == LivenessReconnecting
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation during backoff")
	}
}

func TestManager_SendWithoutSession(t *testing.T) {
	m := NewManager(Config{Channel: "lounge", Guest: true, Backoff: fastBackoff()}, nil, nil)

	err := m.Send(transport.Frame{Name: "chatMsg"})

	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNoConnection)
	assert.True(t, errors.IsTransient(err))
}
