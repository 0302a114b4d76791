package natsclient

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", c.URL())
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsHealthy())
	assert.Equal(t, -1, c.maxReconnects)
	assert.Equal(t, 2*time.Second, c.reconnectWait)
}

func TestNewClient_Options(t *testing.T) {
	c, err := NewClient("nats://localhost:4222",
		WithMaxReconnects(10),
		WithReconnectWait(time.Second),
		WithTimeout(3*time.Second),
		WithCredentials("bridge", "secret"),
		WithName("syncbridge"),
		WithLogger(slog.Default()),
	)
	require.NoError(t, err)

	assert.Equal(t, 10, c.maxReconnects)
	assert.Equal(t, time.Second, c.reconnectWait)
	assert.Equal(t, "bridge", c.username)
	assert.Equal(t, "syncbridge", c.clientName)
}

func TestNewClient_InvalidOptions(t *testing.T) {
	cases := []struct {
		name string
		opt  ClientOption
	}{
		{"negative max reconnects", WithMaxReconnects(-2)},
		{"zero reconnect wait", WithReconnectWait(0)},
		{"zero timeout", WithTimeout(0)},
		{"empty credentials", WithCredentials("", "")},
		{"empty token", WithToken("")},
		{"nil logger", WithLogger(nil)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewClient("nats://localhost:4222", tc.opt)
			assert.Error(t, err)
		})
	}
}

func TestClient_OperationsWithoutConnection(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.ErrorIs(t, c.Publish(context.Background(), "subject", nil), ErrNotConnected)
	assert.ErrorIs(t, c.Subscribe(context.Background(), "subject", nil), ErrNotConnected)

	_, err = c.JetStream()
	assert.Error(t, err)
}

func TestClient_StatusChangeCallback(t *testing.T) {
	var transitions []ConnectionStatus
	c, err := NewClient("nats://localhost:4222",
		WithStatusChange(func(s ConnectionStatus) { transitions = append(transitions, s) }))
	require.NoError(t, err)

	c.setStatus(StatusConnecting)
	c.setStatus(StatusConnected)
	c.setStatus(StatusReconnecting)

	assert.Equal(t, []ConnectionStatus{StatusConnecting, StatusConnected, StatusReconnecting}, transitions)
}

func TestConnectionStatus_String(t *testing.T) {
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connecting", StatusConnecting.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "reconnecting", StatusReconnecting.String())
	assert.Equal(t, "unknown", ConnectionStatus(99).String())
}

func TestClient_CloseIdempotent(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Close(context.Background()))
	assert.Equal(t, StatusDisconnected, c.Status())
}
