package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_GuestModeMinimal(t *testing.T) {
	path := writeConfig(t, `{
		"origin": {"domain": "cytu.be", "channel": "lounge"},
		"mode": {"guest": true}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Mode.Guest)
	assert.False(t, cfg.Mode.BusEnabled())
	assert.Equal(t, "syncbridge", cfg.Service)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, -1, cfg.NATS.MaxReconnects)
	assert.Equal(t, 2*time.Second, cfg.NATS.ReconnectWait)
}

func TestLoad_CredentialedRequiresCredentialsAndBus(t *testing.T) {
	path := writeConfig(t, `{
		"origin": {"domain": "cytu.be", "channel": "lounge"},
		"mode": {"guest": false}
	}`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mode.username")
}

func TestLoad_CredentialedComplete(t *testing.T) {
	path := writeConfig(t, `{
		"origin": {"domain": "cytu.be", "channel": "lounge"},
		"mode": {"guest": false, "username": "bridge", "password": "secret"},
		"nats": {"url": "nats://localhost:4222"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Mode.BusEnabled())
}

func TestValidate_MissingOrigin(t *testing.T) {
	cfg := &Config{Mode: Mode{Guest: true}, LogLevel: "info"}
	assert.Error(t, cfg.Validate())

	cfg.Origin.Domain = "cytu.be"
	assert.Error(t, cfg.Validate())

	cfg.Origin.Channel = "lounge"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_LogLevel(t *testing.T) {
	cfg := &Config{
		Origin:   OriginConfig{Domain: "cytu.be", Channel: "lounge"},
		Mode:     Mode{Guest: true},
		LogLevel: "verbose",
	}
	assert.Error(t, cfg.Validate())
}

func TestClone_Independent(t *testing.T) {
	cfg := &Config{
		Origin: OriginConfig{Domain: "cytu.be", Channel: "lounge"},
		Mode:   Mode{Guest: true},
	}

	clone := cfg.Clone()
	clone.Origin.Channel = "other"

	assert.Equal(t, "lounge", cfg.Origin.Channel)
}
