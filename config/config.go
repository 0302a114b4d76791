// Package config defines the bridge configuration surface. The core packages
// treat a loaded Config as already-validated input; Load and Validate exist for
// the entry point's benefit.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config represents the complete bridge configuration
type Config struct {
	Version  string         `json:"version"` // Semantic version reported by system.version
	Service  string         `json:"service"` // Bus service name (subject prefix), e.g. "syncbridge"
	Origin   OriginConfig   `json:"origin"`
	Mode     Mode           `json:"mode"`
	NATS     NATSConfig     `json:"nats"`
	Session  SessionConfig  `json:"session,omitempty"`
	Health   HealthConfig   `json:"health,omitempty"`
	Metrics  MetricsConfig  `json:"metrics,omitempty"`
	Commands CommandsConfig `json:"commands,omitempty"`
	LogLevel string         `json:"log_level,omitempty"` // debug, info, warn, error
}

// OriginConfig identifies the origin platform instance and channel to join
type OriginConfig struct {
	Domain  string `json:"domain"`           // e.g. "cytu.be"
	Channel string `json:"channel"`          // channel to join
	Secure  bool   `json:"secure,omitempty"` // wss:// when true
}

// Mode is the operating-mode configuration. It is read once at startup and is
// immutable for the process lifetime; switching modes requires a restart.
type Mode struct {
	Guest    bool   `json:"guest"`              // passive mode: observe only, no bus activity
	Username string `json:"username,omitempty"` // credentialed mode only
	Password string `json:"password,omitempty"` // credentialed mode only
}

// BusEnabled reports whether bus-side subsystems may exist at all
func (m Mode) BusEnabled() bool {
	return !m.Guest
}

// NATSConfig defines the bus connection descriptor
type NATSConfig struct {
	URL           string        `json:"url"`
	Name          string        `json:"name,omitempty"` // client name reported to the server
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
}

// HealthConfig toggles the external liveness endpoint collaborator
type HealthConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port,omitempty"`
}

// MetricsConfig toggles the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port,omitempty"`
}

// CommandsConfig toggles inbound command handling on the bus
type CommandsConfig struct {
	Enabled bool `json:"enabled"`
}

// SessionConfig groups the session manager's reconnect tuning. Zero values
// select the defaults; MaxReconnects 0 means reconnect forever.
type SessionConfig struct {
	MaxReconnects  int           `json:"max_reconnects,omitempty"`
	InitialBackoff time.Duration `json:"initial_backoff,omitempty"`
	MaxBackoff     time.Duration `json:"max_backoff,omitempty"`
}

// Load reads and validates a JSON configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Service == "" {
		c.Service = "syncbridge"
	}
	if c.Version == "" {
		c.Version = "0.1.0"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.NATS.ReconnectWait == 0 {
		c.NATS.ReconnectWait = 2 * time.Second
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = -1
	}
}

// Validate checks the configuration for completeness. Missing credentials in
// credentialed mode are rejected here, not in the mode gate.
func (c *Config) Validate() error {
	if c.Origin.Domain == "" {
		return fmt.Errorf("origin.domain is required")
	}
	if c.Origin.Channel == "" {
		return fmt.Errorf("origin.channel is required")
	}
	if !c.Mode.Guest {
		if c.Mode.Username == "" || c.Mode.Password == "" {
			return fmt.Errorf("mode.username and mode.password are required unless mode.guest is set")
		}
		if c.NATS.URL == "" {
			return fmt.Errorf("nats.url is required unless mode.guest is set")
		}
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error: got %q", c.LogLevel)
	}
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}

	return &clone
}
