// Package config centralizes the service's tunables as an explicit value
// passed into NewService, rather than package-level globals.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every environment-overridable tunable the core needs.
type Config struct {
	// PingInterval is how often the ping ticker broadcasts.
	PingInterval time.Duration
	// AgentTimeout is how long an idle session (no channels) survives
	// before its transport is closed with reason "timeout".
	AgentTimeout time.Duration
	// SSHPort, when non-zero, is a test-only override forcing "localhost"
	// to resolve to 127.0.0.1:SSHPort instead of the real SSH port.
	SSHPort int
	// AgentCommand is the remote command run inside the SSH session.
	AgentCommand string
	// KnownHostsPath is the known_hosts file used to validate SSH host
	// keys.
	KnownHostsPath string
	// RedisURL selects the Redis-backed resource cache when set;
	// empty falls back to the in-memory backend.
	RedisURL string
	// LogLevel controls the slog handler's minimum level.
	LogLevel string
	// Addr is the HTTP listen address.
	Addr string
}

// Default returns the tunables' documented defaults, before any
// environment overrides are applied.
func Default() Config {
	return Config{
		PingInterval:   5 * time.Second,
		AgentTimeout:   30 * time.Second,
		SSHPort:        0,
		AgentCommand:   "cockpit-bridge",
		KnownHostsPath: "/var/lib/cockpit/known_hosts",
		LogLevel:       "info",
		Addr:           ":9090",
	}
}

// FromEnv starts from Default() and applies environment variable overrides.
func FromEnv() Config {
	c := Default()

	if v := os.Getenv("COCKPIT_WS_PING_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.PingInterval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("COCKPIT_WS_AGENT_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.AgentTimeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("COCKPIT_WS_SSH_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.SSHPort = n
		}
	}
	if v := os.Getenv("COCKPIT_WS_AGENT_COMMAND"); v != "" {
		c.AgentCommand = v
	}
	if v := os.Getenv("COCKPIT_WS_KNOWN_HOSTS"); v != "" {
		c.KnownHostsPath = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Addr = ":" + v
	}

	return c
}
