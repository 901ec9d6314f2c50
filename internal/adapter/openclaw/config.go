package openclaw

import (
	"github.com/clawguard/clawguard/internal/config"
)

// DefaultMaxBodyBytes caps a single hook request or WebSocket frame.
const DefaultMaxBodyBytes = 1 << 20

// Config holds OpenClaw adapter configuration.
type Config struct {
	// Addr is the listen address, e.g. 127.0.0.1:6780.
	Addr string

	// AuthToken, when set, must be presented as "Authorization: Bearer
	// <token>" on every route except /healthz.
	AuthToken string

	// AllowAllOrigins disables the same-origin check on WebSocket upgrades.
	AllowAllOrigins bool

	// MaxBodyBytes limits request bodies and WebSocket frames.
	MaxBodyBytes int64
}

// DefaultConfig returns sensible defaults for the OpenClaw adapter.
func DefaultConfig() Config {
	return Config{
		Addr:         config.DefaultConfig().Server.Addr,
		MaxBodyBytes: DefaultMaxBodyBytes,
	}
}

// FromServerConfig derives adapter settings from the server section.
func FromServerConfig(sc config.ServerConfig) Config {
	cfg := DefaultConfig()
	if sc.Addr != "" {
		cfg.Addr = sc.Addr
	}
	cfg.AuthToken = sc.AuthToken
	return cfg
}
