package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Agent transport names.
const (
	AgentTransportSocketIO  = "socketio"
	AgentTransportWebSocket = "websocket"
)

// AgentConfig holds execution agent configuration.
type AgentConfig struct {
	// ServerURL is the base URL of the relay server.
	ServerURL string `envconfig:"SERVER_URL" default:"http://localhost:3010"`
	// PrincipalID labels the agent when no token is used.
	PrincipalID string `envconfig:"PRINCIPAL_ID"`
	// Token is an optional principal token.
	Token string `envconfig:"TOKEN"`
	// Transport selects socketio (default) or websocket.
	Transport string `envconfig:"TRANSPORT" default:"socketio"`
	// FetchTimeout bounds a single local fetch.
	FetchTimeout time.Duration `envconfig:"FETCH_TIMEOUT" default:"30s"`
	// MaxRetryInterval caps the reconnect backoff.
	MaxRetryInterval time.Duration `envconfig:"MAX_RETRY_INTERVAL" default:"30s"`
	Debug            bool          `envconfig:"DEBUG" default:"false"`
}

// AgentOverrides optionally overrides values from environment variables.
type AgentOverrides struct {
	ServerURL   *string
	PrincipalID *string
	Token       *string
	Transport   *string
	Debug       *bool
}

// LoadAgent loads agent configuration from RELAY_AGENT_* variables and
// applies overrides.
func LoadAgent(overrides AgentOverrides) (*AgentConfig, error) {
	var cfg AgentConfig
	if err := envconfig.Process(envPrefix+"_AGENT", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load agent config: %w", err)
	}

	if overrides.ServerURL != nil {
		cfg.ServerURL = *overrides.ServerURL
	}
	if overrides.PrincipalID != nil {
		cfg.PrincipalID = *overrides.PrincipalID
	}
	if overrides.Token != nil {
		cfg.Token = *overrides.Token
	}
	if overrides.Transport != nil {
		cfg.Transport = *overrides.Transport
	}
	if overrides.Debug != nil {
		cfg.Debug = *overrides.Debug
	}

	switch cfg.Transport {
	case AgentTransportSocketIO, AgentTransportWebSocket:
	default:
		return nil, fmt.Errorf("invalid transport %q (expected socketio or websocket)", cfg.Transport)
	}
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("server URL is required")
	}
	if cfg.FetchTimeout <= 0 {
		return nil, fmt.Errorf("fetch timeout must be positive")
	}
	return &cfg, nil
}
