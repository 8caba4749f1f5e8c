// Package config loads relay server and agent configuration from RELAY_*
// environment variables, with explicit overrides for command-line flags.
package config

import (
	"fmt"
	"time"

	"github.com/bhandras/delight/relay/shared/logger"
	"github.com/kelseyhightower/envconfig"
)

// envPrefix is prepended to every variable name, e.g. RELAY_ADDR.
const envPrefix = "RELAY"

// Config holds server configuration.
type Config struct {
	// Addr is the listen address for the HTTP(S) server.
	Addr     string `envconfig:"ADDR" default:":3010"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogJSON  bool   `envconfig:"LOG_JSON" default:"false"`

	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"*"`

	// JWTSecret enables principal tokens. Empty disables verification and
	// agents are labelled by the principalId they claim.
	JWTSecret string `envconfig:"JWT_SECRET"`
	// RequireCallerToken makes the HTTP surface require a bearer token and
	// scopes callers to their own agents. Needs JWTSecret.
	RequireCallerToken bool `envconfig:"REQUIRE_CALLER_TOKEN" default:"false"`

	// JournalPath is the SQLite session journal. Empty disables it.
	JournalPath string `envconfig:"JOURNAL_PATH"`

	RequestTimeout       time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	IdleTimeout          time.Duration `envconfig:"IDLE_TIMEOUT" default:"10m"`
	SweepInterval        time.Duration `envconfig:"SWEEP_INTERVAL" default:"5m"`
	MaxPendingPerSession int           `envconfig:"MAX_PENDING_PER_SESSION" default:"64"`

	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"20"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"40"`

	// TLS holds HTTPS configuration. If nil, the server runs in plain HTTP mode.
	TLS *TLSConfig `ignored:"true"`
}

// TLSConfig holds file paths for serving HTTPS directly from the server.
type TLSConfig struct {
	// CertFile is a PEM-encoded certificate chain.
	CertFile string
	// KeyFile is a PEM-encoded private key.
	KeyFile string
}

// Overrides optionally overrides values from environment variables.
//
// A nil pointer means "use the environment/default value".
type Overrides struct {
	Addr        *string
	Debug       *bool
	JournalPath *string
	TLS         *TLSConfig
}

// Load loads server configuration from environment variables and applies any
// explicit overrides.
func Load(overrides Overrides) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if overrides.Addr != nil {
		cfg.Addr = *overrides.Addr
	}
	if overrides.Debug != nil {
		cfg.Debug = *overrides.Debug
	}
	if overrides.JournalPath != nil {
		cfg.JournalPath = *overrides.JournalPath
	}
	if overrides.TLS != nil {
		cfg.TLS = overrides.TLS
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid %s_LOG_LEVEL: %w", envPrefix, err)
	}
	if c.RequireCallerToken && c.JWTSecret == "" {
		return fmt.Errorf("%s_REQUIRE_CALLER_TOKEN needs %s_JWT_SECRET", envPrefix, envPrefix)
	}
	if c.RequestTimeout <= 0 || c.IdleTimeout <= 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("relay timeouts must be positive")
	}
	if c.MaxPendingPerSession < 0 {
		return fmt.Errorf("invalid %s_MAX_PENDING_PER_SESSION %d", envPrefix, c.MaxPendingPerSession)
	}
	if c.TLS != nil && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return fmt.Errorf("TLS needs both a certificate and a key file")
	}
	return nil
}

// Level returns the effective log level: debug when Debug is set, otherwise
// LogLevel.
func (c *Config) Level() logger.Level {
	if c.Debug {
		return logger.LevelDebug
	}
	l, _ := logger.ParseLevel(c.LogLevel)
	return l
}
