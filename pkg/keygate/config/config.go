// Package config loads server settings from KEYGATE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all runtime settings
type Config struct {
	// DBDriver selects the record store backend: sqlite or postgres
	DBDriver string `envconfig:"DB_DRIVER" default:"sqlite"`
	// DBDSN is the sqlite file path or the postgres connection string
	DBDSN string `envconfig:"DB_DSN" default:"keygate.db"`

	Address string `envconfig:"ADDRESS" default:":8080"`
	// BaseURL is the externally reachable URL, used to build gate links
	BaseURL string `envconfig:"BASE_URL" default:"http://localhost:8080"`

	// AdminToken enables static-token admin access when non-empty
	AdminToken    string        `envconfig:"ADMIN_TOKEN"`
	AdminEmail    string        `envconfig:"ADMIN_EMAIL" default:"admin@keygate.local"`
	AdminPassword string        `envconfig:"ADMIN_PASSWORD" default:"changeme"`
	JWTSecret     string        `envconfig:"JWT_SECRET" default:"keygate-dev-secret-change-in-production"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"24h"`

	GateEnabled     bool          `envconfig:"GATE_ENABLED" default:"false"`
	GateProviderURL string        `envconfig:"GATE_PROVIDER_URL"`
	GateTokenTTL    time.Duration `envconfig:"GATE_TOKEN_TTL" default:"30m"`

	KeyLength    int `envconfig:"KEY_LENGTH" default:"16"`
	BindAttempts int `envconfig:"BIND_ATTEMPTS" default:"3"`

	// CORSOrigins lists allowed browser origins; "*" allows any
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"false"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// New loads the configuration from the environment and validates it.
// A bare PORT variable (set by most PaaS hosts) overrides the listen address.
func New() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("keygate", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}

	if port := os.Getenv("PORT"); port != "" && os.Getenv("KEYGATE_ADDRESS") == "" {
		cfg.Address = ":" + port
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported db driver %q", c.DBDriver)
	}
	if c.GateEnabled && c.GateProviderURL == "" {
		return errors.New("KEYGATE_GATE_PROVIDER_URL is required when gating is enabled")
	}
	if c.KeyLength < 8 || c.KeyLength > 64 {
		return fmt.Errorf("key length must be between 8 and 64, got %d", c.KeyLength)
	}
	if c.BindAttempts < 1 {
		return fmt.Errorf("bind attempts must be at least 1, got %d", c.BindAttempts)
	}
	if c.JWTSecret == "" {
		return errors.New("KEYGATE_JWT_SECRET must not be empty")
	}
	return nil
}
