package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds server configuration parsed from the environment.
type Config struct {
	// Addr is the listen address for the HTTP server.
	Addr string `env:"EXPLO_ADDR" envDefault:":3005"`
	// DatabasePath is the sqlite database file.
	DatabasePath string `env:"EXPLO_DATABASE_PATH" envDefault:"./explo.db"`
	// MasterSecret signs bearer tokens. Required.
	MasterSecret string `env:"EXPLO_MASTER_SECRET"`
	// TokenTTL bounds issued token lifetime.
	TokenTTL time.Duration `env:"EXPLO_TOKEN_TTL" envDefault:"720h"`
	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string `env:"EXPLO_LOG_LEVEL" envDefault:"info"`
	// AllowedOrigins configures CORS for the browser client.
	AllowedOrigins []string `env:"EXPLO_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	// SquadCapacity is the maximum members per squad.
	SquadCapacity int `env:"EXPLO_SQUAD_CAPACITY" envDefault:"4"`
	// Debug enables verbose request logging and gin debug mode.
	Debug bool `env:"EXPLO_DEBUG" envDefault:"false"`
}

// Load parses configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.MasterSecret == "" {
		return nil, fmt.Errorf("EXPLO_MASTER_SECRET environment variable is required")
	}
	if cfg.SquadCapacity < 1 {
		return nil, fmt.Errorf("EXPLO_SQUAD_CAPACITY must be at least 1")
	}
	return &cfg, nil
}
