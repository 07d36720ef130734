package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Config is the process configuration, loaded from the environment.
// Workspace-resident settings (heartbeat knobs, rate cards) live in the
// workspace itself, not here.
type Config struct {
	ListenAddr string `env:"AGENTCOMPANY_LISTEN_ADDR" envDefault:"127.0.0.1:7717" validate:"required"`
	Workspace  string `env:"AGENTCOMPANY_WORKSPACE" envDefault:"." validate:"required"`

	LogLevel string `env:"AGENTCOMPANY_LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	LogJSON  bool   `env:"AGENTCOMPANY_LOG_JSON" envDefault:"false"`

	SyncDebounceMS    int `env:"AGENTCOMPANY_SYNC_DEBOUNCE_MS" envDefault:"250" validate:"min=10,max=10000"`
	SyncMinIntervalMS int `env:"AGENTCOMPANY_SYNC_MIN_INTERVAL_MS" envDefault:"1000" validate:"min=100,max=60000"`

	SSEDebounceMS   int `env:"AGENTCOMPANY_SSE_DEBOUNCE_MS" envDefault:"150" validate:"min=10,max=5000"`
	SSEKeepaliveSec int `env:"AGENTCOMPANY_SSE_KEEPALIVE_SEC" envDefault:"15" validate:"min=1,max=300"`
}

// Load parses and validates the environment configuration.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
