package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"MW_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"MW_DB_MAX_CONNS" default:"8"`

	// Operational knobs (sources, taxonomy, batching) live in the monitor
	// file; the environment only carries secrets and deploy wiring.
	MonitorPath string `envconfig:"MONITOR_CONFIG" default:"monitor.yaml"`

	ClassifierAPIKey string `envconfig:"GEMINI_API_KEY" default:""`
	NarrativeAPIKey  string `envconfig:"SONAR_API_KEY" default:""`
	AggregatorAPIKey string `envconfig:"AGGREGATOR_API_KEY" default:""`
	ChannelAPIKey    string `envconfig:"CHANNEL_API_KEY" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if strings.TrimSpace(c.MonitorPath) == "" {
		return fmt.Errorf("MONITOR_CONFIG is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("MW_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("MW_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("MW_DB_MIN_CONNS (%d) cannot exceed MW_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
