// Package config loads importer settings from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/johnswift/legacyimport/internal/importable"
)

// Supported store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all configuration for the importer.
type Config struct {
	Driver          string `env:"IMPORT_DRIVER" envDefault:"postgres"`
	DatabaseURL     string `env:"DATABASE_URL"`
	MappingPath     string `env:"IMPORT_MAPPING" envDefault:"import.yaml"`
	Workers         int    `env:"IMPORT_WORKERS" envDefault:"4"`
	JobsPerWorker   int    `env:"IMPORT_JOBS_PER_WORKER" envDefault:"2000"`
	ContinueOnError bool   `env:"IMPORT_CONTINUE_ON_ERROR" envDefault:"false"`
	EnsureTracking  bool   `env:"IMPORT_ENSURE_TRACKING" envDefault:"false"`
	LogLevel        string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("invalid IMPORT_DRIVER: %q (must be '%s' or '%s')", c.Driver, DriverPostgres, DriverSQLite)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required")
	}
	if c.MappingPath == "" {
		return fmt.Errorf("IMPORT_MAPPING must not be empty")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("IMPORT_WORKERS must be positive, got %d", c.Workers)
	}
	if c.JobsPerWorker <= 0 {
		return fmt.Errorf("IMPORT_JOBS_PER_WORKER must be positive, got %d", c.JobsPerWorker)
	}
	return nil
}

// BatchConfig returns the batch settings for ImportAllInBatches.
func (c *Config) BatchConfig() importable.BatchConfig {
	return importable.BatchConfig{
		Workers:         c.Workers,
		JobsPerWorker:   c.JobsPerWorker,
		ContinueOnError: c.ContinueOnError,
	}
}
