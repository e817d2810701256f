package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/app")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Driver)
	assert.Equal(t, "import.yaml", cfg.MappingPath)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 2000, cfg.JobsPerWorker)
	assert.False(t, cfg.ContinueOnError)
	assert.Equal(t, "info", cfg.LogLevel)

	batch := cfg.BatchConfig()
	assert.Equal(t, 8000, batch.PageSize())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "legacy.db")
	t.Setenv("IMPORT_DRIVER", "sqlite")
	t.Setenv("IMPORT_WORKERS", "8")
	t.Setenv("IMPORT_JOBS_PER_WORKER", "50")
	t.Setenv("IMPORT_CONTINUE_ON_ERROR", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.Driver)
	assert.True(t, cfg.BatchConfig().ContinueOnError)
	assert.Equal(t, 400, cfg.BatchConfig().PageSize())
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("DATABASE_URL", "x")
	t.Setenv("IMPORT_WORKERS", "many")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := Config{Driver: DriverPostgres, DatabaseURL: "x", MappingPath: "m.yaml", Workers: 1, JobsPerWorker: 1}
	require.NoError(t, base.Validate())

	for name, mutate := range map[string]func(*Config){
		"driver":  func(c *Config) { c.Driver = "mysql" },
		"url":     func(c *Config) { c.DatabaseURL = "" },
		"mapping": func(c *Config) { c.MappingPath = "" },
		"workers": func(c *Config) { c.Workers = 0 },
		"jobs":    func(c *Config) { c.JobsPerWorker = -1 },
	} {
		cfg := base
		mutate(&cfg)
		assert.Error(t, cfg.Validate(), name)
	}
}
