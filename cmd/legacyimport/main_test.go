package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/johnswift/legacyimport/internal/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cliMapping = `
models:
  - class: Legacy::User
    table: legacy_users
    to: User
    target_table: users
    fields:
      name: login
`

func setupCLI(t *testing.T) (dbPath, mappingPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "app.db")
	mappingPath = filepath.Join(dir, "import.yaml")
	require.NoError(t, os.WriteFile(mappingPath, []byte(cliMapping), 0o600))

	store, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	_, err = store.DB().Exec(`
		CREATE TABLE legacy_users (id INTEGER PRIMARY KEY, login TEXT);
		CREATE TABLE users (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT);
		INSERT INTO legacy_users (id, login) VALUES (1, 'ada'), (2, 'bob'), (3, 'cy');
	`)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	t.Setenv("IMPORT_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", dbPath)
	return dbPath, mappingPath
}

func run(t *testing.T, mappingPath string, args ...string) error {
	t.Helper()
	return buildApp().Run(append([]string{"legacyimport", "--level", "error", "--mapping", mappingPath}, args...))
}

func TestBuildAppCommands(t *testing.T) {
	app := buildApp()
	var names []string
	for _, cmd := range app.Commands {
		names = append(names, cmd.Name)
	}
	assert.Equal(t, []string{"import", "import-all", "import-batches", "lookup", "export-lookups", "ensure-tracking"}, names)
}

func TestImportBatchesAndExport(t *testing.T) {
	dbPath, mappingPath := setupCLI(t)

	require.NoError(t, run(t, mappingPath, "ensure-tracking"))
	require.NoError(t, run(t, mappingPath, "import-batches", "--class", "Legacy::User", "--workers", "2", "--jobs", "1"))
	require.NoError(t, run(t, mappingPath, "lookup", "--class", "Legacy::User", "--id", "2"))

	out := filepath.Join(filepath.Dir(dbPath), "lookups.jsonl")
	require.NoError(t, run(t, mappingPath, "export-lookups", "--class", "Legacy::User", "--out", out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 3)

	filtered := filepath.Join(filepath.Dir(dbPath), "first.jsonl")
	require.NoError(t, run(t, mappingPath, "export-lookups", "--class", "Legacy::User",
		"--lookups", out, "--from-cache", "--limit", "1", "--out", filtered))
	data, err = os.ReadFile(filtered)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"legacy_id":1,`)
	assert.Equal(t, 1, strings.Count(string(data), "\n"))

	// Re-running with warmed caches updates instead of duplicating.
	require.NoError(t, run(t, mappingPath, "import-all", "--class", "Legacy::User", "--lookups", out))

	store, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	defer store.Close()
	var count int
	require.NoError(t, store.DB().QueryRow("SELECT COUNT(*) FROM users").Scan(&count))
	assert.Equal(t, 3, count)
}

func TestImportSingleRow(t *testing.T) {
	_, mappingPath := setupCLI(t)
	require.NoError(t, run(t, mappingPath, "ensure-tracking"))
	require.NoError(t, run(t, mappingPath, "import", "--class", "Legacy::User", "--id", "1"))
	assert.Error(t, run(t, mappingPath, "import", "--class", "Legacy::User", "--id", "99"))
	assert.Error(t, run(t, mappingPath, "lookup", "--class", "Legacy::User", "--id", "3"))
}

func TestCommandErrors(t *testing.T) {
	_, mappingPath := setupCLI(t)

	assert.Error(t, run(t, mappingPath, "import-all"))
	assert.Error(t, run(t, mappingPath, "import", "--class", "Legacy::User"))
	assert.Error(t, run(t, mappingPath, "import-all", "--class", "Legacy::Nope"))
	assert.Error(t, run(t, filepath.Join(t.TempDir(), "missing.yaml"), "import-all", "--class", "Legacy::User"))
}
