package transfer

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/johnswift/legacyimport/internal/importable"
	"github.com/johnswift/legacyimport/internal/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*sqlite.Store, *importable.Registry, *importable.Model) {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.DB().Exec(`
		CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, legacy_id INTEGER, legacy_class TEXT);
		INSERT INTO users (id, name, legacy_id, legacy_class) VALUES
			(10, 'a', 1, 'Legacy::User'),
			(11, 'b', 2, 'Legacy::User'),
			(12, 'c', 1, 'Legacy::Admin'),
			(13, 'd', NULL, 'Legacy::User');
	`)
	require.NoError(t, err)
	store.Bind("User", "users")

	reg := importable.NewRegistry(store)
	m, err := reg.ActsAsImportable("Legacy::User", importable.Options{})
	require.NoError(t, err)
	return store, reg, m
}

func TestExportFromStore(t *testing.T) {
	store, _, m := setup(t)

	var buf bytes.Buffer
	result, err := NewExporter(store).Export(context.Background(), &buf, m, ExportOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, result.Total)
	assert.EqualValues(t, 2, result.Exported)
	assert.EqualValues(t, 1, result.Errors)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"legacy_class":"Legacy::User","legacy_id":1,"target_class":"User","target_id":10}`, lines[0])
	assert.JSONEq(t, `{"legacy_class":"Legacy::User","legacy_id":2,"target_class":"User","target_id":11}`, lines[1])
}

func TestExportLimit(t *testing.T) {
	store, _, m := setup(t)

	var buf bytes.Buffer
	result, err := NewExporter(store).Export(context.Background(), &buf, m, ExportOptions{Limit: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.Exported)
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
}

func TestExportFromCache(t *testing.T) {
	store, _, m := setup(t)
	m.Remember(9, 90)
	m.Remember(3, 30)

	var buf bytes.Buffer
	result, err := NewExporter(store).Export(context.Background(), &buf, m, ExportOptions{FromCache: true})
	require.NoError(t, err)
	assert.EqualValues(t, 2, result.Exported)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"legacy_id":3`)
	assert.Contains(t, lines[1], `"legacy_id":9`)
}

func TestImportWarmsCache(t *testing.T) {
	_, reg, m := setup(t)

	input := strings.Join([]string{
		`{"legacy_class":"Legacy::User","legacy_id":1,"target_class":"User","target_id":100}`,
		``,
		`{"legacy_class":"Legacy::Ghost","legacy_id":1,"target_class":"Ghost","target_id":5}`,
		`{"legacy_class":"Legacy::User","legacy_id":2,"target_class":"Person","target_id":7}`,
		`not json`,
		`{"legacy_class":"Legacy::User","legacy_id":0,"target_class":"User","target_id":7}`,
	}, "\n")

	result, err := NewImporter(reg).Import(context.Background(), strings.NewReader(input), ImportOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 5, result.Total)
	assert.EqualValues(t, 1, result.Imported)
	assert.EqualValues(t, 2, result.Skipped)
	assert.EqualValues(t, 2, result.Errors)
	assert.Equal(t, map[int64]int64{1: 100}, m.Lookups())

	// Cached value wins over the store row (target 10).
	id, found, err := m.Lookup(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, found)
	assert.EqualValues(t, 100, id)
}

func TestImportDryRunAndFilter(t *testing.T) {
	_, reg, m := setup(t)
	input := `{"legacy_class":"Legacy::User","legacy_id":1,"target_class":"User","target_id":100}`

	result, err := NewImporter(reg).Import(context.Background(), strings.NewReader(input), ImportOptions{DryRun: true})
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.Imported)
	assert.Empty(t, m.Lookups())

	result, err = NewImporter(reg).Import(context.Background(), strings.NewReader(input), ImportOptions{LegacyClass: "Legacy::Admin"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.Skipped)
	assert.Empty(t, m.Lookups())
}

func TestRoundTrip(t *testing.T) {
	store, reg, m := setup(t)

	var buf bytes.Buffer
	_, err := NewExporter(store).Export(context.Background(), &buf, m, ExportOptions{})
	require.NoError(t, err)

	m.FlushLookups()
	result, err := NewImporter(reg).Import(context.Background(), &buf, ImportOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, result.Imported)
	assert.Equal(t, map[int64]int64{1: 10, 2: 11}, m.Lookups())
}
