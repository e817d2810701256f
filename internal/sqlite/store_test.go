package sqlite

import (
	"context"
	"testing"

	"github.com/johnswift/legacyimport/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.DB().Exec(`
		CREATE TABLE legacy_users (id INTEGER PRIMARY KEY, login TEXT, deleted INTEGER);
		CREATE TABLE users (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT);
	`)
	require.NoError(t, err)
	store.Bind("Legacy::User", "legacy_users")
	store.Bind("User", "users")
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}

func TestSaveInsertAndUpdate(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	rec := model.New("User")
	rec.Set("name", "ada")
	require.NoError(t, store.Save(ctx, rec))
	assert.NotZero(t, rec.ID)

	rec.Set("name", "grace")
	require.NoError(t, store.Save(ctx, rec))

	found, err := store.Find(ctx, "User", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "grace", found.Get("name"))
	assert.Equal(t, "User", found.Class)

	missing := &model.Record{Class: "User", ID: 999, Fields: map[string]any{"name": "x"}}
	assert.ErrorIs(t, store.Save(ctx, missing), model.ErrNotFound)
}

func TestFindMissing(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Find(context.Background(), "User", 42)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestUnboundClass(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Find(context.Background(), "Nope", 1)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, model.ErrNotFound)
}

func TestFindInBatchesPagesInOrder(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	for _, id := range []int{5, 1, 9, 3, 7} {
		_, err := store.DB().Exec("INSERT INTO legacy_users (id, login) VALUES (?, ?)", id, "u")
		require.NoError(t, err)
	}

	var pages [][]int64
	err := store.FindInBatches(ctx, "Legacy::User", 2, func(page []*model.Record) error {
		ids := make([]int64, len(page))
		for i, r := range page {
			ids[i] = r.ID
		}
		pages = append(pages, ids)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{1, 3}, {5, 7}, {9}}, pages)

	assert.Error(t, store.FindInBatches(ctx, "Legacy::User", 0, func([]*model.Record) error { return nil }))
}

func TestFindInBatchesAllowsWritesInCallback(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	_, err := store.DB().Exec("INSERT INTO legacy_users (id, login) VALUES (1, 'a'), (2, 'b')")
	require.NoError(t, err)

	err = store.FindInBatches(ctx, "Legacy::User", 1, func(page []*model.Record) error {
		rec := model.New("User")
		rec.Set("name", page[0].Get("login"))
		return store.Save(ctx, rec)
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, store.DB().QueryRow("SELECT COUNT(*) FROM users").Scan(&count))
	assert.Equal(t, 2, count)
}

func TestFindFirstAndWhere(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	_, err := store.DB().Exec(`INSERT INTO legacy_users (id, login, deleted) VALUES
		(1, 'a', 0), (2, 'b', 1), (3, 'b', NULL)`)
	require.NoError(t, err)

	rec, err := store.FindFirst(ctx, "Legacy::User", map[string]any{"login": "b"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, rec.ID)

	rec, err = store.FindFirst(ctx, "Legacy::User", map[string]any{"deleted": nil})
	require.NoError(t, err)
	assert.EqualValues(t, 3, rec.ID)

	_, err = store.FindFirst(ctx, "Legacy::User", map[string]any{"login": "zzz"})
	assert.ErrorIs(t, err, model.ErrNotFound)

	var ids []int64
	require.NoError(t, store.Where(ctx, "Legacy::User", map[string]any{"login": "b"}, func(r *model.Record) error {
		ids = append(ids, r.ID)
		return nil
	}))
	assert.Equal(t, []int64{2, 3}, ids)
}

func TestEnsureTrackingAddsColumns(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	has, err := store.HasField(ctx, "User", model.LegacyIDField)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, store.EnsureTracking(ctx, "User"))
	require.NoError(t, store.EnsureTracking(ctx, "User"))

	for _, field := range []string{model.LegacyIDField, model.LegacyClassField} {
		has, err := store.HasField(ctx, "User", field)
		require.NoError(t, err)
		assert.True(t, has, field)
	}
}

func TestHasFieldMissingTable(t *testing.T) {
	store := openTestStore(t)
	store.Bind("Ghost", "ghosts")
	_, err := store.HasField(context.Background(), "Ghost", "name")
	assert.Error(t, err)
}
