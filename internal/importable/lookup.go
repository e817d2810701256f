package importable

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/johnswift/legacyimport/internal/model"
)

// lookupCache maps legacy ids to target ids. It is never evicted; only
// flush empties it.
type lookupCache struct {
	mu  sync.RWMutex
	ids map[int64]int64
}

func newLookupCache() *lookupCache {
	return &lookupCache{ids: make(map[int64]int64)}
}

func (c *lookupCache) get(legacyID int64) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.ids[legacyID]
	return id, ok
}

func (c *lookupCache) put(legacyID, targetID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids[legacyID] = targetID
}

func (c *lookupCache) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = make(map[int64]int64)
}

func (c *lookupCache) snapshot() map[int64]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[int64]int64, len(c.ids))
	for k, v := range c.ids {
		out[k] = v
	}
	return out
}

// Lookup returns the id of the target record imported from legacyID.
// Hits are cached for the life of the Model; misses are not.
func (m *Model) Lookup(ctx context.Context, legacyID int64) (int64, bool, error) {
	if id, ok := m.lookups.get(legacyID); ok {
		return id, true, nil
	}

	targetClass := m.TargetClass()
	store := m.registry.store

	// Targets without tracking columns can never be found.
	for _, field := range []string{model.LegacyIDField, model.LegacyClassField} {
		has, err := store.HasField(ctx, targetClass, field)
		if err != nil {
			return 0, false, fmt.Errorf("inspect %s: %w", targetClass, err)
		}
		if !has {
			return 0, false, nil
		}
	}

	rec, err := store.FindFirst(ctx, targetClass, map[string]any{
		model.LegacyIDField:    legacyID,
		model.LegacyClassField: m.class,
	})
	if errors.Is(err, model.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup %s %d in %s: %w", m.class, legacyID, targetClass, err)
	}

	m.lookups.put(legacyID, rec.ID)
	return rec.ID, true, nil
}

// Remember stores a legacy id to target id pair in the lookup cache.
func (m *Model) Remember(legacyID, targetID int64) {
	m.lookups.put(legacyID, targetID)
}

// Lookups returns a copy of the lookup cache.
func (m *Model) Lookups() map[int64]int64 {
	return m.lookups.snapshot()
}

// FlushLookups empties the lookup cache.
func (m *Model) FlushLookups() {
	m.lookups.flush()
}
