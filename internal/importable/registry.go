// Package importable lets legacy model classes import their rows into
// new-schema model classes.
//
// A legacy class is registered with ActsAsImportable and gets back a *Model
// offering single-row, sequential and concurrent batch imports plus a lookup
// cache from legacy ids to target ids.
package importable

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/johnswift/legacyimport/internal/model"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
)

// ErrSkip may be returned by a Builder or Mapper to leave a legacy row
// unimported.
var ErrSkip = errors.New("skip record")

// Store is the persistence surface the importer relies on.
type Store interface {
	// Find fetches a row by primary key, returning model.ErrNotFound if absent.
	Find(ctx context.Context, class string, id int64) (*model.Record, error)
	// FindInBatches pages through every row of class in primary key order.
	// Each page is fully read before fn is called.
	FindInBatches(ctx context.Context, class string, batchSize int, fn func([]*model.Record) error) error
	// FindFirst returns the lowest-id row whose columns equal conds.
	FindFirst(ctx context.Context, class string, conds map[string]any) (*model.Record, error)
	// Save inserts new records (assigning ID) and updates existing ones.
	Save(ctx context.Context, rec *model.Record) error
	// HasField reports whether the class's table has the given column.
	HasField(ctx context.Context, class, field string) (bool, error)
}

// Builder constructs the target record for a legacy record. Returning a nil
// record skips the legacy row.
type Builder func(ctx context.Context, m *Model, legacy *model.Record) (*model.Record, error)

// Mapper copies legacy values onto a target record.
type Mapper func(ctx context.Context, legacy, target *model.Record) error

// Hook runs after a target record was saved.
type Hook func(ctx context.Context, legacy, target *model.Record) error

// Options configures an importable class. Empty fields are inherited from
// the Parent chain.
type Options struct {
	// To is the target class. Defaults to the demodulized legacy class name.
	To string
	// Parent is a registered legacy class whose options this class inherits.
	Parent string
	// ToModel overrides the default find-or-new builder.
	ToModel Builder
	// Map is applied by the default builder.
	Map Mapper
	// AfterImport is called after each successful save.
	AfterImport Hook
}

// Registry holds the importable classes backed by one store.
type Registry struct {
	store Store

	mu     sync.RWMutex
	models map[string]*Model
}

// NewRegistry creates an empty registry.
func NewRegistry(store Store) *Registry {
	return &Registry{
		store:  store,
		models: make(map[string]*Model),
	}
}

// ActsAsImportable registers class as importable. Registering a class again
// replaces its options but keeps the same Model and lookup cache.
func (r *Registry) ActsAsImportable(class string, opts Options) (*Model, error) {
	if class == "" {
		return nil, fmt.Errorf("class is required")
	}
	if opts.Parent == class {
		return nil, fmt.Errorf("class %s cannot be its own parent", class)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.models[class]; ok {
		m.setOptions(opts)
		grip.Debug(message.Fields{
			"message": "updated importable options",
			"class":   class,
			"to":      opts.To,
		})
		return m, nil
	}

	m := &Model{
		class:    class,
		registry: r,
		opts:     opts,
		lookups:  newLookupCache(),
	}
	r.models[class] = m
	grip.Debug(message.Fields{
		"message": "registered importable class",
		"class":   class,
		"to":      opts.To,
		"parent":  opts.Parent,
	})
	return m, nil
}

// Model returns the registered model for class.
func (r *Registry) Model(class string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[class]
	return m, ok
}

// Classes returns the registered class names in sorted order.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	classes := make([]string, 0, len(r.models))
	for class := range r.models {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	return classes
}

// FlushLookups empties the lookup cache of every registered class.
func (r *Registry) FlushLookups() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.models {
		m.FlushLookups()
	}
}

// Model is an importable legacy class.
type Model struct {
	class    string
	registry *Registry

	mu   sync.RWMutex
	opts Options

	lookups *lookupCache
}

// Class returns the legacy class name.
func (m *Model) Class() string {
	return m.class
}

// Options returns the options set directly on this class.
func (m *Model) Options() Options {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.opts
}

func (m *Model) setOptions(opts Options) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opts = opts
}

// chain walks this model and its parents, stopping at unknown parents or
// cycles.
func (m *Model) chain(visit func(Options) bool) {
	seen := map[string]bool{}
	cur := m
	for cur != nil && !seen[cur.class] {
		seen[cur.class] = true
		opts := cur.Options()
		if visit(opts) {
			return
		}
		if opts.Parent == "" {
			return
		}
		cur, _ = m.registry.Model(opts.Parent)
	}
}

// TargetClass returns the class legacy rows are imported into.
func (m *Model) TargetClass() string {
	var to string
	m.chain(func(o Options) bool {
		to = o.To
		return to != ""
	})
	if to == "" {
		return model.Demodulize(m.class)
	}
	return to
}

func (m *Model) builder() Builder {
	var b Builder
	m.chain(func(o Options) bool {
		b = o.ToModel
		return b != nil
	})
	if b == nil {
		return defaultBuilder
	}
	return b
}

func (m *Model) mapper() Mapper {
	var fn Mapper
	m.chain(func(o Options) bool {
		fn = o.Map
		return fn != nil
	})
	return fn
}

func (m *Model) afterImport() Hook {
	var h Hook
	m.chain(func(o Options) bool {
		h = o.AfterImport
		return h != nil
	})
	return h
}

// defaultBuilder reuses the target already imported for this legacy row when
// one exists, otherwise starts a new one, then applies Map.
func defaultBuilder(ctx context.Context, m *Model, legacy *model.Record) (*model.Record, error) {
	targetClass := m.TargetClass()
	target := model.New(targetClass)

	id, found, err := m.Lookup(ctx, legacy.ID)
	if err != nil {
		return nil, err
	}
	if found {
		existing, err := m.registry.store.Find(ctx, targetClass, id)
		switch {
		case err == nil:
			target = existing
		case errors.Is(err, model.ErrNotFound):
			// stale cache entry, import as new
		default:
			return nil, fmt.Errorf("find %s %d: %w", targetClass, id, err)
		}
	}

	if fn := m.mapper(); fn != nil {
		if err := fn(ctx, legacy, target); err != nil {
			return nil, err
		}
	}
	return target, nil
}
