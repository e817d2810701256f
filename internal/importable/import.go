package importable

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/johnswift/legacyimport/internal/model"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
)

// DefaultPageSize is the page size ImportAll reads legacy rows with.
const DefaultPageSize = 1000

// SaveError is returned when a target record could not be saved.
type SaveError struct {
	LegacyClass string
	LegacyID    int64
	TargetClass string
	Err         error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("save %s imported from %s#%d: %v", e.TargetClass, e.LegacyClass, e.LegacyID, e.Err)
}

func (e *SaveError) Unwrap() error {
	return e.Err
}

// Result contains statistics from an import operation. A row whose target
// was saved but whose after-import hook failed counts in both Imported and
// Errors. Rows interrupted by cancellation are not counted.
type Result struct {
	Total    int64         `json:"total"`
	Imported int64         `json:"imported"`
	Skipped  int64         `json:"skipped"`
	Errors   int64         `json:"errors"`
	Duration time.Duration `json:"duration"`
}

// Import finds the legacy row with the given id and imports it.
func (m *Model) Import(ctx context.Context, id int64) (*model.Record, error) {
	legacy, err := m.registry.store.Find(ctx, m.class, id)
	if err != nil {
		return nil, fmt.Errorf("find %s %d: %w", m.class, id, err)
	}
	return m.ImportRecord(ctx, legacy)
}

// ImportRecord builds the target record for legacy, stamps the tracking
// fields the target class has, and saves it. A nil record with a nil error
// means the builder chose to skip the row.
func (m *Model) ImportRecord(ctx context.Context, legacy *model.Record) (*model.Record, error) {
	target, err := m.builder()(ctx, m, legacy)
	if errors.Is(err, ErrSkip) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("build %s from %s: %w", m.TargetClass(), legacy, err)
	}
	if target == nil {
		return nil, nil
	}

	legacyClass := legacy.Class
	if legacyClass == "" {
		legacyClass = m.class
	}

	store := m.registry.store
	hasID, err := store.HasField(ctx, target.Class, model.LegacyIDField)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", target.Class, err)
	}
	if hasID {
		target.Set(model.LegacyIDField, legacy.ID)
	}
	hasClass, err := store.HasField(ctx, target.Class, model.LegacyClassField)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", target.Class, err)
	}
	if hasClass {
		target.Set(model.LegacyClassField, legacyClass)
	}

	if err := store.Save(ctx, target); err != nil {
		if cancelled(ctx, err) {
			return nil, fmt.Errorf("save %s imported from %s#%d: %w", target.Class, legacyClass, legacy.ID, err)
		}
		grip.Error(message.WrapError(err, message.Fields{
			"message":      "failed to save imported record",
			"legacy_class": legacyClass,
			"legacy_id":    legacy.ID,
			"target_class": target.Class,
			"fields":       target.Fields,
		}))
		return nil, &SaveError{
			LegacyClass: legacyClass,
			LegacyID:    legacy.ID,
			TargetClass: target.Class,
			Err:         err,
		}
	}

	m.lookups.put(legacy.ID, target.ID)

	if hook := m.afterImport(); hook != nil {
		if err := hook(ctx, legacy, target); err != nil {
			return target, fmt.Errorf("after import of %s: %w", legacy, err)
		}
	}
	return target, nil
}

// ImportAll imports every legacy row sequentially and stops at the first
// error.
func (m *Model) ImportAll(ctx context.Context) (*Result, error) {
	start := time.Now()
	result := &Result{}

	err := m.registry.store.FindInBatches(ctx, m.class, DefaultPageSize, func(page []*model.Record) error {
		for _, legacy := range page {
			if legacy == nil {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			target, err := m.ImportRecord(ctx, legacy)
			if err != nil && target == nil && cancelled(ctx, err) {
				return err
			}
			result.Total++
			if target != nil {
				result.Imported++
			}
			if err != nil {
				result.Errors++
				return err
			}
			if target == nil {
				result.Skipped++
			}
		}
		return nil
	})
	result.Duration = time.Since(start)
	if err != nil {
		return result, fmt.Errorf("import all %s: %w", m.class, err)
	}

	grip.Info(message.Fields{
		"message":  "imported all records",
		"class":    m.class,
		"to":       m.TargetClass(),
		"imported": humanize.Comma(result.Imported),
		"skipped":  humanize.Comma(result.Skipped),
		"duration": result.Duration.String(),
	})
	return result, nil
}

// cancelled reports whether err only reflects the cancellation of ctx.
func cancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, ctx.Err())
}
