package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/johnswift/legacyimport/internal/importable"
	"github.com/johnswift/legacyimport/internal/model"
)

var errLimitReached = errors.New("limit reached")

// Source lists target records matching column conditions.
type Source interface {
	Where(ctx context.Context, class string, conds map[string]any, fn func(*model.Record) error) error
}

// Exporter handles lookup export operations.
type Exporter struct {
	source Source
}

// NewExporter creates a new exporter reading from source.
func NewExporter(source Source) *Exporter {
	return &Exporter{source: source}
}

// Export writes the lookup pairs of m to w in JSONL format.
// Each line is a complete JSON object representing one pair.
func (e *Exporter) Export(ctx context.Context, w io.Writer, m *importable.Model, opts ExportOptions) (*ExportResult, error) {
	result := &ExportResult{}
	encoder := json.NewEncoder(w)
	targetClass := m.TargetClass()

	write := func(legacyID, targetID int64) error {
		if opts.Limit > 0 && result.Exported >= int64(opts.Limit) {
			return errLimitReached
		}
		record := LookupRecord{
			LegacyClass: m.Class(),
			LegacyID:    legacyID,
			TargetClass: targetClass,
			TargetID:    targetID,
		}
		if err := encoder.Encode(record); err != nil {
			return fmt.Errorf("encode lookup: %w", err)
		}
		result.Exported++
		return nil
	}

	if opts.FromCache {
		lookups := m.Lookups()
		legacyIDs := make([]int64, 0, len(lookups))
		for id := range lookups {
			legacyIDs = append(legacyIDs, id)
		}
		sort.Slice(legacyIDs, func(i, j int) bool { return legacyIDs[i] < legacyIDs[j] })

		for _, legacyID := range legacyIDs {
			result.Total++
			if err := write(legacyID, lookups[legacyID]); err != nil {
				if errors.Is(err, errLimitReached) {
					break
				}
				return result, err
			}
		}
		return result, nil
	}

	err := e.source.Where(ctx, targetClass, map[string]any{model.LegacyClassField: m.Class()}, func(rec *model.Record) error {
		result.Total++

		legacyID, ok := rec.Int64(model.LegacyIDField)
		if !ok {
			result.Errors++
			return nil
		}
		return write(legacyID, rec.ID)
	})
	if err != nil && !errors.Is(err, errLimitReached) {
		return result, fmt.Errorf("query %s: %w", targetClass, err)
	}

	return result, nil
}
