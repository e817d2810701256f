package importable

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/johnswift/legacyimport/internal/model"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"golang.org/x/sync/errgroup"
)

// ProgressCallback is called after each legacy record is processed. It is
// called from worker goroutines and must be safe for concurrent use.
type ProgressCallback func(processed int64, legacyID int64, err error)

// BatchConfig holds configuration for ImportAllInBatches.
type BatchConfig struct {
	// Workers is the number of goroutines each page is split across.
	Workers int
	// JobsPerWorker is the number of records each worker handles per page.
	JobsPerWorker int
	// ContinueOnError keeps importing after a failure and returns every
	// failure once all pages are done.
	ContinueOnError bool
	// Progress is optional.
	Progress ProgressCallback
}

// DefaultBatchConfig returns the default configuration: pages of 8000 rows
// split over 4 workers.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		Workers:       4,
		JobsPerWorker: 2000,
	}
}

func (c BatchConfig) withDefaults() BatchConfig {
	def := DefaultBatchConfig()
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.JobsPerWorker <= 0 {
		c.JobsPerWorker = def.JobsPerWorker
	}
	return c
}

// PageSize is the number of legacy rows fetched per page.
func (c BatchConfig) PageSize() int {
	c = c.withDefaults()
	return c.Workers * c.JobsPerWorker
}

type batchCounters struct {
	total    atomic.Int64
	imported atomic.Int64
	skipped  atomic.Int64
	errors   atomic.Int64
}

// ImportAllInBatches imports every legacy row, fetching pages of
// Workers*JobsPerWorker rows and splitting each page across Workers
// goroutines. All workers are joined before the next page is fetched. The
// legacy table must have a numeric primary key.
func (m *Model) ImportAllInBatches(ctx context.Context, cfg BatchConfig) (*Result, error) {
	cfg = cfg.withDefaults()
	start := time.Now()
	counters := &batchCounters{}
	catcher := grip.NewBasicCatcher()
	pages := 0

	err := m.registry.store.FindInBatches(ctx, m.class, cfg.PageSize(), func(page []*model.Record) error {
		pages++
		g, gctx := errgroup.WithContext(ctx)
		for _, group := range inGroups(page, cfg.Workers) {
			g.Go(func() error {
				return m.importGroup(gctx, group, cfg, counters, catcher)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		grip.Debug(message.Fields{
			"message":   "imported page",
			"class":     m.class,
			"page":      pages,
			"page_size": len(page),
			"processed": counters.total.Load(),
		})
		return nil
	})

	result := &Result{
		Total:    counters.total.Load(),
		Imported: counters.imported.Load(),
		Skipped:  counters.skipped.Load(),
		Errors:   counters.errors.Load(),
		Duration: time.Since(start),
	}
	if err != nil {
		return result, fmt.Errorf("import %s in batches: %w", m.class, err)
	}

	grip.Info(message.Fields{
		"message":  "imported records in batches",
		"class":    m.class,
		"to":       m.TargetClass(),
		"workers":  cfg.Workers,
		"pages":    pages,
		"imported": humanize.Comma(result.Imported),
		"skipped":  humanize.Comma(result.Skipped),
		"errors":   humanize.Comma(result.Errors),
		"duration": result.Duration.String(),
	})

	if catcher.HasErrors() {
		return result, fmt.Errorf("import %s in batches: %d records failed: %w", m.class, catcher.Len(), errors.Join(catcher.Errors()...))
	}
	return result, nil
}

func (m *Model) importGroup(ctx context.Context, group []*model.Record, cfg BatchConfig, counters *batchCounters, catcher grip.Catcher) error {
	for _, legacy := range group {
		if legacy == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		target, err := m.ImportRecord(ctx, legacy)
		if err != nil && target == nil && cancelled(ctx, err) {
			return ctx.Err()
		}
		processed := counters.total.Add(1)
		if target != nil {
			counters.imported.Add(1)
		}
		switch {
		case err != nil:
			counters.errors.Add(1)
		case target == nil:
			counters.skipped.Add(1)
		}
		if cfg.Progress != nil {
			cfg.Progress(processed, legacy.ID, err)
		}

		if err != nil {
			if !cfg.ContinueOnError {
				return err
			}
			catcher.Add(err)
		}
	}
	return nil
}

// inGroups splits records into n groups whose sizes differ by at most one,
// earlier groups taking the remainder. Empty groups are dropped.
func inGroups(records []*model.Record, n int) [][]*model.Record {
	if n < 1 {
		n = 1
	}
	division, modulo := len(records)/n, len(records)%n

	groups := make([][]*model.Record, 0, n)
	start := 0
	for i := 0; i < n; i++ {
		size := division
		if i < modulo {
			size++
		}
		if size == 0 {
			break
		}
		groups = append(groups, records[start:start+size])
		start += size
	}
	return groups
}
