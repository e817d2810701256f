package transfer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/johnswift/legacyimport/internal/importable"
)

// Importer warms lookup caches from JSONL exports.
type Importer struct {
	registry *importable.Registry
}

// NewImporter creates a new importer for the given registry.
func NewImporter(registry *importable.Registry) *Importer {
	return &Importer{registry: registry}
}

// Import reads lookup pairs from JSONL format and remembers them in the
// matching models' caches.
func (i *Importer) Import(ctx context.Context, r io.Reader, opts ImportOptions) (*ImportResult, error) {
	result := &ImportResult{}
	scanner := bufio.NewScanner(r)

	// Increase buffer size for long lines
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if len(scanner.Bytes()) == 0 {
			continue
		}
		result.Total++

		var record LookupRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			result.Errors++
			continue
		}
		if record.LegacyID == 0 || record.TargetID == 0 {
			result.Errors++
			continue
		}

		if opts.LegacyClass != "" && record.LegacyClass != opts.LegacyClass {
			result.Skipped++
			continue
		}

		m, ok := i.registry.Model(record.LegacyClass)
		if !ok || m.TargetClass() != record.TargetClass {
			result.Skipped++
			continue
		}

		if !opts.DryRun {
			m.Remember(record.LegacyID, record.TargetID)
		}
		result.Imported++
	}

	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("scan input: %w", err)
	}

	return result, nil
}
