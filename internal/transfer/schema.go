// Package transfer provides JSONL export/import of legacy lookup mappings.
package transfer

// LookupRecord is one legacy id to target id pair in JSONL format.
// This is the canonical schema for warming lookup caches across runs.
type LookupRecord struct {
	LegacyClass string `json:"legacy_class"`
	LegacyID    int64  `json:"legacy_id"`
	TargetClass string `json:"target_class"`
	TargetID    int64  `json:"target_id"`
}

// ExportOptions configures export behavior.
type ExportOptions struct {
	// FromCache writes the in-memory lookup cache instead of querying the store
	FromCache bool

	// Limit maximum number of records to export (0 = unlimited)
	Limit int
}

// ImportOptions configures import behavior.
type ImportOptions struct {
	// LegacyClass restricts the import to one legacy class (empty = all)
	LegacyClass string

	// DryRun validates import without touching any cache
	DryRun bool
}

// ImportResult contains statistics from an import operation.
type ImportResult struct {
	Total    int64 `json:"total"`
	Imported int64 `json:"imported"`
	Skipped  int64 `json:"skipped"`
	Errors   int64 `json:"errors"`
}

// ExportResult contains statistics from an export operation.
type ExportResult struct {
	Total    int64 `json:"total"`
	Exported int64 `json:"exported"`
	Errors   int64 `json:"errors"`
}
