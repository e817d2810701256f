// Package sqlite provides a SQLite-backed record store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/johnswift/legacyimport/internal/model"
	_ "modernc.org/sqlite"
)

// Store persists records in SQLite.
type Store struct {
	sqlDB *sql.DB

	mu      sync.RWMutex
	tables  map[string]string
	columns map[string]map[string]bool
}

// Open opens a SQLite database. ":memory:" opens a private in-memory
// database.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := ":memory:"
	if path != ":memory:" {
		dsn = "file:" + filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; also keeps ":memory:" on a single database.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	return &Store{
		sqlDB:   sqlDB,
		tables:  make(map[string]string),
		columns: make(map[string]map[string]bool),
	}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.sqlDB
}

// Bind maps a model class to a table.
func (s *Store) Bind(class, table string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[class] = table
}

func (s *Store) table(class string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	table, ok := s.tables[class]
	if !ok {
		return "", fmt.Errorf("class %q is not bound to a table", class)
	}
	return table, nil
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// Find fetches a record by primary key.
func (s *Store) Find(ctx context.Context, class string, id int64) (*model.Record, error) {
	table, err := s.table(class)
	if err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		fmt.Sprintf("SELECT * FROM %s WHERE %s = ? LIMIT 1", quote(table), quote(model.PrimaryKey)), id)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	records, err := scanRecords(rows, class)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, model.ErrNotFound
	}
	return records[0], nil
}

// FindInBatches pages through all records of class ordered by primary key.
func (s *Store) FindInBatches(ctx context.Context, class string, batchSize int, fn func([]*model.Record) error) error {
	if batchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	table, err := s.table(class)
	if err != nil {
		return err
	}

	pk := quote(model.PrimaryKey)
	first := fmt.Sprintf("SELECT * FROM %s ORDER BY %s LIMIT ?", quote(table), pk)
	next := fmt.Sprintf("SELECT * FROM %s WHERE %s > ? ORDER BY %s LIMIT ?", quote(table), pk, pk)

	var lastID int64
	started := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var rows *sql.Rows
		if started {
			rows, err = s.sqlDB.QueryContext(ctx, next, lastID, batchSize)
		} else {
			rows, err = s.sqlDB.QueryContext(ctx, first, batchSize)
		}
		if err != nil {
			return fmt.Errorf("query %s: %w", table, err)
		}
		records, err := scanRecords(rows, class)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}

		started = true
		lastID = records[len(records)-1].ID
		if err := fn(records); err != nil {
			return err
		}
		if len(records) < batchSize {
			return nil
		}
	}
}

// FindFirst returns the lowest-id record matching every condition.
func (s *Store) FindFirst(ctx context.Context, class string, conds map[string]any) (*model.Record, error) {
	table, err := s.table(class)
	if err != nil {
		return nil, err
	}

	where, args := whereClause(conds)
	query := fmt.Sprintf("SELECT * FROM %s%s ORDER BY %s LIMIT 1", quote(table), where, quote(model.PrimaryKey))
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	records, err := scanRecords(rows, class)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, model.ErrNotFound
	}
	return records[0], nil
}

// Where calls fn for every record matching conds, in primary key order.
func (s *Store) Where(ctx context.Context, class string, conds map[string]any, fn func(*model.Record) error) error {
	table, err := s.table(class)
	if err != nil {
		return err
	}

	where, args := whereClause(conds)
	query := fmt.Sprintf("SELECT * FROM %s%s ORDER BY %s", quote(table), where, quote(model.PrimaryKey))
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query %s: %w", table, err)
	}
	records, err := scanRecords(rows, class)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func whereClause(conds map[string]any) (string, []any) {
	if len(conds) == 0 {
		return "", nil
	}
	probe := &model.Record{Fields: conds}
	parts := make([]string, 0, len(conds))
	args := make([]any, 0, len(conds))
	for _, col := range probe.FieldNames() {
		if conds[col] == nil {
			parts = append(parts, quote(col)+" IS NULL")
			continue
		}
		parts = append(parts, quote(col)+" = ?")
		args = append(args, conds[col])
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}

// Save inserts a new record and assigns its ID, or updates an existing one.
func (s *Store) Save(ctx context.Context, rec *model.Record) error {
	table, err := s.table(rec.Class)
	if err != nil {
		return err
	}

	cols := rec.FieldNames()
	args := make([]any, 0, len(cols)+1)
	for _, col := range cols {
		args = append(args, rec.Fields[col])
	}

	if rec.IsNew() {
		var query string
		if len(cols) == 0 {
			query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", quote(table))
		} else {
			quoted := make([]string, len(cols))
			marks := make([]string, len(cols))
			for i, col := range cols {
				quoted[i] = quote(col)
				marks[i] = "?"
			}
			query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
				quote(table), strings.Join(quoted, ", "), strings.Join(marks, ", "))
		}
		res, err := s.sqlDB.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("read %s id: %w", table, err)
		}
		rec.ID = id
		return nil
	}

	if len(cols) == 0 {
		return nil
	}
	sets := make([]string, len(cols))
	for i, col := range cols {
		sets[i] = quote(col) + " = ?"
	}
	args = append(args, rec.ID)
	res, err := s.sqlDB.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		quote(table), strings.Join(sets, ", "), quote(model.PrimaryKey)), args...)
	if err != nil {
		return fmt.Errorf("update %s %d: %w", table, rec.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s %d: %w", table, rec.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("update %s %d: %w", table, rec.ID, model.ErrNotFound)
	}
	return nil
}

// HasField reports whether the class's table has a column named field.
func (s *Store) HasField(ctx context.Context, class, field string) (bool, error) {
	table, err := s.table(class)
	if err != nil {
		return false, err
	}
	cols, err := s.tableColumns(ctx, table)
	if err != nil {
		return false, err
	}
	return cols[field], nil
}

func (s *Store) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	s.mu.RLock()
	cols, ok := s.columns[table]
	s.mu.RUnlock()
	if ok {
		return cols, nil
	}

	rows, err := s.sqlDB.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quote(table)))
	if err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", table, err)
	}
	defer rows.Close()

	cols = make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("scan column of %s: %w", table, err)
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", table, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s does not exist", table)
	}

	s.mu.Lock()
	s.columns[table] = cols
	s.mu.Unlock()
	return cols, nil
}

// EnsureTracking adds the legacy tracking columns and their index to the
// class's table when they are missing.
func (s *Store) EnsureTracking(ctx context.Context, class string) error {
	table, err := s.table(class)
	if err != nil {
		return err
	}
	cols, err := s.tableColumns(ctx, table)
	if err != nil {
		return err
	}

	if !cols[model.LegacyIDField] {
		if _, err := s.sqlDB.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s INTEGER",
			quote(table), quote(model.LegacyIDField))); err != nil {
			return fmt.Errorf("add %s to %s: %w", model.LegacyIDField, table, err)
		}
	}
	if !cols[model.LegacyClassField] {
		if _, err := s.sqlDB.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT",
			quote(table), quote(model.LegacyClassField))); err != nil {
			return fmt.Errorf("add %s to %s: %w", model.LegacyClassField, table, err)
		}
	}
	if _, err := s.sqlDB.ExecContext(ctx, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s, %s)",
		quote("idx_"+table+"_legacy"), quote(table), quote(model.LegacyIDField), quote(model.LegacyClassField))); err != nil {
		return fmt.Errorf("create legacy index on %s: %w", table, err)
	}

	s.mu.Lock()
	delete(s.columns, table)
	s.mu.Unlock()
	return nil
}

// scanRecords reads and closes rows.
func scanRecords(rows *sql.Rows, class string) ([]*model.Record, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	var records []*model.Record
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", class, err)
		}

		rec := model.New(class)
		for i, col := range cols {
			if col == model.PrimaryKey {
				id, err := model.ToInt64(values[i])
				if err != nil {
					return nil, fmt.Errorf("scan %s primary key: %w", class, err)
				}
				rec.ID = id
				continue
			}
			rec.Fields[col] = values[i]
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", class, err)
	}
	return records, nil
}
