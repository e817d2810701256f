package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/johnswift/legacyimport/internal/model"
)

// ident quotes a possibly schema-qualified table or column name.
func ident(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

// Find fetches a record by primary key.
func (db *DB) Find(ctx context.Context, class string, id int64) (*model.Record, error) {
	table, err := db.table(class)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = $1 LIMIT 1", ident(table), ident(model.PrimaryKey))
	records, err := db.queryRecords(ctx, class, query, id)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, model.ErrNotFound
	}
	return records[0], nil
}

// FindInBatches pages through all records of class ordered by primary key.
// Each page is read completely before fn runs, so fn may use the pool freely.
func (db *DB) FindInBatches(ctx context.Context, class string, batchSize int, fn func([]*model.Record) error) error {
	if batchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	table, err := db.table(class)
	if err != nil {
		return err
	}

	pk := ident(model.PrimaryKey)
	first := fmt.Sprintf("SELECT * FROM %s ORDER BY %s LIMIT $1", ident(table), pk)
	next := fmt.Sprintf("SELECT * FROM %s WHERE %s > $1 ORDER BY %s LIMIT $2", ident(table), pk, pk)

	var (
		lastID  int64
		started bool
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var records []*model.Record
		if started {
			records, err = db.queryRecords(ctx, class, next, lastID, batchSize)
		} else {
			records, err = db.queryRecords(ctx, class, first, batchSize)
		}
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
func (db *DB) FindFirst(ctx context.Context, class string, conds map[string]any) (*model.Record, error) {
	table, err := db.table(class)
	if err != nil {
		return nil, err
	}

	where, args := whereClause(conds)
	query := fmt.Sprintf("SELECT * FROM %s%s ORDER BY %s LIMIT 1", ident(table), where, ident(model.PrimaryKey))
	records, err := db.queryRecords(ctx, class, query, args...)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, model.ErrNotFound
	}
	return records[0], nil
}

// Where calls fn for every record matching conds, in primary key order.
func (db *DB) Where(ctx context.Context, class string, conds map[string]any, fn func(*model.Record) error) error {
	table, err := db.table(class)
	if err != nil {
		return err
	}

	where, args := whereClause(conds)
	query := fmt.Sprintf("SELECT * FROM %s%s ORDER BY %s", ident(table), where, ident(model.PrimaryKey))
	records, err := db.queryRecords(ctx, class, query, args...)
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

// whereClause builds a $n-numbered conjunction over the sorted condition keys.
func whereClause(conds map[string]any) (string, []any) {
	if len(conds) == 0 {
		return "", nil
	}
	probe := &model.Record{Fields: conds}
	parts := make([]string, 0, len(conds))
	args := make([]any, 0, len(conds))
	for _, col := range probe.FieldNames() {
		if conds[col] == nil {
			parts = append(parts, ident(col)+" IS NULL")
			continue
		}
		args = append(args, conds[col])
		parts = append(parts, fmt.Sprintf("%s = $%d", ident(col), len(args)))
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}

// Save inserts a new record and assigns its ID, or updates an existing one.
func (db *DB) Save(ctx context.Context, rec *model.Record) error {
	table, err := db.table(rec.Class)
	if err != nil {
		return err
	}

	cols := rec.FieldNames()
	args := make([]any, 0, len(cols)+1)
	for _, col := range cols {
		args = append(args, rec.Fields[col])
	}

	if rec.IsNew() {
		query := insertQuery(table, cols)
		var id int64
		if err := db.pool.QueryRow(ctx, query, args...).Scan(&id); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
		rec.ID = id
		return nil
	}

	if len(cols) == 0 {
		return nil
	}
	args = append(args, rec.ID)
	tag, err := db.pool.Exec(ctx, updateQuery(table, cols), args...)
	if err != nil {
		return fmt.Errorf("update %s %d: %w", table, rec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s %d: %w", table, rec.ID, model.ErrNotFound)
	}
	return nil
}

func insertQuery(table string, cols []string) string {
	if len(cols) == 0 {
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s", ident(table), ident(model.PrimaryKey))
	}
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = ident(col)
		marks[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		ident(table), strings.Join(quoted, ", "), strings.Join(marks, ", "), ident(model.PrimaryKey))
}

func updateQuery(table string, cols []string) string {
	sets := make([]string, len(cols))
	for i, col := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", ident(col), i+1)
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d",
		ident(table), strings.Join(sets, ", "), ident(model.PrimaryKey), len(cols)+1)
}

func (db *DB) queryRecords(ctx context.Context, class, query string, args ...any) ([]*model.Record, error) {
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", class, err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("collect %s: %w", class, err)
	}

	records := make([]*model.Record, 0, len(maps))
	for _, fields := range maps {
		rec := &model.Record{Class: class, Fields: fields}
		raw, ok := fields[model.PrimaryKey]
		if !ok {
			return nil, fmt.Errorf("%s has no %s column", class, model.PrimaryKey)
		}
		id, err := model.ToInt64(raw)
		if err != nil {
			return nil, fmt.Errorf("scan %s primary key: %w", class, err)
		}
		rec.ID = id
		delete(fields, model.PrimaryKey)
		records = append(records, rec)
	}
	return records, nil
}

// HasField reports whether the class's table has a column named field.
func (db *DB) HasField(ctx context.Context, class, field string) (bool, error) {
	table, err := db.table(class)
	if err != nil {
		return false, err
	}
	cols, err := db.tableColumns(ctx, table)
	if err != nil {
		return false, err
	}
	return cols[field], nil
}

func (db *DB) tableColumns(ctx context.Context, table string) (map[string]bool, error) {
	db.mu.RLock()
	cols, ok := db.columns[table]
	db.mu.RUnlock()
	if ok {
		return cols, nil
	}

	schema, name := splitTable(table)
	rows, err := db.pool.Query(ctx, `
		SELECT column_name FROM information_schema.columns
		WHERE table_name = $1
		  AND table_schema = COALESCE(NULLIF($2, ''), current_schema())
	`, name, schema)
	if err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", table, err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", table, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("table %s does not exist", table)
	}

	cols = make(map[string]bool, len(names))
	for _, n := range names {
		cols[n] = true
	}

	db.mu.Lock()
	db.columns[table] = cols
	db.mu.Unlock()
	return cols, nil
}

func splitTable(table string) (schema, name string) {
	if i := strings.LastIndex(table, "."); i >= 0 {
		return table[:i], table[i+1:]
	}
	return "", table
}
