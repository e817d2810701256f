package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/johnswift/legacyimport/internal/model"
)

// EnsureTracking adds the legacy_id and legacy_class columns plus a lookup
// index to the class's table in one transaction. It runs at most once per
// table per DB.
func (db *DB) EnsureTracking(ctx context.Context, class string) error {
	table, err := db.table(class)
	if err != nil {
		return err
	}

	db.mu.RLock()
	done := db.tracking[table]
	db.mu.RUnlock()
	if done {
		return nil
	}

	err = db.WithTx(ctx, func(tx pgx.Tx) error {
		for _, stmt := range trackingStatements(table) {
			if _, err := tx.Exec(ctx, stmt.sql); err != nil {
				return fmt.Errorf("%s on %s: %w", stmt.action, table, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	db.mu.Lock()
	db.tracking[table] = true
	delete(db.columns, table)
	db.mu.Unlock()
	return nil
}

type trackingStatement struct {
	action string
	sql    string
}

func trackingStatements(table string) []trackingStatement {
	indexName := "idx_" + strings.ReplaceAll(table, ".", "_") + "_legacy"
	return []trackingStatement{
		{
			action: "add tracking columns",
			sql: fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s BIGINT, ADD COLUMN IF NOT EXISTS %s TEXT",
				ident(table), ident(model.LegacyIDField), ident(model.LegacyClassField)),
		},
		{
			action: "create legacy index",
			sql: fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s, %s)",
				ident(indexName), ident(table), ident(model.LegacyIDField), ident(model.LegacyClassField)),
		},
	}
}
