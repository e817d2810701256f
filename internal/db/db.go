// Package db provides PostgreSQL connectivity and a record store for legacy imports.
package db

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a pgxpool connection pool with class to table bindings.
type DB struct {
	pool *pgxpool.Pool

	mu       sync.RWMutex
	tables   map[string]string
	columns  map[string]map[string]bool
	tracking map[string]bool
}

// New creates a new DB instance with the given connection URL.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{
		pool:     pool,
		tables:   make(map[string]string),
		columns:  make(map[string]map[string]bool),
		tracking: make(map[string]bool),
	}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Pool returns the underlying connection pool for advanced operations.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Bind maps a model class to a table.
func (db *DB) Bind(class, table string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.tables[class] = table
}

func (db *DB) table(class string) (string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	table, ok := db.tables[class]
	if !ok {
		return "", fmt.Errorf("class %q is not bound to a table", class)
	}
	return table, nil
}

// WithTx executes a function within a transaction.
func (db *DB) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}
