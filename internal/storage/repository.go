// Package storage owns the SQLite schema and all SQL touching it. Query
// methods are grouped on Queries, which runs against either the shared
// connection pool or an open transaction via WithTx.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Repository wraps the SQLite handle behind the ledger. Transactions are
// started with BEGIN IMMEDIATE (the _txlock DSN option) so concurrent
// balance mutations serialize on the write lock instead of failing late.
type Repository struct {
	db      *sql.DB
	queries *Queries
}

// Open opens (or creates) the database at dbPath, applies migrations and
// returns a ready repository. The path ":memory:" yields a private in-memory
// database, used by tests.
func Open(dbPath string) (*Repository, error) {
	memory := dbPath == ":memory:"
	if !memory {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	// _time_format=sqlite stores time.Time values in SQLite's own text format
	// so date() and lexicographic comparisons work on occurred_at.
	dsn := dbPath + "?_txlock=immediate&_time_format=sqlite&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if strings.Contains(dbPath, "?") {
		return nil, fmt.Errorf("db path must not carry DSN options: %s", dbPath)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if memory {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{
		db:      db,
		queries: New(db),
	}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping verifies the database connection, used by readiness checks.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Queries returns the non-transactional query set.
func (r *Repository) Queries() *Queries {
	return r.queries
}

// InTx runs fn inside a single transaction. Any error from fn (or from
// commit) rolls the whole unit back; partial writes never survive.
func (r *Repository) InTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(r.queries.WithTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
