// Package sqlite implements the document store on a local SQLite file, the
// default backend for a single terminal.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/kozaktomas/attendance-terminal/internal/config"
	"github.com/kozaktomas/attendance-terminal/internal/database"
	"github.com/kozaktomas/attendance-terminal/internal/database/sqlstore"
)

//go:embed schema.sql
var schemaSQL string

// The single connection serializes transactions, so Lock needs no FOR UPDATE.
var queries = sqlstore.Queries{
	Get:  `SELECT data, updated_at FROM documents WHERE collection = ? AND "key" = ?`,
	List: `SELECT "key", data, updated_at FROM documents WHERE collection = ? ORDER BY "key"`,
	Upsert: `INSERT INTO documents (collection, "key", data, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, "key") DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
	Ensure: `INSERT INTO documents (collection, "key", data, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, "key") DO NOTHING`,
	Lock:   `SELECT data FROM documents WHERE collection = ? AND "key" = ?`,
	Update: `UPDATE documents SET data = ?, updated_at = ? WHERE collection = ? AND "key" = ?`,
	Delete: `DELETE FROM documents WHERE collection = ? AND "key" = ?`,
}

// Open creates or opens a SQLite database at the given path and applies the
// pragmas and schema. The pool is limited to one connection: SQLite allows a
// single writer.
func Open(ctx context.Context, path string, opts ...sqlstore.Option) (*sqlstore.Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return sqlstore.New(db, "sqlite", queries, opts...), nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// Opener adapts Open to database.RegisterBackend.
func Opener(logger *zap.Logger) database.Opener {
	return func(ctx context.Context, cfg *config.DatabaseConfig) (database.Store, error) {
		opts := []sqlstore.Option{}
		if logger != nil {
			opts = append(opts, sqlstore.WithLogger(logger))
		}
		if cfg.PollInterval > 0 {
			opts = append(opts, sqlstore.WithPollInterval(cfg.PollInterval))
		}
		path := cfg.SQLitePath
		if path == "" {
			path = "attendance.db"
		}
		return Open(ctx, path, opts...)
	}
}
