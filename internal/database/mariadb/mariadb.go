// Package mariadb implements the document store on MariaDB/MySQL. Subscriptions
// poll, since the server has no change feed.
package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/kozaktomas/attendance-terminal/internal/config"
	"github.com/kozaktomas/attendance-terminal/internal/database"
	"github.com/kozaktomas/attendance-terminal/internal/database/sqlstore"
)

const schema = `
	CREATE TABLE IF NOT EXISTS documents (
		collection VARCHAR(64) NOT NULL,
		` + "`key`" + ` VARCHAR(191) NOT NULL,
		data JSON NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		PRIMARY KEY (collection, ` + "`key`" + `)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4
`

var queries = sqlstore.Queries{
	Get:  "SELECT data, updated_at FROM documents WHERE collection = ? AND `key` = ?",
	List: "SELECT `key`, data, updated_at FROM documents WHERE collection = ? ORDER BY `key`",
	Upsert: "INSERT INTO documents (collection, `key`, data, updated_at) VALUES (?, ?, ?, ?) " +
		"ON DUPLICATE KEY UPDATE data = VALUES(data), updated_at = VALUES(updated_at)",
	Ensure: "INSERT IGNORE INTO documents (collection, `key`, data, updated_at) VALUES (?, ?, ?, ?)",
	Lock:   "SELECT data FROM documents WHERE collection = ? AND `key` = ? FOR UPDATE",
	Update: "UPDATE documents SET data = ?, updated_at = ? WHERE collection = ? AND `key` = ?",
	Delete: "DELETE FROM documents WHERE collection = ? AND `key` = ?",
}

// Pool manages a MariaDB connection pool.
type Pool struct {
	db *sql.DB
}

// NewPool creates a new MariaDB connection pool. The DSN is parsed so that
// DATETIME columns always scan into time.Time.
func NewPool(ctx context.Context, cfg *config.DatabaseConfig) (*Pool, error) {
	if cfg.URL == "" {
		return nil, errors.New("MariaDB DSN is required")
	}

	dsn, err := mysql.ParseDSN(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid MariaDB DSN: %w", err)
	}
	dsn.ParseTime = true
	dsn.Loc = time.UTC

	db, err := sql.Open("mysql", dsn.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open MariaDB: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MariaDB: %w", err)
	}

	return &Pool{db: db}, nil
}

// EnsureSchema creates the documents table if it does not exist.
func (p *Pool) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create documents table: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (p *Pool) Close() error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}

// NewStore wraps the pool in a document store.
func NewStore(p *Pool, pollInterval time.Duration, logger *zap.Logger) *sqlstore.Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []sqlstore.Option{sqlstore.WithLogger(logger)}
	if pollInterval > 0 {
		opts = append(opts, sqlstore.WithPollInterval(pollInterval))
	}
	return sqlstore.New(p.db, "mariadb", queries, opts...)
}

// Open connects, creates the schema and returns the store.
func Open(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (*sqlstore.Store, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return NewStore(pool, cfg.PollInterval, logger), nil
}

// Opener adapts Open to database.RegisterBackend.
func Opener(logger *zap.Logger) database.Opener {
	return func(ctx context.Context, cfg *config.DatabaseConfig) (database.Store, error) {
		return Open(ctx, cfg, logger)
	}
}
