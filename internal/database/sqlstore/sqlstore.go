// Package sqlstore implements database.Store on a single SQL table of JSON
// documents keyed by (collection, key). Backends supply the dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/attendance-terminal/internal/database"
)

// Queries holds the dialect-specific statements. Argument order is noted per
// field. Document data is always passed as a JSON string.
type Queries struct {
	Get    string // collection, key -> data, updated_at
	List   string // collection -> key, data, updated_at ordered by key
	Upsert string // collection, key, data, updated_at
	Ensure string // collection, key, data, updated_at; insert only when missing
	Lock   string // collection, key -> data; locks the row until commit
	Update string // data, updated_at, collection, key
	Delete string // collection, key
}

// PutHook runs inside the Put transaction after the document is written.
type PutHook func(ctx context.Context, tx *sql.Tx, collection, key string, data map[string]any) error

// Store is the shared SQL document store.
type Store struct {
	db           *sql.DB
	q            Queries
	name         string
	pollInterval time.Duration
	onPut        PutHook
	now          func() time.Time
	logger       *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithPollInterval sets how often Subscribe re-lists a collection.
func WithPollInterval(d time.Duration) Option { return func(s *Store) { s.pollInterval = d } }

// WithPutHook registers a hook that runs with every Put.
func WithPutHook(h PutHook) Option { return func(s *Store) { s.onPut = h } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Store) { s.logger = l } }

// WithClock overrides the updated_at clock.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// New wraps an open database.
func New(db *sql.DB, name string, q Queries, opts ...Option) *Store {
	s := &Store{
		db:           db,
		q:            q,
		name:         name,
		pollInterval: database.DefaultPollInterval,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// DB returns the underlying sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Get implements database.DocumentReader.
func (s *Store) Get(ctx context.Context, collection, key string) (*database.Document, error) {
	var raw []byte
	var updated time.Time
	err := s.db.QueryRowContext(ctx, s.q.Get, collection, key).Scan(&raw, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, key, err)
	}
	data, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, key, err)
	}
	return &database.Document{Key: key, Data: data, UpdatedAt: updated}, nil
}

// List implements database.DocumentReader.
func (s *Store) List(ctx context.Context, collection string) ([]database.Document, error) {
	rows, err := s.db.QueryContext(ctx, s.q.List, collection)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []database.Document
	for rows.Next() {
		var (
			key     string
			raw     []byte
			updated time.Time
		)
		if err := rows.Scan(&key, &raw, &updated); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		data, err := decode(raw)
		if err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", collection, key, err)
		}
		docs = append(docs, database.Document{Key: key, Data: data, UpdatedAt: updated})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", collection, err)
	}
	return docs, nil
}

// Subscribe polls the collection. Backends with a change feed override it.
func (s *Store) Subscribe(ctx context.Context, collection string) (<-chan database.Snapshot, error) {
	list := func(ctx context.Context) ([]database.Document, error) {
		return s.List(ctx, collection)
	}
	return database.PollSubscribe(ctx, list, collection, s.pollInterval, func(err error) {
		s.logger.Warn("subscription poll failed", zap.String("backend", s.name), zap.String("collection", collection), zap.Error(err))
	}), nil
}

// Put implements database.Store.
func (s *Store) Put(ctx context.Context, collection, key string, data map[string]any) error {
	if err := database.ValidateKey(key); err != nil {
		return err
	}
	normalized, err := database.NormalizeData(data)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, key, err)
	}
	raw, err := json.Marshal(normalized)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, key, err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q.Upsert, collection, key, string(raw), s.now()); err != nil {
			return fmt.Errorf("put %s/%s: %w", collection, key, err)
		}
		if s.onPut != nil {
			return s.onPut(ctx, tx, collection, key, normalized)
		}
		return nil
	})
}

// Merge applies the patch to the locked row inside one transaction. A missing
// document is created first unless the patch only deletes.
func (s *Store) Merge(ctx context.Context, collection, key string, patch database.Patch) error {
	if patch.IsEmpty() {
		return nil
	}
	if err := database.ValidateKey(key); err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if !patch.OnlyDeletes() {
			if _, err := tx.ExecContext(ctx, s.q.Ensure, collection, key, "{}", s.now()); err != nil {
				return fmt.Errorf("merge %s/%s: ensure: %w", collection, key, err)
			}
		}

		var raw []byte
		err := tx.QueryRowContext(ctx, s.q.Lock, collection, key).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("merge %s/%s: lock: %w", collection, key, err)
		}

		current, err := decode(raw)
		if err != nil {
			return fmt.Errorf("merge %s/%s: %w", collection, key, err)
		}
		next, err := database.ApplyPatch(current, patch)
		if err != nil {
			return fmt.Errorf("merge %s/%s: %w", collection, key, err)
		}
		out, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("merge %s/%s: %w", collection, key, err)
		}
		if _, err := tx.ExecContext(ctx, s.q.Update, string(out), s.now(), collection, key); err != nil {
			return fmt.Errorf("merge %s/%s: update: %w", collection, key, err)
		}
		return nil
	})
}

// Delete implements database.Store.
func (s *Store) Delete(ctx context.Context, collection, key string) error {
	if _, err := s.db.ExecContext(ctx, s.q.Delete, collection, key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, key, err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database connection: %w", err)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func decode(raw []byte) (map[string]any, error) {
	data := map[string]any{}
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	return data, nil
}

var _ database.Store = (*Store)(nil)
