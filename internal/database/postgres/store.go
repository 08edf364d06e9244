package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/kozaktomas/attendance-terminal/internal/database"
	"github.com/kozaktomas/attendance-terminal/internal/database/sqlstore"
)

// notifyChannel is the channel the documents trigger publishes collection names on.
const notifyChannel = "document_changes"

var queries = sqlstore.Queries{
	Get:  `SELECT data, updated_at FROM documents WHERE collection = $1 AND key = $2`,
	List: `SELECT key, data, updated_at FROM documents WHERE collection = $1 ORDER BY key`,
	Upsert: `
		INSERT INTO documents (collection, key, data, updated_at)
		VALUES ($1, $2, $3::jsonb, $4)
		ON CONFLICT (collection, key) DO UPDATE SET
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at
	`,
	Ensure: `
		INSERT INTO documents (collection, key, data, updated_at)
		VALUES ($1, $2, $3::jsonb, $4)
		ON CONFLICT (collection, key) DO NOTHING
	`,
	Lock:   `SELECT data FROM documents WHERE collection = $1 AND key = $2 FOR UPDATE`,
	Update: `UPDATE documents SET data = $1::jsonb, updated_at = $2 WHERE collection = $3 AND key = $4`,
	Delete: `DELETE FROM documents WHERE collection = $1 AND key = $2`,
}

// Store is the PostgreSQL document store.
type Store struct {
	*sqlstore.Store
	pool   *Pool
	url    string
	logger *zap.Logger
}

// NewStore creates a store on an open pool. url is used by subscriptions,
// which hold a dedicated listener connection.
func NewStore(pool *Pool, url string) *Store {
	logger := pool.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{pool: pool, url: url, logger: logger}
	s.Store = sqlstore.New(pool.db, "postgres", queries,
		sqlstore.WithLogger(logger),
		sqlstore.WithPutHook(syncDescriptor))
	return s
}

// syncDescriptor mirrors the "descriptor" field of a document into the
// descriptors table used for nearest-neighbor queries.
func syncDescriptor(ctx context.Context, tx *sql.Tx, collection, key string, data map[string]any) error {
	vec, ok := descriptorOf(data)
	if !ok {
		if _, err := tx.ExecContext(ctx, `DELETE FROM descriptors WHERE collection = $1 AND key = $2`, collection, key); err != nil {
			return fmt.Errorf("clear descriptor %s/%s: %w", collection, key, err)
		}
		return nil
	}

	query := `
		INSERT INTO descriptors (collection, key, embedding)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection, key) DO UPDATE SET embedding = EXCLUDED.embedding
	`
	if _, err := tx.ExecContext(ctx, query, collection, key, pgvector.NewVector(vec)); err != nil {
		return fmt.Errorf("save descriptor %s/%s: %w", collection, key, err)
	}
	return nil
}

func descriptorOf(data map[string]any) ([]float32, bool) {
	vals, ok := data["descriptor"].([]any)
	if !ok || len(vals) == 0 {
		return nil, false
	}
	vec := make([]float32, len(vals))
	for i, v := range vals {
		f, ok := v.(float64)
		if !ok {
			return nil, false
		}
		vec[i] = float32(f)
	}
	return vec, true
}

// NearestDescriptors implements database.DescriptorSearcher using the pgvector
// Euclidean distance operator.
func (s *Store) NearestDescriptors(ctx context.Context, collection string, probe []float32, limit int) ([]database.Neighbor, error) {
	query := `
		SELECT key, embedding <-> $2::vector AS distance
		FROM descriptors
		WHERE collection = $1 AND vector_dims(embedding) = $3
		ORDER BY embedding <-> $2::vector
		LIMIT $4
	`
	rows, err := s.pool.db.QueryContext(ctx, query, collection, pgvector.NewVector(probe), len(probe), limit)
	if err != nil {
		return nil, fmt.Errorf("query nearest descriptors: %w", err)
	}
	defer rows.Close()

	var out []database.Neighbor
	for rows.Next() {
		var n database.Neighbor
		if err := rows.Scan(&n.Key, &n.Distance); err != nil {
			return nil, fmt.Errorf("scan neighbor: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate neighbors: %w", err)
	}
	return out, nil
}

// Subscribe streams snapshots of a collection. The collection is re-listed on
// every notification for it and after the listener reconnects.
func (s *Store) Subscribe(ctx context.Context, collection string) (<-chan database.Snapshot, error) {
	listener := pq.NewListener(s.url, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			s.logger.Warn("postgres listener event", zap.Int("event", int(ev)), zap.Error(err))
		}
	})
	if err := listener.Listen(notifyChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("listen %s: %w", notifyChannel, err)
	}

	ch := make(chan database.Snapshot, database.SubscriptionBuffer)
	go func() {
		defer close(ch)
		defer listener.Close()

		send := func() bool {
			docs, err := s.List(ctx, collection)
			if err != nil {
				if ctx.Err() != nil {
					return false
				}
				s.logger.Warn("subscription list failed", zap.String("collection", collection), zap.Error(err))
				return true
			}
			select {
			case ch <- database.Snapshot{Collection: collection, Documents: docs, TakenAt: time.Now()}:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !send() {
			return
		}

		ping := time.NewTicker(90 * time.Second)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-listener.Notify:
				// A nil notification follows a reconnect; changes may have been missed.
				if n != nil && n.Extra != collection {
					continue
				}
				if !send() {
					return
				}
			case <-ping.C:
				go func() { _ = listener.Ping() }()
			}
		}
	}()

	return ch, nil
}

var (
	_ database.Store              = (*Store)(nil)
	_ database.DescriptorSearcher = (*Store)(nil)
)
