package notify

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisStreamSink appends events to a Redis stream for downstream consumers.
type RedisStreamSink struct {
	client *redis.Client
	stream string
}

// NewRedisStreamSink creates a stream sink on an existing client.
func NewRedisStreamSink(client *redis.Client, stream string) *RedisStreamSink {
	return &RedisStreamSink{client: client, stream: stream}
}

func (s *RedisStreamSink) Notify(ctx context.Context, ev Event) error {
	_, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"person_id":   ev.PersonID,
			"person_name": ev.PersonName,
			"category":    ev.Category,
			"status":      ev.Status,
			"time":        ev.Time,
			"date":        ev.Date,
			"timestamp":   ev.At.Unix(),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publishing to stream %s: %w", s.stream, err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStreamSink) Close() error {
	return s.client.Close()
}
