package notify

import (
	"context"
	"fmt"
	"io"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/kozaktomas/attendance-terminal/internal/config"
	"github.com/kozaktomas/attendance-terminal/internal/constants"
)

// FromConfig builds the configured sinks behind a dispatcher. The returned
// function closes the dispatcher and the sink connections.
func FromConfig(ctx context.Context, cfg config.NotifyConfig, logger *zap.Logger) (*Dispatcher, func(), error) {
	var sinks Multi
	var closers []io.Closer

	if cfg.EmailJS.Enabled() {
		sinks = append(sinks, NewEmailSink(cfg.EmailJS))
		logger.Info("email notifications enabled")
	}
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		s := NewRedisStreamSink(client, cfg.Redis.Stream)
		sinks = append(sinks, s)
		closers = append(closers, s)
		logger.Info("redis stream notifications enabled", zap.String("stream", cfg.Redis.Stream))
	}
	if cfg.MQTT.Broker != "" {
		s, err := NewMQTTSink(cfg.MQTT)
		if err != nil {
			for _, c := range closers {
				c.Close()
			}
			return nil, nil, err
		}
		sinks = append(sinks, s)
		closers = append(closers, s)
		logger.Info("mqtt notifications enabled", zap.String("topic", cfg.MQTT.Topic))
	}

	var sink Sink = sinks
	if len(sinks) == 0 {
		sink = Discard
	}
	d := NewDispatcher(sink, cfg.Workers, constants.NotifyQueueSize, logger)
	return d, func() {
		d.Close()
		for _, c := range closers {
			c.Close()
		}
	}, nil
}
