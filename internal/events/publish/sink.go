// Package publish drains the event outbox into an event sink.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/fastprodman/starledger/internal/events"
	"github.com/redis/go-redis/v9"
)

// Sink receives envelopes in outbox order.
type Sink interface {
	Publish(ctx context.Context, env events.Envelope) error
}

var (
	_ Sink = (*RedisSink)(nil)
	_ Sink = (*LogSink)(nil)
)

// RedisSink publishes each envelope as JSON on "<prefix>.<aggregate type>".
type RedisSink struct {
	rdb    redis.Cmdable
	prefix string
}

func NewRedisSink(rdb redis.Cmdable, prefix string) *RedisSink {
	return &RedisSink{rdb: rdb, prefix: prefix}
}

func Channel(prefix string, t events.AggregateType) string {
	return prefix + "." + string(t)
}

func (s *RedisSink) Publish(ctx context.Context, env events.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	err = s.rdb.Publish(ctx, Channel(s.prefix, env.AggregateType), body).Err()
	if err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}

	return nil
}

// LogSink writes envelopes to a logger. Used when no broker is configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(ctx context.Context, env events.Envelope) error {
	s.logger.LogAttrs(ctx, slog.LevelInfo, "domain event",
		slog.String("event_id", env.EventID),
		slog.String("event_type", string(env.Type)),
		slog.String("aggregate_type", string(env.AggregateType)),
		slog.String("aggregate_id", env.AggregateID),
		slog.Time("occurred_at", env.OccurredAt),
		slog.String("payload", string(env.Payload)),
	)

	return nil
}
