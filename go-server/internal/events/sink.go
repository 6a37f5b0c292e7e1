package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	StreamName          = "linkpulse:events"
	DefaultStreamMaxLen = 100000
)

// Sink delivers a single event. Implementations may be slow or fail; the
// Dispatcher shields request paths from both.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// RedisStreamSink appends events to a Redis stream
type RedisStreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisStreamSink(client *redis.Client, stream string, maxLen int64) *RedisStreamSink {
	if stream == "" {
		stream = StreamName
	}
	if maxLen <= 0 {
		maxLen = DefaultStreamMaxLen
	}
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisStreamSink) Publish(ctx context.Context, e Event) error {
	values, err := streamValues(e)
	if err != nil {
		return err
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append event to stream %s: %w", s.stream, err)
	}
	return nil
}

func streamValues(e Event) (map[string]any, error) {
	payload, err := json.Marshal(e.Body())
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", e.Type, err)
	}
	return map[string]any{
		"type":      string(e.Type),
		"payload":   string(payload),
		"timestamp": e.OccurredAt.Format(time.RFC3339),
	}, nil
}

// LogSink writes events to the structured log, used when no broker is configured.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink() *LogSink {
	return &LogSink{logger: zap.L().With(zap.String("component", "EventLog"))}
}

func (s *LogSink) Publish(ctx context.Context, e Event) error {
	s.logger.Info("Event",
		zap.String("type", string(e.Type)),
		zap.String("code", e.Code),
		zap.Any("payload", e.Body()),
	)
	return nil
}
