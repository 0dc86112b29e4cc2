package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultStream  = "analyzer:runs"
	publishTimeout = 2 * time.Second
)

// RedisBus publishes pipeline events to a Redis Stream.
type RedisBus struct {
	rdb    *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewRedisBus connects to Redis and verifies the connection.
func NewRedisBus(ctx context.Context, redisURL, stream string, maxLen int64, logger *zap.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if stream == "" {
		stream = defaultStream
	}
	return &RedisBus{rdb: rdb, stream: stream, maxLen: maxLen, logger: logger}, nil
}

// Stream returns the stream key events are appended to.
func (b *RedisBus) Stream() string { return b.stream }

// Publish appends an event, trimming the stream to roughly maxLen entries.
func (b *RedisBus) Publish(ctx context.Context, ev *Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	args := &redis.XAddArgs{
		Stream: b.stream,
		Values: map[string]interface{}{
			"type": string(ev.Type),
			"data": string(data),
		},
	}
	if b.maxLen > 0 {
		args.MaxLen = b.maxLen
		args.Approx = true
	}
	if err := b.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", b.stream, err)
	}

	b.logger.Debug("published event",
		zap.String("run_id", ev.RunID),
		zap.String("type", string(ev.Type)),
		zap.String("agent", ev.Agent))
	return nil
}

// Recent returns up to n of the newest events, newest first.
func (b *RedisBus) Recent(ctx context.Context, n int64) ([]Event, error) {
	msgs, err := b.rdb.XRevRangeN(ctx, b.stream, "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", b.stream, err)
	}
	return decodeEvents(msgs), nil
}

// Subscribe emits events appended after the call. Cancel ctx to stop.
func (b *RedisBus) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			if ctx.Err() != nil {
				return
			}

			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{b.stream, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if errors.Is(err, redis.Nil) {
					continue
				}
				b.logger.Warn("read event stream", zap.String("stream", b.stream), zap.Error(err))
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				}
				continue
			}

			for _, r := range results {
				for _, ev := range decodeEvents(r.Messages) {
					select {
					case ch <- ev:
					case <-ctx.Done():
						return
					}
				}
				if len(r.Messages) > 0 {
					lastID = r.Messages[len(r.Messages)-1].ID
				}
			}
		}
	}()

	return ch
}

func decodeEvents(msgs []redis.XMessage) []Event {
	out := make([]Event, 0, len(msgs))
	for _, msg := range msgs {
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		var ev Event
		if json.Unmarshal([]byte(data), &ev) == nil {
			out = append(out, ev)
		}
	}
	return out
}

// Close shuts down the Redis connection.
func (b *RedisBus) Close() error {
	return b.rdb.Close()
}
