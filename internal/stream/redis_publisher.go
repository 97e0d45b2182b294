// Package stream publishes saga lifecycle events to Redis: a latest-status
// hash per saga for quick lookups, plus an append-only stream for consumers.
package stream

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"orderline/internal/saga"
)

// RedisPipelineClient is the minimal client surface used by RedisEventPublisher.
type RedisPipelineClient interface {
	Pipeline() RedisPipeliner
}

// RedisPipeliner is the subset of commands used within a pipeline.
type RedisPipeliner interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Exec(ctx context.Context) ([]redis.Cmder, error)
}

// RedisEventPublisher mirrors each saga event into Redis.
type RedisEventPublisher struct {
	client    RedisPipelineClient
	stream    string
	keyPrefix string
	ttl       time.Duration
	maxLen    int64
}

// NewRedisEventPublisher constructs a Redis-backed event sink.
func NewRedisEventPublisher(client RedisPipelineClient, stream string, ttl time.Duration, maxLen int64) *RedisEventPublisher {
	if stream == "" {
		stream = "order_saga_events"
	}
	return &RedisEventPublisher{
		client:    client,
		stream:    stream,
		keyPrefix: "saga:",
		ttl:       ttl,
		maxLen:    maxLen,
	}
}

// Publish writes the saga's latest status and appends to the event stream.
func (r *RedisEventPublisher) Publish(ctx context.Context, ev saga.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := r.keyPrefix + ev.SagaID
	at := ev.At.UTC().Format(time.RFC3339Nano)
	values := map[string]any{
		"event_id":   ev.ID,
		"saga_id":    ev.SagaID,
		"definition": string(ev.Definition),
		"lane":       ev.Lane,
		"type":       string(ev.Type),
		"stage":      string(ev.Stage),
		"signal":     string(ev.Signal),
		"status":     string(ev.Status),
		"at":         at,
	}

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, values)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}

	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: values,
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	pipe.XAdd(ctx, args)

	_, err := pipe.Exec(ctx)
	return err
}

// ClientAdapter narrows a *redis.Client to the pipeline surface above.
type ClientAdapter struct {
	Client *redis.Client
}

func (a ClientAdapter) Pipeline() RedisPipeliner {
	return pipelineAdapter{pipe: a.Client.Pipeline()}
}

type pipelineAdapter struct {
	pipe redis.Pipeliner
}

func (p pipelineAdapter) HSet(ctx context.Context, key string, values ...any) *redis.IntCmd {
	return p.pipe.HSet(ctx, key, values...)
}

func (p pipelineAdapter) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	return p.pipe.Expire(ctx, key, expiration)
}

func (p pipelineAdapter) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	return p.pipe.XAdd(ctx, a)
}

func (p pipelineAdapter) Exec(ctx context.Context) ([]redis.Cmder, error) {
	return p.pipe.Exec(ctx)
}

var _ saga.EventSink = (*RedisEventPublisher)(nil)
