package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"orderline/internal/saga"
)

func sampleEvent() saga.Event {
	return saga.Event{
		ID:         "ev-1",
		SagaID:     "order-1",
		Definition: saga.DefinitionOrder,
		Lane:       "main",
		Type:       saga.EventStageEntered,
		Stage:      saga.StageReceiving,
		At:         time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestRedisEventPublisher_WritesHashAndStream(t *testing.T) {
	t.Parallel()

	pipe := &stubPipeline{}
	client := &stubRedisClient{pipe: pipe}
	pub := NewRedisEventPublisher(client, "order_saga_events", 0, 0)

	if err := pub.Publish(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(pipe.hsets) != 1 {
		t.Fatalf("expected 1 HSET, got %d", len(pipe.hsets))
	}
	if pipe.hsets[0].key != "saga:order-1" {
		t.Fatalf("unexpected hash key %q", pipe.hsets[0].key)
	}
	hash := toMap(pipe.hsets[0].values)
	if hash["saga_id"] != "order-1" || hash["type"] != "stage_entered" || hash["stage"] != "receiving" {
		t.Fatalf("unexpected hash values: %+v", hash)
	}

	if len(pipe.xadds) != 1 {
		t.Fatalf("expected 1 XADD, got %d", len(pipe.xadds))
	}
	if pipe.xadds[0].Stream != "order_saga_events" {
		t.Fatalf("unexpected stream %q", pipe.xadds[0].Stream)
	}
	if !pipe.execCalled {
		t.Fatalf("expected Exec to be called")
	}
}

func TestRedisEventPublisher_TTLMaxLenAndDefaultStream(t *testing.T) {
	t.Parallel()

	pipe := &stubPipeline{}
	client := &stubRedisClient{pipe: pipe}
	pub := NewRedisEventPublisher(client, "", time.Second, 100)

	if err := pub.Publish(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if pipe.expirations["saga:order-1"] != time.Second {
		t.Fatalf("unexpected ttl: %v", pipe.expirations["saga:order-1"])
	}
	if len(pipe.xadds) != 1 {
		t.Fatalf("expected 1 XADD, got %d", len(pipe.xadds))
	}
	if pipe.xadds[0].Stream != "order_saga_events" {
		t.Fatalf("expected default stream, got %q", pipe.xadds[0].Stream)
	}
	if pipe.xadds[0].MaxLen != 100 || !pipe.xadds[0].Approx {
		t.Fatalf("expected maxlen settings applied, got %+v", pipe.xadds[0])
	}
}

func TestRedisEventPublisher_RespectsCanceledContext(t *testing.T) {
	t.Parallel()

	pipe := &stubPipeline{}
	client := &stubRedisClient{pipe: pipe}
	pub := NewRedisEventPublisher(client, "", 0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := pub.Publish(ctx, sampleEvent())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if pipe.execCalled || len(pipe.hsets) > 0 || len(pipe.xadds) > 0 {
		t.Fatalf("expected no writes when context canceled")
	}
}

func TestRedisEventPublisher_RoundTrip(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	pub := NewRedisEventPublisher(ClientAdapter{Client: client}, "order_saga_events", time.Minute, 100)
	ev := sampleEvent()
	ev.Type = saga.EventFinished
	ev.Stage = saga.StageCompleted
	ev.Status = saga.StatusCompleted

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pub.Publish(ctx, ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if got := mr.HGet("saga:order-1", "status"); got != "completed" {
		t.Fatalf("hash status = %q, want completed", got)
	}
	if got := mr.HGet("saga:order-1", "type"); got != "saga_finished" {
		t.Fatalf("hash type = %q, want saga_finished", got)
	}

	entries, err := client.XRange(ctx, "order_saga_events", "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 stream entry, got %d", len(entries))
	}
	if entries[0].Values["saga_id"] != "order-1" {
		t.Fatalf("unexpected stream values: %+v", entries[0].Values)
	}
}

type stubRedisClient struct {
	pipe *stubPipeline
}

func (s *stubRedisClient) Pipeline() RedisPipeliner { return s.pipe }

type stubPipeline struct {
	hsets []struct {
		key    string
		values []any
	}
	expirations map[string]time.Duration
	xadds       []redis.XAddArgs
	execCalled  bool
	execErr     error
}

func (s *stubPipeline) HSet(_ context.Context, key string, values ...any) *redis.IntCmd {
	s.hsets = append(s.hsets, struct {
		key    string
		values []any
	}{key: key, values: values})
	return redis.NewIntCmd(context.Background())
}

func (s *stubPipeline) Expire(_ context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	if s.expirations == nil {
		s.expirations = map[string]time.Duration{}
	}
	s.expirations[key] = ttl
	return redis.NewBoolCmd(context.Background())
}

func (s *stubPipeline) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	s.xadds = append(s.xadds, *a)
	return redis.NewStringCmd(context.Background())
}

func (s *stubPipeline) Exec(_ context.Context) ([]redis.Cmder, error) {
	s.execCalled = true
	return nil, s.execErr
}

func toMap(args []any) map[string]any {
	if len(args) == 0 {
		return map[string]any{}
	}
	if m, ok := args[0].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
