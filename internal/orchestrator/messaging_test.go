package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/nidhogg/contract-analyzer/internal/agent"
)

func startRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Skipf("start redis: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	url, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("redis connection string: %v", err)
	}
	return url
}

func TestRedisBusPublishAndRead(t *testing.T) {
	url := startRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	bus, err := NewRedisBus(ctx, url, "test:runs", 100, zap.NewNop())
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	defer bus.Close()

	sub := bus.Subscribe(ctx)
	// give XREAD with "$" a moment to register before publishing
	time.Sleep(200 * time.Millisecond)

	want := []EventType{EventRunStarted, EventAnalysisCompleted, EventRunCompleted}
	for _, typ := range want {
		if err := bus.Publish(ctx, &Event{RunID: "run-1", Type: typ, Timestamp: time.Now().UTC()}); err != nil {
			t.Fatalf("publish %s: %v", typ, err)
		}
	}

	for _, typ := range want {
		select {
		case ev := <-sub:
			if ev.Type != typ || ev.RunID != "run-1" {
				t.Errorf("event = %+v, want %s", ev, typ)
			}
		case <-ctx.Done():
			t.Fatal("timed out waiting for event")
		}
	}

	recent, err := bus.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 || recent[0].Type != EventRunCompleted {
		t.Errorf("recent = %+v", recent)
	}
}

func TestRedisBusPipelineEvents(t *testing.T) {
	url := startRedis(t)
	ctx := context.Background()

	bus, err := NewRedisBus(ctx, url, "test:pipeline", 0, zap.NewNop())
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	defer bus.Close()

	p := newTestPipeline(newScriptedGenerator(), agent.DefaultConfig(), WithPublisher(bus))
	report, err := p.Run(ctx, "contract")
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	events, err := bus.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 6 {
		t.Fatalf("events = %d, want 6", len(events))
	}
	if events[0].Type != EventRunCompleted || events[0].RunID != report.RunID {
		t.Errorf("newest event = %+v", events[0])
	}
}

func TestNewRedisBusBadURL(t *testing.T) {
	if _, err := NewRedisBus(context.Background(), "not a url", "", 0, zap.NewNop()); err == nil {
		t.Fatal("expected parse error")
	}
}
