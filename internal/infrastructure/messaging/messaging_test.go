package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
	"github.com/bloodlink/bloodlink-hub/pkg/retry"
)

var at = time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)

func testBus() *EventBus {
	cfg := DefaultEventBusConfig()
	cfg.Retry = retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, Multiplier: 1}
	cfg.Async = false
	return NewEventBus(cfg)
}

func TestEventBus_RoutesByType(t *testing.T) {
	bus := testBus()
	ctx := context.Background()

	var expired, all []string
	require.NoError(t, bus.Subscribe(shared.EventRequestExpired, "expired", func(_ context.Context, e shared.Event) error {
		expired = append(expired, e.AggregateID())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll("all", func(_ context.Context, e shared.Event) error {
		all = append(all, e.AggregateID())
		return nil
	}))

	require.NoError(t, bus.Publish(ctx, shared.NewRequestNoticeEvent("r-1", "Request expired - donor not available", true, at)))
	require.NoError(t, bus.Publish(ctx, shared.NewRequestNoticeEvent("r-2", "update", false, at)))

	assert.Equal(t, []string{"r-1"}, expired)
	assert.Equal(t, []string{"r-1", "r-2"}, all)
	assert.Equal(t, int64(2), bus.Metrics().Snapshot().Published)
}

func TestEventBus_RetriesAndIsolatesFailures(t *testing.T) {
	bus := testBus()
	ctx := context.Background()

	attempts := 0
	require.NoError(t, bus.SubscribeAll("flaky", func(context.Context, shared.Event) error {
		attempts++
		if attempts == 1 {
			return errors.New("transient")
		}
		return nil
	}))
	require.NoError(t, bus.SubscribeAll("broken", func(context.Context, shared.Event) error {
		return errors.New("down")
	}))
	delivered := false
	require.NoError(t, bus.SubscribeAll("panicky", func(context.Context, shared.Event) error {
		panic("boom")
	}))
	require.NoError(t, bus.SubscribeAll("healthy", func(context.Context, shared.Event) error {
		delivered = true
		return nil
	}))

	err := bus.Publish(ctx, shared.NewRequestNoticeEvent("r-1", "msg", false, at))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Contains(t, err.Error(), "panicky")
	assert.NotContains(t, err.Error(), "flaky")
	assert.Equal(t, 2, attempts)
	assert.True(t, delivered)

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.Succeeded)
	assert.Equal(t, int64(2), snap.Failed)
}

func TestEventBus_Closed(t *testing.T) {
	bus := testBus()
	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(context.Background(), shared.NewRequestNoticeEvent("r-1", "m", false, at)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll("x", func(context.Context, shared.Event) error { return nil }), ErrEventBusClosed)
}

func TestEventBus_AsyncDoesNotWaitForSlowHandlers(t *testing.T) {
	cfg := DefaultEventBusConfig()
	cfg.Retry = retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 1}
	cfg.WorkerPoolSize = 2
	bus := NewEventBus(cfg)

	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var seen []string
	require.NoError(t, bus.Subscribe(shared.EventRequestExpired, "slow", func(_ context.Context, e shared.Event) error {
		close(entered)
		<-release
		mu.Lock()
		seen = append(seen, e.AggregateID())
		mu.Unlock()
		return nil
	}))
	require.NoError(t, bus.SubscribeAll("failing", func(context.Context, shared.Event) error {
		return errors.New("down")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	begin := time.Now()
	require.NoError(t, bus.Publish(ctx, shared.NewRequestNoticeEvent("r-1", "expired", true, at)))
	assert.Less(t, time.Since(begin), time.Second)
	cancel()

	<-entered
	require.Eventually(t, func() bool { return bus.Metrics().Snapshot().Failed == 1 }, time.Second, 5*time.Millisecond)
	close(release)
	require.NoError(t, bus.Close())

	mu.Lock()
	assert.Equal(t, []string{"r-1"}, seen, "delivery survives the publisher's context")
	mu.Unlock()

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.Succeeded)
	assert.Equal(t, int64(1), snap.Failed)
	assert.ErrorIs(t, bus.Publish(context.Background(), shared.NewRequestNoticeEvent("r-2", "m", false, at)), ErrEventBusClosed)
}

// ─────────────────────────────────────────────────────────────────────────────
// MQTT
// ─────────────────────────────────────────────────────────────────────────────

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (p *fakePublisher) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return newFakeToken(p.err)
}

func TestMQTTNotifier_Handle(t *testing.T) {
	pub := &fakePublisher{}
	n := newMQTTNotifier(pub, "bloodlink/requests/", 1, nil)

	event := shared.NewRequestNoticeEvent("r-1", "Request expired - donor not available", true, at)
	require.NoError(t, n.Handle(context.Background(), event))

	require.Len(t, pub.sent, 1)
	assert.Equal(t, "bloodlink/requests/request.expired", pub.sent[0].topic)
	assert.Equal(t, byte(1), pub.sent[0].qos)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(pub.sent[0].payload, &msg))
	assert.Equal(t, "request.expired", msg["type"])
	assert.Equal(t, "r-1", msg["request_id"])
	assert.Equal(t, "Request expired - donor not available", msg["message"])

	pub.err = errors.New("not connected")
	assert.Error(t, n.Handle(context.Background(), event))
}

func TestLogNotifier_Handle(t *testing.T) {
	n := NewLogNotifier(nil)
	assert.NoError(t, n.Handle(context.Background(), shared.NewRequestNoticeEvent("r-1", "m", false, at)))
}
