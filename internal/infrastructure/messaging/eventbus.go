// Package messaging routes request notices to the delivery channels: the
// in-process event bus, the MQTT broker and the structured log.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
	"github.com/bloodlink/bloodlink-hub/pkg/logger"
	"github.com/bloodlink/bloodlink-hub/pkg/retry"
)

// ErrEventBusClosed is returned by Publish and Subscribe after Close.
var ErrEventBusClosed = errors.New("event bus is closed")

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

type subscription struct {
	name    string
	handler shared.EventHandler
}

// EventBusConfig contains configuration for EventBus.
type EventBusConfig struct {
	// Retry applies to each handler separately.
	Retry retry.Config

	// HandlerTimeout bounds one handler attempt; zero means no bound.
	HandlerTimeout time.Duration

	// Async makes Publish return once deliveries are queued. Handler errors
	// are then only logged. WorkerPoolSize caps concurrent deliveries.
	Async          bool
	WorkerPoolSize int

	Logger *logger.Logger
}

// DefaultEventBusConfig retries twice with a short backoff.
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{
		Retry: retry.Config{
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2,
		},
		HandlerTimeout: 10 * time.Second,
		Async:          true,
		WorkerPoolSize: 10,
	}
}

// EventBus delivers events to the handlers subscribed to their type and to
// the catch-all handlers. A failing handler never stops the others. In sync
// mode their errors are joined into the Publish result.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[shared.EventType][]subscription
	all      []subscription
	closed   bool

	workers chan struct{}
	closeCh chan struct{}
	wg      sync.WaitGroup

	cfg     EventBusConfig
	log     *logger.Logger
	metrics *EventBusMetrics
}

// NewEventBus creates an event bus.
func NewEventBus(cfg EventBusConfig) *EventBus {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 10
	}
	return &EventBus{
		handlers: make(map[shared.EventType][]subscription),
		workers:  make(chan struct{}, cfg.WorkerPoolSize),
		closeCh:  make(chan struct{}),
		cfg:      cfg,
		log:      cfg.Logger.Named("eventbus"),
		metrics:  NewEventBusMetrics(),
	}
}

// Subscribe registers a named handler for one event type.
func (b *EventBus) Subscribe(eventType shared.EventType, name string, handler shared.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrEventBusClosed
	}
	b.handlers[eventType] = append(b.handlers[eventType], subscription{name: name, handler: handler})
	b.log.Debug("subscribed handler", logger.String("event_type", string(eventType)), logger.String("handler", name))
	return nil
}

// SubscribeAll registers a named handler for every event.
func (b *EventBus) SubscribeAll(name string, handler shared.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrEventBusClosed
	}
	b.all = append(b.all, subscription{name: name, handler: handler})
	b.log.Debug("subscribed global handler", logger.String("handler", name))
	return nil
}

// Publish implements shared.EventPublisher.
func (b *EventBus) Publish(ctx context.Context, event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	subs := make([]subscription, 0, len(b.handlers[event.EventType()])+len(b.all))
	subs = append(subs, b.handlers[event.EventType()]...)
	subs = append(subs, b.all...)
	if b.cfg.Async {
		// Added under the lock so Close cannot start waiting in between.
		b.wg.Add(len(subs))
	}
	b.mu.RUnlock()

	b.metrics.recordPublish()
	if len(subs) == 0 {
		b.log.Debug("no handlers for event", logger.String("event_type", string(event.EventType())))
		return nil
	}

	if b.cfg.Async {
		// Deliveries outlive the publisher's context but not Close.
		dctx := context.WithoutCancel(ctx)
		for _, sub := range subs {
			go b.deliverAsync(dctx, sub, event)
		}
		return nil
	}

	var errs []error
	for _, sub := range subs {
		if err := b.deliver(ctx, sub, event); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sub.name, err))
		}
	}
	return errors.Join(errs...)
}

func (b *EventBus) deliverAsync(ctx context.Context, sub subscription, event shared.Event) {
	defer b.wg.Done()

	select {
	case b.workers <- struct{}{}:
		defer func() { <-b.workers }()
	case <-b.closeCh:
		b.log.Warn("event dropped on close",
			logger.String("handler", sub.name),
			logger.String("event_type", string(event.EventType())),
			logger.String("aggregate_id", event.AggregateID()))
		return
	}
	_ = b.deliver(ctx, sub, event)
}

// deliver runs one handler with retries and records the outcome.
func (b *EventBus) deliver(ctx context.Context, sub subscription, event shared.Event) error {
	start := time.Now()
	err := retry.Do(ctx, b.cfg.Retry, func(ctx context.Context) error {
		return b.execute(ctx, sub, event)
	})
	b.metrics.recordExecution(err == nil)

	if err != nil {
		b.log.Warn("handler failed",
			logger.String("handler", sub.name),
			logger.String("event_type", string(event.EventType())),
			logger.String("aggregate_id", event.AggregateID()),
			logger.Duration("duration", time.Since(start)),
			logger.Err(err))
	}
	return err
}

// execute runs one attempt with panic recovery and the handler timeout.
func (b *EventBus) execute(ctx context.Context, sub subscription, event shared.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("handler panic recovered",
				logger.String("handler", sub.name),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())))
			err = retry.Permanent(fmt.Errorf("handler panic: %v", r))
		}
	}()

	if b.cfg.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.HandlerTimeout)
		defer cancel()
	}
	return sub.handler(ctx, event)
}

// Close rejects further publishing and waits for running deliveries.
// Queued deliveries that have not started are dropped.
func (b *EventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.closeCh)
	b.mu.Unlock()

	b.wg.Wait()
	b.log.Info("event bus closed")
	return nil
}

// Metrics returns the bus counters.
func (b *EventBus) Metrics() *EventBusMetrics {
	return b.metrics
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// EventBusMetrics counts publishes and handler outcomes.
type EventBusMetrics struct {
	mu        sync.Mutex
	published int64
	succeeded int64
	failed    int64
}

// EventBusMetricsSnapshot is a point-in-time copy of the counters.
type EventBusMetricsSnapshot struct {
	Published int64
	Succeeded int64
	Failed    int64
}

// NewEventBusMetrics creates zeroed counters.
func NewEventBusMetrics() *EventBusMetrics {
	return &EventBusMetrics{}
}

func (m *EventBusMetrics) recordPublish() {
	m.mu.Lock()
	m.published++
	m.mu.Unlock()
}

func (m *EventBusMetrics) recordExecution(ok bool) {
	m.mu.Lock()
	if ok {
		m.succeeded++
	} else {
		m.failed++
	}
	m.mu.Unlock()
}

// Snapshot returns the current counters.
func (m *EventBusMetrics) Snapshot() EventBusMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return EventBusMetricsSnapshot{Published: m.published, Succeeded: m.succeeded, Failed: m.failed}
}
