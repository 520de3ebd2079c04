package shared

import (
	"context"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Request lifecycle event types. They are published by notifiers that fan
// out to message brokers.
const (
	EventRequestExpired EventType = "request.expired"
	EventRequestNotice  EventType = "request.notice"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// EventHandler processes a published event.
type EventHandler func(ctx context.Context, event Event) error

// EventPublisher delivers events to whoever subscribed to them.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateId string    `json:"aggregate_id"`
	Version     int       `json:"version"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at.UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Request Events
// ═══════════════════════════════════════════════════════════════════════════

// RequestNoticeEvent carries a free-form message about a blood request, for
// example the expiration notice sent when no donor answered in time.
type RequestNoticeEvent struct {
	BaseEvent
	RequestID string `json:"request_id"`
	Message   string `json:"message"`
}

// Payload implements Event interface.
func (e RequestNoticeEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"request_id": e.RequestID,
		"message":    e.Message,
	}
}

// NewRequestNoticeEvent creates a notice event. Expiration messages are typed
// as EventRequestExpired so subscribers can filter on them.
func NewRequestNoticeEvent(requestID, message string, expired bool, at time.Time) RequestNoticeEvent {
	t := EventRequestNotice
	if expired {
		t = EventRequestExpired
	}
	return RequestNoticeEvent{
		BaseEvent: NewBaseEvent(t, requestID, at),
		RequestID: requestID,
		Message:   message,
	}
}
