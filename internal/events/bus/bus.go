// Package bus carries orchestrator push events to execwatch, over NATS or in
// process.
package bus

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrClosed is returned when publishing on a closed bus.
var ErrClosed = errors.New("event bus is closed")

// Event is one orchestrator push event. Type is the topic name and Data the
// decoded JSON payload.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"` // orchestrator-ws, nats or test
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent creates an event stamped now.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return NewEventAt(eventType, source, time.Now().UTC(), data)
}

// NewEventAt creates an event carrying the producer's timestamp. A zero ts
// is replaced by the current time.
func NewEventAt(eventType, source string, ts time.Time, data map[string]interface{}) *Event {
	if ts.IsZero() {
		ts = time.Now()
	}
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: ts.UTC(),
		Data:      data,
	}
}

// ExecutionID returns the execution the event belongs to, or "".
func (e *Event) ExecutionID() string {
	if e == nil {
		return ""
	}
	for _, key := range []string{"execution_id", "executionId"} {
		if v, ok := e.Data[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// Validate rejects events that cannot be routed.
func (e *Event) Validate() error {
	switch {
	case e == nil:
		return errors.New("nil event")
	case e.Type == "":
		return errors.New("event has no type")
	}
	return nil
}

// EventHandler handles one event. Handlers of a subscription are called one
// at a time in publish order.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription is an active subscription.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus is the push channel.
type EventBus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	// Subscribe accepts NATS-style wildcards in subject.
	Subscribe(subject string, handler EventHandler) (Subscription, error)
	Close()
	IsConnected() bool
}
