// Package watcher subscribes to the push channel and hands execution events
// to a single handler in arrival order.
package watcher

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/execwatch/internal/common/logger"
	"github.com/kandev/execwatch/internal/events"
	"github.com/kandev/execwatch/internal/events/bus"
)

// EventHandler consumes one execution event.
type EventHandler func(ctx context.Context, event *bus.Event)

// Watcher subscribes to events and dispatches to the handler
type Watcher struct {
	eventBus bus.EventBus
	handler  EventHandler
	logger   *logger.Logger

	subscription bus.Subscription
	mu           sync.Mutex
	running      bool
}

// NewWatcher creates a new event watcher
func NewWatcher(eventBus bus.EventBus, handler EventHandler, log *logger.Logger) *Watcher {
	return &Watcher{
		eventBus: eventBus,
		handler:  handler,
		logger:   log.WithFields(zap.String("component", "watcher")),
	}
}

// Start begins watching for events. One subscription covers every topic so
// the handler sees events in publish order.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	w.logger.Info("Starting event watcher")
	sub, err := w.eventBus.Subscribe(events.AllTopicsSubject, w.dispatch)
	if err != nil {
		w.logger.Error("Failed to subscribe to execution events", zap.Error(err))
		return err
	}
	w.subscription = sub
	w.running = true
	w.logger.Info("Event watcher started")
	return nil
}

// Stop stops watching for events
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	w.logger.Info("Stopping event watcher")
	if w.subscription != nil && w.subscription.IsValid() {
		if err := w.subscription.Unsubscribe(); err != nil {
			w.logger.Error("Failed to unsubscribe", zap.Error(err))
		}
	}
	w.subscription = nil
	w.running = false
	w.logger.Info("Event watcher stopped")
	return nil
}

// IsRunning returns true if the watcher is active
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) dispatch(ctx context.Context, event *bus.Event) error {
	if event == nil || !events.IsTopic(event.Type) {
		if event != nil {
			w.logger.Debug("ignoring event with unknown topic", zap.String("type", event.Type))
		}
		return nil
	}
	if w.handler == nil {
		return nil
	}
	w.logger.Debug("dispatching event",
		zap.String("type", event.Type), zap.String("execution_id", event.ExecutionID()))
	w.handler(ctx, event)
	return nil
}
