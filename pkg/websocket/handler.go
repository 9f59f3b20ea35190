package websocket

import (
	"context"
	"sort"
	"sync"
)

// Handler processes one message. A nil response means nothing is sent back,
// which is what notification handlers return.
type Handler interface {
	Handle(ctx context.Context, msg *Message) (*Message, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *Message) (*Message, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg *Message) (*Message, error) {
	return f(ctx, msg)
}

// Dispatcher routes messages by action. It serves both the orchestrator's
// command actions and the push notifications execwatch consumes, and is safe
// for concurrent registration and dispatch.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	fallback Handler
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register routes action to h, replacing any earlier handler.
func (d *Dispatcher) Register(action string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[action] = h
}

// RegisterFunc routes action to fn.
func (d *Dispatcher) RegisterFunc(action string, fn HandlerFunc) {
	d.Register(action, fn)
}

// RegisterActions routes every action in actions to the same handler.
func (d *Dispatcher) RegisterActions(actions []string, fn HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, a := range actions {
		d.handlers[a] = fn
	}
}

// SetFallback handles actions with no registered handler.
func (d *Dispatcher) SetFallback(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fallback = h
}

// Handles reports whether action has a handler of its own.
func (d *Dispatcher) Handles(action string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[action]
	return ok
}

// Actions returns the registered actions in sorted order.
func (d *Dispatcher) Actions() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.handlers))
	for a := range d.handlers {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Dispatch routes msg. Unrouted actions go to the fallback, or get an
// UNKNOWN_ACTION error response when there is none.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *Message) (*Message, error) {
	d.mu.RLock()
	h, ok := d.handlers[msg.Action]
	fallback := d.fallback
	d.mu.RUnlock()
	switch {
	case ok:
		return h.Handle(ctx, msg)
	case fallback != nil:
		return fallback.Handle(ctx, msg)
	default:
		return NewError(msg.ID, msg.Action, ErrorCodeUnknownAction, "Unknown action: "+msg.Action, nil)
	}
}
