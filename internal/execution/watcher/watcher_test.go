package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/execwatch/internal/common/logger"
	"github.com/kandev/execwatch/internal/events"
	"github.com/kandev/execwatch/internal/events/bus"
)

// mockEventBus implements bus.EventBus for testing
type mockEventBus struct {
	bus.EventBus
	subscribeErr error
}

func (b *mockEventBus) Subscribe(subject string, handler bus.EventHandler) (bus.Subscription, error) {
	return nil, b.subscribeErr
}

type recorder struct {
	mu     sync.Mutex
	events []*bus.Event
}

func (r *recorder) handle(_ context.Context, e *bus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func TestWatcher_DispatchesInOrder(t *testing.T) {
	eventBus := bus.NewMemoryEventBus(logger.NewNop())
	defer eventBus.Close()

	rec := &recorder{}
	w := NewWatcher(eventBus, rec.handle, logger.NewNop())
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Start(context.Background()), "second start is a no-op")
	assert.True(t, w.IsRunning())

	publish := func(topic string) {
		require.NoError(t, eventBus.Publish(context.Background(), events.BuildTopicSubject(topic),
			bus.NewEvent(topic, "test", map[string]interface{}{"execution_id": "e1"})))
	}
	publish(events.ExecutionCreated)
	publish(events.AgentUpdated)
	publish("not_a_topic")
	publish(events.ToolApprovalRequest)

	want := []string{events.ExecutionCreated, events.AgentUpdated, events.ToolApprovalRequest}
	require.Eventually(t, func() bool { return len(rec.types()) == len(want) }, time.Second, time.Millisecond)
	assert.Equal(t, want, rec.types())

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
	publish(events.TaskUpdated)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, rec.types(), len(want))
	require.NoError(t, w.Stop())
}

func TestWatcher_SubscribeError(t *testing.T) {
	w := NewWatcher(&mockEventBus{subscribeErr: errors.New("boom")}, nil, logger.NewNop())
	assert.Error(t, w.Start(context.Background()))
	assert.False(t, w.IsRunning())
}
