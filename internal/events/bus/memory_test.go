package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/execwatch/internal/common/logger"
)

func newTestBus(t *testing.T) *MemoryEventBus {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stderr"})
	require.NoError(t, err)
	b := NewMemoryEventBus(log)
	t.Cleanup(b.Close)
	return b
}

func TestMemoryEventBus_PublishSubscribe(t *testing.T) {
	b := newTestBus(t)
	received := make(chan *Event, 1)

	sub, err := b.Subscribe("test.subject", func(ctx context.Context, event *Event) error {
		received <- event
		return nil
	})
	require.NoError(t, err)
	assert.True(t, sub.IsValid())

	event := NewEvent("agent_updated", "test", map[string]interface{}{"key": "value"})
	require.NoError(t, b.Publish(context.Background(), "test.subject", event))

	select {
	case got := <-received:
		assert.Equal(t, event.ID, got.ID)
		assert.Equal(t, "value", got.Data["key"])
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestMemoryEventBus_PreservesOrder(t *testing.T) {
	b := newTestBus(t)

	var mu sync.Mutex
	var got []string
	_, err := b.Subscribe("execwatch.events.>", func(ctx context.Context, event *Event) error {
		mu.Lock()
		got = append(got, event.ID)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	var want []string
	for i := 0; i < 50; i++ {
		e := NewEvent("task_updated", "test", nil)
		want = append(want, e.ID)
		require.NoError(t, b.Publish(context.Background(), "execwatch.events.task_updated", e))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == len(want)
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, got)
}

func TestMemoryEventBus_Wildcards(t *testing.T) {
	tests := []struct {
		pattern string
		subject string
		want    bool
	}{
		{"a.b", "a.b", true},
		{"a.b", "a.c", false},
		{"a.*", "a.b", true},
		{"a.*", "a.b.c", false},
		{"a.>", "a.b.c", true},
		{"a.>", "a", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.subject, func(t *testing.T) {
			assert.Equal(t, tt.want, matches(tt.subject, tt.pattern, compilePattern(tt.pattern)))
		})
	}
}

func TestMemoryEventBus_UnsubscribeAndClose(t *testing.T) {
	b := newTestBus(t)
	calls := make(chan struct{}, 10)

	sub, err := b.Subscribe("x", func(ctx context.Context, event *Event) error {
		calls <- struct{}{}
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())
	assert.False(t, sub.IsValid())

	require.NoError(t, b.Publish(context.Background(), "x", NewEvent("x", "test", nil)))
	select {
	case <-calls:
		t.Fatal("unsubscribed handler was called")
	case <-time.After(50 * time.Millisecond):
	}

	b.Close()
	assert.False(t, b.IsConnected())
	assert.ErrorIs(t, b.Publish(context.Background(), "x", NewEvent("x", "test", nil)), ErrClosed)
	_, err = b.Subscribe("x", func(ctx context.Context, event *Event) error { return nil })
	assert.Error(t, err)
}

func TestEvent_Helpers(t *testing.T) {
	ts := time.Date(2026, 4, 2, 8, 0, 0, 0, time.FixedZone("CET", 3600))
	e := NewEventAt("agent_updated", "orchestrator-ws", ts, map[string]interface{}{"executionId": "e9"})
	assert.Equal(t, time.UTC, e.Timestamp.Location())
	assert.True(t, ts.Equal(e.Timestamp))
	assert.Equal(t, "e9", e.ExecutionID())
	assert.NoError(t, e.Validate())

	assert.False(t, NewEventAt("x", "test", time.Time{}, nil).Timestamp.IsZero())
	assert.Equal(t, "", NewEvent("x", "test", map[string]interface{}{"execution_id": 7}).ExecutionID())

	var nilEvent *Event
	assert.Error(t, nilEvent.Validate())
	assert.Equal(t, "", nilEvent.ExecutionID())

	b := newTestBus(t)
	assert.Error(t, b.Publish(context.Background(), "x", &Event{}))
}
