package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInteractionStore(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s := NewInteractionStore(time.Minute)
	s.now = func() time.Time { return now }

	s.Put(Interaction{ToolCallID: "tc1", ThreadID: "th1", ExecutionID: "e1"})
	s.Put(Interaction{ToolCallID: "", ThreadID: "th2"})

	in, ok := s.ByToolCall("tc1")
	require.True(t, ok)
	assert.Equal(t, "th1", in.ThreadID)
	in, ok = s.ByThread("th1")
	require.True(t, ok)
	assert.Equal(t, "tc1", in.ToolCallID)
	assert.Equal(t, 1, s.Len())

	s.Put(Interaction{ToolCallID: "tc1", ThreadID: "th1b", ExecutionID: "e1"})
	_, ok = s.ByThread("th1")
	assert.False(t, ok, "replaced thread is unlinked")
	_, ok = s.ByThread("th1b")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = s.ByToolCall("tc1")
	assert.False(t, ok, "expired")
	assert.Equal(t, 1, s.CleanupExpired())
	assert.Equal(t, 0, s.Len())
}

func TestInteractionStore_RemoveAndRetain(t *testing.T) {
	s := NewInteractionStore(0)
	s.Put(Interaction{ToolCallID: "tc1", ThreadID: "th1", ExecutionID: "e1"})
	s.Put(Interaction{ToolCallID: "tc2", ThreadID: "th2", ExecutionID: "e2"})

	s.Remove("tc1")
	s.Remove("unknown")
	_, ok := s.ByThread("th1")
	assert.False(t, ok)

	s.RetainExecution("e1")
	assert.Equal(t, 0, s.Len())
}

func TestInteractionStore_RunCleanup(t *testing.T) {
	s := NewInteractionStore(time.Millisecond)
	s.Put(Interaction{ToolCallID: "tc1", ThreadID: "th1", CreatedAt: time.Now().Add(-time.Hour)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.RunCleanup(ctx, 5*time.Millisecond)
		close(done)
	}()
	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
