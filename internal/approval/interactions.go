package approval

import (
	"context"
	"sync"
	"time"
)

// Interaction is a pending human decision on a tool call whose remote
// workflow is paused. ThreadID identifies the paused workflow.
type Interaction struct {
	ToolCallID  string
	ThreadID    string
	ExecutionID string
	CreatedAt   time.Time
}

// InteractionStore holds pending interactions keyed by tool call id and by
// thread id. Entries older than the timeout are treated as gone.
type InteractionStore struct {
	mu       sync.RWMutex
	byCall   map[string]*Interaction
	byThread map[string]*Interaction
	timeout  time.Duration
	now      func() time.Time
}

// NewInteractionStore creates an interaction store.
func NewInteractionStore(timeout time.Duration) *InteractionStore {
	if timeout <= 0 {
		timeout = time.Hour
	}
	return &InteractionStore{
		byCall:   make(map[string]*Interaction),
		byThread: make(map[string]*Interaction),
		timeout:  timeout,
		now:      time.Now,
	}
}

// Put records an interaction, replacing any previous record for the same
// tool call.
func (s *InteractionStore) Put(in Interaction) {
	if in.ToolCallID == "" || in.ThreadID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.CreatedAt.IsZero() {
		in.CreatedAt = s.now()
	}
	if prev, ok := s.byCall[in.ToolCallID]; ok {
		delete(s.byThread, prev.ThreadID)
	}
	rec := in
	s.byCall[in.ToolCallID] = &rec
	s.byThread[in.ThreadID] = &rec
}

// ByToolCall returns the live interaction for a tool call.
func (s *InteractionStore) ByToolCall(toolCallID string) (Interaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live(s.byCall[toolCallID])
}

// ByThread returns the live interaction for a paused workflow thread.
func (s *InteractionStore) ByThread(threadID string) (Interaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live(s.byThread[threadID])
}

func (s *InteractionStore) live(rec *Interaction) (Interaction, bool) {
	if rec == nil || s.now().Sub(rec.CreatedAt) > s.timeout {
		return Interaction{}, false
	}
	return *rec, true
}

// Remove drops the interaction of a tool call.
func (s *InteractionStore) Remove(toolCallID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.byCall[toolCallID]; ok {
		delete(s.byThread, rec.ThreadID)
		delete(s.byCall, toolCallID)
	}
}

// RetainExecution drops every interaction that does not belong to keepID.
func (s *InteractionStore) RetainExecution(keepID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.byCall {
		if rec.ExecutionID != keepID {
			delete(s.byThread, rec.ThreadID)
			delete(s.byCall, id)
		}
	}
}

// CleanupExpired removes expired interactions.
// Returns the number of interactions cleaned up.
func (s *InteractionStore) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	now := s.now()
	for id, rec := range s.byCall {
		if now.Sub(rec.CreatedAt) > s.timeout {
			delete(s.byThread, rec.ThreadID)
			delete(s.byCall, id)
			count++
		}
	}
	return count
}

// Len returns the number of stored interactions, expired ones included.
func (s *InteractionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byCall)
}

// RunCleanup sweeps expired interactions every interval until ctx is done.
func (s *InteractionStore) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CleanupExpired()
		}
	}
}
