package logs

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kandev/execwatch/internal/execution/models"
)

const defaultTrackedExecutions = 16

type executionLogs struct {
	local []*models.LogEntry
	live  []*models.LogEntry
}

// Buffer keeps bounded in-memory local and live entries for the most
// recently touched executions. Older executions are evicted whole.
type Buffer struct {
	mu       sync.Mutex
	capacity int
	cache    *lru.Cache[string, *executionLogs]
}

// NewBuffer creates a Buffer holding at most capacity entries per source
// and execution.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	cache, err := lru.New[string, *executionLogs](defaultTrackedExecutions)
	if err != nil {
		// lru.New only fails on a non-positive size.
		panic(err)
	}
	return &Buffer{capacity: capacity, cache: cache}
}

func (b *Buffer) get(executionID string) *executionLogs {
	if el, ok := b.cache.Get(executionID); ok {
		return el
	}
	el := &executionLogs{}
	b.cache.Add(executionID, el)
	return el
}

func (b *Buffer) bounded(entries []*models.LogEntry, e *models.LogEntry) []*models.LogEntry {
	entries = append(entries, e)
	if over := len(entries) - b.capacity; over > 0 {
		entries = append(entries[:0:0], entries[over:]...)
	}
	return entries
}

// AppendLocal records an entry produced by a local transition.
func (b *Buffer) AppendLocal(entry *models.LogEntry) {
	if entry == nil || entry.ExecutionID == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	el := b.get(entry.ExecutionID)
	el.local = b.bounded(el.local, entry.Clone())
}

// AppendLive records a streamed fragment. Entries are always marked live.
func (b *Buffer) AppendLive(executionID string, entry *models.LogEntry) {
	if entry == nil || executionID == "" {
		return
	}
	c := entry.Clone()
	c.ExecutionID = executionID
	c.IsLive = true

	b.mu.Lock()
	defer b.mu.Unlock()
	el := b.get(executionID)
	el.live = b.bounded(el.live, c)
}

// Local returns a copy of the local entries for an execution.
func (b *Buffer) Local(executionID string) []*models.LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	el, ok := b.cache.Peek(executionID)
	if !ok {
		return nil
	}
	return cloneAll(el.local)
}

// Live returns a copy of the live entries for an execution.
func (b *Buffer) Live(executionID string) []*models.LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	el, ok := b.cache.Peek(executionID)
	if !ok {
		return nil
	}
	return cloneAll(el.live)
}

// Reset drops everything held for an execution.
func (b *Buffer) Reset(executionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache.Remove(executionID)
}

// ResetAll drops every execution.
func (b *Buffer) ResetAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache.Purge()
}

func cloneAll(entries []*models.LogEntry) []*models.LogEntry {
	out := make([]*models.LogEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Clone())
	}
	return out
}
