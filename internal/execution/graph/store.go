// Package graph holds the canonical in-memory execution graph.
package graph

import (
	"sync"
	"time"

	"github.com/kandev/execwatch/internal/execution/models"
)

// ChangeKind describes what happened to the store.
type ChangeKind string

const (
	ChangeReplaced ChangeKind = "replaced"
	ChangeDelta    ChangeKind = "delta"
	ChangeCleared  ChangeKind = "cleared"
)

// Change is passed to listeners after every successful mutation.
type Change struct {
	Kind        ChangeKind
	ExecutionID string
	DeltaKind   models.DeltaKind
}

// Listener observes store changes. Listeners run synchronously after the
// mutation, outside the store lock, and must not block.
type Listener func(Change)

// Option configures a Store.
type Option func(*Store)

// WithResolvers replaces the agent resolver chain.
func WithResolvers(resolvers ...AgentResolver) Option {
	return func(s *Store) { s.resolvers = resolvers }
}

// WithClock overrides the time source used for last_updated stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store holds at most one execution subtree. It performs no I/O and every
// mutation is applied atomically.
type Store struct {
	mu        sync.RWMutex
	graph     *models.ExecutionGraph
	resolvers []AgentResolver
	now       func() time.Time

	listenersMu  sync.Mutex
	listeners    map[int]Listener
	nextListener int
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		resolvers: DefaultAgentResolvers,
		now:       func() time.Time { return time.Now().UTC() },
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Replace installs a deep copy of g, discarding any previous subtree.
func (s *Store) Replace(g *models.ExecutionGraph) error {
	if err := g.Validate(); err != nil {
		return err
	}
	installed := g.Clone()
	s.mu.Lock()
	s.graph = installed
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeReplaced, ExecutionID: installed.Execution.ID})
	return nil
}

// Clear drops the current subtree.
func (s *Store) Clear() {
	s.mu.Lock()
	id := s.graph.ExecutionID()
	s.graph = nil
	s.mu.Unlock()

	if id != "" {
		s.notify(Change{Kind: ChangeCleared, ExecutionID: id})
	}
}

// CurrentExecutionID returns the id of the loaded execution.
func (s *Store) CurrentExecutionID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id := s.graph.ExecutionID()
	return id, id != ""
}

// IsActive reports whether the loaded execution is still progressing:
// the execution is running or any agent or task is in an active status.
// An aborted execution is never active.
func (s *Store) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return isActive(s.graph)
}

func isActive(g *models.ExecutionGraph) bool {
	if g == nil || g.Execution == nil {
		return false
	}
	if g.Execution.Status == models.ExecutionStatusAborted {
		return false
	}
	if g.Execution.Status == models.ExecutionStatusRunning {
		return true
	}
	for _, a := range g.Agents {
		if a.Status.IsActive() {
			return true
		}
	}
	for _, t := range g.Tasks {
		if t.Status.IsActive() {
			return true
		}
	}
	return false
}

// Snapshot returns a deep copy of the loaded graph, or nil.
func (s *Store) Snapshot() *models.ExecutionGraph {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.Clone()
}

// Execution returns a copy of the loaded execution.
func (s *Store) Execution() (*models.Execution, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.graph == nil {
		return nil, false
	}
	return s.graph.Execution.Clone(), true
}

// ResolveAgent resolves agent references through the resolver chain. Each
// strategy is tried against all refs before the next strategy runs.
func (s *Store) ResolveAgent(refs ...string) (*models.Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.graph == nil {
		return nil, false
	}
	a := resolveAgent(s.resolvers, s.graph.Agents, refs...)
	if a == nil {
		return nil, false
	}
	return a.Clone(), true
}

// ToolExecution returns a copy of a tool call in the loaded graph.
func (s *Store) ToolExecution(id string) (*models.ToolExecution, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.graph == nil {
		return nil, false
	}
	te := findTool(s.graph, id)
	if te == nil {
		return nil, false
	}
	return te.Clone(), true
}

// Subscribe registers a listener and returns a function removing it.
func (s *Store) Subscribe(fn Listener) func() {
	s.listenersMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

func (s *Store) notify(c Change) {
	s.listenersMu.Lock()
	fns := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

// ApplyDelta merges d into the loaded subtree. It returns false without
// mutating anything when the target execution is not loaded or the target
// entity (or, for insertions, its parent) cannot be found.
func (s *Store) ApplyDelta(d models.Delta) bool {
	if d == nil {
		return false
	}
	s.mu.Lock()
	if s.graph == nil || d.TargetExecutionID() != s.graph.Execution.ID {
		s.mu.Unlock()
		return false
	}
	applied := s.apply(d, s.now())
	executionID := s.graph.Execution.ID
	s.mu.Unlock()

	if applied {
		s.notify(Change{Kind: ChangeDelta, ExecutionID: executionID, DeltaKind: d.Kind()})
	}
	return applied
}

func (s *Store) apply(d models.Delta, now time.Time) bool {
	g := s.graph
	switch d := d.(type) {
	case *models.AgentDelta:
		if d.AgentID == "" {
			return false
		}
		a := findAgent(g, d.AgentID)
		if a == nil {
			return false
		}
		if d.Status != nil && d.Status.Valid() {
			a.Status = *d.Status
		}
		if d.CurrentTask != nil {
			a.CurrentTask = *d.CurrentTask
		}
		a.LastUpdated = now
		return true

	case *models.TaskDelta:
		t := findTask(g, d.TaskID)
		if t == nil {
			return false
		}
		if d.Status != nil && d.Status.Valid() {
			t.Status = *d.Status
		}
		if d.Result != nil {
			t.Result = *d.Result
		}
		if d.Error != nil {
			t.Error = *d.Error
		}
		t.LastUpdated = now
		return true

	case *models.ToolDelta:
		te := findTool(g, d.ToolExecutionID)
		if te == nil {
			return false
		}
		if d.Status != nil && d.Status.Valid() {
			te.Status = *d.Status
		}
		if d.Result != nil {
			te.Result = *d.Result
		}
		if d.Error != nil {
			te.Error = *d.Error
		}
		if d.ClearExecutionTime {
			te.ExecutionTimeMs = nil
		}
		if d.ExecutionTimeMs != nil {
			te.ExecutionTimeMs = models.Ptr(*d.ExecutionTimeMs)
		}
		if d.HumanApproved != nil {
			te.HumanApproved = *d.HumanApproved
		}
		te.LastUpdated = now
		return true

	case *models.ExecutionDelta:
		e := g.Execution
		if d.Status != nil && d.Status.Valid() && e.Status != models.ExecutionStatusAborted {
			e.Status = *d.Status
			if e.Status == models.ExecutionStatusRunning && e.StartedAt == nil {
				e.StartedAt = models.Ptr(now)
			}
			if e.Status.IsTerminal() && e.CompletedAt == nil {
				e.CompletedAt = models.Ptr(now)
			}
		}
		if d.Result != nil {
			e.Result = *d.Result
		}
		if d.Error != nil {
			e.Error = *d.Error
		}
		e.LastUpdated = now
		return true

	case *models.AgentCreated:
		if d.Agent == nil || d.Agent.ID == "" {
			return false
		}
		if findAgent(g, d.Agent.ID) != nil {
			return true
		}
		a := d.Agent.Clone()
		a.LastUpdated = now
		g.Agents = append(g.Agents, a)
		g.Execution.TotalAgents = max(g.Execution.TotalAgents, len(g.Agents))
		return true

	case *models.TaskCreated:
		if d.Task == nil || d.Task.ID == "" {
			return false
		}
		if existing := findTask(g, d.Task.ID); existing != nil {
			// A full task re-delivered by task_updated refreshes its mutable fields.
			if d.Task.Status.Valid() {
				existing.Status = d.Task.Status
			}
			if d.Task.Result != "" {
				existing.Result = d.Task.Result
			}
			if d.Task.Error != "" {
				existing.Error = d.Task.Error
			}
			existing.LastUpdated = now
			return true
		}
		parent := resolveAgent(s.resolvers, g.Agents, d.Task.AgentID)
		if parent == nil {
			return false
		}
		t := d.Task.Clone()
		t.AgentID = parent.ID
		t.LastUpdated = now
		g.Tasks = append(g.Tasks, t)
		g.Execution.TotalTasks = max(g.Execution.TotalTasks, len(g.Tasks))
		return true

	case *models.ToolCreated:
		if d.Tool == nil || d.Tool.ID == "" {
			return false
		}
		if findTool(g, d.Tool.ID) != nil {
			return true
		}
		te := d.Tool.Clone()
		if !s.attachTool(g, te) {
			return false
		}
		te.LastUpdated = now
		g.ToolExecutions = append(g.ToolExecutions, te)
		g.Execution.TotalToolExecutions = max(g.Execution.TotalToolExecutions, len(g.ToolExecutions))
		return true
	}
	return false
}

// attachTool resolves the parent of a new tool call: its task when one
// matches, otherwise its agent. A call naming neither hangs off the execution.
func (s *Store) attachTool(g *models.ExecutionGraph, te *models.ToolExecution) bool {
	if te.TaskID == "" && te.AgentID == "" {
		return true
	}
	if te.TaskID != "" {
		if t := findTask(g, te.TaskID); t != nil {
			if te.AgentID == "" {
				te.AgentID = t.AgentID
			}
			return true
		}
	}
	if te.AgentID != "" {
		if a := resolveAgent(s.resolvers, g.Agents, te.AgentID); a != nil {
			te.TaskID = ""
			te.AgentID = a.ID
			return true
		}
	}
	return false
}

func findAgent(g *models.ExecutionGraph, id string) *models.Agent {
	for _, a := range g.Agents {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func findTask(g *models.ExecutionGraph, id string) *models.Task {
	for _, t := range g.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func findTool(g *models.ExecutionGraph, id string) *models.ToolExecution {
	for _, te := range g.ToolExecutions {
		if te.ID == id {
			return te
		}
	}
	return nil
}
