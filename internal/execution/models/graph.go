package models

import (
	"errors"
	"maps"
)

// ExecutionGraph is one execution with its full subtree.
type ExecutionGraph struct {
	Execution      *Execution       `json:"execution" yaml:"execution"`
	Agents         []*Agent         `json:"agents" yaml:"agents"`
	Tasks          []*Task          `json:"tasks" yaml:"tasks"`
	ToolExecutions []*ToolExecution `json:"tool_executions" yaml:"tool_executions"`
	Logs           []*LogEntry      `json:"logs,omitempty" yaml:"logs,omitempty"`
}

var (
	// ErrNilGraph is returned when a snapshot carries no graph.
	ErrNilGraph = errors.New("execution graph is nil")
	// ErrMissingExecutionID is returned when a snapshot has no execution id.
	ErrMissingExecutionID = errors.New("execution graph has no execution id")
)

// Validate rejects graphs that cannot be installed.
func (g *ExecutionGraph) Validate() error {
	if g == nil {
		return ErrNilGraph
	}
	if g.Execution == nil || g.Execution.ID == "" {
		return ErrMissingExecutionID
	}
	return nil
}

// ExecutionID returns the id of the root execution, or "".
func (g *ExecutionGraph) ExecutionID() string {
	if g == nil || g.Execution == nil {
		return ""
	}
	return g.Execution.ID
}

// Clone returns a deep copy of the graph.
func (g *ExecutionGraph) Clone() *ExecutionGraph {
	if g == nil {
		return nil
	}
	out := &ExecutionGraph{
		Execution:      g.Execution.Clone(),
		Agents:         make([]*Agent, 0, len(g.Agents)),
		Tasks:          make([]*Task, 0, len(g.Tasks)),
		ToolExecutions: make([]*ToolExecution, 0, len(g.ToolExecutions)),
	}
	for _, a := range g.Agents {
		out.Agents = append(out.Agents, a.Clone())
	}
	for _, t := range g.Tasks {
		out.Tasks = append(out.Tasks, t.Clone())
	}
	for _, te := range g.ToolExecutions {
		out.ToolExecutions = append(out.ToolExecutions, te.Clone())
	}
	if g.Logs != nil {
		out.Logs = make([]*LogEntry, 0, len(g.Logs))
		for _, l := range g.Logs {
			out.Logs = append(out.Logs, l.Clone())
		}
	}
	return out
}

// Clone returns a copy of the execution.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	c := *e
	if e.StartedAt != nil {
		c.StartedAt = Ptr(*e.StartedAt)
	}
	if e.CompletedAt != nil {
		c.CompletedAt = Ptr(*e.CompletedAt)
	}
	return &c
}

// Clone returns a copy of the agent.
func (a *Agent) Clone() *Agent {
	if a == nil {
		return nil
	}
	c := *a
	return &c
}

// Clone returns a copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Clone returns a copy of the tool execution. Arguments are copied one level deep.
func (te *ToolExecution) Clone() *ToolExecution {
	if te == nil {
		return nil
	}
	c := *te
	if te.Arguments != nil {
		c.Arguments = maps.Clone(te.Arguments)
	}
	if te.ExecutionTimeMs != nil {
		c.ExecutionTimeMs = Ptr(*te.ExecutionTimeMs)
	}
	return &c
}

// Clone returns a copy of the log entry.
func (l *LogEntry) Clone() *LogEntry {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}
