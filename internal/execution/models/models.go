// Package models defines the execution graph entities and the typed deltas
// that mutate them.
package models

import (
	"time"
)

// ExecutionStatus is the lifecycle state of an execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	// ExecutionStatusAborted is set locally and never reported by the orchestrator.
	ExecutionStatusAborted ExecutionStatus = "aborted"
)

// IsTerminal reports whether no further progress is expected.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusAborted:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionStatusPending, ExecutionStatusRunning, ExecutionStatusCompleted,
		ExecutionStatusFailed, ExecutionStatusAborted:
		return true
	}
	return false
}

// AgentStatus is the state of an agent.
type AgentStatus string

const (
	AgentStatusIdle      AgentStatus = "idle"
	AgentStatusBusy      AgentStatus = "busy"
	AgentStatusRunning   AgentStatus = "running"
	AgentStatusExecuting AgentStatus = "executing"
	AgentStatusCompleted AgentStatus = "completed"
	AgentStatusFailed    AgentStatus = "failed"
)

// IsActive reports whether the agent is doing work.
func (s AgentStatus) IsActive() bool {
	return s == AgentStatusBusy || s == AgentStatusRunning || s == AgentStatusExecuting
}

// Valid reports whether s is a known status.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusIdle, AgentStatusBusy, AgentStatusRunning, AgentStatusExecuting,
		AgentStatusCompleted, AgentStatusFailed:
		return true
	}
	return false
}

// TaskStatus is the state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusExecuting TaskStatus = "executing"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// IsActive reports whether the task is in progress.
func (s TaskStatus) IsActive() bool {
	return s == TaskStatusRunning || s == TaskStatusExecuting
}

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusExecuting, TaskStatusCompleted, TaskStatusFailed:
		return true
	}
	return false
}

// ToolStatus is the approval state of a tool call.
type ToolStatus string

const (
	ToolStatusPending   ToolStatus = "pending"
	ToolStatusApproved  ToolStatus = "approved"
	ToolStatusExecuting ToolStatus = "executing"
	ToolStatusExecuted  ToolStatus = "executed"
	ToolStatusError     ToolStatus = "error"
	ToolStatusDenied    ToolStatus = "denied"
)

// Valid reports whether s is a known status.
func (s ToolStatus) Valid() bool {
	switch s {
	case ToolStatusPending, ToolStatusApproved, ToolStatusExecuting, ToolStatusExecuted,
		ToolStatusError, ToolStatusDenied:
		return true
	}
	return false
}

// IsFinal reports whether the tool call has an outcome.
func (s ToolStatus) IsFinal() bool {
	return s == ToolStatusExecuted || s == ToolStatusError || s == ToolStatusDenied
}

// LogType classifies a log entry.
type LogType string

const (
	LogTypeInfo           LogType = "info"
	LogTypeStatusUpdate   LogType = "status_update"
	LogTypeAgentExecution LogType = "agent_execution"
	LogTypeToolRequest    LogType = "tool_request"
	LogTypeToolResult     LogType = "tool_result"
	LogTypeWarning        LogType = "warning"
	LogTypeError          LogType = "error"
	LogTypeSynthesis      LogType = "synthesis"
)

// Execution is one root task run.
type Execution struct {
	ID                  string          `json:"id" yaml:"id"`
	TaskDescription     string          `json:"task_description" yaml:"task_description"`
	Status              ExecutionStatus `json:"status" yaml:"status"`
	CreatedAt           time.Time       `json:"created_at" yaml:"created_at"`
	StartedAt           *time.Time      `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	Result              string          `json:"result,omitempty" yaml:"result,omitempty"`
	Error               string          `json:"error,omitempty" yaml:"error,omitempty"`
	TotalAgents         int             `json:"total_agents" yaml:"total_agents"`
	TotalTasks          int             `json:"total_tasks" yaml:"total_tasks"`
	TotalToolExecutions int             `json:"total_tool_executions" yaml:"total_tool_executions"`
	LastUpdated         time.Time       `json:"last_updated" yaml:"last_updated"`
}

// Agent is a worker inside an execution. AgentID is the orchestrator-assigned
// identifier and may differ from ID.
type Agent struct {
	ID          string      `json:"id" yaml:"id"`
	AgentID     string      `json:"agent_id" yaml:"agent_id"`
	ExecutionID string      `json:"execution_id" yaml:"execution_id"`
	Role        string      `json:"role" yaml:"role"`
	Status      AgentStatus `json:"status" yaml:"status"`
	CurrentTask string      `json:"current_task,omitempty" yaml:"current_task,omitempty"`
	LastUpdated time.Time   `json:"last_updated" yaml:"last_updated"`
}

// Task is a unit of work assigned to an agent.
type Task struct {
	ID              string     `json:"id" yaml:"id"`
	ExecutionID     string     `json:"execution_id" yaml:"execution_id"`
	AgentID         string     `json:"agent_id" yaml:"agent_id"`
	TaskDescription string     `json:"task_description" yaml:"task_description"`
	Status          TaskStatus `json:"status" yaml:"status"`
	Priority        int        `json:"priority" yaml:"priority"`
	Iterations      int        `json:"iterations" yaml:"iterations"`
	MaxIterations   int        `json:"max_iterations" yaml:"max_iterations"`
	Result          string     `json:"result,omitempty" yaml:"result,omitempty"`
	Error           string     `json:"error,omitempty" yaml:"error,omitempty"`
	LastUpdated     time.Time  `json:"last_updated" yaml:"last_updated"`
}

// ToolExecution is a single tool call gated by approval.
type ToolExecution struct {
	ID              string                 `json:"id" yaml:"id"`
	ExecutionID     string                 `json:"execution_id" yaml:"execution_id"`
	TaskID          string                 `json:"task_id,omitempty" yaml:"task_id,omitempty"`
	AgentID         string                 `json:"agent_id,omitempty" yaml:"agent_id,omitempty"`
	ToolName        string                 `json:"tool_name" yaml:"tool_name"`
	MCPServer       string                 `json:"mcp_server,omitempty" yaml:"mcp_server,omitempty"`
	Arguments       map[string]interface{} `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	Status          ToolStatus             `json:"status" yaml:"status"`
	Result          string                 `json:"result,omitempty" yaml:"result,omitempty"`
	Error           string                 `json:"error,omitempty" yaml:"error,omitempty"`
	ExecutionTimeMs *int64                 `json:"execution_time_ms,omitempty" yaml:"execution_time_ms,omitempty"`
	HumanApproved   bool                   `json:"human_approved" yaml:"human_approved"`
	ApprovalID      string                 `json:"approval_id,omitempty" yaml:"approval_id,omitempty"`
	ThreadID        string                 `json:"thread_id,omitempty" yaml:"thread_id,omitempty"`
	LastUpdated     time.Time              `json:"last_updated" yaml:"last_updated"`
}

// LogEntry is one line of the execution log.
type LogEntry struct {
	ID          string    `json:"id" yaml:"id"`
	ExecutionID string    `json:"execution_id" yaml:"execution_id"`
	LogType     LogType   `json:"log_type" yaml:"log_type"`
	Message     string    `json:"message" yaml:"message"`
	Timestamp   time.Time `json:"timestamp" yaml:"timestamp"`
	AgentRole   string    `json:"agent_role,omitempty" yaml:"agent_role,omitempty"`
	ToolName    string    `json:"tool_name,omitempty" yaml:"tool_name,omitempty"`
	IsLive      bool      `json:"is_live" yaml:"is_live"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
