// Package approval drives the per-call tool approval state machine,
// including suspend and resume of remote workflows paused on a human
// decision.
package approval

import (
	"context"
	"time"

	"github.com/kandev/execwatch/internal/execution/models"
	"github.com/kandev/execwatch/internal/execution/reconciler"
)

// InvocationResult is what a tool provider returned.
type InvocationResult struct {
	Success bool
	Data    string
	Error   string
}

// ToolInvoker calls tools on external providers.
type ToolInvoker interface {
	HasServer(server string) bool
	InvokeTool(ctx context.Context, server, toolName string, args map[string]interface{}) (*InvocationResult, error)
}

// ToolExecutionResult reports a local invocation back to a paused workflow.
type ToolExecutionResult struct {
	Success  bool   `json:"success"`
	Result   string `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
	ToolName string `json:"toolName"`
	Server   string `json:"server"`
}

// ResumeResponse is the decision sent to a paused workflow.
type ResumeResponse struct {
	ID                  string               `json:"id"`
	Approved            bool                 `json:"approved"`
	Timestamp           time.Time            `json:"timestamp"`
	ToolExecutionResult *ToolExecutionResult `json:"toolExecutionResult,omitempty"`
}

// ResumeResult is the orchestrator's answer to a resume. Completed is set
// when the workflow ran to the end, with Result holding its final output.
type ResumeResult struct {
	Success   bool   `json:"success"`
	Completed bool   `json:"completed"`
	Result    string `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}

// WorkflowResumer talks to the orchestrator about paused workflows.
type WorkflowResumer interface {
	Resume(ctx context.Context, threadID string, resp *ResumeResponse) (*ResumeResult, error)
	// SendDenial notifies an orchestrator-side approval flow that a call was denied.
	SendDenial(ctx context.Context, executionID, toolCallID string) error
}

// GraphWriter applies optimistic local transitions to the live graph.
type GraphWriter interface {
	ApplyLocal(d models.Delta) reconciler.Decision
}

// Persister stores tool calls and log entries durably.
type Persister interface {
	UpsertToolExecution(ctx context.Context, te *models.ToolExecution) error
	AppendLog(ctx context.Context, entry *models.LogEntry) error
}

// LogSink receives log entries produced by local transitions.
type LogSink interface {
	AppendLocal(entry *models.LogEntry)
}

// transitions lists the allowed status changes. Every non-pending status
// may go back to pending through reset.
var transitions = map[models.ToolStatus][]models.ToolStatus{
	models.ToolStatusPending:   {models.ToolStatusApproved, models.ToolStatusExecuting, models.ToolStatusDenied},
	models.ToolStatusApproved:  {models.ToolStatusExecuting, models.ToolStatusError, models.ToolStatusPending},
	models.ToolStatusExecuting: {models.ToolStatusExecuted, models.ToolStatusError, models.ToolStatusPending},
	models.ToolStatusExecuted:  {models.ToolStatusPending},
	models.ToolStatusError:     {models.ToolStatusPending},
	models.ToolStatusDenied:    {models.ToolStatusPending},
}

// CanTransition reports whether a tool call may move from one status to another.
func CanTransition(from, to models.ToolStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
