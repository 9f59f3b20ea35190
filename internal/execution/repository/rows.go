package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kandev/execwatch/internal/execution/models"
)

type executionRow struct {
	ID                  string       `db:"id"`
	TaskDescription     string       `db:"task_description"`
	Status              string       `db:"status"`
	CreatedAt           time.Time    `db:"created_at"`
	StartedAt           sql.NullTime `db:"started_at"`
	CompletedAt         sql.NullTime `db:"completed_at"`
	Result              string       `db:"result"`
	Error               string       `db:"error"`
	TotalAgents         int          `db:"total_agents"`
	TotalTasks          int          `db:"total_tasks"`
	TotalToolExecutions int          `db:"total_tool_executions"`
	LastUpdated         time.Time    `db:"last_updated"`
}

func (row *executionRow) toModel() *models.Execution {
	e := &models.Execution{
		ID:                  row.ID,
		TaskDescription:     row.TaskDescription,
		Status:              models.ExecutionStatus(row.Status),
		CreatedAt:           row.CreatedAt.UTC(),
		Result:              row.Result,
		Error:               row.Error,
		TotalAgents:         row.TotalAgents,
		TotalTasks:          row.TotalTasks,
		TotalToolExecutions: row.TotalToolExecutions,
		LastUpdated:         row.LastUpdated.UTC(),
	}
	if row.StartedAt.Valid {
		e.StartedAt = models.Ptr(row.StartedAt.Time.UTC())
	}
	if row.CompletedAt.Valid {
		e.CompletedAt = models.Ptr(row.CompletedAt.Time.UTC())
	}
	return e
}

type agentRow struct {
	ID          string    `db:"id"`
	AgentID     string    `db:"agent_id"`
	ExecutionID string    `db:"execution_id"`
	Role        string    `db:"role"`
	Status      string    `db:"status"`
	CurrentTask string    `db:"current_task"`
	LastUpdated time.Time `db:"last_updated"`
}

func (row *agentRow) toModel() *models.Agent {
	return &models.Agent{
		ID:          row.ID,
		AgentID:     row.AgentID,
		ExecutionID: row.ExecutionID,
		Role:        row.Role,
		Status:      models.AgentStatus(row.Status),
		CurrentTask: row.CurrentTask,
		LastUpdated: row.LastUpdated.UTC(),
	}
}

type taskRow struct {
	ID              string    `db:"id"`
	ExecutionID     string    `db:"execution_id"`
	AgentID         string    `db:"agent_id"`
	TaskDescription string    `db:"task_description"`
	Status          string    `db:"status"`
	Priority        int       `db:"priority"`
	Iterations      int       `db:"iterations"`
	MaxIterations   int       `db:"max_iterations"`
	Result          string    `db:"result"`
	Error           string    `db:"error"`
	LastUpdated     time.Time `db:"last_updated"`
}

func (row *taskRow) toModel() *models.Task {
	return &models.Task{
		ID:              row.ID,
		ExecutionID:     row.ExecutionID,
		AgentID:         row.AgentID,
		TaskDescription: row.TaskDescription,
		Status:          models.TaskStatus(row.Status),
		Priority:        row.Priority,
		Iterations:      row.Iterations,
		MaxIterations:   row.MaxIterations,
		Result:          row.Result,
		Error:           row.Error,
		LastUpdated:     row.LastUpdated.UTC(),
	}
}

type toolExecutionRow struct {
	ID              string        `db:"id"`
	ExecutionID     string        `db:"execution_id"`
	TaskID          string        `db:"task_id"`
	AgentID         string        `db:"agent_id"`
	ToolName        string        `db:"tool_name"`
	MCPServer       string        `db:"mcp_server"`
	Arguments       string        `db:"arguments"`
	Status          string        `db:"status"`
	Result          string        `db:"result"`
	Error           string        `db:"error"`
	ExecutionTimeMs sql.NullInt64 `db:"execution_time_ms"`
	HumanApproved   int           `db:"human_approved"`
	ApprovalID      string        `db:"approval_id"`
	ThreadID        string        `db:"thread_id"`
	LastUpdated     time.Time     `db:"last_updated"`
}

func (row *toolExecutionRow) toModel() (*models.ToolExecution, error) {
	te := &models.ToolExecution{
		ID:            row.ID,
		ExecutionID:   row.ExecutionID,
		TaskID:        row.TaskID,
		AgentID:       row.AgentID,
		ToolName:      row.ToolName,
		MCPServer:     row.MCPServer,
		Status:        models.ToolStatus(row.Status),
		Result:        row.Result,
		Error:         row.Error,
		HumanApproved: row.HumanApproved == 1,
		ApprovalID:    row.ApprovalID,
		ThreadID:      row.ThreadID,
		LastUpdated:   row.LastUpdated.UTC(),
	}
	if row.ExecutionTimeMs.Valid {
		te.ExecutionTimeMs = models.Ptr(row.ExecutionTimeMs.Int64)
	}
	if row.Arguments != "" && row.Arguments != "{}" {
		if err := json.Unmarshal([]byte(row.Arguments), &te.Arguments); err != nil {
			return nil, fmt.Errorf("failed to deserialize tool arguments: %w", err)
		}
	}
	return te, nil
}

type logRow struct {
	ID          string    `db:"id"`
	ExecutionID string    `db:"execution_id"`
	LogType     string    `db:"log_type"`
	Message     string    `db:"message"`
	Timestamp   time.Time `db:"logged_at"`
	AgentRole   string    `db:"agent_role"`
	ToolName    string    `db:"tool_name"`
}

func (row *logRow) toModel() *models.LogEntry {
	return &models.LogEntry{
		ID:          row.ID,
		ExecutionID: row.ExecutionID,
		LogType:     models.LogType(row.LogType),
		Message:     row.Message,
		Timestamp:   row.Timestamp.UTC(),
		AgentRole:   row.AgentRole,
		ToolName:    row.ToolName,
	}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nowIfZero(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
