// Package repository persists execution snapshots, tool call state and log
// entries.
package repository

import (
	"context"

	"github.com/kandev/execwatch/internal/execution/models"
)

// Repository is the durable store behind snapshot loads and approval writes.
type Repository interface {
	// SaveExecutionGraph upserts an execution and its subtree. Logs are appended
	// and existing log ids are left untouched.
	SaveExecutionGraph(ctx context.Context, g *models.ExecutionGraph) error
	// GetExecutionGraph returns the stored subtree including logs.
	GetExecutionGraph(ctx context.Context, id string) (*models.ExecutionGraph, error)
	// ListExecutions returns the most recent executions first.
	ListExecutions(ctx context.Context, limit int) ([]*models.Execution, error)

	UpsertToolExecution(ctx context.Context, te *models.ToolExecution) error
	AppendLog(ctx context.Context, entry *models.LogEntry) error
	ListLogs(ctx context.Context, executionID string) ([]*models.LogEntry, error)

	DeleteExecution(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error

	Close() error
}
