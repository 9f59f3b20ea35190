// Package constants provides application-wide constants and timeouts.
package constants

import "time"

// Timeouts for various operations.
const (
	// ToolInvocationTimeout bounds a single tool invocation against an MCP server.
	ToolInvocationTimeout = 30 * time.Second

	// ResumeTimeout bounds a workflow resume request to the orchestrator.
	ResumeTimeout = 30 * time.Second

	// SnapshotLoadTimeout bounds a single snapshot read from durable storage.
	SnapshotLoadTimeout = 10 * time.Second

	// PersistTimeout bounds a background persistence write after a local transition.
	PersistTimeout = 5 * time.Second

	// InteractionCleanupInterval is how often expired human interactions are swept.
	InteractionCleanupInterval = time.Minute

	// ShutdownTimeout bounds graceful shutdown of the serve command.
	ShutdownTimeout = 10 * time.Second
)

// Limits.
const (
	// DefaultLogBufferSize caps the local and live log buffers per execution.
	DefaultLogBufferSize = 2000

	// DefaultHistoryLimit is the default number of executions returned by history queries.
	DefaultHistoryLimit = 50
)
