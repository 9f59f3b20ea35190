package websocket

// Command actions (client -> orchestrator)
const (
	ActionWorkflowResume       = "workflow.resume"
	ActionToolApprovalDeny     = "tool.approval.deny"
	ActionExecutionDelete      = "execution.delete"
	ActionExecutionForceDelete = "execution.force_delete"
	ActionExecutionNuke        = "execution.nuke"
	ActionHealthCheck          = "health.check"
)

// Error codes
const (
	ErrorCodeBadRequest    = "BAD_REQUEST"
	ErrorCodeNotFound      = "NOT_FOUND"
	ErrorCodeInternalError = "INTERNAL_ERROR"
	ErrorCodeUnknownAction = "UNKNOWN_ACTION"
)
