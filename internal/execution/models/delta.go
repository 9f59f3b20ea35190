package models

// DeltaKind names a Delta variant.
type DeltaKind string

const (
	DeltaKindAgent        DeltaKind = "agent"
	DeltaKindTask         DeltaKind = "task"
	DeltaKindTool         DeltaKind = "tool"
	DeltaKindExecution    DeltaKind = "execution"
	DeltaKindAgentCreated DeltaKind = "agent_created"
	DeltaKindTaskCreated  DeltaKind = "task_created"
	DeltaKindToolCreated  DeltaKind = "tool_created"
	DeltaKindLogFragment  DeltaKind = "log_fragment"
)

// Delta is a typed incremental update to one entity of an execution subtree.
// The set of implementations is closed.
type Delta interface {
	TargetExecutionID() string
	Kind() DeltaKind
	isDelta()
}

// AgentDelta updates an agent. AgentRef is the identifier as received;
// AgentID is the resolved internal id and is empty when resolution failed.
type AgentDelta struct {
	ExecutionID string
	AgentRef    string
	AgentID     string
	Status      *AgentStatus
	CurrentTask *string
}

// TaskDelta updates a task.
type TaskDelta struct {
	ExecutionID string
	TaskID      string
	Status      *TaskStatus
	Result      *string
	Error       *string
}

// ToolDelta updates a tool call.
type ToolDelta struct {
	ExecutionID     string
	ToolExecutionID string
	Status          *ToolStatus
	Result          *string
	Error           *string
	ExecutionTimeMs *int64
	// ClearExecutionTime drops a recorded execution time, as on reset.
	ClearExecutionTime bool
	HumanApproved      *bool
}

// ExecutionDelta updates the root execution.
type ExecutionDelta struct {
	ExecutionID string
	Status      *ExecutionStatus
	Result      *string
	Error       *string
}

// AgentCreated inserts an agent. Re-delivery of a known agent is a no-op.
type AgentCreated struct {
	Agent *Agent
}

// TaskCreated inserts a task. Task.AgentID may be any agent reference.
type TaskCreated struct {
	Task *Task
}

// ToolCreated inserts a tool call.
type ToolCreated struct {
	Tool *ToolExecution
}

// LogFragment appends a streamed log line.
type LogFragment struct {
	ExecutionID string
	Entry       *LogEntry
}

func (d *AgentDelta) TargetExecutionID() string     { return d.ExecutionID }
func (d *TaskDelta) TargetExecutionID() string      { return d.ExecutionID }
func (d *ToolDelta) TargetExecutionID() string      { return d.ExecutionID }
func (d *ExecutionDelta) TargetExecutionID() string { return d.ExecutionID }
func (d *LogFragment) TargetExecutionID() string    { return d.ExecutionID }

func (d *AgentCreated) TargetExecutionID() string {
	if d.Agent == nil {
		return ""
	}
	return d.Agent.ExecutionID
}

func (d *TaskCreated) TargetExecutionID() string {
	if d.Task == nil {
		return ""
	}
	return d.Task.ExecutionID
}

func (d *ToolCreated) TargetExecutionID() string {
	if d.Tool == nil {
		return ""
	}
	return d.Tool.ExecutionID
}

func (*AgentDelta) Kind() DeltaKind     { return DeltaKindAgent }
func (*TaskDelta) Kind() DeltaKind      { return DeltaKindTask }
func (*ToolDelta) Kind() DeltaKind      { return DeltaKindTool }
func (*ExecutionDelta) Kind() DeltaKind { return DeltaKindExecution }
func (*AgentCreated) Kind() DeltaKind   { return DeltaKindAgentCreated }
func (*TaskCreated) Kind() DeltaKind    { return DeltaKindTaskCreated }
func (*ToolCreated) Kind() DeltaKind    { return DeltaKindToolCreated }
func (*LogFragment) Kind() DeltaKind    { return DeltaKindLogFragment }

func (*AgentDelta) isDelta()     {}
func (*TaskDelta) isDelta()      {}
func (*ToolDelta) isDelta()      {}
func (*ExecutionDelta) isDelta() {}
func (*AgentCreated) isDelta()   {}
func (*TaskCreated) isDelta()    {}
func (*ToolCreated) isDelta()    {}
func (*LogFragment) isDelta()    {}
