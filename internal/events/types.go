// Package events defines the push-channel topics consumed by execwatch.
package events

// Topics emitted by the orchestrator.
const (
	AgentUpdated          = "agent_updated"
	AgentCreated          = "agent_created"
	TaskUpdated           = "task_updated"
	ExecutionUpdated      = "execution_updated"
	ExecutionCreated      = "execution_created"
	ToolExecutionUpdated  = "tool_execution_updated"
	ToolApprovalRequest   = "tool_approval_request"
	ToolExecutionStart    = "tool_execution_start"
	ToolExecutionComplete = "tool_execution_complete"
	ResultSynthesized     = "result_synthesized"
	StreamUpdate          = "stream_update"
)

// SubjectPrefix namespaces execwatch topics on the event bus.
const SubjectPrefix = "execwatch.events."

// AllTopicsSubject matches every topic with a single ordered subscription.
const AllTopicsSubject = SubjectPrefix + ">"

// Topics lists every inbound topic.
var Topics = []string{
	AgentUpdated,
	AgentCreated,
	TaskUpdated,
	ExecutionUpdated,
	ExecutionCreated,
	ToolExecutionUpdated,
	ToolApprovalRequest,
	ToolExecutionStart,
	ToolExecutionComplete,
	ResultSynthesized,
	StreamUpdate,
}

// IsTopic reports whether name is a known inbound topic.
func IsTopic(name string) bool {
	for _, t := range Topics {
		if t == name {
			return true
		}
	}
	return false
}

// BuildTopicSubject returns the bus subject for a topic.
func BuildTopicSubject(topic string) string {
	return SubjectPrefix + topic
}
