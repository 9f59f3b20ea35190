package normalizer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// flexString accepts a JSON string, or any other JSON value rendered as text.
type flexString struct {
	set   bool
	value string
}

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	f.set = true
	if b[0] == '"' {
		return json.Unmarshal(b, &f.value)
	}
	f.value = string(b)
	return nil
}

func (f flexString) ptr() *string {
	if !f.set {
		return nil
	}
	v := f.value
	return &v
}

// flexTime accepts RFC 3339 strings and unix milliseconds.
type flexTime struct {
	time.Time
}

func (f *flexTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				f.Time = t.UTC()
				return nil
			}
		}
		return fmt.Errorf("unsupported timestamp %q", s)
	}
	ms, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("unsupported timestamp %s: %w", b, err)
	}
	f.Time = time.UnixMilli(int64(ms)).UTC()
	return nil
}

// agentPayload covers agent_updated and agent_created.
type agentPayload struct {
	ExecutionID string  `json:"execution_id"`
	ID          string  `json:"id"`
	AgentID     string  `json:"agent_id"`
	Role        string  `json:"role"`
	AgentRole   string  `json:"agent_role"`
	Status      *string `json:"status"`
	CurrentTask *string `json:"current_task"`
}

func (p *agentPayload) role() string {
	if p.Role != "" {
		return p.Role
	}
	return p.AgentRole
}

// refs returns the identifiers carried by the payload, most specific first.
func (p *agentPayload) refs() []string {
	var out []string
	for _, r := range []string{p.AgentID, p.ID, p.role()} {
		if r != "" {
			out = append(out, r)
		}
	}
	return out
}

// taskBody is the full task representation carried by some task_updated events.
type taskBody struct {
	ID              string     `json:"id"`
	AgentID         string     `json:"agent_id"`
	AgentRole       string     `json:"agent_role"`
	TaskDescription string     `json:"task_description"`
	Status          string     `json:"status"`
	Priority        int        `json:"priority"`
	Iterations      int        `json:"iterations"`
	MaxIterations   int        `json:"max_iterations"`
	Result          flexString `json:"result"`
	Error           flexString `json:"error"`
}

// taskPayload covers task_updated.
type taskPayload struct {
	ExecutionID     string     `json:"execution_id"`
	TaskID          string     `json:"task_id"`
	ID              string     `json:"id"`
	AgentID         string     `json:"agent_id"`
	AgentRole       string     `json:"agent_role"`
	TaskDescription string     `json:"task_description"`
	Status          *string    `json:"status"`
	Priority        int        `json:"priority"`
	Iterations      int        `json:"iterations"`
	MaxIterations   int        `json:"max_iterations"`
	Result          flexString `json:"result"`
	Error           flexString `json:"error"`
	Task            *taskBody  `json:"task"`
}

func (p *taskPayload) taskID() string {
	if p.TaskID != "" {
		return p.TaskID
	}
	return p.ID
}

// executionPayload covers execution_updated, execution_created and result_synthesized.
type executionPayload struct {
	ExecutionID string     `json:"execution_id"`
	ID          string     `json:"id"`
	Status      *string    `json:"status"`
	Result      flexString `json:"result"`
	FinalResult flexString `json:"final_result"`
	Error       flexString `json:"error"`
}

func (p *executionPayload) executionID() string {
	if p.ExecutionID != "" {
		return p.ExecutionID
	}
	return p.ID
}

// toolPayload covers every tool_* topic.
type toolPayload struct {
	ExecutionID     string                 `json:"execution_id"`
	ToolExecutionID string                 `json:"tool_execution_id"`
	ToolCallID      string                 `json:"tool_call_id"`
	ID              string                 `json:"id"`
	TaskID          string                 `json:"task_id"`
	AgentID         string                 `json:"agent_id"`
	AgentRole       string                 `json:"agent_role"`
	ToolName        string                 `json:"tool_name"`
	MCPServer       string                 `json:"mcp_server"`
	Arguments       map[string]interface{} `json:"arguments"`
	Status          *string                `json:"status"`
	Success         *bool                  `json:"success"`
	Result          flexString             `json:"result"`
	Error           flexString             `json:"error"`
	ExecutionTimeMs *float64               `json:"execution_time_ms"`
	ExecutionTime   *float64               `json:"execution_time"` // seconds
	HumanApproved   *bool                  `json:"human_approved"`
	ApprovalID      string                 `json:"approval_id"`
	ThreadID        string                 `json:"thread_id"`
}

func (p *toolPayload) toolID() string {
	switch {
	case p.ToolExecutionID != "":
		return p.ToolExecutionID
	case p.ToolCallID != "":
		return p.ToolCallID
	case p.ApprovalID != "" && p.ID == "":
		return p.ApprovalID
	}
	return p.ID
}

func (p *toolPayload) executionTimeMs() *int64 {
	switch {
	case p.ExecutionTimeMs != nil:
		v := int64(*p.ExecutionTimeMs)
		return &v
	case p.ExecutionTime != nil:
		v := int64(*p.ExecutionTime * 1000)
		return &v
	}
	return nil
}

// streamPayload covers stream_update fragments.
type streamPayload struct {
	ExecutionID string   `json:"execution_id"`
	ID          string   `json:"id"`
	LogType     string   `json:"log_type"`
	Type        string   `json:"type"`
	Message     string   `json:"message"`
	Content     string   `json:"content"`
	Timestamp   flexTime `json:"timestamp"`
	AgentRole   string   `json:"agent_role"`
	ToolName    string   `json:"tool_name"`
}
