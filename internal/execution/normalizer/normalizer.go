// Package normalizer converts raw push events into typed execution deltas.
package normalizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kandev/execwatch/internal/common/logger"
	"github.com/kandev/execwatch/internal/events"
	"github.com/kandev/execwatch/internal/events/bus"
	"github.com/kandev/execwatch/internal/execution/models"
)

// AgentResolver is the read view used to resolve agent references.
type AgentResolver interface {
	ResolveAgent(refs ...string) (*models.Agent, bool)
}

// Normalizer is a pure transform from bus events to deltas. It never panics
// and never blocks on I/O.
type Normalizer struct {
	resolver AgentResolver
	logger   *logger.Logger
}

// New creates a Normalizer that resolves agents through resolver.
func New(resolver AgentResolver, log *logger.Logger) *Normalizer {
	return &Normalizer{
		resolver: resolver,
		logger:   log.WithFields(zap.String("component", "normalizer")),
	}
}

// Normalize maps raw onto a Delta. It returns false when the event carries
// no execution id, names an unknown topic, or its payload fails validation.
func (n *Normalizer) Normalize(raw *bus.Event) (d models.Delta, ok bool) {
	if raw == nil {
		return nil, false
	}
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("panic while normalizing event",
				zap.String("event_type", raw.Type),
				zap.Any("panic", r))
			d, ok = nil, false
		}
	}()

	var err error
	switch raw.Type {
	case events.AgentUpdated:
		d, err = n.agentUpdated(raw)
	case events.AgentCreated:
		d, err = n.agentCreated(raw)
	case events.TaskUpdated:
		d, err = n.taskUpdated(raw)
	case events.ExecutionUpdated, events.ExecutionCreated:
		d, err = n.executionUpdated(raw)
	case events.ResultSynthesized:
		d, err = n.resultSynthesized(raw)
	case events.ToolExecutionUpdated:
		d, err = n.toolUpdated(raw, nil)
	case events.ToolExecutionStart:
		d, err = n.toolUpdated(raw, models.Ptr(models.ToolStatusExecuting))
	case events.ToolExecutionComplete:
		d, err = n.toolComplete(raw)
	case events.ToolApprovalRequest:
		d, err = n.toolApprovalRequest(raw)
	case events.StreamUpdate:
		d, err = n.streamUpdate(raw)
	default:
		err = fmt.Errorf("unknown topic %q", raw.Type)
	}
	if err != nil {
		n.logger.Debug("dropping event",
			zap.String("event_type", raw.Type),
			zap.String("event_id", raw.ID),
			zap.Error(err))
		return nil, false
	}
	if d.TargetExecutionID() == "" {
		return nil, false
	}
	return d, true
}

// parseEventData converts event data to a typed payload
func parseEventData(data map[string]interface{}, target interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonData, target)
}

var errMissingExecutionID = errors.New("missing execution_id")

func (n *Normalizer) agentUpdated(raw *bus.Event) (models.Delta, error) {
	var p agentPayload
	if err := parseEventData(raw.Data, &p); err != nil {
		return nil, err
	}
	if p.ExecutionID == "" {
		return nil, errMissingExecutionID
	}
	refs := p.refs()
	if len(refs) == 0 {
		return nil, fmt.Errorf("agent event carries no identifier")
	}
	d := &models.AgentDelta{ExecutionID: p.ExecutionID, AgentRef: refs[0], CurrentTask: p.CurrentTask}
	if p.Status != nil {
		status := models.AgentStatus(strings.ToLower(*p.Status))
		if !status.Valid() {
			return nil, fmt.Errorf("invalid agent status %q", *p.Status)
		}
		d.Status = &status
	}
	if n.resolver != nil {
		if a, ok := n.resolver.ResolveAgent(refs...); ok && a.ExecutionID == p.ExecutionID {
			d.AgentID = a.ID
		}
	}
	return d, nil
}

func (n *Normalizer) agentCreated(raw *bus.Event) (models.Delta, error) {
	var p agentPayload
	if err := parseEventData(raw.Data, &p); err != nil {
		return nil, err
	}
	if p.ExecutionID == "" {
		return nil, errMissingExecutionID
	}
	id := p.ID
	if id == "" {
		id = p.AgentID
	}
	if id == "" {
		return nil, fmt.Errorf("agent_created carries no id")
	}
	status := models.AgentStatusIdle
	if p.Status != nil {
		status = models.AgentStatus(strings.ToLower(*p.Status))
		if !status.Valid() {
			return nil, fmt.Errorf("invalid agent status %q", *p.Status)
		}
	}
	agent := &models.Agent{
		ID:          id,
		AgentID:     p.AgentID,
		ExecutionID: p.ExecutionID,
		Role:        p.role(),
		Status:      status,
		LastUpdated: raw.Timestamp,
	}
	if p.CurrentTask != nil {
		agent.CurrentTask = *p.CurrentTask
	}
	return &models.AgentCreated{Agent: agent}, nil
}

func (n *Normalizer) taskUpdated(raw *bus.Event) (models.Delta, error) {
	var p taskPayload
	if err := parseEventData(raw.Data, &p); err != nil {
		return nil, err
	}
	if p.ExecutionID == "" {
		return nil, errMissingExecutionID
	}
	if p.Task != nil {
		return buildTaskCreated(p.ExecutionID, p.Task)
	}
	if p.TaskDescription != "" && (p.AgentID != "" || p.AgentRole != "") {
		body := &taskBody{
			ID: p.taskID(), AgentID: p.AgentID, AgentRole: p.AgentRole,
			TaskDescription: p.TaskDescription, Priority: p.Priority,
			Iterations: p.Iterations, MaxIterations: p.MaxIterations,
			Result: p.Result, Error: p.Error,
		}
		if p.Status != nil {
			body.Status = *p.Status
		}
		return buildTaskCreated(p.ExecutionID, body)
	}

	id := p.taskID()
	if id == "" {
		return nil, fmt.Errorf("task event carries no task id")
	}
	d := &models.TaskDelta{ExecutionID: p.ExecutionID, TaskID: id, Result: p.Result.ptr(), Error: p.Error.ptr()}
	if p.Status != nil {
		status := models.TaskStatus(strings.ToLower(*p.Status))
		if !status.Valid() {
			return nil, fmt.Errorf("invalid task status %q", *p.Status)
		}
		d.Status = &status
	}
	return d, nil
}

func buildTaskCreated(executionID string, b *taskBody) (models.Delta, error) {
	if b.ID == "" {
		return nil, fmt.Errorf("task carries no id")
	}
	agentRef := b.AgentID
	if agentRef == "" {
		agentRef = b.AgentRole
	}
	status := models.TaskStatusPending
	if b.Status != "" {
		status = models.TaskStatus(strings.ToLower(b.Status))
		if !status.Valid() {
			return nil, fmt.Errorf("invalid task status %q", b.Status)
		}
	}
	return &models.TaskCreated{Task: &models.Task{
		ID:              b.ID,
		ExecutionID:     executionID,
		AgentID:         agentRef,
		TaskDescription: b.TaskDescription,
		Status:          status,
		Priority:        b.Priority,
		Iterations:      b.Iterations,
		MaxIterations:   b.MaxIterations,
		Result:          b.Result.value,
		Error:           b.Error.value,
	}}, nil
}

func (n *Normalizer) executionUpdated(raw *bus.Event) (models.Delta, error) {
	var p executionPayload
	if err := parseEventData(raw.Data, &p); err != nil {
		return nil, err
	}
	id := p.executionID()
	if id == "" {
		return nil, errMissingExecutionID
	}
	d := &models.ExecutionDelta{ExecutionID: id, Result: p.Result.ptr(), Error: p.Error.ptr()}
	if d.Result == nil {
		d.Result = p.FinalResult.ptr()
	}
	if p.Status != nil {
		status := models.ExecutionStatus(strings.ToLower(*p.Status))
		// aborted is local only
		if !status.Valid() || status == models.ExecutionStatusAborted {
			return nil, fmt.Errorf("invalid execution status %q", *p.Status)
		}
		d.Status = &status
	}
	return d, nil
}

func (n *Normalizer) resultSynthesized(raw *bus.Event) (models.Delta, error) {
	var p executionPayload
	if err := parseEventData(raw.Data, &p); err != nil {
		return nil, err
	}
	id := p.executionID()
	if id == "" {
		return nil, errMissingExecutionID
	}
	result := p.FinalResult.ptr()
	if result == nil {
		result = p.Result.ptr()
	}
	return &models.ExecutionDelta{
		ExecutionID: id,
		Status:      models.Ptr(models.ExecutionStatusCompleted),
		Result:      result,
	}, nil
}

func (n *Normalizer) parseTool(raw *bus.Event) (*toolPayload, error) {
	var p toolPayload
	if err := parseEventData(raw.Data, &p); err != nil {
		return nil, err
	}
	if p.ExecutionID == "" {
		return nil, errMissingExecutionID
	}
	if p.toolID() == "" {
		return nil, fmt.Errorf("tool event carries no tool execution id")
	}
	return &p, nil
}

func (n *Normalizer) toolUpdated(raw *bus.Event, forced *models.ToolStatus) (models.Delta, error) {
	p, err := n.parseTool(raw)
	if err != nil {
		return nil, err
	}
	d := &models.ToolDelta{
		ExecutionID:     p.ExecutionID,
		ToolExecutionID: p.toolID(),
		Result:          p.Result.ptr(),
		Error:           p.Error.ptr(),
		ExecutionTimeMs: p.executionTimeMs(),
		HumanApproved:   p.HumanApproved,
	}
	switch {
	case forced != nil:
		d.Status = forced
	case p.Status != nil:
		status := models.ToolStatus(strings.ToLower(*p.Status))
		if !status.Valid() {
			return nil, fmt.Errorf("invalid tool status %q", *p.Status)
		}
		d.Status = &status
	}
	return d, nil
}

func (n *Normalizer) toolComplete(raw *bus.Event) (models.Delta, error) {
	p, err := n.parseTool(raw)
	if err != nil {
		return nil, err
	}
	status := models.ToolStatusExecuted
	if (p.Success != nil && !*p.Success) || (p.Error.set && p.Error.value != "") {
		status = models.ToolStatusError
	}
	return &models.ToolDelta{
		ExecutionID:     p.ExecutionID,
		ToolExecutionID: p.toolID(),
		Status:          &status,
		Result:          p.Result.ptr(),
		Error:           p.Error.ptr(),
		ExecutionTimeMs: p.executionTimeMs(),
		HumanApproved:   p.HumanApproved,
	}, nil
}

func (n *Normalizer) toolApprovalRequest(raw *bus.Event) (models.Delta, error) {
	p, err := n.parseTool(raw)
	if err != nil {
		return nil, err
	}
	if p.ToolName == "" {
		return nil, fmt.Errorf("tool_approval_request carries no tool_name")
	}
	agentRef := p.AgentID
	if agentRef == "" {
		agentRef = p.AgentRole
	}
	return &models.ToolCreated{Tool: &models.ToolExecution{
		ID:          p.toolID(),
		ExecutionID: p.ExecutionID,
		TaskID:      p.TaskID,
		AgentID:     agentRef,
		ToolName:    p.ToolName,
		MCPServer:   p.MCPServer,
		Arguments:   p.Arguments,
		Status:      models.ToolStatusPending,
		ApprovalID:  p.ApprovalID,
		ThreadID:    p.ThreadID,
		LastUpdated: raw.Timestamp,
	}}, nil
}

func (n *Normalizer) streamUpdate(raw *bus.Event) (models.Delta, error) {
	var p streamPayload
	if err := parseEventData(raw.Data, &p); err != nil {
		return nil, err
	}
	if p.ExecutionID == "" {
		return nil, errMissingExecutionID
	}
	message := p.Message
	if message == "" {
		message = p.Content
	}
	if message == "" {
		return nil, fmt.Errorf("stream_update carries no message")
	}
	logType := models.LogType(p.LogType)
	if logType == "" {
		logType = models.LogType(p.Type)
	}
	if logType == "" {
		logType = models.LogTypeInfo
	}
	ts := p.Timestamp.Time
	if ts.IsZero() {
		ts = raw.Timestamp
	}
	id := p.ID
	if id == "" {
		id = raw.ID
	}
	return &models.LogFragment{
		ExecutionID: p.ExecutionID,
		Entry: &models.LogEntry{
			ID:          id,
			ExecutionID: p.ExecutionID,
			LogType:     logType,
			Message:     message,
			Timestamp:   ts,
			AgentRole:   p.AgentRole,
			ToolName:    p.ToolName,
			IsLive:      true,
		},
	}, nil
}
