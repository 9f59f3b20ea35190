package logs

import (
	"fmt"
	"time"

	"github.com/kandev/execwatch/internal/execution/models"
)

// Synthesize derives historical log entries from a snapshot so a completed
// execution reads as a timeline even when few entries were persisted.
func Synthesize(g *models.ExecutionGraph) []*models.LogEntry {
	if g == nil || g.Execution == nil {
		return nil
	}
	e := g.Execution
	var out []*models.LogEntry
	add := func(id string, typ models.LogType, ts time.Time, msg, role, tool string) {
		if ts.IsZero() {
			ts = e.CreatedAt
		}
		out = append(out, &models.LogEntry{
			ID:          "hist-" + id,
			ExecutionID: e.ID,
			LogType:     typ,
			Message:     msg,
			Timestamp:   ts,
			AgentRole:   role,
			ToolName:    tool,
		})
	}

	add("execution-"+e.ID, models.LogTypeInfo, e.CreatedAt,
		fmt.Sprintf("Execution created: %s", e.TaskDescription), "", "")
	if e.StartedAt != nil {
		add("started-"+e.ID, models.LogTypeStatusUpdate, *e.StartedAt, "Execution started", "", "")
	}

	roles := make(map[string]string, len(g.Agents))
	for _, a := range g.Agents {
		roles[a.ID] = a.Role
		add("agent-"+a.ID, models.LogTypeAgentExecution, a.LastUpdated,
			fmt.Sprintf("Agent %s is %s", a.Role, a.Status), a.Role, "")
	}

	for _, t := range g.Tasks {
		role := roles[t.AgentID]
		switch {
		case t.Error != "":
			add("task-"+t.ID, models.LogTypeError, t.LastUpdated,
				fmt.Sprintf("Task failed: %s: %s", t.TaskDescription, t.Error), role, "")
		default:
			add("task-"+t.ID, models.LogTypeStatusUpdate, t.LastUpdated,
				fmt.Sprintf("Task %s: %s", t.Status, t.TaskDescription), role, "")
		}
	}

	for _, te := range g.ToolExecutions {
		role := roles[te.AgentID]
		add("tool-request-"+te.ID, models.LogTypeToolRequest, te.LastUpdated,
			fmt.Sprintf("Tool requested: %s", te.ToolName), role, te.ToolName)
		switch te.Status {
		case models.ToolStatusExecuted:
			add("tool-result-"+te.ID, models.LogTypeToolResult, te.LastUpdated,
				fmt.Sprintf("Tool %s executed", te.ToolName), role, te.ToolName)
		case models.ToolStatusError:
			add("tool-result-"+te.ID, models.LogTypeError, te.LastUpdated,
				fmt.Sprintf("Tool %s failed: %s", te.ToolName, te.Error), role, te.ToolName)
		case models.ToolStatusDenied:
			add("tool-result-"+te.ID, models.LogTypeWarning, te.LastUpdated,
				fmt.Sprintf("Tool %s denied", te.ToolName), role, te.ToolName)
		}
	}

	var completed time.Time
	if e.CompletedAt != nil {
		completed = *e.CompletedAt
	}
	switch e.Status {
	case models.ExecutionStatusCompleted:
		if e.Result != "" {
			add("synthesis-"+e.ID, models.LogTypeSynthesis, completed, e.Result, "", "")
		}
		add("completed-"+e.ID, models.LogTypeStatusUpdate, completed, "Execution completed", "", "")
	case models.ExecutionStatusFailed:
		add("failed-"+e.ID, models.LogTypeError, completed, fmt.Sprintf("Execution failed: %s", e.Error), "", "")
	case models.ExecutionStatusAborted:
		add("aborted-"+e.ID, models.LogTypeWarning, completed, "Execution aborted", "", "")
	}
	return out
}
