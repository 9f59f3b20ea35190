package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/kandev/execwatch/internal/common/errors"
	"github.com/kandev/execwatch/internal/db"
	"github.com/kandev/execwatch/internal/execution/models"
)

// SQLRepository stores executions in SQLite or PostgreSQL. Queries are
// written with ? placeholders and rebound for the active driver.
type SQLRepository struct {
	db     *sqlx.DB // writer
	ro     *sqlx.DB // reader
	ownsDB bool
}

var _ Repository = (*SQLRepository)(nil)

// NewWithDB creates a repository over existing connections (shared ownership).
func NewWithDB(writer, reader *sqlx.DB) (*SQLRepository, error) {
	return newRepository(writer, reader, false)
}

// NewWithPool creates a repository that owns the pool.
func NewWithPool(pool *db.Pool) (*SQLRepository, error) {
	repo, err := newRepository(pool.Writer(), pool.Reader(), false)
	if err != nil {
		_ = pool.Close()
		return nil, err
	}
	repo.ownsDB = true
	return repo, nil
}

func newRepository(writer, reader *sqlx.DB, ownsDB bool) (*SQLRepository, error) {
	if reader == nil {
		reader = writer
	}
	repo := &SQLRepository{db: writer, ro: reader, ownsDB: ownsDB}
	if err := repo.initSchema(); err != nil {
		if ownsDB {
			if closeErr := writer.Close(); closeErr != nil {
				return nil, fmt.Errorf("failed to close database after schema error: %w", closeErr)
			}
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return repo, nil
}

// Close closes the database connections when the repository owns them.
func (r *SQLRepository) Close() error {
	if !r.ownsDB {
		return nil
	}
	wErr := r.db.Close()
	if r.ro != r.db {
		if rErr := r.ro.Close(); rErr != nil && wErr == nil {
			return rErr
		}
	}
	return wErr
}

const upsertExecutionSQL = `
	INSERT INTO executions (id, task_description, status, created_at, started_at, completed_at, result, error,
		total_agents, total_tasks, total_tool_executions, last_updated)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		task_description = excluded.task_description,
		status = excluded.status,
		started_at = excluded.started_at,
		completed_at = excluded.completed_at,
		result = excluded.result,
		error = excluded.error,
		total_agents = excluded.total_agents,
		total_tasks = excluded.total_tasks,
		total_tool_executions = excluded.total_tool_executions,
		last_updated = excluded.last_updated`

const upsertAgentSQL = `
	INSERT INTO execution_agents (id, agent_id, execution_id, role, status, current_task, position, last_updated)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		current_task = excluded.current_task,
		position = excluded.position,
		last_updated = excluded.last_updated`

const upsertTaskSQL = `
	INSERT INTO execution_tasks (id, execution_id, agent_id, task_description, status, priority, iterations,
		max_iterations, result, error, position, last_updated)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		agent_id = excluded.agent_id,
		status = excluded.status,
		iterations = excluded.iterations,
		result = excluded.result,
		error = excluded.error,
		position = excluded.position,
		last_updated = excluded.last_updated`

const upsertToolExecutionSQL = `
	INSERT INTO tool_executions (id, execution_id, task_id, agent_id, tool_name, mcp_server, arguments, status,
		result, error, execution_time_ms, human_approved, approval_id, thread_id, last_updated)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		task_id = excluded.task_id,
		agent_id = excluded.agent_id,
		status = excluded.status,
		result = excluded.result,
		error = excluded.error,
		execution_time_ms = excluded.execution_time_ms,
		human_approved = excluded.human_approved,
		approval_id = excluded.approval_id,
		thread_id = excluded.thread_id,
		last_updated = excluded.last_updated`

const insertLogSQL = `
	INSERT INTO execution_logs (id, execution_id, log_type, message, logged_at, agent_role, tool_name)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`

// execer is satisfied by *sqlx.DB and *sqlx.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	Rebind(query string) string
}

// SaveExecutionGraph upserts the execution subtree in one transaction.
func (r *SQLRepository) SaveExecutionGraph(ctx context.Context, g *models.ExecutionGraph) error {
	if err := g.Validate(); err != nil {
		return apperrors.BadRequest(err.Error())
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.PersistenceError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	e := g.Execution
	if _, err := tx.ExecContext(ctx, tx.Rebind(upsertExecutionSQL),
		e.ID, e.TaskDescription, string(e.Status), nowIfZero(e.CreatedAt), nullTime(e.StartedAt), nullTime(e.CompletedAt),
		e.Result, e.Error, e.TotalAgents, e.TotalTasks, e.TotalToolExecutions, nowIfZero(e.LastUpdated),
	); err != nil {
		return apperrors.PersistenceError("failed to save execution", err)
	}

	for i, a := range g.Agents {
		if a == nil {
			continue
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(upsertAgentSQL),
			a.ID, a.AgentID, e.ID, a.Role, string(a.Status), a.CurrentTask, i, nowIfZero(a.LastUpdated),
		); err != nil {
			return apperrors.PersistenceError("failed to save agent", err)
		}
	}
	for i, t := range g.Tasks {
		if t == nil {
			continue
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(upsertTaskSQL),
			t.ID, e.ID, t.AgentID, t.TaskDescription, string(t.Status), t.Priority, t.Iterations,
			t.MaxIterations, t.Result, t.Error, i, nowIfZero(t.LastUpdated),
		); err != nil {
			return apperrors.PersistenceError("failed to save task", err)
		}
	}
	for _, te := range g.ToolExecutions {
		if te == nil {
			continue
		}
		c := te.Clone()
		c.ExecutionID = e.ID
		if err := upsertToolExecution(ctx, tx, c); err != nil {
			return err
		}
	}
	for _, l := range g.Logs {
		if l == nil {
			continue
		}
		c := l.Clone()
		c.ExecutionID = e.ID
		if err := appendLog(ctx, tx, c); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.PersistenceError("failed to commit execution graph", err)
	}
	return nil
}

// GetExecutionGraph loads an execution and its subtree.
func (r *SQLRepository) GetExecutionGraph(ctx context.Context, id string) (*models.ExecutionGraph, error) {
	var row executionRow
	err := r.ro.GetContext(ctx, &row, r.ro.Rebind(`SELECT * FROM executions WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("execution", id)
	}
	if err != nil {
		return nil, apperrors.PersistenceError("failed to load execution", err)
	}
	g := &models.ExecutionGraph{
		Execution:      row.toModel(),
		Agents:         []*models.Agent{},
		Tasks:          []*models.Task{},
		ToolExecutions: []*models.ToolExecution{},
	}

	var agents []agentRow
	if err := r.ro.SelectContext(ctx, &agents, r.ro.Rebind(`
		SELECT id, agent_id, execution_id, role, status, current_task, last_updated
		FROM execution_agents WHERE execution_id = ? ORDER BY position ASC, id ASC
	`), id); err != nil {
		return nil, apperrors.PersistenceError("failed to load agents", err)
	}
	for i := range agents {
		g.Agents = append(g.Agents, agents[i].toModel())
	}

	var tasks []taskRow
	if err := r.ro.SelectContext(ctx, &tasks, r.ro.Rebind(`
		SELECT id, execution_id, agent_id, task_description, status, priority, iterations, max_iterations,
			result, error, last_updated
		FROM execution_tasks WHERE execution_id = ? ORDER BY position ASC, id ASC
	`), id); err != nil {
		return nil, apperrors.PersistenceError("failed to load tasks", err)
	}
	for i := range tasks {
		g.Tasks = append(g.Tasks, tasks[i].toModel())
	}

	var tools []toolExecutionRow
	if err := r.ro.SelectContext(ctx, &tools, r.ro.Rebind(`
		SELECT * FROM tool_executions WHERE execution_id = ? ORDER BY last_updated ASC, id ASC
	`), id); err != nil {
		return nil, apperrors.PersistenceError("failed to load tool executions", err)
	}
	for i := range tools {
		te, err := tools[i].toModel()
		if err != nil {
			return nil, apperrors.PersistenceError("failed to decode tool execution", err)
		}
		g.ToolExecutions = append(g.ToolExecutions, te)
	}

	logs, err := r.ListLogs(ctx, id)
	if err != nil {
		return nil, err
	}
	g.Logs = logs
	return g, nil
}

// ListExecutions returns up to limit executions, newest first.
func (r *SQLRepository) ListExecutions(ctx context.Context, limit int) ([]*models.Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []executionRow
	if err := r.ro.SelectContext(ctx, &rows, r.ro.Rebind(`
		SELECT * FROM executions ORDER BY created_at DESC, id ASC LIMIT ?
	`), limit); err != nil {
		return nil, apperrors.PersistenceError("failed to list executions", err)
	}
	result := make([]*models.Execution, 0, len(rows))
	for i := range rows {
		result = append(result, rows[i].toModel())
	}
	return result, nil
}

// UpsertToolExecution inserts or updates a tool call keyed by id.
func (r *SQLRepository) UpsertToolExecution(ctx context.Context, te *models.ToolExecution) error {
	if te == nil || te.ID == "" {
		return apperrors.BadRequest("tool execution id is required")
	}
	return upsertToolExecution(ctx, r.db, te)
}

func upsertToolExecution(ctx context.Context, x execer, te *models.ToolExecution) error {
	argsJSON := "{}"
	if te.Arguments != nil {
		b, err := json.Marshal(te.Arguments)
		if err != nil {
			return apperrors.PersistenceError("failed to serialize tool arguments", err)
		}
		argsJSON = string(b)
	}
	if _, err := x.ExecContext(ctx, x.Rebind(upsertToolExecutionSQL),
		te.ID, te.ExecutionID, te.TaskID, te.AgentID, te.ToolName, te.MCPServer, argsJSON, string(te.Status),
		te.Result, te.Error, nullInt64(te.ExecutionTimeMs), boolToInt(te.HumanApproved), te.ApprovalID, te.ThreadID,
		nowIfZero(te.LastUpdated),
	); err != nil {
		return apperrors.PersistenceError("failed to save tool execution", err)
	}
	return nil
}

// AppendLog inserts a log entry. Re-appending an existing id is a no-op.
func (r *SQLRepository) AppendLog(ctx context.Context, entry *models.LogEntry) error {
	if entry == nil || entry.ID == "" || entry.ExecutionID == "" {
		return apperrors.BadRequest("log entry id and execution id are required")
	}
	return appendLog(ctx, r.db, entry)
}

func appendLog(ctx context.Context, x execer, l *models.LogEntry) error {
	if _, err := x.ExecContext(ctx, x.Rebind(insertLogSQL),
		l.ID, l.ExecutionID, string(l.LogType), l.Message, nowIfZero(l.Timestamp), l.AgentRole, l.ToolName,
	); err != nil {
		return apperrors.PersistenceError("failed to append log entry", err)
	}
	return nil
}

// ListLogs returns the persisted entries of an execution in time order.
func (r *SQLRepository) ListLogs(ctx context.Context, executionID string) ([]*models.LogEntry, error) {
	var rows []logRow
	if err := r.ro.SelectContext(ctx, &rows, r.ro.Rebind(`
		SELECT id, execution_id, log_type, message, logged_at, agent_role, tool_name
		FROM execution_logs WHERE execution_id = ? ORDER BY logged_at ASC, id ASC
	`), executionID); err != nil {
		return nil, apperrors.PersistenceError("failed to list logs", err)
	}
	result := make([]*models.LogEntry, 0, len(rows))
	for i := range rows {
		result = append(result, rows[i].toModel())
	}
	return result, nil
}

// DeleteExecution removes an execution and everything it owns.
func (r *SQLRepository) DeleteExecution(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.PersistenceError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM executions WHERE id = ?`), id)
	if err != nil {
		return apperrors.PersistenceError("failed to delete execution", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("execution", id)
	}
	for _, table := range []string{"execution_agents", "execution_tasks", "tool_executions", "execution_logs"} {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM `+table+` WHERE execution_id = ?`), id); err != nil {
			return apperrors.PersistenceError("failed to delete from "+table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return apperrors.PersistenceError("failed to commit delete", err)
	}
	return nil
}

// DeleteAll removes every stored execution.
func (r *SQLRepository) DeleteAll(ctx context.Context) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.PersistenceError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"execution_logs", "tool_executions", "execution_tasks", "execution_agents", "executions"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return apperrors.PersistenceError("failed to clear "+table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return apperrors.PersistenceError("failed to commit delete", err)
	}
	return nil
}
