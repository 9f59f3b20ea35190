package repository

func (r *SQLRepository) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			task_description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP NULL,
			completed_at TIMESTAMP NULL,
			result TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			total_agents INTEGER NOT NULL DEFAULT 0,
			total_tasks INTEGER NOT NULL DEFAULT 0,
			total_tool_executions INTEGER NOT NULL DEFAULT 0,
			last_updated TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS execution_agents (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL DEFAULT '',
			execution_id TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			current_task TEXT NOT NULL DEFAULT '',
			position INTEGER NOT NULL DEFAULT 0,
			last_updated TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS execution_tasks (
			id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL,
			agent_id TEXT NOT NULL DEFAULT '',
			task_description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			iterations INTEGER NOT NULL DEFAULT 0,
			max_iterations INTEGER NOT NULL DEFAULT 0,
			result TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			position INTEGER NOT NULL DEFAULT 0,
			last_updated TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tool_executions (
			id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL,
			task_id TEXT NOT NULL DEFAULT '',
			agent_id TEXT NOT NULL DEFAULT '',
			tool_name TEXT NOT NULL,
			mcp_server TEXT NOT NULL DEFAULT '',
			arguments TEXT NOT NULL DEFAULT '{}',
			status TEXT NOT NULL,
			result TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			execution_time_ms BIGINT NULL,
			human_approved INTEGER NOT NULL DEFAULT 0,
			approval_id TEXT NOT NULL DEFAULT '',
			thread_id TEXT NOT NULL DEFAULT '',
			last_updated TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS execution_logs (
			id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL,
			log_type TEXT NOT NULL,
			message TEXT NOT NULL,
			logged_at TIMESTAMP NOT NULL,
			agent_role TEXT NOT NULL DEFAULT '',
			tool_name TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_execution_agents_execution_id ON execution_agents(execution_id)`,
		`CREATE INDEX IF NOT EXISTS idx_execution_tasks_execution_id ON execution_tasks(execution_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_executions_execution_id ON tool_executions(execution_id)`,
		`CREATE INDEX IF NOT EXISTS idx_execution_logs_execution_id ON execution_logs(execution_id, logged_at)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_created_at ON executions(created_at)`,
	}
	for _, stmt := range statements {
		if _, err := r.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
