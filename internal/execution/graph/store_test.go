package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/execwatch/internal/execution/models"
)

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestStore() *Store {
	return NewStore(WithClock(func() time.Time { return fixedNow }))
}

func sampleGraph(id string) *models.ExecutionGraph {
	return &models.ExecutionGraph{
		Execution: &models.Execution{ID: id, Status: models.ExecutionStatusPending},
		Agents: []*models.Agent{
			{ID: "a1", AgentID: "ext-1", ExecutionID: id, Role: "Researcher", Status: models.AgentStatusIdle},
			{ID: "a2", AgentID: "ext-2", ExecutionID: id, Role: "Code Writer", Status: models.AgentStatusIdle},
		},
		Tasks: []*models.Task{
			{ID: "t1", ExecutionID: id, AgentID: "a1", Status: models.TaskStatusPending},
		},
		ToolExecutions: []*models.ToolExecution{
			{ID: "tc1", ExecutionID: id, TaskID: "t1", AgentID: "a1", ToolName: "search", Status: models.ToolStatusPending},
		},
	}
}

func TestStore_ReplaceAndSnapshot(t *testing.T) {
	s := newTestStore()
	_, ok := s.CurrentExecutionID()
	assert.False(t, ok)
	assert.Nil(t, s.Snapshot())

	g := sampleGraph("e1")
	require.NoError(t, s.Replace(g))

	id, ok := s.CurrentExecutionID()
	require.True(t, ok)
	assert.Equal(t, "e1", id)

	// The store owns a copy.
	g.Agents[0].Status = models.AgentStatusFailed
	snap := s.Snapshot()
	assert.Equal(t, models.AgentStatusIdle, snap.Agents[0].Status)
	snap.Agents[0].Status = models.AgentStatusBusy
	assert.Equal(t, models.AgentStatusIdle, s.Snapshot().Agents[0].Status)

	assert.Error(t, s.Replace(nil))
	assert.Error(t, s.Replace(&models.ExecutionGraph{Execution: &models.Execution{}}))
	id, _ = s.CurrentExecutionID()
	assert.Equal(t, "e1", id)
}

func TestStore_ApplyDelta(t *testing.T) {
	t.Run("merges provided fields and stamps last_updated", func(t *testing.T) {
		s := newTestStore()
		require.NoError(t, s.Replace(sampleGraph("e1")))

		ok := s.ApplyDelta(&models.AgentDelta{
			ExecutionID: "e1", AgentID: "a1",
			Status: models.Ptr(models.AgentStatusBusy), CurrentTask: models.Ptr("t1"),
		})
		require.True(t, ok)

		a, ok := s.ResolveAgent("a1")
		require.True(t, ok)
		assert.Equal(t, models.AgentStatusBusy, a.Status)
		assert.Equal(t, "t1", a.CurrentTask)
		assert.Equal(t, "Researcher", a.Role)
		assert.Equal(t, fixedNow, a.LastUpdated)
	})

	t.Run("unknown target returns false without mutation", func(t *testing.T) {
		s := newTestStore()
		require.NoError(t, s.Replace(sampleGraph("e1")))
		before := s.Snapshot()

		assert.False(t, s.ApplyDelta(&models.TaskDelta{ExecutionID: "e1", TaskID: "missing", Status: models.Ptr(models.TaskStatusRunning)}))
		assert.False(t, s.ApplyDelta(&models.AgentDelta{ExecutionID: "e1", AgentRef: "nobody"}))
		assert.False(t, s.ApplyDelta(&models.ToolDelta{ExecutionID: "e2", ToolExecutionID: "tc1"}))
		assert.Equal(t, before, s.Snapshot())
	})

	t.Run("idempotent", func(t *testing.T) {
		s := newTestStore()
		require.NoError(t, s.Replace(sampleGraph("e1")))
		d := &models.ToolDelta{
			ExecutionID: "e1", ToolExecutionID: "tc1",
			Status: models.Ptr(models.ToolStatusExecuted), Result: models.Ptr("42"), ExecutionTimeMs: models.Ptr(int64(12)),
		}
		require.True(t, s.ApplyDelta(d))
		once := s.Snapshot()
		require.True(t, s.ApplyDelta(d))
		assert.Equal(t, once, s.Snapshot())
	})

	t.Run("no execution loaded", func(t *testing.T) {
		s := newTestStore()
		assert.False(t, s.ApplyDelta(&models.ExecutionDelta{ExecutionID: "e1", Status: models.Ptr(models.ExecutionStatusRunning)}))
		assert.False(t, s.ApplyDelta(nil))
	})

	t.Run("execution status stamps start and completion", func(t *testing.T) {
		s := newTestStore()
		require.NoError(t, s.Replace(sampleGraph("e1")))
		require.True(t, s.ApplyDelta(&models.ExecutionDelta{ExecutionID: "e1", Status: models.Ptr(models.ExecutionStatusRunning)}))
		require.True(t, s.ApplyDelta(&models.ExecutionDelta{ExecutionID: "e1", Status: models.Ptr(models.ExecutionStatusCompleted), Result: models.Ptr("done")}))

		e, ok := s.Execution()
		require.True(t, ok)
		assert.Equal(t, models.ExecutionStatusCompleted, e.Status)
		assert.Equal(t, "done", e.Result)
		require.NotNil(t, e.StartedAt)
		require.NotNil(t, e.CompletedAt)
	})

	t.Run("aborted status is sticky", func(t *testing.T) {
		s := newTestStore()
		require.NoError(t, s.Replace(sampleGraph("e1")))
		require.True(t, s.ApplyDelta(&models.ExecutionDelta{ExecutionID: "e1", Status: models.Ptr(models.ExecutionStatusAborted)}))
		require.True(t, s.ApplyDelta(&models.ExecutionDelta{ExecutionID: "e1", Status: models.Ptr(models.ExecutionStatusRunning), Error: models.Ptr("late")}))

		e, _ := s.Execution()
		assert.Equal(t, models.ExecutionStatusAborted, e.Status)
		assert.Equal(t, "late", e.Error)
	})
}

func TestStore_Insertions(t *testing.T) {
	t.Run("agent insert is idempotent", func(t *testing.T) {
		s := newTestStore()
		require.NoError(t, s.Replace(sampleGraph("e1")))
		agent := &models.Agent{ID: "a3", ExecutionID: "e1", Role: "Reviewer", Status: models.AgentStatusIdle}

		require.True(t, s.ApplyDelta(&models.AgentCreated{Agent: agent}))
		require.True(t, s.ApplyDelta(&models.AgentCreated{Agent: agent}))
		snap := s.Snapshot()
		assert.Len(t, snap.Agents, 3)
		assert.Equal(t, 3, snap.Execution.TotalAgents)
	})

	t.Run("task parent resolved by role", func(t *testing.T) {
		s := newTestStore()
		require.NoError(t, s.Replace(sampleGraph("e1")))

		require.True(t, s.ApplyDelta(&models.TaskCreated{Task: &models.Task{ID: "t2", ExecutionID: "e1", AgentID: "code writer"}}))
		snap := s.Snapshot()
		require.Len(t, snap.Tasks, 2)
		assert.Equal(t, "a2", snap.Tasks[1].AgentID)
	})

	t.Run("orphan task is dropped", func(t *testing.T) {
		s := newTestStore()
		require.NoError(t, s.Replace(sampleGraph("e1")))
		assert.False(t, s.ApplyDelta(&models.TaskCreated{Task: &models.Task{ID: "t9", ExecutionID: "e1", AgentID: "ghost"}}))
		assert.Len(t, s.Snapshot().Tasks, 1)
	})

	t.Run("tool parent prefers task then falls back to agent", func(t *testing.T) {
		s := newTestStore()
		require.NoError(t, s.Replace(sampleGraph("e1")))

		require.True(t, s.ApplyDelta(&models.ToolCreated{Tool: &models.ToolExecution{ID: "tc2", ExecutionID: "e1", TaskID: "t1"}}))
		require.True(t, s.ApplyDelta(&models.ToolCreated{Tool: &models.ToolExecution{ID: "tc3", ExecutionID: "e1", TaskID: "gone", AgentID: "ext-2"}}))
		assert.False(t, s.ApplyDelta(&models.ToolCreated{Tool: &models.ToolExecution{ID: "tc4", ExecutionID: "e1", TaskID: "gone", AgentID: "ghost"}}))
		require.True(t, s.ApplyDelta(&models.ToolCreated{Tool: &models.ToolExecution{ID: "tc5", ExecutionID: "e1"}}))

		tc2, ok := s.ToolExecution("tc2")
		require.True(t, ok)
		assert.Equal(t, "a1", tc2.AgentID)

		tc3, ok := s.ToolExecution("tc3")
		require.True(t, ok)
		assert.Equal(t, "", tc3.TaskID)
		assert.Equal(t, "a2", tc3.AgentID)

		_, ok = s.ToolExecution("tc4")
		assert.False(t, ok)
		assert.Equal(t, 4, s.Snapshot().Execution.TotalToolExecutions)
	})
}

func TestStore_IsActive(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(g *models.ExecutionGraph)
		want   bool
	}{
		{"idle graph", func(g *models.ExecutionGraph) {}, false},
		{"running execution", func(g *models.ExecutionGraph) { g.Execution.Status = models.ExecutionStatusRunning }, true},
		{"busy agent", func(g *models.ExecutionGraph) { g.Agents[1].Status = models.AgentStatusBusy }, true},
		{"executing task", func(g *models.ExecutionGraph) { g.Tasks[0].Status = models.TaskStatusExecuting }, true},
		{"aborted with busy agent", func(g *models.ExecutionGraph) {
			g.Execution.Status = models.ExecutionStatusAborted
			g.Agents[0].Status = models.AgentStatusBusy
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore()
			g := sampleGraph("e1")
			tt.mutate(g)
			require.NoError(t, s.Replace(g))
			assert.Equal(t, tt.want, s.IsActive())
		})
	}
	assert.False(t, newTestStore().IsActive())
}

func TestStore_ResolveAgentChain(t *testing.T) {
	s := newTestStore()
	g := sampleGraph("e1")
	g.Agents = append(g.Agents, &models.Agent{ID: "a3", ExecutionID: "e1", Role: "researcher", Status: models.AgentStatusIdle})
	require.NoError(t, s.Replace(g))

	tests := []struct {
		ref  string
		want string
		ok   bool
	}{
		{"a2", "a2", true},
		{"ext-2", "a2", true},
		{"RESEARCHER", "a1", true}, // first match in graph order
		{"writer", "a2", true},
		{"senior code writer agent", "a2", true},
		{"", "", false},
		{"planner", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			a, ok := s.ResolveAgent(tt.ref)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, a.ID)
			}
		})
	}
}

func TestStore_ResolveAgentStrategyOrderAcrossRefs(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Replace(sampleGraph("e1")))

	// "code writer-7" only matches a2 by role containment; "a1" is an exact id.
	a, ok := s.ResolveAgent("code writer-7", "a1")
	require.True(t, ok)
	assert.Equal(t, "a1", a.ID)

	a, ok = s.ResolveAgent("researcher", "ext-2")
	require.True(t, ok)
	assert.Equal(t, "a2", a.ID, "external id beats role on a later ref")

	_, ok = s.ResolveAgent("", " ")
	assert.False(t, ok)
}

func TestStore_SubscribeAndClear(t *testing.T) {
	s := newTestStore()
	var changes []Change
	unsubscribe := s.Subscribe(func(c Change) { changes = append(changes, c) })

	require.NoError(t, s.Replace(sampleGraph("e1")))
	require.True(t, s.ApplyDelta(&models.TaskDelta{ExecutionID: "e1", TaskID: "t1", Status: models.Ptr(models.TaskStatusRunning)}))
	assert.False(t, s.ApplyDelta(&models.TaskDelta{ExecutionID: "e1", TaskID: "nope"}))
	s.Clear()
	unsubscribe()
	require.NoError(t, s.Replace(sampleGraph("e2")))

	require.Len(t, changes, 3)
	assert.Equal(t, ChangeReplaced, changes[0].Kind)
	assert.Equal(t, ChangeDelta, changes[1].Kind)
	assert.Equal(t, models.DeltaKindTask, changes[1].DeltaKind)
	assert.Equal(t, ChangeCleared, changes[2].Kind)

	id, ok := s.CurrentExecutionID()
	assert.True(t, ok)
	assert.Equal(t, "e2", id)
}

func TestStore_ToolDeltaClearsExecutionTime(t *testing.T) {
	s := newTestStore()
	require.NoError(t, s.Replace(sampleGraph("e1")))

	require.True(t, s.ApplyDelta(&models.ToolDelta{
		ExecutionID: "e1", ToolExecutionID: "tc1",
		Status: models.Ptr(models.ToolStatusExecuted), ExecutionTimeMs: models.Ptr(int64(80)),
	}))
	te, _ := s.ToolExecution("tc1")
	require.NotNil(t, te.ExecutionTimeMs)

	require.True(t, s.ApplyDelta(&models.ToolDelta{
		ExecutionID: "e1", ToolExecutionID: "tc1",
		Status: models.Ptr(models.ToolStatusPending), ClearExecutionTime: true,
	}))
	te, _ = s.ToolExecution("tc1")
	assert.Nil(t, te.ExecutionTimeMs)
	assert.Equal(t, models.ToolStatusPending, te.Status)
}
