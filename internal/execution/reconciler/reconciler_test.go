package reconciler

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kandev/execwatch/internal/common/errors"
	"github.com/kandev/execwatch/internal/common/logger"
	"github.com/kandev/execwatch/internal/execution/graph"
	"github.com/kandev/execwatch/internal/execution/models"
	"github.com/kandev/execwatch/internal/metrics"
)

var fixedNow = time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)

type liveSink struct {
	mu      sync.Mutex
	entries map[string][]*models.LogEntry
}

func (s *liveSink) AppendLive(executionID string, entry *models.LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries == nil {
		s.entries = make(map[string][]*models.LogEntry)
	}
	s.entries[executionID] = append(s.entries[executionID], entry)
}

type fixture struct {
	store *graph.Store
	rec   *Reconciler
	logs  *liveSink
	reg   *prometheus.Registry
}

func setup(t *testing.T) *fixture {
	t.Helper()
	store := graph.NewStore(graph.WithClock(func() time.Time { return fixedNow }))
	sink := &liveSink{}
	reg := prometheus.NewRegistry()
	m := metrics.MustNew(reg)
	return &fixture{store: store, rec: New(store, sink, m, logger.NewNop()), logs: sink, reg: reg}
}

func execGraph(id string, agentStatus models.AgentStatus) *models.ExecutionGraph {
	return &models.ExecutionGraph{
		Execution: &models.Execution{ID: id, Status: models.ExecutionStatusPending},
		Agents: []*models.Agent{
			{ID: "a1", AgentID: "ext-a1", ExecutionID: id, Role: "planner", Status: agentStatus},
		},
		Tasks: []*models.Task{
			{ID: "t1", ExecutionID: id, AgentID: "a1", Status: models.TaskStatusPending},
		},
		ToolExecutions: []*models.ToolExecution{
			{ID: "tc1", ExecutionID: id, TaskID: "t1", AgentID: "a1", ToolName: "search", Status: models.ToolStatusPending},
		},
	}
}

func agentStatus(t *testing.T, s *graph.Store, id string) models.AgentStatus {
	t.Helper()
	a, ok := s.ResolveAgent(id)
	require.True(t, ok)
	return a.Status
}

func TestHandleSnapshot_Precedence(t *testing.T) {
	t.Run("first load replaces", func(t *testing.T) {
		f := setup(t)
		d, err := f.rec.HandleSnapshot(execGraph("e1", models.AgentStatusIdle))
		require.NoError(t, err)
		assert.Equal(t, DecisionReplaced, d)
	})

	t.Run("different execution replaces", func(t *testing.T) {
		f := setup(t)
		_, err := f.rec.HandleSnapshot(execGraph("e1", models.AgentStatusBusy))
		require.NoError(t, err)
		d, err := f.rec.HandleSnapshot(execGraph("e2", models.AgentStatusIdle))
		require.NoError(t, err)
		assert.Equal(t, DecisionReplaced, d)
		id, _ := f.store.CurrentExecutionID()
		assert.Equal(t, "e2", id)
	})

	t.Run("same execution while active is discarded", func(t *testing.T) {
		f := setup(t)
		_, err := f.rec.HandleSnapshot(execGraph("e1", models.AgentStatusIdle))
		require.NoError(t, err)
		require.Equal(t, DecisionApplied, f.rec.HandleDelta(&models.AgentDelta{
			ExecutionID: "e1", AgentID: "a1", Status: models.Ptr(models.AgentStatusBusy),
		}))

		d, err := f.rec.HandleSnapshot(execGraph("e1", models.AgentStatusIdle))
		require.NoError(t, err)
		assert.Equal(t, DecisionDiscardedActive, d)
		assert.Equal(t, models.AgentStatusBusy, agentStatus(t, f.store, "a1"))
	})

	t.Run("same execution while inactive replaces", func(t *testing.T) {
		f := setup(t)
		_, err := f.rec.HandleSnapshot(execGraph("e1", models.AgentStatusIdle))
		require.NoError(t, err)

		final := execGraph("e1", models.AgentStatusCompleted)
		final.Execution.Status = models.ExecutionStatusCompleted
		final.Execution.Result = "report"
		d, err := f.rec.HandleSnapshot(final)
		require.NoError(t, err)
		assert.Equal(t, DecisionReplaced, d)

		e, _ := f.store.Execution()
		assert.Equal(t, "report", e.Result)
	})

	t.Run("malformed snapshot is rejected", func(t *testing.T) {
		f := setup(t)
		_, err := f.rec.HandleSnapshot(execGraph("e1", models.AgentStatusBusy))
		require.NoError(t, err)
		before := f.store.Snapshot()

		d, err := f.rec.HandleSnapshot(nil)
		assert.Equal(t, DecisionRejected, d)
		assert.True(t, apperrors.IsSnapshotError(err))

		d, err = f.rec.HandleSnapshot(&models.ExecutionGraph{Execution: &models.Execution{Status: models.ExecutionStatusFailed}})
		assert.Equal(t, DecisionRejected, d)
		assert.True(t, apperrors.IsSnapshotError(err))
		assert.Equal(t, before, f.store.Snapshot())
	})
}

func TestHandleDelta(t *testing.T) {
	t.Run("foreign execution is discarded", func(t *testing.T) {
		f := setup(t)
		_, err := f.rec.HandleSnapshot(execGraph("e1", models.AgentStatusIdle))
		require.NoError(t, err)
		before := f.store.Snapshot()

		d := f.rec.HandleDelta(&models.AgentDelta{ExecutionID: "e2", AgentID: "a1", Status: models.Ptr(models.AgentStatusBusy)})
		assert.Equal(t, DecisionDiscardedForeign, d)
		assert.Equal(t, before, f.store.Snapshot())
	})

	t.Run("no execution loaded", func(t *testing.T) {
		f := setup(t)
		assert.Equal(t, DecisionDiscardedForeign, f.rec.HandleDelta(&models.ExecutionDelta{ExecutionID: "e1"}))
		assert.Equal(t, DecisionRejected, f.rec.HandleDelta(nil))
	})

	t.Run("unresolved agent is discarded", func(t *testing.T) {
		f := setup(t)
		_, err := f.rec.HandleSnapshot(execGraph("e1", models.AgentStatusIdle))
		require.NoError(t, err)
		assert.Equal(t, DecisionDiscardedUnresolved, f.rec.HandleDelta(&models.AgentDelta{ExecutionID: "e1", AgentRef: "ghost"}))
		assert.Equal(t, DecisionDiscardedUnresolved, f.rec.HandleDelta(&models.TaskDelta{ExecutionID: "e1", TaskID: "nope"}))
		assert.Equal(t, float64(2), decisionCount(t, f.reg, "delta", "discarded_unresolved"))
	})

	t.Run("stream fragments go to the live log sink", func(t *testing.T) {
		f := setup(t)
		_, err := f.rec.HandleSnapshot(execGraph("e1", models.AgentStatusIdle))
		require.NoError(t, err)
		entry := &models.LogEntry{ID: "l1", ExecutionID: "e1", Message: "hi", IsLive: true}

		assert.Equal(t, DecisionApplied, f.rec.HandleDelta(&models.LogFragment{ExecutionID: "e1", Entry: entry}))
		assert.Equal(t, DecisionDiscardedForeign, f.rec.HandleDelta(&models.LogFragment{ExecutionID: "e9", Entry: entry}))
		assert.Len(t, f.logs.entries["e1"], 1)
		assert.Empty(t, f.logs.entries["e9"])
	})

	t.Run("idempotent", func(t *testing.T) {
		f := setup(t)
		_, err := f.rec.HandleSnapshot(execGraph("e1", models.AgentStatusIdle))
		require.NoError(t, err)
		d := &models.TaskDelta{ExecutionID: "e1", TaskID: "t1", Status: models.Ptr(models.TaskStatusCompleted), Result: models.Ptr("ok")}

		f.rec.HandleDelta(d)
		once := f.store.Snapshot()
		f.rec.HandleDelta(d)
		assert.Equal(t, once, f.store.Snapshot())
	})
}

// While active, any interleaving of stale snapshots with deltas ends in the
// state produced by the deltas alone.
func TestPrecedenceInvariant(t *testing.T) {
	deltas := []models.Delta{
		&models.ExecutionDelta{ExecutionID: "e1", Status: models.Ptr(models.ExecutionStatusRunning)},
		&models.AgentDelta{ExecutionID: "e1", AgentID: "a1", Status: models.Ptr(models.AgentStatusBusy), CurrentTask: models.Ptr("t1")},
		&models.TaskDelta{ExecutionID: "e1", TaskID: "t1", Status: models.Ptr(models.TaskStatusRunning)},
		&models.ToolDelta{ExecutionID: "e1", ToolExecutionID: "tc1", Status: models.Ptr(models.ToolStatusExecuting)},
		&models.ToolDelta{ExecutionID: "e1", ToolExecutionID: "tc1", Status: models.Ptr(models.ToolStatusExecuted), Result: models.Ptr("r")},
	}

	deltaOnly := setup(t)
	_, err := deltaOnly.rec.HandleSnapshot(execGraph("e1", models.AgentStatusIdle))
	require.NoError(t, err)
	for _, d := range deltas {
		deltaOnly.rec.HandleDelta(d)
	}
	want := deltaOnly.store.Snapshot()

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		f := setup(t)
		_, err := f.rec.HandleSnapshot(execGraph("e1", models.AgentStatusIdle))
		require.NoError(t, err)
		f.rec.HandleDelta(deltas[0])
		for _, d := range deltas[1:] {
			if rng.Intn(2) == 0 {
				_, err := f.rec.HandleSnapshot(execGraph("e1", models.AgentStatusIdle))
				require.NoError(t, err)
			}
			f.rec.HandleDelta(d)
		}
		assert.Equal(t, want, f.store.Snapshot())
	}
}

func TestSwitchInvariant(t *testing.T) {
	f := setup(t)
	_, err := f.rec.HandleSnapshot(execGraph("e1", models.AgentStatusBusy))
	require.NoError(t, err)
	_, err = f.rec.HandleSnapshot(execGraph("e2", models.AgentStatusIdle))
	require.NoError(t, err)
	before := f.store.Snapshot()

	for _, d := range []models.Delta{
		&models.AgentDelta{ExecutionID: "e1", AgentID: "a1", Status: models.Ptr(models.AgentStatusFailed)},
		&models.TaskDelta{ExecutionID: "e1", TaskID: "t1", Status: models.Ptr(models.TaskStatusFailed)},
		&models.ToolCreated{Tool: &models.ToolExecution{ID: "tc9", ExecutionID: "e1"}},
		&models.ExecutionDelta{ExecutionID: "e1", Status: models.Ptr(models.ExecutionStatusFailed)},
	} {
		assert.Equal(t, DecisionDiscardedForeign, f.rec.HandleDelta(d))
	}
	assert.Equal(t, before, f.store.Snapshot())
}

func TestAbort(t *testing.T) {
	f := setup(t)
	_, err := f.rec.HandleSnapshot(execGraph("e1", models.AgentStatusBusy))
	require.NoError(t, err)
	require.True(t, f.store.IsActive())

	assert.True(t, apperrors.IsNotFound(f.rec.Abort("other")))
	require.NoError(t, f.rec.Abort("e1"))
	assert.False(t, f.store.IsActive())

	// Later execution deltas never resume an aborted execution.
	f.rec.HandleDelta(&models.ExecutionDelta{ExecutionID: "e1", Status: models.Ptr(models.ExecutionStatusRunning)})
	e, _ := f.store.Execution()
	assert.Equal(t, models.ExecutionStatusAborted, e.Status)

	// Abort unblocks snapshot merges but a durable copy still marked running
	// does not undo it.
	stale := execGraph("e1", models.AgentStatusIdle)
	stale.Execution.Status = models.ExecutionStatusRunning
	d, err := f.rec.HandleSnapshot(stale)
	require.NoError(t, err)
	assert.Equal(t, DecisionReplaced, d)
	e, _ = f.store.Execution()
	assert.Equal(t, models.ExecutionStatusAborted, e.Status)
	assert.Equal(t, models.AgentStatusIdle, agentStatus(t, f.store, "a1"))

	// A terminal durable outcome is taken as ground truth.
	final := execGraph("e1", models.AgentStatusFailed)
	final.Execution.Status = models.ExecutionStatusFailed
	_, err = f.rec.HandleSnapshot(final)
	require.NoError(t, err)
	e, _ = f.store.Execution()
	assert.Equal(t, models.ExecutionStatusFailed, e.Status)
}

func TestStaleSnapshotScenario(t *testing.T) {
	f := setup(t)
	_, err := f.rec.HandleSnapshot(execGraph("E1", models.AgentStatusIdle))
	require.NoError(t, err)

	require.Equal(t, DecisionApplied, f.rec.HandleDelta(&models.AgentDelta{
		ExecutionID: "E1", AgentRef: "a1", AgentID: "a1", Status: models.Ptr(models.AgentStatusBusy),
	}))
	require.True(t, f.store.IsActive())

	d, err := f.rec.HandleSnapshot(execGraph("E1", models.AgentStatusIdle))
	require.NoError(t, err)
	assert.Equal(t, DecisionDiscardedActive, d)
	assert.Equal(t, models.AgentStatusBusy, agentStatus(t, f.store, "a1"))
}

func TestConcurrentWritersAreSerialized(t *testing.T) {
	f := setup(t)
	_, err := f.rec.HandleSnapshot(execGraph("e1", models.AgentStatusBusy))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			f.rec.HandleDelta(&models.AgentDelta{ExecutionID: "e1", AgentID: "a1", Status: models.Ptr(models.AgentStatusBusy)})
		}()
		go func() {
			defer wg.Done()
			_, _ = f.rec.HandleSnapshot(execGraph("e1", models.AgentStatusIdle))
		}()
	}
	wg.Wait()

	assert.Equal(t, models.AgentStatusBusy, agentStatus(t, f.store, "a1"))
}

func decisionCount(t *testing.T, reg *prometheus.Registry, source, decision string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "execwatch_reconciler_decisions_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["source"] == source && labels["decision"] == decision {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}
