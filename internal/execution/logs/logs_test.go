package logs

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/execwatch/internal/execution/models"
)

var base = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

func entry(msg string, offset time.Duration, live bool) *models.LogEntry {
	return &models.LogEntry{ID: msg, ExecutionID: "e1", Message: msg, Timestamp: base.Add(offset), IsLive: live}
}

func messages(entries []*models.LogEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Message)
	}
	return out
}

func TestMerge_LiveEntriesTrail(t *testing.T) {
	durable := []*models.LogEntry{entry("t1", 1*time.Second, false), entry("t3", 3*time.Second, false)}
	live := []*models.LogEntry{entry("t2", 2*time.Second, true), entry("t0", 0, true)}

	got := Merge(durable, nil, nil, live)
	assert.Equal(t, []string{"t1", "t3", "t0", "t2"}, messages(got))
}

func TestMerge_Dedupe(t *testing.T) {
	t.Run("first source wins", func(t *testing.T) {
		durable := entry("approved", time.Second, false)
		durable.ID = "durable"
		local := entry("approved", time.Second, true)
		local.ID = "local"

		got := Merge([]*models.LogEntry{durable}, nil, []*models.LogEntry{local}, nil)
		require.Len(t, got, 1)
		assert.Equal(t, "durable", got[0].ID)
		assert.False(t, got[0].IsLive)
	})

	t.Run("millisecond precision", func(t *testing.T) {
		a := entry("tick", 0, false)
		b := entry("tick", 400*time.Microsecond, false)
		c := entry("tick", 2*time.Millisecond, false)
		got := Merge([]*models.LogEntry{a}, []*models.LogEntry{b}, []*models.LogEntry{c}, nil)
		assert.Len(t, got, 2)
	})

	t.Run("same timestamp different message", func(t *testing.T) {
		got := Merge([]*models.LogEntry{entry("a", 0, false), entry("b", 0, false)}, nil, nil, []*models.LogEntry{nil})
		assert.Equal(t, []string{"a", "b"}, messages(got))
	})
}

func TestMerge_AllSources(t *testing.T) {
	durable := []*models.LogEntry{entry("d5", 5*time.Second, false)}
	historical := []*models.LogEntry{entry("h1", 1*time.Second, false)}
	local := []*models.LogEntry{entry("l3", 3*time.Second, false), entry("l9", 9*time.Second, true)}
	live := []*models.LogEntry{entry("s2", 2*time.Second, true)}

	got := Merge(durable, historical, local, live)
	assert.Equal(t, []string{"h1", "l3", "d5", "s2", "l9"}, messages(got))
	assert.Empty(t, Merge(nil, nil, nil, nil))
}

func TestSynthesize(t *testing.T) {
	assert.Nil(t, Synthesize(nil))

	completed := base.Add(time.Minute)
	g := &models.ExecutionGraph{
		Execution: &models.Execution{
			ID: "e1", TaskDescription: "write report", Status: models.ExecutionStatusCompleted,
			CreatedAt: base, CompletedAt: &completed, Result: "final report",
		},
		Agents: []*models.Agent{{ID: "a1", Role: "writer", Status: models.AgentStatusCompleted, LastUpdated: base.Add(time.Second)}},
		Tasks:  []*models.Task{{ID: "t1", AgentID: "a1", TaskDescription: "draft", Status: models.TaskStatusCompleted}},
		ToolExecutions: []*models.ToolExecution{
			{ID: "tc1", AgentID: "a1", ToolName: "search", Status: models.ToolStatusError, Error: "timeout", LastUpdated: base.Add(2 * time.Second)},
		},
	}

	got := Synthesize(g)
	for _, e := range got {
		assert.False(t, e.IsLive)
		assert.Equal(t, "e1", e.ExecutionID)
		assert.False(t, e.Timestamp.IsZero())
	}

	byID := map[string]*models.LogEntry{}
	for _, e := range got {
		byID[e.ID] = e
	}
	require.Contains(t, byID, "hist-synthesis-e1")
	assert.Equal(t, models.LogTypeSynthesis, byID["hist-synthesis-e1"].LogType)
	assert.Equal(t, "final report", byID["hist-synthesis-e1"].Message)
	require.Contains(t, byID, "hist-tool-result-tc1")
	assert.Equal(t, models.LogTypeError, byID["hist-tool-result-tc1"].LogType)
	assert.Equal(t, "writer", byID["hist-tool-result-tc1"].AgentRole)
	// zero task timestamp falls back to creation time
	assert.Equal(t, base, byID["hist-task-t1"].Timestamp)

	// Synthesizing twice yields entries Merge collapses.
	merged := Merge(nil, got, Synthesize(g), nil)
	assert.Len(t, merged, len(got))
}

func TestBuffer(t *testing.T) {
	b := NewBuffer(3)

	for i := 0; i < 5; i++ {
		b.AppendLocal(entry(fmt.Sprintf("local-%d", i), time.Duration(i)*time.Second, false))
	}
	assert.Equal(t, []string{"local-2", "local-3", "local-4"}, messages(b.Local("e1")))

	frag := entry("stream", 0, false)
	b.AppendLive("e1", frag)
	live := b.Live("e1")
	require.Len(t, live, 1)
	assert.True(t, live[0].IsLive)
	assert.False(t, frag.IsLive, "input is not mutated")

	live[0].Message = "mutated"
	assert.Equal(t, "stream", b.Live("e1")[0].Message)

	b.AppendLocal(nil)
	b.AppendLive("", frag)
	assert.Nil(t, b.Local("e2"))

	b.Reset("e1")
	assert.Nil(t, b.Local("e1"))
	assert.Nil(t, b.Live("e1"))
}

func TestBuffer_EvictsOldExecutions(t *testing.T) {
	b := NewBuffer(10)
	for i := 0; i <= defaultTrackedExecutions; i++ {
		b.AppendLive(fmt.Sprintf("e%d", i), entry("x", 0, true))
	}
	assert.Nil(t, b.Live("e0"))
	assert.Len(t, b.Live(fmt.Sprintf("e%d", defaultTrackedExecutions)), 1)

	b.ResetAll()
	assert.Nil(t, b.Live("e1"))
}
