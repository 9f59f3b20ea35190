package snapshot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kandev/execwatch/internal/common/errors"
	"github.com/kandev/execwatch/internal/common/logger"
	"github.com/kandev/execwatch/internal/execution/models"
)

type fakeSource struct {
	mu      sync.Mutex
	graphs  map[string]*models.ExecutionGraph
	err     error
	calls   atomic.Int32
	release chan struct{}
	limit   int
}

func (f *fakeSource) GetExecutionGraph(_ context.Context, id string) (*models.ExecutionGraph, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	g, ok := f.graphs[id]
	if !ok {
		return nil, apperrors.NotFound("execution", id)
	}
	return g, nil
}

func (f *fakeSource) ListExecutions(_ context.Context, limit int) ([]*models.Execution, error) {
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	return []*models.Execution{{ID: "e1"}}, nil
}

func graph(id string, status models.ExecutionStatus) *models.ExecutionGraph {
	return &models.ExecutionGraph{Execution: &models.Execution{ID: id, Status: status}}
}

func newLoader(t *testing.T, src Source) *Loader {
	t.Helper()
	l, err := NewLoader(src, Options{CacheSize: 4, HistoryLimit: 7}, nil, logger.NewNop())
	require.NoError(t, err)
	return l
}

func TestLoader_CachesTerminalOnly(t *testing.T) {
	src := &fakeSource{graphs: map[string]*models.ExecutionGraph{
		"done":    graph("done", models.ExecutionStatusCompleted),
		"running": graph("running", models.ExecutionStatusRunning),
	}}
	l := newLoader(t, src)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		g, err := l.LoadExecutionGraph(ctx, "done")
		require.NoError(t, err)
		g.Execution.Status = models.ExecutionStatusFailed
	}
	assert.Equal(t, int32(1), src.calls.Load())

	g, err := l.LoadExecutionGraph(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, g.Execution.Status, "cached copy is isolated")

	_, _ = l.LoadExecutionGraph(ctx, "running")
	_, _ = l.LoadExecutionGraph(ctx, "running")
	assert.Equal(t, int32(3), src.calls.Load())

	l.Invalidate("done")
	_, _ = l.LoadExecutionGraph(ctx, "done")
	assert.Equal(t, int32(4), src.calls.Load())
}

func TestLoader_SharesConcurrentLoads(t *testing.T) {
	src := &fakeSource{
		graphs:  map[string]*models.ExecutionGraph{"e1": graph("e1", models.ExecutionStatusRunning)},
		release: make(chan struct{}),
	}
	l := newLoader(t, src)

	var wg sync.WaitGroup
	results := make([]*models.ExecutionGraph, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			g, err := l.LoadExecutionGraph(context.Background(), "e1")
			assert.NoError(t, err)
			results[i] = g
		}(i)
	}
	require.Eventually(t, func() bool { return src.calls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(src.release)
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
	assert.NotSame(t, results[0], results[1])
}

func TestLoader_Errors(t *testing.T) {
	ctx := context.Background()

	l := newLoader(t, &fakeSource{graphs: map[string]*models.ExecutionGraph{
		"bad": {Execution: &models.Execution{}},
	}})
	_, err := l.LoadExecutionGraph(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))

	_, err = l.LoadExecutionGraph(ctx, "bad")
	assert.True(t, apperrors.IsSnapshotError(err))

	_, err = l.LoadExecutionGraph(ctx, "")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeBadRequest))

	l = newLoader(t, &fakeSource{err: errors.New("disk gone")})
	_, err = l.LoadExecutionGraph(ctx, "e1")
	assert.True(t, apperrors.IsSnapshotError(err))
	_, err = l.LoadExecutionHistory(ctx, 0)
	assert.True(t, apperrors.IsSnapshotError(err))
}

func TestLoader_HistoryLimit(t *testing.T) {
	src := &fakeSource{}
	l := newLoader(t, src)

	list, err := l.LoadExecutionHistory(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 7, src.limit)

	_, _ = l.LoadExecutionHistory(context.Background(), 3)
	assert.Equal(t, 3, src.limit)
}
