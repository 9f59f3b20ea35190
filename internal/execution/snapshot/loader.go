// Package snapshot loads execution graphs and history from durable storage.
package snapshot

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kandev/execwatch/internal/common/constants"
	apperrors "github.com/kandev/execwatch/internal/common/errors"
	"github.com/kandev/execwatch/internal/common/logger"
	"github.com/kandev/execwatch/internal/execution/models"
	"github.com/kandev/execwatch/internal/metrics"
)

// Source is the durable read side used by the loader.
type Source interface {
	GetExecutionGraph(ctx context.Context, id string) (*models.ExecutionGraph, error)
	ListExecutions(ctx context.Context, limit int) ([]*models.Execution, error)
}

// Options tune the loader.
type Options struct {
	CacheSize    int
	HistoryLimit int
}

// Loader fetches snapshots. Concurrent loads of the same id share one read,
// and terminal executions are cached since they no longer change.
type Loader struct {
	src          Source
	cache        *lru.Cache[string, *models.ExecutionGraph]
	group        singleflight.Group
	historyLimit int
	metrics      *metrics.Metrics
	logger       *logger.Logger
}

// NewLoader creates a Loader.
func NewLoader(src Source, opts Options, m *metrics.Metrics, log *logger.Logger) (*Loader, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 32
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = constants.DefaultHistoryLimit
	}
	cache, err := lru.New[string, *models.ExecutionGraph](opts.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Loader{
		src:          src,
		cache:        cache,
		historyLimit: opts.HistoryLimit,
		metrics:      m,
		logger:       log.WithFields(zap.String("component", "snapshot-loader")),
	}, nil
}

// LoadExecutionGraph returns a deep copy of the stored graph for id.
// Missing executions return a not-found error; any other failure, including
// a malformed stored graph, is a snapshot error.
func (l *Loader) LoadExecutionGraph(ctx context.Context, id string) (*models.ExecutionGraph, error) {
	if id == "" {
		return nil, apperrors.BadRequest("execution id is required")
	}
	if g, ok := l.cache.Get(id); ok {
		l.metrics.IncSnapshotCacheHit()
		return g.Clone(), nil
	}

	v, err, _ := l.group.Do(id, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.SnapshotLoadTimeout)
		defer cancel()
		return l.src.GetExecutionGraph(loadCtx, id)
	})
	if err != nil {
		if apperrors.IsNotFound(err) {
			l.metrics.ObserveSnapshotLoad("not_found")
			return nil, err
		}
		l.metrics.ObserveSnapshotLoad("error")
		l.logger.Warn("snapshot load failed", zap.String("execution_id", id), zap.Error(err))
		return nil, apperrors.SnapshotError("failed to load execution "+id, err)
	}

	g, _ := v.(*models.ExecutionGraph)
	if err := g.Validate(); err != nil {
		l.metrics.ObserveSnapshotLoad("invalid")
		return nil, apperrors.SnapshotError("stored execution "+id+" is malformed", err)
	}
	l.metrics.ObserveSnapshotLoad("ok")
	if g.Execution.Status.IsTerminal() {
		l.cache.Add(id, g.Clone())
	}
	// v may be shared between concurrent callers.
	return g.Clone(), nil
}

// LoadExecutionHistory lists recent executions. limit <= 0 uses the default.
func (l *Loader) LoadExecutionHistory(ctx context.Context, limit int) ([]*models.Execution, error) {
	if limit <= 0 {
		limit = l.historyLimit
	}
	loadCtx, cancel := context.WithTimeout(ctx, constants.SnapshotLoadTimeout)
	defer cancel()
	list, err := l.src.ListExecutions(loadCtx, limit)
	if err != nil {
		return nil, apperrors.SnapshotError("failed to load execution history", err)
	}
	return list, nil
}

// Invalidate drops a cached graph.
func (l *Loader) Invalidate(id string) {
	l.cache.Remove(id)
}

// Purge drops every cached graph.
func (l *Loader) Purge() {
	l.cache.Purge()
}
