// Package monitor ties the execution pipeline together: it feeds push events
// through the normalizer and reconciler, installs snapshots, forwards user
// actions to the approval engine and assembles the log timeline.
package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/execwatch/internal/approval"
	"github.com/kandev/execwatch/internal/common/constants"
	apperrors "github.com/kandev/execwatch/internal/common/errors"
	"github.com/kandev/execwatch/internal/common/logger"
	"github.com/kandev/execwatch/internal/events"
	"github.com/kandev/execwatch/internal/events/bus"
	"github.com/kandev/execwatch/internal/execution/graph"
	"github.com/kandev/execwatch/internal/execution/logs"
	"github.com/kandev/execwatch/internal/execution/models"
	"github.com/kandev/execwatch/internal/execution/normalizer"
	"github.com/kandev/execwatch/internal/execution/reconciler"
	"github.com/kandev/execwatch/internal/remote"
	"github.com/kandev/execwatch/internal/tracing"
)

// SnapshotLoader reads snapshots from durable storage.
type SnapshotLoader interface {
	LoadExecutionGraph(ctx context.Context, id string) (*models.ExecutionGraph, error)
	LoadExecutionHistory(ctx context.Context, limit int) ([]*models.Execution, error)
	Invalidate(id string)
	Purge()
}

// Repository is the durable storage surface used by the monitor.
type Repository interface {
	SaveExecutionGraph(ctx context.Context, g *models.ExecutionGraph) error
	ListLogs(ctx context.Context, executionID string) ([]*models.LogEntry, error)
	DeleteExecution(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
}

// Remote issues destructive commands to the orchestrator.
type Remote interface {
	DeleteExecution(ctx context.Context, executionID string, force bool) (*remote.DeleteResult, error)
	NukeAll(ctx context.Context) (*remote.DeleteResult, error)
}

// Dependencies are the collaborators of the service. Remote may be nil when
// no orchestrator is configured.
type Dependencies struct {
	Store      *graph.Store
	Reconciler *reconciler.Reconciler
	Normalizer *normalizer.Normalizer
	Loader     SnapshotLoader
	Repository Repository
	Engine     *approval.Engine
	Logs       *logs.Buffer
	Remote     Remote
}

// Options tune the service.
type Options struct {
	HistoryLimit int
	Now          func() time.Time
}

// Service is the single entry point for reads and user actions.
type Service struct {
	store      *graph.Store
	reconciler *reconciler.Reconciler
	normalizer *normalizer.Normalizer
	loader     SnapshotLoader
	repo       Repository
	engine     *approval.Engine
	logs       *logs.Buffer
	remote     Remote

	historyLimit int
	historyMu    sync.RWMutex
	history      []*models.Execution

	now    func() time.Time
	logger *logger.Logger
}

// NewService creates a monitor service.
func NewService(deps Dependencies, opts Options, log *logger.Logger) *Service {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = constants.DefaultHistoryLimit
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		store:        deps.Store,
		reconciler:   deps.Reconciler,
		normalizer:   deps.Normalizer,
		loader:       deps.Loader,
		repo:         deps.Repository,
		engine:       deps.Engine,
		logs:         deps.Logs,
		remote:       deps.Remote,
		historyLimit: opts.HistoryLimit,
		now:          opts.Now,
		logger:       log.WithFields(zap.String("component", "monitor")),
	}
}

// Graph returns a copy of the loaded execution graph.
func (s *Service) Graph() (*models.ExecutionGraph, bool) {
	g := s.store.Snapshot()
	return g, g != nil
}

// ViewExecution loads an execution snapshot and installs it. While the same
// execution is loaded and active the live graph is kept and returned.
func (s *Service) ViewExecution(ctx context.Context, id string) (g *models.ExecutionGraph, err error) {
	ctx, span := tracing.TraceExecutionOp(ctx, "view", id)
	defer func() { tracing.TraceResult(span, "done", err); span.End() }()

	if id == "" {
		return nil, apperrors.BadRequest("execution id is required")
	}
	snap, err := s.loader.LoadExecutionGraph(ctx, id)
	if err != nil {
		if apperrors.IsSnapshotError(err) || apperrors.IsNotFound(err) {
			s.refreshHistory(ctx)
		}
		return nil, err
	}
	previous, hadPrevious := s.store.CurrentExecutionID()
	decision, err := s.reconciler.HandleSnapshot(snap)
	if err != nil {
		s.logger.Warn("snapshot rejected", zap.String("execution_id", id), zap.Error(err))
		s.refreshHistory(ctx)
		return nil, err
	}
	if decision == reconciler.DecisionReplaced {
		s.installed(id, previous, hadPrevious)
	}
	return s.store.Snapshot(), nil
}

// installed syncs the approval engine with a freshly installed snapshot.
func (s *Service) installed(id, previous string, hadPrevious bool) {
	if hadPrevious && previous != id {
		s.logs.Reset(previous)
	}
	s.engine.RetainExecution(id)
	current := s.store.Snapshot()
	if current == nil {
		return
	}
	for _, te := range current.ToolExecutions {
		s.engine.Sync(te)
	}
}

// Refresh reloads the current execution from durable storage.
func (s *Service) Refresh(ctx context.Context) (*models.ExecutionGraph, error) {
	id, ok := s.store.CurrentExecutionID()
	if !ok {
		return nil, apperrors.BadRequest("no execution loaded")
	}
	s.loader.Invalidate(id)
	return s.ViewExecution(ctx, id)
}

// History lists the most recent executions. limit <= 0 selects the default.
func (s *Service) History(ctx context.Context, limit int) ([]*models.Execution, error) {
	if limit <= 0 {
		limit = s.historyLimit
	}
	list, err := s.loader.LoadExecutionHistory(ctx, limit)
	if err != nil {
		return nil, err
	}
	s.historyMu.Lock()
	s.history = list
	s.historyMu.Unlock()
	return list, nil
}

// CachedHistory returns the last history list fetched.
func (s *Service) CachedHistory() []*models.Execution {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()
	out := make([]*models.Execution, 0, len(s.history))
	for _, e := range s.history {
		out = append(out, e.Clone())
	}
	return out
}

func (s *Service) refreshHistory(ctx context.Context) {
	if _, err := s.History(ctx, 0); err != nil {
		s.logger.Warn("history refresh failed", zap.Error(err))
	}
}

// Approve approves a pending tool call and returns its resulting state.
func (s *Service) Approve(ctx context.Context, id string) (*models.ToolExecution, error) {
	s.ensureTracked(id)
	if err := s.engine.Approve(ctx, id); err != nil {
		return nil, err
	}
	return s.toolState(id)
}

// Deny denies a pending tool call.
func (s *Service) Deny(ctx context.Context, id string) (*models.ToolExecution, error) {
	s.ensureTracked(id)
	if err := s.engine.Deny(ctx, id); err != nil {
		return nil, err
	}
	return s.toolState(id)
}

// Reset returns a tool call to pending.
func (s *Service) Reset(ctx context.Context, id string) (*models.ToolExecution, error) {
	s.ensureTracked(id)
	if err := s.engine.Reset(ctx, id); err != nil {
		return nil, err
	}
	return s.toolState(id)
}

// ensureTracked registers a call known to the graph but not yet to the engine.
func (s *Service) ensureTracked(id string) {
	if _, ok := s.engine.Status(id); ok {
		return
	}
	if te, ok := s.store.ToolExecution(id); ok {
		s.engine.Track(te)
	}
}

func (s *Service) toolState(id string) (*models.ToolExecution, error) {
	te, ok := s.engine.Status(id)
	if !ok {
		return nil, apperrors.NotFound("tool execution", id)
	}
	return te, nil
}

// Abort marks the loaded execution aborted and persists the result.
func (s *Service) Abort(ctx context.Context) (err error) {
	id, ok := s.store.CurrentExecutionID()
	ctx, span := tracing.TraceExecutionOp(ctx, "abort", id)
	defer func() { tracing.TraceResult(span, "done", err); span.End() }()

	if !ok {
		return apperrors.BadRequest("no execution loaded")
	}
	if err := s.reconciler.Abort(id); err != nil {
		return err
	}
	s.logs.AppendLocal(&models.LogEntry{
		ID:          "abort-" + id,
		ExecutionID: id,
		LogType:     models.LogTypeWarning,
		Message:     "Execution aborted",
		Timestamp:   s.now(),
	})
	s.persistCurrent(ctx)
	return nil
}

// Delete removes an execution upstream and from durable storage. Force also
// removes a running execution.
func (s *Service) Delete(ctx context.Context, id string, force bool) (err error) {
	ctx, span := tracing.TraceExecutionOp(ctx, "delete", id)
	defer func() { tracing.TraceResult(span, "done", err); span.End() }()

	if id == "" {
		return apperrors.BadRequest("execution id is required")
	}
	if current, ok := s.store.CurrentExecutionID(); ok && current == id && !force && s.store.IsActive() {
		return apperrors.Conflict("execution is still running; use force to delete it")
	}
	if s.remote != nil {
		if _, err := s.remote.DeleteExecution(ctx, id, force); err != nil && !apperrors.IsNotFound(err) {
			return err
		}
	}
	if err := s.repo.DeleteExecution(ctx, id); err != nil && !apperrors.IsNotFound(err) {
		return err
	}
	s.loader.Invalidate(id)
	if current, ok := s.store.CurrentExecutionID(); ok && current == id {
		s.unload(id)
	}
	s.refreshHistory(ctx)
	s.logger.Info("execution deleted", zap.String("execution_id", id), zap.Bool("force", force))
	return nil
}

// NukeAll removes every execution upstream and locally.
func (s *Service) NukeAll(ctx context.Context) (err error) {
	ctx, span := tracing.TraceExecutionOp(ctx, "nuke", "")
	defer func() { tracing.TraceResult(span, "done", err); span.End() }()

	if s.remote != nil {
		if _, err := s.remote.NukeAll(ctx); err != nil {
			return err
		}
	}
	if err := s.repo.DeleteAll(ctx); err != nil {
		return err
	}
	s.loader.Purge()
	s.reconciler.Clear()
	s.logs.ResetAll()
	s.engine.RetainExecution("")
	s.historyMu.Lock()
	s.history = nil
	s.historyMu.Unlock()
	s.logger.Info("all executions deleted")
	return nil
}

func (s *Service) unload(id string) {
	s.reconciler.Clear()
	s.logs.Reset(id)
	s.engine.RetainExecution("")
}

// Logs returns the merged log timeline of the loaded execution.
func (s *Service) Logs(ctx context.Context) ([]*models.LogEntry, error) {
	id, ok := s.store.CurrentExecutionID()
	if !ok {
		return nil, apperrors.BadRequest("no execution loaded")
	}
	durable, err := s.repo.ListLogs(ctx, id)
	if err != nil {
		s.logger.Warn("durable logs unavailable", zap.String("execution_id", id), zap.Error(err))
		durable = nil
	}
	var historical []*models.LogEntry
	if !s.store.IsActive() {
		historical = logs.Synthesize(s.store.Snapshot())
	}
	return logs.Merge(durable, historical, s.logs.Local(id), s.logs.Live(id)), nil
}

// HandleEvent normalizes one push event and reconciles it. It is the
// watcher's handler and must be called from one goroutine at a time.
func (s *Service) HandleEvent(ctx context.Context, event *bus.Event) {
	d, ok := s.normalizer.Normalize(event)
	if !ok {
		return
	}
	if event.Type == events.ExecutionCreated {
		if _, loaded := s.store.CurrentExecutionID(); !loaded {
			s.loadCreated(ctx, d.TargetExecutionID())
			return
		}
	}

	// Tool updates pass the engine first so a reset call keeps its state
	// in both the engine and the graph.
	if td, isTool := d.(*models.ToolDelta); isTool {
		s.engine.Observe(td, func() bool {
			return s.reconciler.HandleDelta(td) == reconciler.DecisionApplied
		})
		return
	}

	decision := s.reconciler.HandleDelta(d)
	if decision != reconciler.DecisionApplied {
		return
	}
	switch d := d.(type) {
	case *models.ToolCreated:
		// the stored copy carries the resolved agent id
		if te, ok := s.store.ToolExecution(d.Tool.ID); ok {
			s.engine.Track(te)
		}
	case *models.ExecutionDelta:
		s.loader.Invalidate(d.ExecutionID)
		if d.Status != nil && d.Status.IsTerminal() {
			s.persistCurrent(ctx)
		}
	}
}

// loadCreated follows a newly created execution when nothing is loaded yet.
func (s *Service) loadCreated(ctx context.Context, id string) {
	if _, err := s.ViewExecution(ctx, id); err != nil {
		s.logger.Debug("created execution not loadable yet",
			zap.String("execution_id", id), zap.Error(err))
	}
}

// persistCurrent writes the loaded graph to durable storage. Failures are
// only logged.
func (s *Service) persistCurrent(ctx context.Context) {
	g := s.store.Snapshot()
	if g == nil {
		return
	}
	if err := s.repo.SaveExecutionGraph(context.WithoutCancel(ctx), g); err != nil {
		s.logger.Warn("failed to persist execution",
			zap.String("execution_id", g.ExecutionID()), zap.Error(err))
		return
	}
	s.loader.Invalidate(g.ExecutionID())
}
