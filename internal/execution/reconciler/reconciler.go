// Package reconciler arbitrates every write to the execution graph store.
//
// Three unordered sources feed it: push-channel deltas, snapshot reads from
// durable storage and optimistic local transitions. While the loaded
// execution is active, live state wins over snapshots of the same execution.
package reconciler

import (
	"sync"

	"go.uber.org/zap"

	apperrors "github.com/kandev/execwatch/internal/common/errors"
	"github.com/kandev/execwatch/internal/common/logger"
	"github.com/kandev/execwatch/internal/execution/models"
	"github.com/kandev/execwatch/internal/metrics"
)

// Decision is the outcome of reconciling one input.
type Decision string

const (
	DecisionApplied             Decision = "applied"
	DecisionReplaced            Decision = "replaced"
	DecisionDiscardedForeign    Decision = "discarded_foreign"
	DecisionDiscardedUnresolved Decision = "discarded_unresolved"
	DecisionDiscardedActive     Decision = "discarded_active"
	DecisionRejected            Decision = "rejected"
)

// Source labels where an input came from.
type Source string

const (
	SourceDelta    Source = "delta"
	SourceSnapshot Source = "snapshot"
	SourceLocal    Source = "local"
)

// Store is the graph store surface the reconciler writes through.
type Store interface {
	Replace(g *models.ExecutionGraph) error
	ApplyDelta(d models.Delta) bool
	CurrentExecutionID() (string, bool)
	IsActive() bool
	Execution() (*models.Execution, bool)
	Clear()
}

// LiveLogSink receives streamed log fragments for the loaded execution.
type LiveLogSink interface {
	AppendLive(executionID string, entry *models.LogEntry)
}

// Reconciler is the only component that mutates the Store. Its mutex makes
// every check-then-write atomic.
type Reconciler struct {
	mu       sync.Mutex
	store    Store
	liveLogs LiveLogSink
	metrics  *metrics.Metrics
	logger   *logger.Logger
}

// New creates a Reconciler. liveLogs and m may be nil.
func New(store Store, liveLogs LiveLogSink, m *metrics.Metrics, log *logger.Logger) *Reconciler {
	return &Reconciler{
		store:    store,
		liveLogs: liveLogs,
		metrics:  m,
		logger:   log.WithFields(zap.String("component", "reconciler")),
	}
}

// HandleDelta applies a push-channel delta.
func (r *Reconciler) HandleDelta(d models.Delta) Decision {
	return r.applyDelta(SourceDelta, d)
}

// ApplyLocal applies an optimistic local transition under the same rules as
// push-channel deltas.
func (r *Reconciler) ApplyLocal(d models.Delta) Decision {
	return r.applyDelta(SourceLocal, d)
}

func (r *Reconciler) applyDelta(source Source, d models.Delta) Decision {
	if d == nil {
		return r.record(source, DecisionRejected)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.store.CurrentExecutionID()
	if !ok || d.TargetExecutionID() != current {
		return r.record(source, DecisionDiscardedForeign)
	}

	if lf, isLog := d.(*models.LogFragment); isLog {
		if lf.Entry == nil {
			return r.record(source, DecisionRejected)
		}
		if r.liveLogs != nil {
			r.liveLogs.AppendLive(current, lf.Entry)
		}
		return r.record(source, DecisionApplied)
	}

	if ad, isAgent := d.(*models.AgentDelta); isAgent && ad.AgentID == "" {
		r.logger.Warn("discarding agent delta",
			zap.String("execution_id", current),
			zap.Error(apperrors.ResolutionError("agent", ad.AgentRef)))
		return r.record(source, DecisionDiscardedUnresolved)
	}

	if !r.store.ApplyDelta(d) {
		r.logger.Debug("discarding delta with unresolved target",
			zap.String("execution_id", current),
			zap.String("source", string(source)),
			zap.String("kind", string(d.Kind())))
		return r.record(source, DecisionDiscardedUnresolved)
	}
	r.metrics.SetExecutionActive(r.store.IsActive())
	return r.record(source, DecisionApplied)
}

// HandleSnapshot reconciles a durable snapshot. Malformed snapshots are
// rejected with a snapshot error and never partially applied.
func (r *Reconciler) HandleSnapshot(g *models.ExecutionGraph) (Decision, error) {
	if err := g.Validate(); err != nil {
		r.record(SourceSnapshot, DecisionRejected)
		return DecisionRejected, apperrors.SnapshotError("malformed snapshot", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.store.CurrentExecutionID()
	switch {
	case !ok, current != g.Execution.ID:
		// first load or switch to another execution
	case r.store.IsActive():
		r.logger.Debug("discarding snapshot of active execution", zap.String("execution_id", current))
		return r.record(SourceSnapshot, DecisionDiscardedActive), nil
	default:
		g = keepAborted(r.store, g)
	}

	if err := r.store.Replace(g); err != nil {
		r.record(SourceSnapshot, DecisionRejected)
		return DecisionRejected, apperrors.SnapshotError("install snapshot", err)
	}
	r.metrics.SetExecutionActive(r.store.IsActive())
	return r.record(SourceSnapshot, DecisionReplaced), nil
}

// keepAborted preserves a local abort when the durable copy still reports
// the execution as in progress.
func keepAborted(store Store, g *models.ExecutionGraph) *models.ExecutionGraph {
	cur, ok := store.Execution()
	if !ok || cur.Status != models.ExecutionStatusAborted || g.Execution.Status.IsTerminal() {
		return g
	}
	out := g.Clone()
	out.Execution.Status = models.ExecutionStatusAborted
	if out.Execution.CompletedAt == nil {
		out.Execution.CompletedAt = cur.CompletedAt
	}
	return out
}

// Abort marks the loaded execution aborted. The status is local and sticky.
func (r *Reconciler) Abort(executionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.store.CurrentExecutionID()
	if !ok || current != executionID {
		return apperrors.NotFound("execution", executionID)
	}
	r.store.ApplyDelta(&models.ExecutionDelta{
		ExecutionID: executionID,
		Status:      models.Ptr(models.ExecutionStatusAborted),
	})
	r.metrics.SetExecutionActive(false)
	r.record(SourceLocal, DecisionApplied)
	r.logger.Info("execution aborted", zap.String("execution_id", executionID))
	return nil
}

// Clear unloads the current execution.
func (r *Reconciler) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.store.Clear()
	r.metrics.SetExecutionActive(false)
}

func (r *Reconciler) record(source Source, d Decision) Decision {
	r.metrics.ObserveDecision(string(source), string(d))
	return d
}
