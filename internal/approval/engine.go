package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/execwatch/internal/common/constants"
	apperrors "github.com/kandev/execwatch/internal/common/errors"
	"github.com/kandev/execwatch/internal/common/logger"
	"github.com/kandev/execwatch/internal/execution/models"
	"github.com/kandev/execwatch/internal/metrics"
	"github.com/kandev/execwatch/internal/tracing"
)

// DefaultApprovalIDPrefix marks calls raised by the orchestrator-side approval
// flow. Denials for them go over the command channel instead of a resume.
const DefaultApprovalIDPrefix = "approval_"

// Dependencies are the collaborators of the engine. Persister and Logs may be nil.
type Dependencies struct {
	Graph        GraphWriter
	Invoker      ToolInvoker
	Resumer      WorkflowResumer
	Persister    Persister
	Logs         LogSink
	Interactions *InteractionStore
}

// Options tune the engine.
type Options struct {
	ToolTimeout        time.Duration
	AutoApproveServers []string
	ApprovalIDPrefix   string
	Now                func() time.Time
}

type call struct {
	te         *models.ToolExecution
	generation uint64
	inFlight   bool
	// fenced drops remote status updates after a reset until the call is
	// raised again or a new run claims it.
	fenced bool
}

// Engine owns the approval state of every tracked tool call. Each call has
// at most one approve or deny in flight; reset bumps the call's generation
// so results of earlier runs are dropped when they arrive.
type Engine struct {
	mu           sync.Mutex
	calls        map[string]*call
	autoApproved map[string]struct{}
	autoServers  map[string]struct{}

	graph        GraphWriter
	invoker      ToolInvoker
	resumer      WorkflowResumer
	persister    Persister
	logs         LogSink
	interactions *InteractionStore

	toolTimeout time.Duration
	prefix      string
	now         func() time.Time

	metrics *metrics.Metrics
	logger  *logger.Logger
	wg      sync.WaitGroup
}

// NewEngine creates an approval engine.
func NewEngine(deps Dependencies, opts Options, m *metrics.Metrics, log *logger.Logger) *Engine {
	if opts.ToolTimeout <= 0 {
		opts.ToolTimeout = constants.ToolInvocationTimeout
	}
	if opts.ApprovalIDPrefix == "" {
		opts.ApprovalIDPrefix = DefaultApprovalIDPrefix
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.Interactions == nil {
		deps.Interactions = NewInteractionStore(0)
	}
	autoServers := make(map[string]struct{}, len(opts.AutoApproveServers))
	for _, s := range opts.AutoApproveServers {
		autoServers[s] = struct{}{}
	}
	return &Engine{
		calls:        make(map[string]*call),
		autoApproved: make(map[string]struct{}),
		autoServers:  autoServers,
		graph:        deps.Graph,
		invoker:      deps.Invoker,
		resumer:      deps.Resumer,
		persister:    deps.Persister,
		logs:         deps.Logs,
		interactions: deps.Interactions,
		toolTimeout:  opts.ToolTimeout,
		prefix:       opts.ApprovalIDPrefix,
		now:          opts.Now,
		metrics:      m,
		logger:       log.WithFields(zap.String("component", "approval-engine")),
	}
}

// Interactions returns the store of paused workflows awaiting a decision.
func (e *Engine) Interactions() *InteractionStore {
	return e.interactions
}

// Track registers a tool call from a creation delta. Re-delivery of a known
// call only fills in missing references. A call with a thread id is
// remote-paused. Pending calls of auto-approved providers are approved in
// the background, once per call until reset.
func (e *Engine) Track(te *models.ToolExecution) {
	e.track(te, false)
}

// Sync registers or overwrites a tool call from an installed snapshot.
// Calls with a run in flight keep their local state.
func (e *Engine) Sync(te *models.ToolExecution) {
	e.track(te, true)
}

func (e *Engine) track(te *models.ToolExecution, overwrite bool) {
	if te == nil || te.ID == "" {
		return
	}
	e.mu.Lock()
	c, ok := e.calls[te.ID]
	switch {
	case !ok:
		c = &call{te: te.Clone()}
		if c.te.Status == "" {
			c.te.Status = models.ToolStatusPending
		}
		e.calls[te.ID] = c
	case overwrite && !c.inFlight:
		mergeRemote(c.te, te)
	default:
		mergeRefs(c.te, te)
	}
	if !overwrite {
		c.fenced = false
	}
	if c.te.Status == models.ToolStatusPending && c.te.ThreadID != "" {
		e.interactions.Put(Interaction{ToolCallID: c.te.ID, ThreadID: c.te.ThreadID, ExecutionID: c.te.ExecutionID})
	}
	auto := e.shouldAutoApproveLocked(c)
	e.mu.Unlock()

	if auto {
		go e.runAutoApprove(te.ID)
	}
}

// Observe folds a remote tool delta into a tracked call. apply writes the
// delta to the live graph and runs under the engine lock, so the graph and
// the engine see the same accepted deltas. Deltas for a call with a local
// run in flight, or for a call reset since its last run, are dropped without
// calling apply. Untracked calls only go through apply. It reports whether
// the delta was applied.
func (e *Engine) Observe(d *models.ToolDelta, apply func() bool) bool {
	if d == nil {
		return false
	}
	e.mu.Lock()
	c, ok := e.calls[d.ToolExecutionID]
	if !ok {
		e.mu.Unlock()
		return apply == nil || apply()
	}
	if c.inFlight || c.fenced {
		e.mu.Unlock()
		e.logger.Debug("dropping remote tool update",
			zap.String("tool_call_id", d.ToolExecutionID), zap.Bool("fenced", c.fenced))
		return false
	}
	if apply != nil && !apply() {
		e.mu.Unlock()
		return false
	}
	if d.Status != nil && d.Status.Valid() {
		c.te.Status = *d.Status
	}
	if d.Result != nil {
		c.te.Result = *d.Result
	}
	if d.Error != nil {
		c.te.Error = *d.Error
	}
	if d.ClearExecutionTime {
		c.te.ExecutionTimeMs = nil
	}
	if d.ExecutionTimeMs != nil {
		c.te.ExecutionTimeMs = models.Ptr(*d.ExecutionTimeMs)
	}
	if d.HumanApproved != nil {
		c.te.HumanApproved = *d.HumanApproved
	}
	auto := e.shouldAutoApproveLocked(c)
	e.mu.Unlock()

	if auto {
		go e.runAutoApprove(d.ToolExecutionID)
	}
	return true
}

func mergeRemote(dst, src *models.ToolExecution) {
	if src.Status.Valid() {
		dst.Status = src.Status
	}
	if src.Result != "" {
		dst.Result = src.Result
	}
	if src.Error != "" {
		dst.Error = src.Error
	}
	if src.ExecutionTimeMs != nil {
		dst.ExecutionTimeMs = models.Ptr(*src.ExecutionTimeMs)
	}
	dst.HumanApproved = src.HumanApproved
	mergeRefs(dst, src)
}

func mergeRefs(dst, src *models.ToolExecution) {
	if dst.ThreadID == "" {
		dst.ThreadID = src.ThreadID
	}
	if dst.ApprovalID == "" {
		dst.ApprovalID = src.ApprovalID
	}
	if dst.TaskID == "" {
		dst.TaskID = src.TaskID
	}
	if dst.AgentID == "" {
		dst.AgentID = src.AgentID
	}
	if dst.ExecutionID == "" {
		dst.ExecutionID = src.ExecutionID
	}
}

func (e *Engine) shouldAutoApproveLocked(c *call) bool {
	if c.inFlight || c.te.Status != models.ToolStatusPending {
		return false
	}
	if _, ok := e.autoServers[c.te.MCPServer]; !ok || c.te.MCPServer == "" {
		return false
	}
	if _, done := e.autoApproved[c.te.ID]; done {
		return false
	}
	e.autoApproved[c.te.ID] = struct{}{}
	e.wg.Add(1)
	return true
}

func (e *Engine) runAutoApprove(id string) {
	defer e.wg.Done()
	if err := e.approve(context.Background(), id, false); err != nil {
		e.logger.Warn("auto-approval failed", zap.String("tool_call_id", id), zap.Error(err))
	}
}

// Wait blocks until background auto-approvals finish.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Status returns a copy of a tracked call.
func (e *Engine) Status(id string) (*models.ToolExecution, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.calls[id]
	if !ok {
		return nil, false
	}
	return c.te.Clone(), true
}

// RetainExecution forgets every call that does not belong to executionID.
func (e *Engine) RetainExecution(executionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, c := range e.calls {
		if c.te.ExecutionID != executionID {
			delete(e.calls, id)
			delete(e.autoApproved, id)
		}
	}
	e.interactions.RetainExecution(executionID)
}

// Approve approves a pending call and executes it. For a remote-paused call
// the decision and the local invocation result are sent to the workflow.
func (e *Engine) Approve(ctx context.Context, id string) error {
	return e.approve(ctx, id, true)
}

func (e *Engine) approve(ctx context.Context, id string, human bool) (err error) {
	c, gen, te, err := e.begin(id, "approve")
	if err != nil {
		return err
	}
	defer e.finish(c, gen)

	action := "approve"
	if !human {
		action = "auto_approve"
	}
	ctx, span := tracing.TraceToolAction(ctx, action, id, te.MCPServer)
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		tracing.TraceResult(span, status, err)
		span.End()
	}()

	if in, paused := e.interactions.ByToolCall(id); paused {
		return e.approvePaused(ctx, c, gen, te, in, human)
	}

	if !e.transition(c, gen, models.ToolStatusApproved, update{human: models.Ptr(human)}) {
		return nil
	}
	if msg := e.providerProblem(te, true); msg != "" {
		if !e.transition(c, gen, models.ToolStatusError, update{errMsg: models.Ptr(msg)}) {
			return nil
		}
		return apperrors.InvocationError(msg, nil)
	}
	if !e.transition(c, gen, models.ToolStatusExecuting, update{}) {
		return nil
	}
	out := e.invoke(ctx, te, true)
	if !e.complete(c, gen, out) {
		return nil
	}
	if !out.success {
		return apperrors.InvocationError(out.errMsg, out.err)
	}
	return nil
}

func (e *Engine) approvePaused(ctx context.Context, c *call, gen uint64, te *models.ToolExecution, in Interaction, human bool) error {
	if !e.transition(c, gen, models.ToolStatusExecuting, update{human: models.Ptr(human)}) {
		return nil
	}

	var toolResult *ToolExecutionResult
	var invokeErr error
	if te.MCPServer != "" {
		out := e.invoke(ctx, te, false)
		if !e.complete(c, gen, out) {
			return nil
		}
		toolResult = &ToolExecutionResult{
			Success:  out.success,
			Result:   out.result,
			Error:    out.errMsg,
			ToolName: te.ToolName,
			Server:   te.MCPServer,
		}
		if !out.success {
			invokeErr = apperrors.InvocationError(out.errMsg, out.err)
		}
	}

	res, err := e.resume(ctx, in.ThreadID, &ResumeResponse{
		ID:                  te.ID,
		Approved:            true,
		Timestamp:           e.now(),
		ToolExecutionResult: toolResult,
	})
	if err != nil {
		return err
	}
	e.interactions.Remove(te.ID)

	if toolResult == nil {
		e.transition(c, gen, models.ToolStatusExecuted, update{})
	}
	if res.Completed {
		e.reportCompletion(te.ExecutionID, res.Result)
	}
	return invokeErr
}

// Deny denies a pending call. A remote-paused workflow is resumed with the
// denial; a call from the orchestrator-side approval flow gets a denial notice.
func (e *Engine) Deny(ctx context.Context, id string) (err error) {
	c, gen, te, err := e.begin(id, "deny")
	if err != nil {
		return err
	}
	defer e.finish(c, gen)

	ctx, span := tracing.TraceToolAction(ctx, "deny", id, te.MCPServer)
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		tracing.TraceResult(span, status, err)
		span.End()
	}()

	if !e.transition(c, gen, models.ToolStatusDenied, update{human: models.Ptr(false)}) {
		return nil
	}

	if strings.HasPrefix(id, e.prefix) {
		return e.sendDenial(ctx, te)
	}
	if in, paused := e.interactions.ByToolCall(id); paused {
		if _, err := e.resume(ctx, in.ThreadID, &ResumeResponse{ID: id, Approved: false, Timestamp: e.now()}); err != nil {
			return err
		}
		e.interactions.Remove(id)
	}
	return nil
}

// Reset returns a call that is not pending back to pending. Any run still in
// flight for the call is orphaned.
func (e *Engine) Reset(ctx context.Context, id string) error {
	_, span := tracing.TraceToolAction(ctx, "reset", id, "")
	defer span.End()

	e.mu.Lock()
	c, ok := e.calls[id]
	if !ok {
		e.mu.Unlock()
		err := apperrors.NotFound("tool execution", id)
		tracing.TraceResult(span, "error", err)
		return err
	}
	from := c.te.Status
	if !CanTransition(from, models.ToolStatusPending) {
		e.mu.Unlock()
		err := apperrors.Conflict(fmt.Sprintf("cannot reset tool execution %s in status %s", id, from))
		tracing.TraceResult(span, "error", err)
		return err
	}
	c.generation++
	c.inFlight = false
	c.fenced = true
	delete(e.autoApproved, id)
	snapshot, entry := e.applyLocked(c, models.ToolStatusPending, update{
		result:      models.Ptr(""),
		errMsg:      models.Ptr(""),
		human:       models.Ptr(false),
		clearExecMs: true,
	})
	e.mu.Unlock()

	e.metrics.ObserveToolTransition(string(from), string(models.ToolStatusPending))
	e.persistTransition(snapshot, entry)
	tracing.TraceResult(span, "ok", nil)
	return nil
}

// begin claims a pending call for an approve or deny run.
func (e *Engine) begin(id, action string) (*call, uint64, *models.ToolExecution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.calls[id]
	if !ok {
		return nil, 0, nil, apperrors.NotFound("tool execution", id)
	}
	if c.inFlight || c.te.Status != models.ToolStatusPending {
		return nil, 0, nil, apperrors.Conflict(
			fmt.Sprintf("cannot %s tool execution %s in status %s", action, id, c.te.Status))
	}
	c.inFlight = true
	c.fenced = false
	return c, c.generation, c.te.Clone(), nil
}

func (e *Engine) finish(c *call, gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c.generation == gen {
		c.inFlight = false
	}
}

type update struct {
	result      *string
	errMsg      *string
	execMs      *int64
	clearExecMs bool
	human       *bool
}

// transition moves a call to status to when the run that owns gen is still
// current. It returns false when the run was orphaned by a reset.
func (e *Engine) transition(c *call, gen uint64, to models.ToolStatus, u update) bool {
	e.mu.Lock()
	if e.calls[c.te.ID] != c || c.generation != gen {
		e.mu.Unlock()
		e.logger.Debug("discarding stale tool transition",
			zap.String("tool_call_id", c.te.ID), zap.String("to", string(to)))
		return false
	}
	from := c.te.Status
	if !CanTransition(from, to) {
		e.mu.Unlock()
		e.logger.Warn("invalid tool transition",
			zap.String("tool_call_id", c.te.ID), zap.String("from", string(from)), zap.String("to", string(to)))
		return false
	}
	snapshot, entry := e.applyLocked(c, to, u)
	e.mu.Unlock()

	e.metrics.ObserveToolTransition(string(from), string(to))
	e.persistTransition(snapshot, entry)
	return true
}

// applyLocked updates the call and mirrors it into the live graph and the
// local log. e.mu must be held.
func (e *Engine) applyLocked(c *call, to models.ToolStatus, u update) (*models.ToolExecution, *models.LogEntry) {
	now := e.now()
	from := c.te.Status
	c.te.Status = to
	c.te.LastUpdated = now
	if u.result != nil {
		c.te.Result = *u.result
	}
	if u.errMsg != nil {
		c.te.Error = *u.errMsg
	}
	if u.clearExecMs {
		c.te.ExecutionTimeMs = nil
	}
	if u.execMs != nil {
		c.te.ExecutionTimeMs = models.Ptr(*u.execMs)
	}
	if u.human != nil {
		c.te.HumanApproved = *u.human
	}

	if e.graph != nil {
		e.graph.ApplyLocal(&models.ToolDelta{
			ExecutionID:        c.te.ExecutionID,
			ToolExecutionID:    c.te.ID,
			Status:             models.Ptr(to),
			Result:             u.result,
			Error:              u.errMsg,
			ExecutionTimeMs:    u.execMs,
			ClearExecutionTime: u.clearExecMs,
			HumanApproved:      u.human,
		})
	}

	entry := transitionLog(c.te, from, now)
	if e.logs != nil && entry.ExecutionID != "" {
		e.logs.AppendLocal(entry)
	}
	return c.te.Clone(), entry
}

func transitionLog(te *models.ToolExecution, from models.ToolStatus, ts time.Time) *models.LogEntry {
	entry := &models.LogEntry{
		ID:          uuid.New().String(),
		ExecutionID: te.ExecutionID,
		Timestamp:   ts,
		ToolName:    te.ToolName,
	}
	switch te.Status {
	case models.ToolStatusApproved:
		entry.LogType = models.LogTypeInfo
		if te.HumanApproved {
			entry.Message = fmt.Sprintf("Tool %s approved", te.ToolName)
		} else {
			entry.Message = fmt.Sprintf("Tool %s auto-approved", te.ToolName)
		}
	case models.ToolStatusExecuting:
		entry.LogType = models.LogTypeToolRequest
		entry.Message = fmt.Sprintf("Executing tool %s", te.ToolName)
	case models.ToolStatusExecuted:
		entry.LogType = models.LogTypeToolResult
		entry.Message = fmt.Sprintf("Tool %s executed", te.ToolName)
	case models.ToolStatusError:
		entry.LogType = models.LogTypeError
		entry.Message = fmt.Sprintf("Tool %s failed: %s", te.ToolName, te.Error)
	case models.ToolStatusDenied:
		entry.LogType = models.LogTypeWarning
		entry.Message = fmt.Sprintf("Tool %s denied", te.ToolName)
	case models.ToolStatusPending:
		entry.LogType = models.LogTypeInfo
		entry.Message = fmt.Sprintf("Tool %s reset from %s to pending", te.ToolName, from)
	}
	return entry
}

type outcome struct {
	success bool
	result  string
	errMsg  string
	err     error
	elapsed time.Duration
}

type invokeReply struct {
	res *InvocationResult
	err error
}

// invoke runs the tool on its provider, bounded by the tool timeout.
// requireServer makes a call without a provider fail.
func (e *Engine) invoke(ctx context.Context, te *models.ToolExecution, requireServer bool) outcome {
	if msg := e.providerProblem(te, requireServer); msg != "" {
		return outcome{errMsg: msg}
	}
	server := te.MCPServer

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.toolTimeout)
	defer cancel()
	ctx, span := tracing.TraceToolInvocation(ctx, server, te.ToolName)
	defer span.End()

	start := time.Now()
	done := make(chan invokeReply, 1)
	go func() {
		res, err := e.invoker.InvokeTool(ctx, server, te.ToolName, te.Arguments)
		done <- invokeReply{res: res, err: err}
	}()

	var out outcome
	select {
	case reply := <-done:
		out = classify(reply, ctx.Err())
	case <-ctx.Done():
		out = outcome{err: ctx.Err()}
	}
	out.elapsed = time.Since(start)

	label := "success"
	switch {
	case out.success:
	case errors.Is(out.err, context.DeadlineExceeded):
		label = "timeout"
		out.errMsg = fmt.Sprintf("tool execution timed out after %s", e.toolTimeout)
	default:
		label = "error"
	}
	e.metrics.ObserveToolInvocation(server, label, out.elapsed)
	if out.success {
		tracing.TraceResult(span, label, nil)
	} else {
		tracing.TraceResult(span, label, errors.New(out.errMsg))
	}
	return out
}

// providerProblem explains why te cannot be invoked, or returns "".
func (e *Engine) providerProblem(te *models.ToolExecution, requireServer bool) string {
	server := te.MCPServer
	if server == "" && requireServer {
		return fmt.Sprintf("tool %s has no provider", te.ToolName)
	}
	if e.invoker == nil || !e.invoker.HasServer(server) {
		e.metrics.ObserveToolInvocation(server, "unconfigured", 0)
		return fmt.Sprintf("tool provider %q is not configured", server)
	}
	return ""
}

func classify(reply invokeReply, ctxErr error) outcome {
	switch {
	case errors.Is(reply.err, context.DeadlineExceeded), reply.err != nil && errors.Is(ctxErr, context.DeadlineExceeded):
		return outcome{err: context.DeadlineExceeded}
	case reply.err != nil:
		return outcome{errMsg: reply.err.Error(), err: reply.err}
	case reply.res == nil:
		return outcome{errMsg: "tool returned no result"}
	case !reply.res.Success:
		msg := reply.res.Error
		if msg == "" {
			msg = "tool returned an error"
		}
		return outcome{errMsg: msg}
	default:
		return outcome{success: true, result: reply.res.Data}
	}
}

// complete records the invocation outcome on the call.
func (e *Engine) complete(c *call, gen uint64, out outcome) bool {
	ms := out.elapsed.Milliseconds()
	if out.success {
		return e.transition(c, gen, models.ToolStatusExecuted, update{result: models.Ptr(out.result), execMs: &ms})
	}
	return e.transition(c, gen, models.ToolStatusError, update{errMsg: models.Ptr(out.errMsg), execMs: &ms})
}

func (e *Engine) resume(ctx context.Context, threadID string, resp *ResumeResponse) (*ResumeResult, error) {
	if e.resumer == nil {
		e.metrics.ObserveResume("resume", "unconfigured")
		return nil, apperrors.ResumeError(threadID, errors.New("workflow resume is not configured"))
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.ResumeTimeout)
	defer cancel()
	ctx, span := tracing.TraceResume(ctx, "resume", threadID)
	defer span.End()

	res, err := e.resumer.Resume(ctx, threadID, resp)
	if err == nil && res != nil && !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "resume rejected"
		}
		err = errors.New(msg)
	}
	if err != nil {
		e.metrics.ObserveResume("resume", "error")
		tracing.TraceResult(span, "error", err)
		e.logger.Warn("workflow resume failed",
			zap.String("thread_id", threadID), zap.String("tool_call_id", resp.ID), zap.Error(err))
		return nil, apperrors.ResumeError(threadID, err)
	}
	if res == nil {
		res = &ResumeResult{Success: true}
	}
	e.metrics.ObserveResume("resume", "ok")
	tracing.TraceResult(span, "ok", nil)
	return res, nil
}

func (e *Engine) sendDenial(ctx context.Context, te *models.ToolExecution) error {
	if e.resumer == nil {
		e.metrics.ObserveResume("denial", "unconfigured")
		return apperrors.ResumeError(te.ID, errors.New("command channel is not configured"))
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.ResumeTimeout)
	defer cancel()
	ctx, span := tracing.TraceResume(ctx, "deny", te.ID)
	defer span.End()

	if err := e.resumer.SendDenial(ctx, te.ExecutionID, te.ID); err != nil {
		e.metrics.ObserveResume("denial", "error")
		tracing.TraceResult(span, "error", err)
		e.logger.Warn("denial notice failed", zap.String("tool_call_id", te.ID), zap.Error(err))
		return apperrors.ResumeError(te.ID, err)
	}
	e.metrics.ObserveResume("denial", "ok")
	tracing.TraceResult(span, "ok", nil)
	return nil
}

// reportCompletion marks the execution completed after a resumed workflow
// finished, with its final result as a synthesis entry.
func (e *Engine) reportCompletion(executionID, result string) {
	if executionID == "" {
		return
	}
	now := e.now()
	if e.graph != nil {
		d := &models.ExecutionDelta{ExecutionID: executionID, Status: models.Ptr(models.ExecutionStatusCompleted)}
		if result != "" {
			d.Result = models.Ptr(result)
		}
		e.graph.ApplyLocal(d)
	}
	entries := []*models.LogEntry{{
		ID: uuid.New().String(), ExecutionID: executionID, LogType: models.LogTypeStatusUpdate,
		Message: "Execution completed", Timestamp: now,
	}}
	if result != "" {
		entries = append(entries, &models.LogEntry{
			ID: uuid.New().String(), ExecutionID: executionID, LogType: models.LogTypeSynthesis,
			Message: result, Timestamp: now,
		})
	}
	for _, entry := range entries {
		if e.logs != nil {
			e.logs.AppendLocal(entry)
		}
		e.persistLog(entry)
	}
}

func (e *Engine) persistTransition(te *models.ToolExecution, entry *models.LogEntry) {
	if e.persister == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), constants.PersistTimeout)
	defer cancel()
	if err := e.persister.UpsertToolExecution(ctx, te); err != nil {
		e.metrics.IncPersistFailure("tool_execution")
		e.logger.Warn("failed to persist tool execution", zap.String("tool_call_id", te.ID), zap.Error(err))
	}
	e.persistLog(entry)
}

func (e *Engine) persistLog(entry *models.LogEntry) {
	if e.persister == nil || entry == nil || entry.ExecutionID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), constants.PersistTimeout)
	defer cancel()
	if err := e.persister.AppendLog(ctx, entry); err != nil {
		e.metrics.IncPersistFailure("log")
		e.logger.Warn("failed to persist log entry", zap.String("log_id", entry.ID), zap.Error(err))
	}
}
