package sync

import (
	"context"
	stderrors "errors"
	stdsync "sync"
	"time"

	apperrors "github.com/kimhsiao/driverq/internal/errors"
	"github.com/kimhsiao/driverq/internal/logging"
	"github.com/kimhsiao/driverq/internal/models"
	"github.com/kimhsiao/driverq/internal/sync/state"
)

// Engine drains the action queue one action at a time in FIFO order.
type Engine struct {
	queue    ActionQueue
	exec     Executor
	conn     Connectivity
	backoff  *BackoffPolicy
	recorder Recorder
	now      func() time.Time

	onChange func()
	onDrop   func(state.DropEvent)

	mu         stdsync.Mutex
	inProgress bool
	lastResult *DrainResult
}

var _ Drainer = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithBackoff enables per-action retry delays.
func WithBackoff(p *BackoffPolicy) Option {
	return func(e *Engine) { e.backoff = p }
}

// WithRecorder reports outcomes to r.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithOnChange registers the hook invoked when the in-progress flag flips.
func WithOnChange(fn func()) Option {
	return func(e *Engine) { e.onChange = fn }
}

// WithOnDrop registers the hook invoked for rejected and exhausted actions.
func WithOnDrop(fn func(state.DropEvent)) Option {
	return func(e *Engine) { e.onDrop = fn }
}

// NewEngine creates an engine over q executing through exec.
func NewEngine(q ActionQueue, exec Executor, conn Connectivity, opts ...Option) *Engine {
	e := &Engine{
		queue: q,
		exec:  exec,
		conn:  conn,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// InProgress reports whether a pass is running.
func (e *Engine) InProgress() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inProgress
}

// LastResult returns a copy of the most recent completed pass, or nil.
func (e *Engine) LastResult() *DrainResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastResult == nil {
		return nil
	}
	r := *e.lastResult
	return &r
}

// Drain runs one pass. It is a no-op while offline or while another pass
// is running. Actions enqueued during the pass wait for the next one.
func (e *Engine) Drain(ctx context.Context) *DrainResult {
	result := &DrainResult{Started: e.now()}

	if !e.conn.IsOnline() {
		result.Skipped = SkipOffline
		return result
	}

	e.mu.Lock()
	if e.inProgress {
		e.mu.Unlock()
		result.Skipped = SkipInProgress
		return result
	}
	e.inProgress = true
	e.mu.Unlock()
	e.changed()

	defer func() {
		result.Duration = e.now().Sub(result.Started)
		e.mu.Lock()
		e.inProgress = false
		r := *result
		e.lastResult = &r
		e.mu.Unlock()

		if e.recorder != nil {
			e.recorder.ObserveDrain(result)
		}
		logging.Info("Drain finished", map[string]interface{}{
			"attempted":   result.Attempted,
			"succeeded":   result.Succeeded,
			"conflicts":   result.Conflicts,
			"rejected":    result.Rejected,
			"retried":     result.Retried,
			"exhausted":   result.Exhausted,
			"deferred":    result.Deferred,
			"halted":      result.Halted,
			"interrupted": result.Interrupted,
			"duration":    result.Duration.String(),
		})
		e.changed()
	}()

	// outcomes the remote already decided are persisted even if ctx ends
	persist := context.WithoutCancel(ctx)

	snapshot := e.queue.List()
	for _, action := range snapshot {
		if ctx.Err() != nil {
			logging.Warn("Drain interrupted", map[string]interface{}{"error": ctx.Err().Error()})
			result.Interrupted = true
			break
		}
		if !action.Eligible(e.now()) {
			result.Deferred++
			continue
		}

		status, err := e.execute(ctx, action)
		if stderrors.Is(err, ErrBreakerOpen) {
			logging.Warn("Remote API circuit open, ending drain early", map[string]interface{}{
				"remaining": len(snapshot) - result.Attempted - result.Deferred,
			})
			result.Halted = true
			break
		}

		if ctx.Err() != nil && Classify(status, err) == OutcomeRetry {
			logging.Warn("Drain interrupted, action left untouched", map[string]interface{}{
				"action_id": string(action.ID),
				"error":     ctx.Err().Error(),
			})
			result.Interrupted = true
			break
		}

		result.Attempted++
		e.apply(persist, action, status, err, result)
	}

	return result
}

// execute isolates the executor so a panic counts as a transient failure.
func (e *Engine) execute(ctx context.Context, action *models.OfflineAction) (status int, err error) {
	defer func() {
		if r := recover(); r != nil {
			status = 0
			err = apperrors.Newf(apperrors.ErrInternal, "executor panic: %v", r)
		}
	}()
	return e.exec.Execute(ctx, action)
}

// apply persists the fate of one executed action.
func (e *Engine) apply(ctx context.Context, action *models.OfflineAction, status int, execErr error, result *DrainResult) {
	fields := map[string]interface{}{
		"action_id": string(action.ID),
		"type":      string(action.Type),
		"status":    status,
	}

	outcome := Classify(status, execErr)
	switch outcome {
	case OutcomeSuccess, OutcomeConflict, OutcomeRejected:
		if err := e.queue.Remove(ctx, action.ID); err != nil {
			result.StorageErrors++
			return
		}
		switch outcome {
		case OutcomeSuccess:
			result.Succeeded++
		case OutcomeConflict:
			result.Conflicts++
			logging.Debug("Action already applied remotely", fields)
		case OutcomeRejected:
			result.Rejected++
			logging.ErrorWithCode("Remote rejected offline action", string(apperrors.ErrRemoteRejected), nil, fields)
			e.dropped(action, state.DropRejected, status, execErr)
		}

	case OutcomeRetry:
		updated := action.Clone()
		updated.RetryCount++
		fields["retry_count"] = updated.RetryCount
		fields["max_retries"] = updated.MaxRetries
		if execErr != nil {
			fields["error"] = execErr.Error()
		}

		if updated.RetryCount >= updated.MaxRetries {
			if err := e.queue.Remove(ctx, action.ID); err != nil {
				result.StorageErrors++
				return
			}
			outcome = OutcomeExhausted
			result.Exhausted++
			logging.ErrorWithCode("Offline action exhausted its retries", string(apperrors.ErrRemoteUnavailable), execErr, fields)
			e.dropped(updated, state.DropRetriesExhausted, status, execErr)
			break
		}

		if e.backoff != nil {
			updated.NextEligibleAt = e.backoff.NextEligibleAt(e.now(), updated.RetryCount)
			fields["next_eligible_at"] = updated.NextEligibleAt
		}
		if err := e.queue.UpdateRetryCount(ctx, action.ID, updated); err != nil {
			result.StorageErrors++
			return
		}
		result.Retried++
		logging.Warn("Offline action failed, will retry", fields)
	}

	if e.recorder != nil {
		e.recorder.ObserveOutcome(action.Type, outcome)
	}
}

func (e *Engine) dropped(action *models.OfflineAction, reason state.DropReason, status int, err error) {
	if e.onDrop == nil {
		return
	}
	ev := state.DropEvent{Action: action.Clone(), Reason: reason, StatusCode: status}
	if err != nil {
		ev.Error = err.Error()
	}
	e.onDrop(ev)
}

func (e *Engine) changed() {
	if e.onChange != nil {
		e.onChange()
	}
}
