// Package offline is the process-facing facade over the action queue, the
// drain engine, connectivity tracking and state subscriptions.
package offline

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	apperrors "github.com/kimhsiao/driverq/internal/errors"
	"github.com/kimhsiao/driverq/internal/logging"
	"github.com/kimhsiao/driverq/internal/metrics"
	"github.com/kimhsiao/driverq/internal/models"
	"github.com/kimhsiao/driverq/internal/store"
	syncpkg "github.com/kimhsiao/driverq/internal/sync"
	"github.com/kimhsiao/driverq/internal/sync/connectivity"
	"github.com/kimhsiao/driverq/internal/sync/queue"
	"github.com/kimhsiao/driverq/internal/sync/state"
	"github.com/kimhsiao/driverq/internal/uuid"
)

// DefaultBaseURL is used by the builders when Options.BaseURL is empty.
const DefaultBaseURL = "http://localhost:8080"

// Options wires a Manager. Store is required; everything else has a
// default suitable for production.
type Options struct {
	Store store.Store

	// Executor replays actions. Defaults to an HTTPExecutor bounded by
	// RequestTimeout.
	Executor       syncpkg.Executor
	RequestTimeout time.Duration

	// HTTPClient performs live requests in Fetch.
	HTTPClient *http.Client

	// BaseURL prefixes every builder endpoint.
	BaseURL string

	InitialOnline bool

	// Backoff enables per-action retry delays when set.
	Backoff *syncpkg.BackoffPolicy
	// Breaker wraps the executor in a circuit breaker when set.
	Breaker *syncpkg.BreakerSettings

	Metrics *metrics.Metrics

	// DisableAutoDrain stops QueueAction from draining immediately while
	// online.
	DisableAutoDrain bool

	IDGenerator uuid.Generator
	Clock       func() time.Time
}

// Manager owns one queue and everything that acts on it.
type Manager struct {
	store     store.Store
	queue     *queue.Queue
	engine    *syncpkg.Engine
	monitor   *connectivity.Monitor
	publisher *state.Publisher
	metrics   *metrics.Metrics

	baseURL    string
	httpClient *http.Client
	autoDrain  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu guards closed and wg.Add against Close.
	mu     sync.Mutex
	closed bool

	closeOnce sync.Once
	closeErr  error
}

// New builds a manager and loads the pending actions from the store.
func New(ctx context.Context, opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, apperrors.New(apperrors.ErrConfig, "offline manager requires a store")
	}

	m := &Manager{
		store:      opts.Store,
		metrics:    opts.Metrics,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: opts.HTTPClient,
		autoDrain:  !opts.DisableAutoDrain,
	}
	if m.baseURL == "" {
		m.baseURL = DefaultBaseURL
	}
	if m.httpClient == nil {
		m.httpClient = &http.Client{Timeout: opts.RequestTimeout}
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())

	m.publisher = state.NewPublisher(m.GetState)
	m.monitor = connectivity.NewMonitor(opts.InitialOnline)

	queueOpts := []queue.Option{
		queue.WithOnChange(m.queueChanged),
		queue.WithOnEnqueue(func(a *models.OfflineAction) {
			if m.metrics != nil {
				m.metrics.ObserveEnqueue(a.Type)
			}
		}),
	}
	if opts.IDGenerator != nil {
		queueOpts = append(queueOpts, queue.WithIDGenerator(opts.IDGenerator))
	}
	if opts.Clock != nil {
		queueOpts = append(queueOpts, queue.WithClock(opts.Clock))
	}
	m.queue = queue.New(opts.Store, queueOpts...)

	exec := opts.Executor
	if exec == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		exec = syncpkg.NewHTTPExecutor(timeout)
	}
	if opts.Breaker != nil {
		exec = syncpkg.NewBreakerExecutor(exec, *opts.Breaker)
	}

	engineOpts := []syncpkg.Option{
		syncpkg.WithOnChange(m.publisher.Notify),
		syncpkg.WithOnDrop(m.publisher.PublishDrop),
	}
	if opts.Backoff != nil {
		engineOpts = append(engineOpts, syncpkg.WithBackoff(opts.Backoff))
	}
	if opts.Metrics != nil {
		engineOpts = append(engineOpts, syncpkg.WithRecorder(opts.Metrics))
	}
	if opts.Clock != nil {
		engineOpts = append(engineOpts, syncpkg.WithClock(opts.Clock))
	}
	m.engine = syncpkg.NewEngine(m.queue, exec, m.monitor, engineOpts...)

	m.monitor.OnChange(func(bool) { m.publisher.Notify() })
	m.monitor.OnOnline(func() { m.engine.Drain(m.ctx) })

	if err := m.queue.Load(ctx); err != nil {
		m.cancel()
		return nil, err
	}
	return m, nil
}

func (m *Manager) queueChanged() {
	if m.metrics != nil {
		m.metrics.SetPending(m.queue.Count())
	}
	m.publisher.Notify()
}

// QueueAction persists d and returns the generated id. While online a
// drain is started in the background.
func (m *Manager) QueueAction(ctx context.Context, d models.Descriptor) (models.UUID, error) {
	return m.enqueue(ctx, d, m.autoDrain)
}

func (m *Manager) enqueue(ctx context.Context, d models.Descriptor, drain bool) (models.UUID, error) {
	id, err := m.queue.Enqueue(ctx, d)
	if err != nil {
		return "", err
	}
	if drain && m.monitor.IsOnline() {
		m.drainAsync()
	}
	return id, nil
}

func (m *Manager) drainAsync() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.engine.Drain(m.ctx)
	}()
}

// SyncPendingActions runs a drain and waits for it. It is a no-op while
// offline or while another drain is running.
func (m *Manager) SyncPendingActions(ctx context.Context) *syncpkg.DrainResult {
	result := m.engine.Drain(ctx)
	if !result.Ran() {
		logging.Debug("Sync skipped", map[string]interface{}{"reason": result.Skipped})
	}
	return result
}

// ClearAllActions purges the store and the queue.
func (m *Manager) ClearAllActions(ctx context.Context) error {
	return m.queue.Clear(ctx)
}

// GetState returns a fresh snapshot.
func (m *Manager) GetState() models.OfflineState {
	return models.OfflineState{
		IsOnline:       m.monitor.IsOnline(),
		LastOnline:     m.monitor.LastOnline(),
		PendingActions: m.queue.List(),
		SyncInProgress: m.engine.InProgress(),
	}
}

// Subscribe registers fn for state changes.
func (m *Manager) Subscribe(fn state.Listener) (unsubscribe func()) {
	return m.publisher.Subscribe(fn)
}

// OnActionDropped registers fn for actions removed without being applied.
func (m *Manager) OnActionDropped(fn state.DropListener) (unsubscribe func()) {
	return m.publisher.OnDrop(fn)
}

// GetPendingActionsByType returns the queued actions of type t in FIFO order.
func (m *Manager) GetPendingActionsByType(t models.ActionType) []*models.OfflineAction {
	return m.queue.GetByType(t)
}

// PendingStats returns the number of queued actions per type.
func (m *Manager) PendingStats() map[models.ActionType]int {
	return m.queue.Stats()
}

// SetOnline applies a platform connectivity signal. On the offline to
// online edge it returns after the triggered drain completed.
func (m *Manager) SetOnline(online bool) bool {
	return m.monitor.SetOnline(online)
}

// IsOnline reports the current connectivity state.
func (m *Manager) IsOnline() bool {
	return m.monitor.IsOnline()
}

// Monitor exposes the connectivity monitor, e.g. to run a prober.
func (m *Manager) Monitor() *connectivity.Monitor {
	return m.monitor
}

// Engine exposes the drain engine, e.g. to a scheduler.
func (m *Manager) Engine() *syncpkg.Engine {
	return m.engine
}

// Wait blocks until background drains started by QueueAction finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Close cancels in-flight drains, waits for them and closes the store.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()

		m.cancel()
		m.wg.Wait()
		m.closeErr = m.store.Close()
	})
	return m.closeErr
}
