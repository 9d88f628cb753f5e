// Package queue provides the in-memory action queue mirrored by the
// durable store.
//
// Every mutation writes to the store first and only updates memory once the
// write succeeded, so the cached list never holds something the store does
// not. The cached list is kept in FIFO insertion order, which is the replay
// order used by the sync engine.
package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/kimhsiao/driverq/internal/errors"
	"github.com/kimhsiao/driverq/internal/logging"
	"github.com/kimhsiao/driverq/internal/models"
	"github.com/kimhsiao/driverq/internal/store"
	"github.com/kimhsiao/driverq/internal/uuid"
)

// Queue is the authoritative working set of pending actions.
type Queue struct {
	store store.Store
	newID uuid.Generator
	now   func() time.Time

	mu            sync.RWMutex
	items         []*models.OfflineAction
	lastTimestamp int64

	onChange  func()
	onEnqueue func(*models.OfflineAction)
}

// Option configures a Queue.
type Option func(*Queue)

// WithIDGenerator replaces the UUID v4 id generator.
func WithIDGenerator(gen uuid.Generator) Option {
	return func(q *Queue) { q.newID = gen }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithOnChange registers a hook invoked after every successful mutation,
// outside the queue lock.
func WithOnChange(fn func()) Option {
	return func(q *Queue) { q.onChange = fn }
}

// WithOnEnqueue registers a hook invoked with a copy of every newly
// enqueued action.
func WithOnEnqueue(fn func(*models.OfflineAction)) Option {
	return func(q *Queue) { q.onEnqueue = fn }
}

// New creates an empty queue backed by s. Call Load to populate it from
// the durable store.
func New(s store.Store, opts ...Option) *Queue {
	q := &Queue{
		store: s,
		newID: uuid.Default,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Load replaces the in-memory list with the store's contents ordered by
// timestamp. Records with an invalid id are skipped. Records whose retry
// budget is already spent are deleted from the store and not loaded.
func (q *Queue) Load(ctx context.Context) error {
	actions, err := q.store.GetAll(ctx)
	if err != nil {
		logging.ErrorWithCode("Failed to load offline actions", string(apperrors.CodeOf(err)), err)
		return err
	}

	loaded := make([]*models.OfflineAction, 0, len(actions))
	var last int64
	for _, a := range actions {
		if !uuid.IsValid(string(a.ID)) {
			logging.Warn("Skipping stored action with invalid id", map[string]interface{}{
				"action_id": string(a.ID),
				"type":      string(a.Type),
			})
			continue
		}
		if a.MaxRetries <= 0 {
			a.MaxRetries = a.Type.DefaultMaxRetries()
		}
		if a.RetryCount >= a.MaxRetries {
			logging.Warn("Dropping stored action with exhausted retries", map[string]interface{}{
				"action_id":   string(a.ID),
				"type":        string(a.Type),
				"retry_count": a.RetryCount,
				"max_retries": a.MaxRetries,
			})
			if err := q.store.Delete(ctx, a.ID); err != nil {
				logging.ErrorWithCode("Failed to delete exhausted action", string(apperrors.CodeOf(err)), err)
			}
			continue
		}
		if a.Timestamp > last {
			last = a.Timestamp
		}
		loaded = append(loaded, a)
	}

	q.mu.Lock()
	q.items = loaded
	if last > q.lastTimestamp {
		q.lastTimestamp = last
	}
	q.mu.Unlock()

	logging.Info("Loaded offline actions", map[string]interface{}{"count": len(loaded)})
	q.changed()
	return nil
}

// Enqueue stamps a new action from d, persists it and appends it to the
// list. It returns the generated id.
func (q *Queue) Enqueue(ctx context.Context, d models.Descriptor) (models.UUID, error) {
	if err := validateDescriptor(d); err != nil {
		return "", err
	}

	maxRetries := d.MaxRetries
	if maxRetries <= 0 {
		maxRetries = d.Type.DefaultMaxRetries()
	}

	q.mu.Lock()
	action := &models.OfflineAction{
		ID:         models.UUID(q.newID()),
		Type:       d.Type,
		URL:        d.URL,
		Method:     strings.ToUpper(d.Method),
		Headers:    copyHeaders(d.Headers),
		Body:       d.Body,
		Timestamp:  q.nextTimestamp(),
		RetryCount: 0,
		MaxRetries: maxRetries,
		Metadata:   copyMetadata(d.Metadata),
	}

	if err := q.store.Put(ctx, action); err != nil {
		q.mu.Unlock()
		logging.ErrorWithCode("Failed to persist offline action", string(apperrors.CodeOf(err)), err, map[string]interface{}{
			"type": string(d.Type),
		})
		return "", err
	}
	q.items = append(q.items, action)
	q.mu.Unlock()

	logging.Debug("Enqueued offline action", map[string]interface{}{
		"action_id": string(action.ID),
		"type":      string(action.Type),
	})

	if q.onEnqueue != nil {
		q.onEnqueue(action.Clone())
	}
	q.changed()
	return action.ID, nil
}

// Remove deletes the action from the store and the list. Removing an
// absent id is a no-op.
func (q *Queue) Remove(ctx context.Context, id models.UUID) error {
	q.mu.Lock()
	if err := q.store.Delete(ctx, id); err != nil {
		q.mu.Unlock()
		logging.ErrorWithCode("Failed to delete offline action", string(apperrors.CodeOf(err)), err, map[string]interface{}{
			"action_id": string(id),
		})
		return err
	}
	i := q.indexOf(id)
	if i >= 0 {
		q.items = append(q.items[:i:i], q.items[i+1:]...)
	}
	q.mu.Unlock()

	if i >= 0 {
		q.changed()
	}
	return nil
}

// UpdateRetryCount persists action (carrying an incremented retry count
// and, optionally, a new eligibility time) and replaces the cached entry in
// place. Only RetryCount and NextEligibleAt are taken from action. If id is
// no longer queued the call is a no-op, so a drain never resurrects an
// action removed concurrently.
func (q *Queue) UpdateRetryCount(ctx context.Context, id models.UUID, action *models.OfflineAction) error {
	if action == nil {
		return apperrors.New(apperrors.ErrInvalid, "nil action")
	}

	q.mu.Lock()
	i := q.indexOf(id)
	if i < 0 {
		q.mu.Unlock()
		return nil
	}
	if action.RetryCount < 0 {
		q.mu.Unlock()
		return apperrors.Newf(apperrors.ErrInvalid, "negative retry count %d", action.RetryCount)
	}

	updated := q.items[i].Clone()
	updated.RetryCount = action.RetryCount
	updated.NextEligibleAt = action.NextEligibleAt
	if err := q.store.Put(ctx, updated); err != nil {
		q.mu.Unlock()
		logging.ErrorWithCode("Failed to update offline action", string(apperrors.CodeOf(err)), err, map[string]interface{}{
			"action_id": string(id),
		})
		return err
	}
	q.items[i] = updated
	q.mu.Unlock()

	q.changed()
	return nil
}

// Clear purges the store and the list.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	if err := q.store.Clear(ctx); err != nil {
		q.mu.Unlock()
		logging.ErrorWithCode("Failed to clear offline actions", string(apperrors.CodeOf(err)), err)
		return err
	}
	n := len(q.items)
	q.items = nil
	q.mu.Unlock()

	logging.Info("Cleared offline actions", map[string]interface{}{"count": n})
	q.changed()
	return nil
}

// List returns a copy of every queued action in FIFO order.
func (q *Queue) List() []*models.OfflineAction {
	q.mu.RLock()
	defer q.mu.RUnlock()

	items := make([]*models.OfflineAction, 0, len(q.items))
	for _, a := range q.items {
		items = append(items, a.Clone())
	}
	return items
}

// GetByType returns copies of the queued actions of type t in FIFO order.
func (q *Queue) GetByType(t models.ActionType) []*models.OfflineAction {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var items []*models.OfflineAction
	for _, a := range q.items {
		if a.Type == t {
			items = append(items, a.Clone())
		}
	}
	return items
}

// Get returns a copy of the action with id.
func (q *Queue) Get(id models.UUID) (*models.OfflineAction, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if i := q.indexOf(id); i >= 0 {
		return q.items[i].Clone(), true
	}
	return nil, false
}

// Count returns the number of queued actions.
func (q *Queue) Count() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

// Stats returns the number of queued actions per type.
func (q *Queue) Stats() map[models.ActionType]int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := make(map[models.ActionType]int, len(models.ActionTypes()))
	for _, t := range models.ActionTypes() {
		stats[t] = 0
	}
	for _, a := range q.items {
		stats[a.Type]++
	}
	return stats
}

// nextTimestamp returns the current unix-millisecond time, bumped past the
// previous stamp so timestamps are strictly increasing. Caller holds q.mu.
func (q *Queue) nextTimestamp() int64 {
	ts := q.now().UnixMilli()
	if ts <= q.lastTimestamp {
		ts = q.lastTimestamp + 1
	}
	q.lastTimestamp = ts
	return ts
}

// indexOf returns the position of id or -1. Caller holds q.mu.
func (q *Queue) indexOf(id models.UUID) int {
	for i, a := range q.items {
		if a.ID == id {
			return i
		}
	}
	return -1
}

func (q *Queue) changed() {
	if q.onChange != nil {
		q.onChange()
	}
}

func validateDescriptor(d models.Descriptor) error {
	if !d.Type.Valid() {
		return apperrors.Newf(apperrors.ErrInvalid, "unknown action type %q", d.Type)
	}
	if strings.TrimSpace(d.URL) == "" {
		return apperrors.New(apperrors.ErrInvalid, "url is required")
	}
	if strings.TrimSpace(d.Method) == "" {
		return apperrors.New(apperrors.ErrInvalid, "method is required")
	}
	if d.MaxRetries < 0 {
		return apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("max_retries must not be negative, got %d", d.MaxRetries))
	}
	return nil
}

func copyHeaders(h map[string]string) map[string]string {
	if len(h) == 0 {
		return nil
	}
	c := make(map[string]string, len(h))
	for k, v := range h {
		c[k] = v
	}
	return c
}

func copyMetadata(m map[string]interface{}) map[string]interface{} {
	if len(m) == 0 {
		return nil
	}
	c := make(map[string]interface{}, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
