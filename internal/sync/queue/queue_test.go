// Package queue provides unit tests for the write-through action queue.
package queue

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/kimhsiao/driverq/internal/errors"
	"github.com/kimhsiao/driverq/internal/models"
	"github.com/kimhsiao/driverq/internal/store"
)

func locationDescriptor() models.Descriptor {
	return models.Descriptor{
		Type:     models.ActionLocationUpdate,
		URL:      "https://api.example.com/api/driver/location",
		Method:   "post",
		Headers:  map[string]string{"Content-Type": "application/json"},
		Body:     `{"lat":51.5074,"lng":-0.1278}`,
		Metadata: map[string]interface{}{"source": "test"},
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// assertMatchesStore checks that the cached list equals the store contents.
func assertMatchesStore(t *testing.T, q *Queue, s store.Store) {
	t.Helper()
	stored, err := s.GetAll(context.Background())
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	cached := q.List()
	if len(stored) != len(cached) {
		t.Fatalf("store has %d actions, queue has %d", len(stored), len(cached))
	}
	for i := range stored {
		if stored[i].ID != cached[i].ID || stored[i].RetryCount != cached[i].RetryCount {
			t.Errorf("position %d: store %s/%d, queue %s/%d", i,
				stored[i].ID, stored[i].RetryCount, cached[i].ID, cached[i].RetryCount)
		}
	}
}

// TestQueueEnqueue tests stamping and persisting a new action.
func TestQueueEnqueue(t *testing.T) {
	s := store.NewMemory()
	now := time.UnixMilli(1_700_000_000_000)
	q := New(s, WithClock(fixedClock(now)))

	id, err := q.Enqueue(context.Background(), locationDescriptor())
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if id == "" {
		t.Fatal("Expected generated id")
	}

	action, ok := q.Get(id)
	if !ok {
		t.Fatal("Expected enqueued action to be retrievable")
	}
	if action.RetryCount != 0 {
		t.Errorf("Expected RetryCount 0, got %d", action.RetryCount)
	}
	if action.MaxRetries != 3 {
		t.Errorf("Expected type default MaxRetries 3, got %d", action.MaxRetries)
	}
	if action.Method != "POST" {
		t.Errorf("Expected upper-cased method, got %s", action.Method)
	}
	if action.Timestamp != now.UnixMilli() {
		t.Errorf("Expected timestamp %d, got %d", now.UnixMilli(), action.Timestamp)
	}
	if s.Len() != 1 {
		t.Errorf("Expected 1 stored record, got %d", s.Len())
	}
	assertMatchesStore(t, q, s)
}

// TestQueueEnqueueMaxRetriesOverride tests caller-supplied budgets.
func TestQueueEnqueueMaxRetriesOverride(t *testing.T) {
	q := New(store.NewMemory())

	d := locationDescriptor()
	d.MaxRetries = 7
	id, err := q.Enqueue(context.Background(), d)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	action, _ := q.Get(id)
	if action.MaxRetries != 7 {
		t.Errorf("Expected MaxRetries 7, got %d", action.MaxRetries)
	}
}

// TestQueueEnqueueInvalid tests descriptor validation.
func TestQueueEnqueueInvalid(t *testing.T) {
	q := New(store.NewMemory())

	tests := []struct {
		name   string
		mutate func(*models.Descriptor)
	}{
		{"unknown type", func(d *models.Descriptor) { d.Type = "teleport" }},
		{"missing url", func(d *models.Descriptor) { d.URL = " " }},
		{"missing method", func(d *models.Descriptor) { d.Method = "" }},
		{"negative budget", func(d *models.Descriptor) { d.MaxRetries = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := locationDescriptor()
			tt.mutate(&d)
			_, err := q.Enqueue(context.Background(), d)
			if !apperrors.Is(err, apperrors.ErrInvalid) {
				t.Errorf("Expected INVALID_INPUT, got %v", err)
			}
		})
	}
	if q.Count() != 0 {
		t.Errorf("Expected empty queue, got %d", q.Count())
	}
}

// TestQueueFIFOAndMonotonicTimestamps tests insertion order under a frozen clock.
func TestQueueFIFOAndMonotonicTimestamps(t *testing.T) {
	q := New(store.NewMemory(), WithClock(fixedClock(time.UnixMilli(1000))))

	var ids []models.UUID
	for i := 0; i < 5; i++ {
		id, err := q.Enqueue(context.Background(), locationDescriptor())
		if err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
		ids = append(ids, id)
	}

	list := q.List()
	for i, a := range list {
		if a.ID != ids[i] {
			t.Errorf("position %d: expected %s, got %s", i, ids[i], a.ID)
		}
		if i > 0 && a.Timestamp <= list[i-1].Timestamp {
			t.Errorf("timestamp %d not after %d", a.Timestamp, list[i-1].Timestamp)
		}
	}
}

// TestQueueStorageFailureLeavesMemoryUntouched tests write-before-cache.
func TestQueueStorageFailureLeavesMemoryUntouched(t *testing.T) {
	s := store.NewFaulty(store.NewMemory())
	changes := 0
	q := New(s, WithOnChange(func() { changes++ }))

	id, err := q.Enqueue(context.Background(), locationDescriptor())
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	s.Fail(store.OpPut, nil)
	if _, err := q.Enqueue(context.Background(), locationDescriptor()); !apperrors.IsStorage(err) {
		t.Fatalf("Expected storage error, got %v", err)
	}
	if q.Count() != 1 {
		t.Errorf("Expected 1 action after failed enqueue, got %d", q.Count())
	}

	action, _ := q.Get(id)
	action.RetryCount = 1
	if err := q.UpdateRetryCount(context.Background(), id, action); !apperrors.IsStorage(err) {
		t.Fatalf("Expected storage error, got %v", err)
	}
	if got, _ := q.Get(id); got.RetryCount != 0 {
		t.Errorf("Expected RetryCount 0 after failed update, got %d", got.RetryCount)
	}

	s.Fail(store.OpDelete, nil)
	if err := q.Remove(context.Background(), id); !apperrors.IsStorage(err) {
		t.Fatalf("Expected storage error, got %v", err)
	}
	s.Fail(store.OpClear, nil)
	if err := q.Clear(context.Background()); !apperrors.IsStorage(err) {
		t.Fatalf("Expected storage error, got %v", err)
	}
	if q.Count() != 1 {
		t.Errorf("Expected 1 action after failed remove/clear, got %d", q.Count())
	}
	if changes != 1 {
		t.Errorf("Expected 1 change notification, got %d", changes)
	}

	s.Heal()
	assertMatchesStore(t, q, s)
}

// TestQueueRemove tests removal and the absent-id no-op.
func TestQueueRemove(t *testing.T) {
	s := store.NewMemory()
	q := New(s)
	ctx := context.Background()

	a, _ := q.Enqueue(ctx, locationDescriptor())
	b, _ := q.Enqueue(ctx, locationDescriptor())
	c, _ := q.Enqueue(ctx, locationDescriptor())

	if err := q.Remove(ctx, b); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := q.Remove(ctx, "missing"); err != nil {
		t.Fatalf("Remove of absent id failed: %v", err)
	}

	list := q.List()
	if len(list) != 2 || list[0].ID != a || list[1].ID != c {
		t.Errorf("Expected [%s %s], got %v", a, c, list)
	}
	assertMatchesStore(t, q, s)
}

// TestQueueUpdateRetryCount tests in-place replacement.
func TestQueueUpdateRetryCount(t *testing.T) {
	s := store.NewMemory()
	q := New(s)
	ctx := context.Background()

	a, _ := q.Enqueue(ctx, locationDescriptor())
	b, _ := q.Enqueue(ctx, locationDescriptor())

	action, _ := q.Get(a)
	action.RetryCount = 2
	action.NextEligibleAt = 99
	action.URL = "https://evil.example.com"
	if err := q.UpdateRetryCount(ctx, a, action); err != nil {
		t.Fatalf("UpdateRetryCount failed: %v", err)
	}

	list := q.List()
	if list[0].ID != a || list[1].ID != b {
		t.Fatal("UpdateRetryCount reordered the queue")
	}
	if list[0].RetryCount != 2 || list[0].NextEligibleAt != 99 {
		t.Errorf("Expected retry 2 / eligible 99, got %d / %d", list[0].RetryCount, list[0].NextEligibleAt)
	}
	if list[0].URL == "https://evil.example.com" {
		t.Error("UpdateRetryCount must only change retry bookkeeping")
	}
	assertMatchesStore(t, q, s)
}

// TestQueueUpdateRetryCountAfterRemove tests that updates never resurrect.
func TestQueueUpdateRetryCountAfterRemove(t *testing.T) {
	s := store.NewMemory()
	q := New(s)
	ctx := context.Background()

	id, _ := q.Enqueue(ctx, locationDescriptor())
	action, _ := q.Get(id)
	if err := q.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	action.RetryCount = 1
	if err := q.UpdateRetryCount(ctx, id, action); err != nil {
		t.Fatalf("UpdateRetryCount failed: %v", err)
	}
	if q.Count() != 0 || s.Len() != 0 {
		t.Errorf("Expected cleared action to stay gone, queue=%d store=%d", q.Count(), s.Len())
	}
}

// TestQueueGetByType tests ordered filtering.
func TestQueueGetByType(t *testing.T) {
	q := New(store.NewMemory())
	ctx := context.Background()

	progress := models.Descriptor{Type: models.ActionJobProgress, URL: "/p", Method: "POST"}
	p1, _ := q.Enqueue(ctx, progress)
	q.Enqueue(ctx, locationDescriptor())
	p2, _ := q.Enqueue(ctx, progress)

	got := q.GetByType(models.ActionJobProgress)
	if len(got) != 2 || got[0].ID != p1 || got[1].ID != p2 {
		t.Errorf("Expected [%s %s], got %v", p1, p2, got)
	}
	if len(q.GetByType(models.ActionJobClaim)) != 0 {
		t.Error("Expected no job_claim actions")
	}

	stats := q.Stats()
	if stats[models.ActionJobProgress] != 2 || stats[models.ActionLocationUpdate] != 1 || stats[models.ActionJobDecline] != 0 {
		t.Errorf("Unexpected stats %v", stats)
	}
	if q.Count() != 3 {
		t.Errorf("Expected Count 3, got %d", q.Count())
	}
}

// TestQueueListReturnsCopies tests that callers cannot mutate cached state.
func TestQueueListReturnsCopies(t *testing.T) {
	q := New(store.NewMemory())
	id, _ := q.Enqueue(context.Background(), locationDescriptor())

	list := q.List()
	list[0].RetryCount = 42
	list[0].Headers["X-Mutated"] = "1"

	action, _ := q.Get(id)
	if action.RetryCount != 0 {
		t.Error("List exposed the cached action")
	}
	if _, ok := action.Headers["X-Mutated"]; ok {
		t.Error("List exposed the cached headers")
	}
}

// TestQueueLoad tests reconstructing the queue after a restart.
func TestQueueLoad(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()
	first := New(s, WithClock(fixedClock(time.UnixMilli(5000))))

	a, _ := first.Enqueue(ctx, locationDescriptor())
	b, _ := first.Enqueue(ctx, locationDescriptor())
	action, _ := first.Get(b)
	action.RetryCount = 2
	if err := first.UpdateRetryCount(ctx, b, action); err != nil {
		t.Fatalf("UpdateRetryCount failed: %v", err)
	}

	// a record left over with an id that is not a UUID is skipped
	if err := s.Put(ctx, &models.OfflineAction{ID: "legacy", Type: models.ActionJobClaim, Timestamp: 1, MaxRetries: 2}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	second := New(s, WithClock(fixedClock(time.UnixMilli(1000))))
	if err := second.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	list := second.List()
	if len(list) != 2 || list[0].ID != a || list[1].ID != b {
		t.Fatalf("Expected [%s %s], got %v", a, b, list)
	}
	if list[1].RetryCount != 2 {
		t.Errorf("Expected RetryCount 2 after reload, got %d", list[1].RetryCount)
	}

	// a clock behind the loaded stamps still yields later timestamps
	c, _ := second.Enqueue(ctx, locationDescriptor())
	got, _ := second.Get(c)
	if got.Timestamp <= list[1].Timestamp {
		t.Errorf("Expected timestamp after %d, got %d", list[1].Timestamp, got.Timestamp)
	}
}

// TestQueueLoadDropsExhaustedRecords tests that records with a spent retry
// budget are removed on load.
func TestQueueLoadDropsExhaustedRecords(t *testing.T) {
	s := store.NewMemory()
	ctx := context.Background()
	q := New(s)

	kept, _ := q.Enqueue(ctx, locationDescriptor())
	spent := &models.OfflineAction{
		ID:         "0b6f1c7e-2d4a-4f8b-9c3e-5a1d2e3f4a5b",
		Type:       models.ActionJobClaim,
		URL:        "https://api.example.com/api/driver/jobs/1/claim",
		Method:     "POST",
		Timestamp:  1,
		RetryCount: 3,
		MaxRetries: 3,
	}
	if err := s.Put(ctx, spent); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	reloaded := New(s)
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if reloaded.Count() != 1 {
		t.Fatalf("Expected 1 action, got %d", reloaded.Count())
	}
	if _, ok := reloaded.Get(spent.ID); ok {
		t.Errorf("Expected exhausted action %s to be dropped", spent.ID)
	}
	if _, ok := reloaded.Get(kept); !ok {
		t.Errorf("Expected action %s to be loaded", kept)
	}
	assertMatchesStore(t, reloaded, s)
}

// TestQueueLoadStorageError tests that load failures propagate.
func TestQueueLoadStorageError(t *testing.T) {
	s := store.NewFaulty(store.NewMemory())
	s.Fail(store.OpGetAll, nil)
	q := New(s)
	if err := q.Load(context.Background()); !apperrors.IsStorage(err) {
		t.Errorf("Expected storage error, got %v", err)
	}
}

// TestQueueHooks tests change and enqueue hooks.
func TestQueueHooks(t *testing.T) {
	changes := 0
	var enqueued []*models.OfflineAction
	q := New(store.NewMemory(),
		WithOnChange(func() { changes++ }),
		WithOnEnqueue(func(a *models.OfflineAction) { enqueued = append(enqueued, a) }),
		WithIDGenerator(func() string { return "fixed-id" }),
	)
	ctx := context.Background()

	id, _ := q.Enqueue(ctx, locationDescriptor())
	if id != "fixed-id" {
		t.Errorf("Expected injected id, got %s", id)
	}
	q.Remove(ctx, id)
	q.Clear(ctx)

	if changes != 3 {
		t.Errorf("Expected 3 change notifications, got %d", changes)
	}
	if len(enqueued) != 1 || enqueued[0].Type != models.ActionLocationUpdate {
		t.Errorf("Expected one enqueue hook call, got %v", enqueued)
	}
}
