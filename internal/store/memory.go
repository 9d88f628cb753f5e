package store

import (
	"context"
	"sync"

	apperrors "github.com/kimhsiao/driverq/internal/errors"
	"github.com/kimhsiao/driverq/internal/models"
)

// Memory is a non-durable Store used by tests and by the "memory" driver.
// Records are deep-copied on the way in and out.
type Memory struct {
	mu      sync.RWMutex
	records map[models.UUID]*models.OfflineAction
	closed  bool
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[models.UUID]*models.OfflineAction)}
}

// Put stores a copy of action, replacing any record with the same id.
func (m *Memory) Put(ctx context.Context, action *models.OfflineAction) error {
	if err := validate(action); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return apperrors.New(apperrors.ErrStorageClosed, "put action: store closed")
	}
	m.records[action.ID] = action.Clone()
	return nil
}

// Delete removes the record with id. An absent id is not an error.
func (m *Memory) Delete(ctx context.Context, id models.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return apperrors.New(apperrors.ErrStorageClosed, "delete action: store closed")
	}
	delete(m.records, id)
	return nil
}

// GetAll returns copies of every record ordered by timestamp.
func (m *Memory) GetAll(ctx context.Context) ([]*models.OfflineAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, apperrors.New(apperrors.ErrStorageClosed, "get actions: store closed")
	}
	actions := make([]*models.OfflineAction, 0, len(m.records))
	for _, a := range m.records {
		actions = append(actions, a.Clone())
	}
	sortByTimestamp(actions)
	return actions, nil
}

// Clear removes every record.
func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return apperrors.New(apperrors.ErrStorageClosed, "clear actions: store closed")
	}
	m.records = make(map[models.UUID]*models.OfflineAction)
	return nil
}

// Close marks the store closed. Later calls fail with ErrStorageClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Len reports the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
