package store

import (
	"context"
	"sync"

	apperrors "github.com/kimhsiao/driverq/internal/errors"
	"github.com/kimhsiao/driverq/internal/models"
)

// Faulty wraps a Store and fails selected operations on demand. It lets
// callers exercise the paths taken when the durable layer is unavailable.
type Faulty struct {
	Store

	mu       sync.Mutex
	failures map[string]error
}

// Operation names understood by Faulty.
const (
	OpPut    = "put"
	OpDelete = "delete"
	OpGetAll = "get_all"
	OpClear  = "clear"
)

// NewFaulty wraps inner.
func NewFaulty(inner Store) *Faulty {
	return &Faulty{Store: inner, failures: make(map[string]error)}
}

// Fail makes every subsequent call of op return err. A nil err is replaced
// by a generic storage error.
func (f *Faulty) Fail(op string, err error) {
	if err == nil {
		err = apperrors.Newf(apperrors.ErrStorage, "%s: injected failure", op)
	}
	f.mu.Lock()
	f.failures[op] = err
	f.mu.Unlock()
}

// Heal clears every injected failure.
func (f *Faulty) Heal() {
	f.mu.Lock()
	f.failures = make(map[string]error)
	f.mu.Unlock()
}

func (f *Faulty) failure(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures[op]
}

func (f *Faulty) Put(ctx context.Context, action *models.OfflineAction) error {
	if err := f.failure(OpPut); err != nil {
		return err
	}
	return f.Store.Put(ctx, action)
}

func (f *Faulty) Delete(ctx context.Context, id models.UUID) error {
	if err := f.failure(OpDelete); err != nil {
		return err
	}
	return f.Store.Delete(ctx, id)
}

func (f *Faulty) GetAll(ctx context.Context) ([]*models.OfflineAction, error) {
	if err := f.failure(OpGetAll); err != nil {
		return nil, err
	}
	return f.Store.GetAll(ctx)
}

func (f *Faulty) Clear(ctx context.Context) error {
	if err := f.failure(OpClear); err != nil {
		return err
	}
	return f.Store.Clear(ctx)
}
