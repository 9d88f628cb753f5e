package offline

import (
	"context"
	"sync"

	apperrors "github.com/kimhsiao/driverq/internal/errors"
)

var (
	defaultMu      sync.RWMutex
	defaultManager *Manager
)

// Init creates the process-wide manager. It fails if one already exists.
func Init(ctx context.Context, opts Options) (*Manager, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultManager != nil {
		return nil, apperrors.New(apperrors.ErrConfig, "offline manager already initialized")
	}
	m, err := New(ctx, opts)
	if err != nil {
		return nil, err
	}
	defaultManager = m
	return m, nil
}

// Default returns the process-wide manager, or nil before Init.
func Default() *Manager {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultManager
}

// Shutdown closes the process-wide manager and allows Init again.
func Shutdown() error {
	defaultMu.Lock()
	m := defaultManager
	defaultManager = nil
	defaultMu.Unlock()

	if m == nil {
		return nil
	}
	return m.Close()
}
