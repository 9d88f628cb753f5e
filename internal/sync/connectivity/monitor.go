// Package connectivity tracks network reachability and signals the
// offline to online edge.
//
// Platform flags are advisory; the monitor is only a trigger. Per-request
// failures seen by the sync engine remain the real reachability signal.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/driverq/internal/logging"
)

// Monitor holds the current connectivity state.
type Monitor struct {
	now func() time.Time

	mu         sync.RWMutex
	online     bool
	lastOnline *time.Time

	onChange []func(online bool)
	onOnline []func()
}

// NewMonitor creates a monitor with the platform-reported initial state.
// When starting online, lastOnline is set to the current time.
func NewMonitor(initialOnline bool) *Monitor {
	m := &Monitor{now: time.Now, online: initialOnline}
	if initialOnline {
		t := m.now()
		m.lastOnline = &t
	}
	return m
}

// OnChange registers fn to run after every transition, outside the lock.
// Register hooks before the monitor is shared.
func (m *Monitor) OnChange(fn func(online bool)) {
	m.onChange = append(m.onChange, fn)
}

// OnOnline registers fn to run once per offline to online transition,
// after the OnChange hooks.
func (m *Monitor) OnOnline(fn func()) {
	m.onOnline = append(m.onOnline, fn)
}

// IsOnline reports the current state.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// LastOnline returns the time of the most recent online transition, or nil.
func (m *Monitor) LastOnline() *time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastOnline == nil {
		return nil
	}
	t := *m.lastOnline
	return &t
}

// SetOnline applies a platform connectivity signal. It reports whether the
// state changed; repeated signals for the current state are ignored. The
// hooks run synchronously, so on a became-reachable edge SetOnline returns
// after the triggered drain finished.
func (m *Monitor) SetOnline(online bool) bool {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	if online {
		t := m.now()
		m.lastOnline = &t
	}
	m.mu.Unlock()

	logging.Info("Connectivity changed", map[string]interface{}{"online": online})

	for _, fn := range m.onChange {
		fn(online)
	}
	if online {
		for _, fn := range m.onOnline {
			fn()
		}
	}
	return true
}

// Prober checks whether the remote API is reachable.
type Prober interface {
	Probe(ctx context.Context) bool
}

// Watch probes every interval and feeds the result to SetOnline until ctx
// is cancelled. It probes once immediately.
func (m *Monitor) Watch(ctx context.Context, p Prober, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.SetOnline(p.Probe(ctx))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
