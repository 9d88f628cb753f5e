// Package scheduler runs periodic drains while the client is online.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/driverq/internal/logging"
	syncpkg "github.com/kimhsiao/driverq/internal/sync"
)

// Scheduler triggers a drain every interval while online.
type Scheduler struct {
	drainer      syncpkg.Drainer
	conn         syncpkg.Connectivity
	interval     time.Duration
	drainTimeout time.Duration

	stopCh    chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	isRunning bool
	lastRun   time.Time
	runs      int
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	Interval     time.Duration // How often to drain when online (default: 1 minute)
	DrainTimeout time.Duration // Upper bound for one scheduled pass (default: 5 minutes)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Interval:     1 * time.Minute,
		DrainTimeout: 5 * time.Minute,
	}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(drainer syncpkg.Drainer, conn syncpkg.Connectivity, config *SchedulerConfig) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config == nil {
		config = defaults
	}
	s := &Scheduler{
		drainer:      drainer,
		conn:         conn,
		interval:     config.Interval,
		drainTimeout: config.DrainTimeout,
		stopCh:       make(chan struct{}),
	}
	if s.interval <= 0 {
		s.interval = defaults.Interval
	}
	if s.drainTimeout <= 0 {
		s.drainTimeout = defaults.DrainTimeout
	}
	return s
}

// Start starts the periodic loop in the background.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	logging.Info("Drain scheduler started", map[string]interface{}{"interval": s.interval.String()})
}

// Stop stops the loop and waits for an in-flight scheduled pass.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	logging.Info("Drain scheduler stopped")
}

// Run starts the scheduler and blocks until ctx is cancelled. It fits an
// oklog/run actor.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start(ctx)
	<-ctx.Done()
	s.Stop()
	return ctx.Err()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.conn.IsOnline() {
				continue
			}
			if s.drainer.InProgress() {
				logging.Debug("Drain already in progress, skipping")
				continue
			}
			s.runDrain(ctx)
		}
	}
}

func (s *Scheduler) runDrain(ctx context.Context) *syncpkg.DrainResult {
	drainCtx, cancel := context.WithTimeout(ctx, s.drainTimeout)
	defer cancel()

	result := s.drainer.Drain(drainCtx)
	if result.Ran() {
		s.mu.Lock()
		s.lastRun = time.Now()
		s.runs++
		s.mu.Unlock()
	}
	return result
}

// TriggerSync starts a drain in the background. It returns false when a
// drain is already running or the client is offline.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	if !s.conn.IsOnline() || s.drainer.InProgress() {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runDrain(ctx)
	}()
	return true
}

// SyncNow drains immediately and waits for completion.
func (s *Scheduler) SyncNow(ctx context.Context) *syncpkg.DrainResult {
	return s.runDrain(ctx)
}

// SchedulerStatus describes the scheduler.
type SchedulerStatus struct {
	IsRunning      bool       `json:"is_running"`
	IsOnline       bool       `json:"is_online"`
	Interval       string     `json:"interval"`
	LastRun        *time.Time `json:"last_run,omitempty"`
	Runs           int        `json:"runs"`
	SyncInProgress bool       `json:"sync_in_progress"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		IsRunning:      s.isRunning,
		IsOnline:       s.conn.IsOnline(),
		Interval:       s.interval.String(),
		Runs:           s.runs,
		SyncInProgress: s.drainer.InProgress(),
	}
	if !s.lastRun.IsZero() {
		t := s.lastRun
		status.LastRun = &t
	}
	return status
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
