package sync

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	apperrors "github.com/kimhsiao/driverq/internal/errors"
	"github.com/kimhsiao/driverq/internal/logging"
	"github.com/kimhsiao/driverq/internal/models"
)

// ErrBreakerOpen is returned by BreakerExecutor while the circuit rejects
// calls. The engine ends the pass without charging any retry budget.
var ErrBreakerOpen = apperrors.New(apperrors.ErrCircuitOpen, "remote API circuit is open")

// BreakerSettings tunes BreakerExecutor.
type BreakerSettings struct {
	// FailureThreshold is the number of consecutive transient failures that
	// opens the circuit.
	FailureThreshold uint32
	// OpenTimeout is how long the circuit stays open before a trial request.
	OpenTimeout time.Duration
}

// DefaultBreakerSettings opens after 5 consecutive failures for 30s.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{FailureThreshold: 5, OpenTimeout: 30 * time.Second}
}

// BreakerExecutor guards an Executor with a circuit breaker. Only transient
// outcomes (5xx or network errors) count as failures; a 4xx proves the
// remote is up.
type BreakerExecutor struct {
	next Executor
	cb   *gobreaker.CircuitBreaker
}

// errTransientStatus marks a 5xx response inside the breaker.
type errTransientStatus int

func (e errTransientStatus) Error() string { return fmt.Sprintf("remote returned %d", int(e)) }

// NewBreakerExecutor wraps next.
func NewBreakerExecutor(next Executor, s BreakerSettings) *BreakerExecutor {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = DefaultBreakerSettings().FailureThreshold
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = DefaultBreakerSettings().OpenTimeout
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "remote-api",
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= s.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || stderrors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn("Circuit breaker state change", map[string]interface{}{
				"name": name,
				"from": from.String(),
				"to":   to.String(),
			})
		},
	})
	return &BreakerExecutor{next: next, cb: cb}
}

// Execute runs the wrapped executor through the breaker.
func (b *BreakerExecutor) Execute(ctx context.Context, action *models.OfflineAction) (int, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		status, err := b.next.Execute(ctx, action)
		if err != nil {
			return status, err
		}
		if Classify(status, nil) == OutcomeRetry {
			return status, errTransientStatus(status)
		}
		return status, nil
	})

	if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		return 0, ErrBreakerOpen
	}
	var transient errTransientStatus
	if stderrors.As(err, &transient) {
		return int(transient), nil
	}
	status, _ := res.(int)
	return status, err
}

// State returns the breaker state name.
func (b *BreakerExecutor) State() string {
	return b.cb.State().String()
}
