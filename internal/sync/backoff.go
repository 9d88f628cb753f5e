package sync

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffPolicy computes per-action retry delays. A nil *BackoffPolicy
// disables backoff and every failed action is retried on the next drain.
type BackoffPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter is the randomization factor in [0, 1].
	Jitter float64
}

// NewBackoffPolicy returns an exponential policy with 50% jitter.
func NewBackoffPolicy(initial, max time.Duration) *BackoffPolicy {
	return &BackoffPolicy{
		Initial:    initial,
		Max:        max,
		Multiplier: backoff.DefaultMultiplier,
		Jitter:     backoff.DefaultRandomizationFactor,
	}
}

// Delay returns the wait before the attempt following the retryCount-th
// failure. retryCount starts at 1.
func (p *BackoffPolicy) Delay(retryCount int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.Initial,
		RandomizationFactor: p.Jitter,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.Max,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < retryCount; i++ {
		d = b.NextBackOff()
	}
	if d == backoff.Stop || d < 0 {
		return p.Max
	}
	return d
}

// NextEligibleAt returns the unix-millisecond time at which an action that
// just failed for the retryCount-th time may run again.
func (p *BackoffPolicy) NextEligibleAt(now time.Time, retryCount int) int64 {
	return now.Add(p.Delay(retryCount)).UnixMilli()
}
