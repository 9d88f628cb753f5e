// Package state broadcasts offline state snapshots and action drop events
// to subscribers.
package state

import (
	"fmt"
	"sync"

	"github.com/kimhsiao/driverq/internal/logging"
	"github.com/kimhsiao/driverq/internal/models"
)

// Listener receives a fresh read-only state snapshot.
type Listener func(models.OfflineState)

// DropListener receives an event for every action removed without being
// applied by the remote API.
type DropListener func(DropEvent)

// DropReason says why an action left the queue without success.
type DropReason string

const (
	// DropRejected means the remote answered with a 4xx other than 409.
	DropRejected DropReason = "rejected"
	// DropRetriesExhausted means the retry budget ran out on transient failures.
	DropRetriesExhausted DropReason = "retries_exhausted"
)

// DropEvent describes a dropped action.
type DropEvent struct {
	Action     *models.OfflineAction `json:"action"`
	Reason     DropReason            `json:"reason"`
	StatusCode int                   `json:"status_code,omitempty"`
	Error      string                `json:"error,omitempty"`
}

type subscriber struct {
	id uint64
	fn Listener
}

type dropSubscriber struct {
	id uint64
	fn DropListener
}

// Publisher fans state changes out to subscribers in registration order.
type Publisher struct {
	snapshot func() models.OfflineState

	mu     sync.Mutex
	nextID uint64
	subs   []subscriber
	drops  []dropSubscriber
}

// NewPublisher creates a publisher that reads the current state from
// snapshot on every Notify.
func NewPublisher(snapshot func() models.OfflineState) *Publisher {
	return &Publisher{snapshot: snapshot}
}

// Subscribe registers fn and returns a function that unregisters it.
// Calling the returned function more than once is a no-op.
func (p *Publisher) Subscribe(fn Listener) (unsubscribe func()) {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.subs = append(p.subs, subscriber{id: id, fn: fn})
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			for i, s := range p.subs {
				if s.id == id {
					p.subs = append(p.subs[:i:i], p.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// OnDrop registers fn for drop events and returns its unsubscribe function.
func (p *Publisher) OnDrop(fn DropListener) (unsubscribe func()) {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.drops = append(p.drops, dropSubscriber{id: id, fn: fn})
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			for i, s := range p.drops {
				if s.id == id {
					p.drops = append(p.drops[:i:i], p.drops[i+1:]...)
					return
				}
			}
		})
	}
}

// Notify delivers the current snapshot to every subscriber registered at
// the time of the call. Subscribers may subscribe or unsubscribe from
// inside their callback.
func (p *Publisher) Notify() {
	p.mu.Lock()
	subs := make([]subscriber, len(p.subs))
	copy(subs, p.subs)
	p.mu.Unlock()

	if len(subs) == 0 {
		return
	}

	for _, s := range subs {
		// each subscriber gets its own copy
		p.deliver(s.id, func() { s.fn(p.snapshot()) })
	}
}

// PublishDrop delivers e to every drop subscriber.
func (p *Publisher) PublishDrop(e DropEvent) {
	p.mu.Lock()
	drops := make([]dropSubscriber, len(p.drops))
	copy(drops, p.drops)
	p.mu.Unlock()

	for _, s := range drops {
		ev := e
		ev.Action = e.Action.Clone()
		p.deliver(s.id, func() { s.fn(ev) })
	}
}

// Len returns the number of state subscribers.
func (p *Publisher) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// deliver runs call and logs a panic instead of propagating it.
func (p *Publisher) deliver(id uint64, call func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("State subscriber panicked", fmt.Errorf("%v", r), map[string]interface{}{
				"subscriber": id,
			})
		}
	}()
	call()
}
