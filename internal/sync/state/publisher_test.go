package state

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/driverq/internal/models"
)

func staticSnapshot(online bool, pending int) func() models.OfflineState {
	return func() models.OfflineState {
		actions := make([]*models.OfflineAction, pending)
		for i := range actions {
			actions[i] = &models.OfflineAction{ID: models.UUID(string(rune('a' + i)))}
		}
		return models.OfflineState{IsOnline: online, PendingActions: actions}
	}
}

func TestPublisher_registrationOrder(t *testing.T) {
	p := NewPublisher(staticSnapshot(true, 2))

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		p.Subscribe(func(s models.OfflineState) {
			assert.True(t, s.IsOnline)
			assert.Equal(t, 2, s.PendingCount())
			order = append(order, i)
		})
	}

	p.Notify()
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestPublisher_unsubscribeIdempotent(t *testing.T) {
	p := NewPublisher(staticSnapshot(false, 0))

	calls := 0
	unsubscribe := p.Subscribe(func(models.OfflineState) { calls++ })
	other := 0
	p.Subscribe(func(models.OfflineState) { other++ })

	p.Notify()
	unsubscribe()
	unsubscribe()
	p.Notify()

	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, other)
	assert.Equal(t, 1, p.Len())
}

func TestPublisher_mutationDuringNotify(t *testing.T) {
	p := NewPublisher(staticSnapshot(true, 0))

	var lateCalls, selfCalls int
	var unsubscribeSelf func()
	unsubscribeSelf = p.Subscribe(func(models.OfflineState) {
		selfCalls++
		unsubscribeSelf()
		p.Subscribe(func(models.OfflineState) { lateCalls++ })
	})
	tail := 0
	p.Subscribe(func(models.OfflineState) { tail++ })

	p.Notify()
	assert.Equal(t, 1, selfCalls)
	assert.Equal(t, 1, tail, "subscriber after a self-removing one must still run")
	assert.Equal(t, 0, lateCalls, "subscribers added during notify wait for the next one")

	p.Notify()
	assert.Equal(t, 1, selfCalls)
	assert.Equal(t, 1, lateCalls)
}

func TestPublisher_freshSnapshotPerSubscriber(t *testing.T) {
	p := NewPublisher(staticSnapshot(true, 1))

	var first models.OfflineState
	p.Subscribe(func(s models.OfflineState) {
		first = s
		s.PendingActions[0].RetryCount = 99
	})
	p.Subscribe(func(s models.OfflineState) {
		assert.Equal(t, 0, s.PendingActions[0].RetryCount)
	})

	p.Notify()
	require.Len(t, first.PendingActions, 1)
}

func TestPublisher_panicIsContained(t *testing.T) {
	p := NewPublisher(staticSnapshot(true, 0))

	p.Subscribe(func(models.OfflineState) { panic("boom") })
	reached := false
	p.Subscribe(func(models.OfflineState) { reached = true })

	assert.NotPanics(t, p.Notify)
	assert.True(t, reached)
}

func TestPublisher_drops(t *testing.T) {
	p := NewPublisher(staticSnapshot(true, 0))

	action := &models.OfflineAction{ID: "a", Type: models.ActionJobClaim, Headers: map[string]string{"k": "v"}}
	var got []DropEvent
	unsubscribe := p.OnDrop(func(e DropEvent) {
		e.Action.Headers["k"] = "mutated"
		got = append(got, e)
	})

	p.PublishDrop(DropEvent{Action: action, Reason: DropRejected, StatusCode: 422})
	unsubscribe()
	unsubscribe()
	p.PublishDrop(DropEvent{Action: action, Reason: DropRetriesExhausted})

	require.Len(t, got, 1)
	assert.Equal(t, DropRejected, got[0].Reason)
	assert.Equal(t, 422, got[0].StatusCode)
	assert.Equal(t, "v", action.Headers["k"], "drop listeners receive a copy")
}

func TestPublisher_concurrentSubscribeNotify(t *testing.T) {
	p := NewPublisher(staticSnapshot(true, 0))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unsubscribe := p.Subscribe(func(models.OfflineState) {})
			unsubscribe()
		}()
		go func() {
			defer wg.Done()
			p.Notify()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, p.Len())
}
