package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMonitor_initialState(t *testing.T) {
	online := NewMonitor(true)
	assert.True(t, online.IsOnline())
	assert.NotNil(t, online.LastOnline())

	offline := NewMonitor(false)
	assert.False(t, offline.IsOnline())
	assert.Nil(t, offline.LastOnline())
}

func TestMonitor_onlineEdgeTriggersOnce(t *testing.T) {
	m := NewMonitor(false)
	base := time.UnixMilli(1_000_000)
	m.now = func() time.Time { return base }

	var changes []bool
	drains := 0
	m.OnChange(func(online bool) { changes = append(changes, online) })
	m.OnOnline(func() { drains++ })

	assert.True(t, m.SetOnline(true))
	assert.False(t, m.SetOnline(true), "redundant online signal is ignored")
	assert.True(t, m.SetOnline(false))
	assert.False(t, m.SetOnline(false))
	assert.True(t, m.SetOnline(true))

	assert.Equal(t, 2, drains)
	assert.Equal(t, []bool{true, false, true}, changes)
	require.NotNil(t, m.LastOnline())
	assert.Equal(t, base, *m.LastOnline())
}

func TestMonitor_lastOnlineIsCopy(t *testing.T) {
	m := NewMonitor(true)
	got := m.LastOnline()
	*got = time.Time{}
	assert.False(t, m.LastOnline().IsZero())
}

func TestMonitor_onOnlineRunsSynchronously(t *testing.T) {
	m := NewMonitor(false)
	done := false
	m.OnOnline(func() {
		assert.True(t, m.IsOnline(), "state is updated before the drain runs")
		done = true
	})
	m.SetOnline(true)
	assert.True(t, done)
}

func TestMonitor_watch(t *testing.T) {
	m := NewMonitor(false)
	var probes atomic.Int32
	reachable := make(chan struct{})
	m.OnOnline(func() { close(reachable) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- m.Watch(ctx, ProberFunc(func(context.Context) bool {
			return probes.Add(1) >= 2
		}), 10*time.Millisecond)
	}()

	select {
	case <-reachable:
	case <-time.After(2 * time.Second):
		t.Fatal("watch never reported reachability")
	}
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.True(t, m.IsOnline())
}

func TestHTTPProber(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusNoContent)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	p := NewHTTPProber(srv.URL, time.Second)
	assert.True(t, p.Probe(context.Background()))

	status.Store(http.StatusNotFound)
	assert.True(t, p.Probe(context.Background()), "a 4xx still proves reachability")

	status.Store(http.StatusServiceUnavailable)
	assert.False(t, p.Probe(context.Background()))

	srv.Close()
	assert.False(t, p.Probe(context.Background()))

	assert.False(t, NewHTTPProber("://bad", 0).Probe(context.Background()))
}
