// Package main tests for the driverd commands, routing and WebSocket hub.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/driverq/internal/metrics"
	"github.com/kimhsiao/driverq/internal/models"
	"github.com/kimhsiao/driverq/internal/offline"
	"github.com/kimhsiao/driverq/internal/store"
	syncpkg "github.com/kimhsiao/driverq/internal/sync"
	"github.com/kimhsiao/driverq/internal/sync/state"
)

// runCLI executes driverd with args against an offline sqlite store in dir.
func runCLI(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{
		"--store_path", dir,
		"--connectivity_initial_online=false",
	}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestCLI_queueThenPending(t *testing.T) {
	dir := t.TempDir()

	out, err := runCLI(t, dir, "queue", "claim", "job-1")
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	assert.Len(t, id, 36)

	_, err = runCLI(t, dir, "queue", "location", "--lat", "51.5074", "--lng", "-0.1278")
	require.NoError(t, err)

	out, err = runCLI(t, dir, "pending")
	require.NoError(t, err)
	var all []*models.OfflineAction
	require.NoError(t, json.Unmarshal([]byte(out), &all))
	require.Len(t, all, 2)
	assert.Equal(t, models.UUID(id), all[0].ID)

	out, err = runCLI(t, dir, "pending", "--type", "location_update")
	require.NoError(t, err)
	var locations []*models.OfflineAction
	require.NoError(t, json.Unmarshal([]byte(out), &locations))
	require.Len(t, locations, 1)
	assert.Equal(t, models.ActionLocationUpdate, locations[0].Type)

	_, err = runCLI(t, dir, "pending", "--type", "bogus")
	assert.Error(t, err)
}

func TestCLI_syncWhileOfflineIsSkipped(t *testing.T) {
	dir := t.TempDir()
	_, err := runCLI(t, dir, "queue", "availability", "busy")
	require.NoError(t, err)

	out, err := runCLI(t, dir, "sync")
	require.NoError(t, err)

	var result syncpkg.DrainResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, syncpkg.SkipOffline, result.Skipped)
}

func TestCLI_clear(t *testing.T) {
	dir := t.TempDir()
	_, err := runCLI(t, dir, "queue", "decline", "job-2", "--reason", "too far")
	require.NoError(t, err)
	_, err = runCLI(t, dir, "queue", "progress", "job-2", "arrived", "--payload", `{"eta":4}`)
	require.NoError(t, err)

	_, err = runCLI(t, dir, "clear")
	require.NoError(t, err)

	out, err := runCLI(t, dir, "pending")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out)
}

func TestCLI_invalidInput(t *testing.T) {
	dir := t.TempDir()

	_, err := runCLI(t, dir, "queue", "availability", "asleep")
	assert.Error(t, err)
	_, err = runCLI(t, dir, "queue", "progress", "job", "step", "--payload", "not json")
	assert.Error(t, err)
	_, err = runCLI(t, dir, "--store_driver", "redis", "pending")
	assert.Error(t, err)
}

func newTestServer(t *testing.T) (*offline.Manager, *WSHub, *httptest.Server) {
	t.Helper()
	m := metrics.New()
	mgr, err := offline.New(context.Background(), offline.Options{
		Store:   store.NewMemory(),
		Metrics: m,
		Executor: syncpkg.ExecutorFunc(func(context.Context, *models.OfflineAction) (int, error) {
			return http.StatusUnprocessableEntity, nil
		}),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })

	hub := NewWSHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	mgr.Subscribe(hub.BroadcastState)
	mgr.OnActionDropped(hub.BroadcastDrop)

	srv := httptest.NewServer(newRouter(mgr, hub, m))
	t.Cleanup(srv.Close)
	return mgr, hub, srv
}

func TestRouter_healthAndMetrics(t *testing.T) {
	mgr, _, srv := newTestServer(t)
	_, err := mgr.QueueJobClaim(context.Background(), "j")
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `driverq_actions_enqueued_total{type="job_claim"} 1`)
	assert.Contains(t, string(body), "driverq_pending_actions 1")
}

func dialWS(t *testing.T, hub *WSHub, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 5*time.Millisecond)
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestWebSocket_broadcastsState(t *testing.T) {
	mgr, hub, srv := newTestServer(t)
	conn := dialWS(t, hub, srv)

	_, err := mgr.QueueJobClaim(context.Background(), "j")
	require.NoError(t, err)

	env := readEnvelope(t, conn)
	assert.JSONEq(t, `"offline.state"`, string(env["type"]))
	var st models.OfflineState
	require.NoError(t, json.Unmarshal(env["data"], &st))
	assert.Len(t, st.PendingActions, 1)
}

func TestWebSocket_subscriptionFilter(t *testing.T) {
	mgr, hub, srv := newTestServer(t)
	conn := dialWS(t, hub, srv)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"action": "subscribe",
		"events": []string{EventActionDropped},
	}))
	ack := readEnvelope(t, conn)
	assert.JSONEq(t, `"subscribe_ack"`, string(ack["action"]))

	_, err := mgr.QueueJobClaim(context.Background(), "j")
	require.NoError(t, err)
	mgr.SetOnline(true)

	env := readEnvelope(t, conn)
	require.JSONEq(t, `"offline.action_dropped"`, string(env["type"]))
	var drop state.DropEvent
	require.NoError(t, json.Unmarshal(env["data"], &drop))
	assert.Equal(t, state.DropRejected, drop.Reason)
	assert.Equal(t, http.StatusUnprocessableEntity, drop.StatusCode)
}

func TestWebSocket_ping(t *testing.T) {
	_, hub, srv := newTestServer(t)
	conn := dialWS(t, hub, srv)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "ping"}))
	env := readEnvelope(t, conn)
	assert.JSONEq(t, `"pong"`, string(env["action"]))
}

func TestWebSocket_rejectsForeignHost(t *testing.T) {
	_, _, srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/ws", nil)
	require.NoError(t, err)
	req.Host = "evil.example.com"
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHub_broadcastAfterStopDoesNotBlock(t *testing.T) {
	hub := NewWSHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	for i := 0; i < wsBroadcastCapacity*2; i++ {
		hub.BroadcastState(models.OfflineState{})
	}
}
