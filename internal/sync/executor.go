package sync

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kimhsiao/driverq/internal/models"
)

// Executor replays one action against the remote API. It returns the HTTP
// status code, or a non-nil error when no response was received.
type Executor interface {
	Execute(ctx context.Context, action *models.OfflineAction) (int, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, action *models.OfflineAction) (int, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, action *models.OfflineAction) (int, error) {
	return f(ctx, action)
}

// HTTPExecutor executes actions with an http.Client.
type HTTPExecutor struct {
	Client  *http.Client
	Timeout time.Duration
}

// NewHTTPExecutor creates an executor bounding every request by timeout.
func NewHTTPExecutor(timeout time.Duration) *HTTPExecutor {
	return &HTTPExecutor{Client: &http.Client{}, Timeout: timeout}
}

// Execute sends the stored request and discards the response body.
func (e *HTTPExecutor) Execute(ctx context.Context, action *models.OfflineAction) (int, error) {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	var body io.Reader
	if action.Body != "" {
		body = strings.NewReader(action.Body)
	}
	req, err := http.NewRequestWithContext(ctx, action.Method, action.URL, body)
	if err != nil {
		return 0, err
	}
	for k, v := range action.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("X-Offline-Action-Id", string(action.ID))

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode, nil
}
