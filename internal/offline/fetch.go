package offline

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	apperrors "github.com/kimhsiao/driverq/internal/errors"
	"github.com/kimhsiao/driverq/internal/logging"
	"github.com/kimhsiao/driverq/internal/models"
)

// FetchOptions describes the request performed by Fetch.
type FetchOptions struct {
	Method   string
	Headers  map[string]string
	Body     string
	Metadata map[string]interface{}
	// MaxRetries overrides the action type default when the request is
	// queued.
	MaxRetries int
}

// QueuedResponse is the body of the synthetic 202 returned for a queued
// request.
type QueuedResponse struct {
	Queued   bool        `json:"queued"`
	ActionID models.UUID `json:"actionId"`
	Message  string      `json:"message"`
}

const queuedMessage = "Action queued and will be sent when connectivity is restored"

// Fetch performs the request live when online. When offline, or when the
// live request fails without a response, a request with an actionType is
// queued instead and a synthetic 202 Accepted is returned. Without an
// actionType an offline Fetch fails with an OFFLINE error and network
// failures propagate.
func (m *Manager) Fetch(ctx context.Context, url string, opts FetchOptions, actionType models.ActionType) (*http.Response, error) {
	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodGet
	}

	if !m.IsOnline() {
		if actionType == "" {
			return nil, apperrors.Newf(apperrors.ErrOffline, "offline and no action type given for %s %s", method, url)
		}
		return m.queueFetch(ctx, url, method, opts, actionType)
	}

	var body io.Reader
	if opts.Body != "" {
		body = strings.NewReader(opts.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "build request", err)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := m.httpClient.Do(req)
	if err == nil {
		return resp, nil
	}
	if actionType == "" || ctx.Err() != nil {
		return nil, err
	}

	logging.Warn("Live request failed, queueing", map[string]interface{}{
		"url":   url,
		"type":  string(actionType),
		"error": err.Error(),
	})
	return m.queueFetch(ctx, url, method, opts, actionType)
}

func (m *Manager) queueFetch(ctx context.Context, url, method string, opts FetchOptions, actionType models.ActionType) (*http.Response, error) {
	// the live attempt just failed, so leave the retry to the next trigger
	id, err := m.enqueue(ctx, models.Descriptor{
		Type:       actionType,
		URL:        url,
		Method:     method,
		Headers:    opts.Headers,
		Body:       opts.Body,
		MaxRetries: opts.MaxRetries,
		Metadata:   opts.Metadata,
	}, false)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(QueuedResponse{Queued: true, ActionID: id, Message: queuedMessage})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "encode queued response", err)
	}
	return &http.Response{
		Status:        strconv.Itoa(http.StatusAccepted) + " " + http.StatusText(http.StatusAccepted),
		StatusCode:    http.StatusAccepted,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{"application/json"}},
		Body:          io.NopCloser(bytes.NewReader(payload)),
		ContentLength: int64(len(payload)),
	}, nil
}
