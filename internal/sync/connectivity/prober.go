package connectivity

import (
	"context"
	"net/http"
	"time"

	"github.com/kimhsiao/driverq/internal/logging"
)

// HTTPProber treats any HTTP response below 500 from URL as reachable.
type HTTPProber struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

// NewHTTPProber creates a prober for url.
func NewHTTPProber(url string, timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPProber{URL: url, Timeout: timeout, Client: &http.Client{}}
}

// Probe issues a HEAD request bounded by the prober timeout.
func (p *HTTPProber) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		logging.Warn("Invalid probe URL", map[string]interface{}{"url": p.URL, "error": err.Error()})
		return false
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		logging.Debug("Probe failed", map[string]interface{}{"url": p.URL, "error": err.Error()})
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) bool

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context) bool { return f(ctx) }
