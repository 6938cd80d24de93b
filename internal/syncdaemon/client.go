package syncdaemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pedohorse/lance/internal/metrics"
	"github.com/pedohorse/lance/internal/tracing"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
)

// apiClient talks to the daemon's local control API (spec.md §6 "Sync
// daemon (external process)"). Requests are wrapped in a circuit breaker
// that opens after more than five consecutive failures; while it is open an
// attempt fails without sending a request, but do still counts it as a
// transport failure and keeps retrying, up to 32 attempts one second apart.
type apiClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
}

func newAPIClient(baseURL string) *apiClient {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "syncdaemon-http",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	return &apiClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		cb:      cb,
	}
}

func (c *apiClient) setAPIKey(key string) { c.apiKey = key }

// httpRetryAttempts / httpRetryInterval implement §5's "32 HTTP retries
// with 1-second backoff cover daemon startup".
const (
	httpRetryAttempts = 32
	httpRetryInterval = time.Second
)

func (c *apiClient) do(ctx context.Context, method, path string, query url.Values, body any) (result []byte, err error) {
	ctx, span := tracing.StartSpan(ctx, "syncdaemon.daemon_http",
		attribute.String("http.method", method), attribute.String("http.path", path))
	defer func() {
		tracing.SetSpanError(span, err)
		span.End()
	}()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("syncdaemon: marshal request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < httpRetryAttempts; attempt++ {
		if attempt > 0 {
			metrics.DaemonHTTPRetriesTotal.Inc()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(httpRetryInterval):
			}
		}

		resultAny, err := c.cb.Execute(func() (any, error) {
			return c.doOnce(ctx, method, path, query, payload)
		})
		if err == nil {
			return resultAny.([]byte), nil
		}
		lastErr = err
		if !isTransportError(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrNotReady, lastErr)
}

func (c *apiClient) doOnce(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("transport: read body: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, &httpStatusError{code: resp.StatusCode, body: data}
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("syncdaemon: %s %s: status %d: %s", method, path, resp.StatusCode, string(data))
	}
	return data, nil
}

type httpStatusError struct {
	code int
	body []byte
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.code, string(e.body))
}

func isTransportError(err error) bool {
	var hse *httpStatusError
	if asHTTPStatusError(err, &hse) {
		return false
	}
	return true
}

func asHTTPStatusError(err error, target **httpStatusError) bool {
	hse, ok := err.(*httpStatusError)
	if ok {
		*target = hse
	}
	return ok
}

func (c *apiClient) get(ctx context.Context, path string, query url.Values, out any) error {
	data, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *apiClient) post(ctx context.Context, path string, body any) error {
	_, err := c.do(ctx, http.MethodPost, path, nil, body)
	return err
}
