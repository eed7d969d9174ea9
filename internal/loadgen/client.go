package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/okian/repairflow/internal/domain/types"
	"github.com/okian/repairflow/pkg/backoff"
)

// Client retry settings.
const (
	clientAttempts     = 4
	clientRetryInitial = 50 * time.Millisecond
	clientRetryMax     = time.Second
	maxResponseBytes   = 4 << 20
)

// APIError is a non-2xx answer from the service.
type APIError struct {
	Method string
	Path   string
	Status int
	Kind   string
	Msg    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.Path, e.Status, e.Kind, e.Msg)
}

// Retryable reports whether the service asked the caller to back off.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status == http.StatusServiceUnavailable
}

// HTTPClient wraps http.Client with JSON helpers and bounded retries.
type HTTPClient struct {
	client  *http.Client
	baseURL string
	backoff backoff.Strategy

	requests atomic.Int64
	retries  atomic.Int64
}

func newHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		backoff: backoff.NewExponentialWithJitter(clientRetryInitial, clientRetryMax),
	}
}

// Get performs a GET request and decodes the JSON answer into out.
func (c *HTTPClient) Get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// Post performs a POST request with a JSON body.
func (c *HTTPClient) Post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

// Put performs a PUT request with a JSON body.
func (c *HTTPClient) Put(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPut, path, body, out)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}
	return backoff.Retry(ctx, clientAttempts, c.backoff, func(ctx context.Context) error {
		return c.once(ctx, method, path, payload, out)
	}, func(int, error) {
		c.retries.Add(1)
	})
}

func (c *HTTPClient) once(ctx context.Context, method, path string, payload []byte, out any) error {
	c.requests.Add(1)
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Method: method, Path: path, Status: resp.StatusCode}
		var eb types.ErrorBody
		if json.Unmarshal(data, &eb) == nil {
			apiErr.Kind, apiErr.Msg = eb.Kind, eb.Error
		}
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// healthy checks the metrics endpoint, which answers 200 once the server is up.
func (c *HTTPClient) healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}
