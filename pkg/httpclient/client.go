package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"

	apperrors "github.com/Bafix001/zibridge/pkg/errors"
	"github.com/Bafix001/zibridge/pkg/metrics"
	"github.com/Bafix001/zibridge/pkg/tracing"
)

const (
	// DefaultTimeout is the default request timeout
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum response body size (10MB)
	MaxResponseSize = 10 * 1024 * 1024

	DefaultMaxRetries  = 3
	DefaultBaseBackoff = 500 * time.Millisecond
	maxBackoff         = 30 * time.Second
)

// Client wraps net/http with logging, size limits and bounded retries for
// 429 and 5xx responses.
type Client struct {
	client      *http.Client
	logger      ectologger.Logger
	name        string
	maxRetries  int
	baseBackoff time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// Config holds HTTP client configuration
type Config struct {
	Name         string
	Timeout      time.Duration
	MaxIdleConns int
	MaxRetries   int
	BaseBackoff  time.Duration
}

// DefaultConfig returns default HTTP client configuration
func DefaultConfig(name string) Config {
	return Config{
		Name:         name,
		Timeout:      DefaultTimeout,
		MaxIdleConns: 100,
		MaxRetries:   DefaultMaxRetries,
		BaseBackoff:  DefaultBaseBackoff,
	}
}

// NewClient creates a new HTTP client
func NewClient(cfg Config, logger ectologger.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConns:    cfg.MaxIdleConns,
		IdleConnTimeout: 90 * time.Second,
	}
	return newClient(cfg, &http.Client{Transport: transport, Timeout: cfg.Timeout}, logger)
}

func newClient(cfg Config, hc *http.Client, logger ectologger.Logger) *Client {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultBaseBackoff
	}
	return &Client{
		client:      hc,
		logger:      logger,
		name:        cfg.Name,
		maxRetries:  cfg.MaxRetries,
		baseBackoff: cfg.BaseBackoff,
		sleep:       sleepCtx,
	}
}

// Response represents an HTTP response
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}

// Request describes one call. Body is marshaled to JSON when non-nil.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    any
}

// Do executes req, retrying transport errors, 429 and 5xx up to the configured
// bound. Any other non-2xx status is returned as a Response, not an error, so
// callers can branch on 404 and friends. Exhausted retries surface as a
// ConnectorFailure.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	ctx, span := tracing.StartSpan(ctx, "HTTPClient.Do")
	defer span.End()

	var payload []byte
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = b
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			metrics.ConnectorRetries.WithLabelValues(c.name).Inc()
			if err := c.sleep(ctx, c.backoff(attempt, lastErr)); err != nil {
				return nil, err
			}
		}

		resp, err := c.do(ctx, req, payload)
		if err != nil {
			lastErr = apperrors.NewConnectorFailure(0, err, "%s %s failed", req.Method, req.URL)
			c.logger.WithContext(ctx).WithError(err).Errorf("HTTP request failed: %s %s (attempt %d)", req.Method, req.URL, attempt+1)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = &retryAfterError{
				err:        apperrors.NewConnectorFailure(resp.StatusCode, nil, "%s %s returned %d: %s", req.Method, req.URL, resp.StatusCode, truncate(resp.Body)),
				retryAfter: parseRetryAfter(resp.Headers.Get("Retry-After")),
			}
			c.logger.WithContext(ctx).Debugf("HTTP %s %s -> %d, retrying", req.Method, req.URL, resp.StatusCode)
			continue
		}
		return resp, nil
	}

	if ra, ok := lastErr.(*retryAfterError); ok {
		return nil, ra.err
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, req Request, payload []byte) (*Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		metrics.RecordConnectorRequest(c.name, req.Method, "error", time.Since(start).Seconds())
		return nil, err
	}
	defer resp.Body.Close()

	if resp.ContentLength > MaxResponseSize {
		return nil, fmt.Errorf("response too large: %d bytes (max %d)", resp.ContentLength, MaxResponseSize)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(data) > MaxResponseSize {
		return nil, fmt.Errorf("response body too large: %d bytes (max %d)", len(data), MaxResponseSize)
	}

	duration := time.Since(start)
	metrics.RecordConnectorRequest(c.name, req.Method, strconv.Itoa(resp.StatusCode), duration.Seconds())
	c.logger.WithContext(ctx).Debugf("HTTP %s %s -> %d (%s)", req.Method, req.URL, resp.StatusCode, duration)

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       data,
		Duration:   duration,
	}, nil
}

// backoff doubles from the base delay and honours Retry-After when present.
func (c *Client) backoff(attempt int, lastErr error) time.Duration {
	if ra, ok := lastErr.(*retryAfterError); ok && ra.retryAfter > 0 {
		return min(ra.retryAfter, maxBackoff)
	}
	d := c.baseBackoff << (attempt - 1)
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}

type retryAfterError struct {
	err        *apperrors.Error
	retryAfter time.Duration
}

func (e *retryAfterError) Error() string { return e.err.Error() }

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
