// Package httpclient is a small retrying HTTP client used for the three
// REST call sites the bridge owns: workflow creation, token direct
// access, and the authenticated api/v4 passthrough.
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// RetryStrategy decides how a given response status should be treated.
type RetryStrategy int

const (
	// NoRetry means the response (or error) should be returned as-is.
	NoRetry RetryStrategy = iota
	// Retry means another attempt should be made after a backoff delay.
	Retry
)

// StrategyFunc maps a status code to a RetryStrategy.
type StrategyFunc func(statusCode int) RetryStrategy

// Client wraps http.Client with exponential-backoff retry.
type Client struct {
	http         *http.Client
	maxRetries   int
	baseDelay    time.Duration
	maxDelay     time.Duration
	strategyFunc StrategyFunc
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying http.Client (e.g. for custom
// transports or timeouts).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) Option {
	return func(cl *Client) { cl.maxRetries = n }
}

// WithBaseDelay sets the base exponential-backoff delay.
func WithBaseDelay(d time.Duration) Option {
	return func(cl *Client) { cl.baseDelay = d }
}

// WithMaxDelay caps the exponential-backoff delay.
func WithMaxDelay(d time.Duration) Option {
	return func(cl *Client) { cl.maxDelay = d }
}

// DefaultStrategy retries on 429 and the common transient 5xx statuses.
func DefaultStrategy(statusCode int) RetryStrategy {
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusRequestTimeout,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return Retry
	default:
		return NoRetry
	}
}

// New creates a Client with sane defaults: 3 retries, 500ms base delay,
// 10s max delay.
func New(opts ...Option) *Client {
	c := &Client{
		http:         &http.Client{Timeout: 30 * time.Second},
		maxRetries:   3,
		baseDelay:    500 * time.Millisecond,
		maxDelay:     10 * time.Second,
		strategyFunc: DefaultStrategy,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do executes req, retrying on transient failures with jittered
// exponential backoff. The request body (if any) is buffered so it can
// be replayed across attempts. If every attempt is exhausted against a
// status the strategy marked retryable, Do closes the last response and
// returns a *RetryableError describing why it gave up.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("httpclient: read request body: %w", err)
		}
		req.Body.Close()
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}

		resp, err := c.http.Do(req)
		if err != nil {
			retryable := &RetryableError{Message: "request failed", Err: err}
			lastErr = retryable
			if attempt == c.maxRetries || !retryable.IsRetryable() {
				return nil, retryable
			}
			c.sleep(req.Context(), attempt)
			continue
		}

		if c.strategyFunc(resp.StatusCode) == NoRetry {
			return resp, nil
		}
		retryAfter := retryAfterHeader(resp)
		if attempt == c.maxRetries {
			statusCode := resp.StatusCode
			resp.Body.Close()
			return nil, &RetryableError{
				StatusCode: statusCode,
				Message:    fmt.Sprintf("giving up after %d attempts", attempt+1),
				RetryAfter: retryAfter,
			}
		}
		resp.Body.Close()
		if retryAfter > 0 {
			c.sleepFor(req.Context(), retryAfter)
		} else {
			c.sleep(req.Context(), attempt)
		}
	}
	return nil, lastErr
}

// retryAfterHeader parses a Retry-After header expressed in seconds, if
// present.
func retryAfterHeader(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := time.ParseDuration(v + "s")
	if err != nil {
		return 0
	}
	return secs
}

func (c *Client) sleep(ctx context.Context, attempt int) {
	delay := time.Duration(float64(c.baseDelay) * math.Pow(2, float64(attempt)))
	if delay > c.maxDelay {
		delay = c.maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 2 + 1))
	delay += jitter
	c.sleepFor(ctx, delay)
}

func (c *Client) sleepFor(ctx context.Context, delay time.Duration) {
	if delay > c.maxDelay {
		delay = c.maxDelay
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}
