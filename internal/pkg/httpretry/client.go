// Package httpretry provides an HTTP client that retries rate-limited and
// server-error responses with linear backoff.
package httpretry

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ignite/inboxbench/internal/pkg/logger"
)

const (
	// DefaultMaxAttempts is the total number of tries, including the first.
	DefaultMaxAttempts = 5
	// DefaultBaseDelay is multiplied by the attempt number: 2s, 4s, 6s, 8s.
	DefaultBaseDelay = 2 * time.Second
	// DefaultMaxDelay caps a single wait, including server-sent Retry-After.
	DefaultMaxDelay = 30 * time.Second
)

// HTTPDoer is the interface for executing HTTP requests.
// Both *http.Client and *RetryClient satisfy this interface.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryClient wraps an HTTPDoer with retry logic.
type RetryClient struct {
	client      HTTPDoer
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	sleep       func(req *http.Request, d time.Duration) error
}

// Option customizes a RetryClient.
type Option func(*RetryClient)

// WithBaseDelay sets the per-attempt backoff step.
func WithBaseDelay(d time.Duration) Option {
	return func(rc *RetryClient) {
		if d >= 0 {
			rc.baseDelay = d
		}
	}
}

// WithMaxDelay caps any single backoff wait.
func WithMaxDelay(d time.Duration) Option {
	return func(rc *RetryClient) {
		if d > 0 {
			rc.maxDelay = d
		}
	}
}

// NewRetryClient creates a RetryClient that wraps the given HTTPDoer.
// If client is nil, a default http.Client with 30s timeout is used.
// maxAttempts <= 0 selects DefaultMaxAttempts.
func NewRetryClient(client HTTPDoer, maxAttempts int, opts ...Option) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	rc := &RetryClient{
		client:      client,
		maxAttempts: maxAttempts,
		baseDelay:   DefaultBaseDelay,
		maxDelay:    DefaultMaxDelay,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// Do executes the HTTP request with retry logic.
// 429 and every 5xx status are retried, as are transport errors. Other
// statuses are returned immediately. On the final attempt the response is
// returned as-is so the caller can inspect the status code and body.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	var lastErr error
	var wait time.Duration

	for attempt := 1; attempt <= rc.maxAttempts; attempt++ {
		if err := req.Context().Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		if attempt > 1 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: failed to reset request body: %w", err)
				}
				req.Body = body
			}

			logger.Warn("httpretry: backing off",
				"attempt", attempt, "max_attempts", rc.maxAttempts,
				"method", req.Method, "host", req.URL.Host, "path", req.URL.Path, "wait", wait)

			if err := rc.sleep(req, wait); err != nil {
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, err
			}
		}

		resp, err := rc.client.Do(req)
		if err != nil {
			lastErr = err
			if req.Context().Err() != nil {
				return nil, err
			}
			wait = rc.backoff(attempt, "")
			continue
		}

		if !IsRetryableStatus(resp.StatusCode) || attempt == rc.maxAttempts {
			return resp, nil
		}

		wait = rc.backoff(attempt, resp.Header.Get("Retry-After"))
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: server returned retryable status %d", resp.StatusCode)
	}

	return nil, lastErr
}

// backoff returns the wait before the next attempt: baseDelay × attempt, or
// the server's Retry-After seconds when larger, capped at maxDelay.
func (rc *RetryClient) backoff(attempt int, retryAfter string) time.Duration {
	d := rc.baseDelay * time.Duration(attempt)
	if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
		if ra := time.Duration(secs) * time.Second; ra > d {
			d = ra
		}
	}
	if d > rc.maxDelay {
		d = rc.maxDelay
	}
	return d
}

func sleepCtx(req *http.Request, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-req.Context().Done():
		return req.Context().Err()
	}
}

// IsRetryableStatus reports whether a status indicates a transient failure:
// 429 Too Many Requests or any 5xx.
func IsRetryableStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || statusCode >= 500
}
