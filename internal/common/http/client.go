// Package http wraps net/http with the retry policy used by the remote loader.
package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/navinbhat12/rewindify/internal/common/logger"
)

const (
	DefaultTimeout    = 60 * time.Second
	DefaultMaxRetries = 3
	DefaultBackoff    = 500 * time.Millisecond
	maxRetryAfter     = 30 * time.Second
)

// RequestFunc builds a fresh request for each attempt so bodies can be resent.
type RequestFunc func(ctx context.Context) (*http.Request, error)

type Client struct {
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     logger.Logger
}

func NewClient(timeout time.Duration, log logger.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxRetries: DefaultMaxRetries,
		backoff:    DefaultBackoff,
		logger:     logger.Component(log, "http-client"),
	}
}

// WithRetry sets the attempt budget. maxRetries counts attempts after the first.
func (c *Client) WithRetry(maxRetries int, backoff time.Duration) *Client {
	if maxRetries < 0 {
		maxRetries = 0
	}
	c.maxRetries = maxRetries
	c.backoff = backoff
	return c
}

// Retryable reports whether a response status is worth another attempt.
func Retryable(status int) bool {
	switch status {
	case http.StatusConflict, http.StatusTooManyRequests, http.StatusServiceUnavailable,
		http.StatusBadGateway, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Do sends the request built by newReq, retrying transport failures and
// retryable statuses with exponential backoff. The final response is
// returned as-is, whatever its status.
func (c *Client) Do(ctx context.Context, newReq RequestFunc) (*http.Response, error) {
	delay := c.backoff

	for attempt := 0; ; attempt++ {
		req, err := newReq(ctx)
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		last := attempt >= c.maxRetries
		if err == nil && (!Retryable(resp.StatusCode) || last) {
			return resp, nil
		}
		if err != nil && last {
			return nil, fmt.Errorf("%s %s failed after %d attempts: %w", req.Method, req.URL.Path, attempt+1, err)
		}

		wait := delay
		fields := map[string]interface{}{
			"method":      req.Method,
			"path":        req.URL.Path,
			"attempt":     attempt + 1,
			"nextRetryIn": wait.String(),
		}
		if err != nil {
			fields["error"] = err.Error()
		} else {
			fields["status"] = resp.StatusCode
			if after, ok := retryAfter(resp); ok {
				wait = after
				fields["nextRetryIn"] = wait.String()
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
		c.logger.Warn("Request failed, retrying", fields)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}

func retryAfter(resp *http.Response) (time.Duration, bool) {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0, false
	}
	d := time.Duration(secs) * time.Second
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d, true
}
