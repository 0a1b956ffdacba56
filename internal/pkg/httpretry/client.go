// Package httpretry retries outbound HTTP calls to the CMS and Microsoft
// Graph with jittered exponential backoff.
package httpretry

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"github.com/ignite/recruit-cdp/internal/pkg/logger"
)

// HTTPDoer executes HTTP requests. *http.Client and *RetryClient both
// satisfy it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryClient wraps an HTTPDoer and retries 429, 5xx and transport errors.
type RetryClient struct {
	client   HTTPDoer
	attempts uint
	delay    time.Duration
	maxDelay time.Duration
}

// NewRetryClient wraps client, or a 30s-timeout http.Client when nil.
// retries counts attempts after the first one and defaults to 3.
func NewRetryClient(client HTTPDoer, retries int) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if retries <= 0 {
		retries = 3
	}
	return &RetryClient{
		client:   client,
		attempts: uint(retries) + 1,
		delay:    time.Second,
		maxDelay: 30 * time.Second,
	}
}

// WithBackoff overrides the base and maximum delays.
func (rc *RetryClient) WithBackoff(base, max time.Duration) *RetryClient {
	if base > 0 {
		rc.delay = base
	}
	if max > 0 {
		rc.maxDelay = max
	}
	return rc
}

// IdempotencyHeader marks a non-idempotent request as safe to replay.
const IdempotencyHeader = "Idempotency-Key"

// Replayable reports whether sending req twice has the effect of sending it
// once: idempotent methods, or any request carrying IdempotencyHeader.
func Replayable(req *http.Request) bool {
	switch req.Method {
	case "", http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace,
		http.MethodPut, http.MethodDelete:
		return true
	}
	return req.Header.Get(IdempotencyHeader) != ""
}

// Do sends req until it gets a non-retryable answer or runs out of
// attempts. The final retryable response is returned as-is so callers can
// read its body. A request that is not Replayable is retried only on 429,
// since a transport error or 5xx may come after the server applied it.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	replayable := Replayable(req)

	var (
		resp    *http.Response
		lastErr error
		attempt uint
	)
	err := retry.Do(
		func() error {
			attempt++
			if attempt > 1 && req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					lastErr = fmt.Errorf("httpretry: reset request body: %w", err)
					return retry.Unrecoverable(lastErr)
				}
				req.Body = body
			}

			r, err := rc.client.Do(req)
			if err != nil {
				lastErr = err
				if ctx.Err() != nil || !replayable {
					return retry.Unrecoverable(err)
				}
				return err
			}
			if !Retryable(r.StatusCode) || attempt == rc.attempts ||
				(!replayable && r.StatusCode != http.StatusTooManyRequests) {
				resp = r
				return nil
			}
			_, _ = io.Copy(io.Discard, r.Body)
			r.Body.Close()
			lastErr = fmt.Errorf("httpretry: %s %s returned %d", req.Method, req.URL.Host, r.StatusCode)
			return lastErr
		},
		retry.Attempts(rc.attempts),
		retry.Delay(rc.delay),
		retry.MaxDelay(rc.maxDelay),
		retry.MaxJitter(rc.delay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("retrying http request",
				"attempt", n+1,
				"method", req.Method,
				"host", req.URL.Host,
				"path", req.URL.Path,
				"error", err)
		}),
	)
	if resp != nil {
		return resp, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, err
}

// Retryable reports whether a status code is worth another attempt.
func Retryable(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
