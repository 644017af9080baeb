// Package external is the anti-corruption layer between the delivery pipeline
// and third-party services: the email transport and the identity provider.
// Outbound HTTP goes through BaseClient, which applies circuit breaking,
// retries with exponential backoff, trace propagation, and error mapping.
package external

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"bulletin/internal/resilience"
	"bulletin/internal/types"
)

// errRetryableStatus marks 429/5xx responses as failures for the breaker.
var errRetryableStatus = errors.New("upstream returned retryable status")

// BaseClient wraps an *http.Client and a circuit breaker to enforce
// consistent resilience patterns on outbound HTTP calls.
type BaseClient struct {
	client    *http.Client
	breaker   *resilience.Breaker[*http.Response]
	policy    resilience.RetryPolicy
	maxWait   time.Duration
	userAgent string
	upstream  types.ErrorCode
	sleepFn   resilience.SleepFunc
}

// BaseClientOption is a functional option for configuring a BaseClient.
type BaseClientOption func(*BaseClient)

// WithSleepFunc overrides the sleep function used between retries.
// This is intended for testing to avoid real delays.
func WithSleepFunc(fn resilience.SleepFunc) BaseClientOption {
	return func(c *BaseClient) {
		c.sleepFn = fn
	}
}

// WithBreaker shares a caller-provided breaker.
func WithBreaker(b *resilience.Breaker[*http.Response]) BaseClientOption {
	return func(c *BaseClient) {
		c.breaker = b
	}
}

// WithUpstreamCode sets the error code reported when the upstream keeps
// failing after retries.
func WithUpstreamCode(code types.ErrorCode) BaseClientOption {
	return func(c *BaseClient) {
		c.upstream = code
	}
}

// NewBaseClient creates a BaseClient. policy.MaxRetries is the total number
// of attempts; waits grow from policy.BaseDelay and never exceed
// policy.MaxDelay (10s when unset).
func NewBaseClient(httpClient *http.Client, name string, policy resilience.RetryPolicy, userAgent string, opts ...BaseClientOption) *BaseClient {
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 10 * time.Second
	}
	bc := &BaseClient{
		client:    httpClient,
		policy:    policy,
		maxWait:   policy.MaxDelay,
		userAgent: userAgent,
		upstream:  types.ErrCodeUpstreamUnavailable,
		sleepFn:   resilience.Sleep,
	}
	for _, opt := range opts {
		opt(bc)
	}
	if bc.breaker == nil {
		bc.breaker = resilience.NewBreaker[*http.Response](resilience.DefaultBreakerSettings(name))
	}
	return bc
}

// Breaker exposes the client's breaker for health reporting.
func (c *BaseClient) Breaker() *resilience.Breaker[*http.Response] { return c.breaker }

// Do executes the request with request ID propagation, the breaker, retries
// on 429/5xx (honouring Retry-After), and AppError mapping.
//
// Any other response (2xx-4xx except 429) is returned as-is and the caller
// closes the body.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if id := types.GetRequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	// Snapshot the body so it can be replayed on retries.
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to read request body for retry support", err)
		}
		req.Body.Close()
	}

	attempts := max(c.policy.MaxRetries, 1)
	var (
		lastResp *http.Response
		lastErr  error
	)
	for attempt := 0; attempt < attempts; attempt++ {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			req.ContentLength = int64(len(bodyBytes))
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, doErr := c.client.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				return r, fmt.Errorf("%w: %d", errRetryableStatus, r.StatusCode)
			}
			return r, nil
		})
		if err == nil {
			return resp, nil
		}

		if resilience.IsOpen(err) {
			return nil, err
		}

		lastErr = err
		if lastResp != nil {
			lastResp.Body.Close()
		}
		lastResp = resp

		if ctx.Err() != nil {
			break
		}
		if attempt < attempts-1 {
			if sleepErr := c.sleepFn(ctx, c.computeBackoff(attempt, resp)); sleepErr != nil {
				lastErr = errors.Join(lastErr, sleepErr)
				break
			}
		}
	}

	if lastResp != nil {
		lastResp.Body.Close()
	}
	return nil, c.mapError(lastResp, lastErr)
}

// computeBackoff prefers the Retry-After header and falls back to the retry
// policy's exponential delay, clamped to maxWait.
func (c *BaseClient) computeBackoff(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
				return min(time.Duration(seconds)*time.Second, c.maxWait)
			}
			if t, err := http.ParseTime(retryAfter); err == nil {
				wait := time.Until(t)
				if wait <= 0 {
					return c.policy.BaseDelay
				}
				return min(wait, c.maxWait)
			}
		}
	}
	return c.policy.Backoff(attempt)
}

// mapError translates HTTP-level failures into AppErrors.
func (c *BaseClient) mapError(resp *http.Response, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return types.NewAppError(c.upstream, "upstream request cancelled", err)
	}
	if resp != nil {
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return types.NewAppError(types.ErrCodeUpstreamRateLimited, "upstream rate limit exceeded", err)
		case resp.StatusCode >= 500:
			return types.NewAppError(c.upstream, fmt.Sprintf("upstream returned %d after retries", resp.StatusCode), err)
		}
	}
	return types.NewAppError(c.upstream, "upstream request failed", err)
}
