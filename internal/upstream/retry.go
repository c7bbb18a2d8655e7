package upstream

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/githubfinder/ghproxy/internal/metrics"
)

// RetryTransport is an http.RoundTripper decorator that retries idempotent
// requests on network errors and on 5xx responses. It knows nothing
// about routes: callers see either the final response or the final error.
type RetryTransport struct {
	// Base performs the actual round trips. nil means http.DefaultTransport.
	Base http.RoundTripper

	// MaxRetries is the number of attempts after the first. 0 disables
	// retrying.
	MaxRetries int

	// NewBackOff returns a fresh backoff policy per request. nil means
	// ExponentialBackOff(100ms).
	NewBackOff func() backoff.BackOff

	Logger *slog.Logger
}

// ExponentialBackOff returns a policy factory whose delays start at initial
// and double on every retry, with 20% jitter.
func ExponentialBackOff(initial time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = initial
		b.Multiplier = 2
		b.RandomizationFactor = 0.2
		b.MaxInterval = 5 * time.Second
		// The attempt count and the request context bound the total time.
		b.MaxElapsedTime = 0
		b.Reset()
		return b
	}
}

// retryableStatusError marks a response that should be retried.
type retryableStatusError struct {
	code int
}

func (e *retryableStatusError) Error() string {
	return fmt.Sprintf("upstream responded %d", e.code)
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	if t.MaxRetries <= 0 || !isIdempotent(req.Method) {
		resp, err := base.RoundTrip(req)
		recordAttempt(resp, err)
		return resp, err
	}

	newBackOff := t.NewBackOff
	if newBackOff == nil {
		newBackOff = ExponentialBackOff(100 * time.Millisecond)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), uint64(t.MaxRetries)), req.Context())

	var (
		resp    *http.Response
		attempt int
	)
	operation := func() error {
		attempt++

		r := req
		if attempt > 1 && req.Body != nil && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return backoff.Permanent(fmt.Errorf("rewinding request body: %w", err))
			}
			r = req.Clone(req.Context())
			r.Body = body
		}

		res, err := base.RoundTrip(r)
		recordAttempt(res, err)
		if err != nil {
			if req.Context().Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}

		if isRetryableStatus(res.StatusCode) && attempt <= t.MaxRetries {
			drain(res.Body)
			return &retryableStatusError{code: res.StatusCode}
		}

		resp = res
		return nil
	}

	notify := func(err error, wait time.Duration) {
		metrics.UpstreamRetries.Inc()
		if t.Logger != nil {
			t.Logger.WarnContext(req.Context(), "retrying upstream request",
				"url", req.URL.Redacted(),
				"attempt", attempt,
				"error", err,
				"backoff", wait,
			)
		}
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, err
	}
	return resp, nil
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// isRetryableStatus reports whether code is worth another attempt. 429 is
// not: GitHub counts retried requests against the shared quota.
func isRetryableStatus(code int) bool {
	return code >= http.StatusInternalServerError
}

func recordAttempt(resp *http.Response, err error) {
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues("error").Inc()
		return
	}
	metrics.UpstreamRequests.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
}

// drain discards a bounded amount of the body so the connection can be
// reused, then closes it.
func drain(body io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(body, 64<<10)) //nolint:errcheck
	body.Close()
}
