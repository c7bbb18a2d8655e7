// Package upstream is the outbound side of the proxy: a single HTTP client
// bound to the upstream API base URL, with transport-wide retries and
// optional per-request credential injection.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/githubfinder/ghproxy/internal/config"
	"github.com/githubfinder/ghproxy/internal/metrics"
)

var (
	// ErrInvalidJSON is returned when a 2xx body is not valid JSON.
	ErrInvalidJSON = errors.New("upstream returned invalid JSON")

	// ErrResponseTooLarge is returned when a body exceeds the configured
	// maximum.
	ErrResponseTooLarge = errors.New("upstream response too large")
)

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	StatusCode int
	// Body holds the start of the upstream body, for logging.
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream responded %d: %s", e.StatusCode, e.Body)
}

// Response is a successful upstream reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client issues GET requests against the upstream API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	maxBytes   int64
	logger     *slog.Logger
}

// New builds a Client from cfg. The transport is http.DefaultTransport
// wrapped in a RetryTransport; cfg.Timeout bounds each call including its
// retries.
func New(cfg config.UpstreamConfig, logger *slog.Logger) (*Client, error) {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return nil, fmt.Errorf("unexpected default transport %T", http.DefaultTransport)
	}
	transport := &RetryTransport{
		Base:       base.Clone(),
		MaxRetries: cfg.RetryCount(),
		NewBackOff: ExponentialBackOff(cfg.RetryBaseDelay),
		Logger:     logger,
	}
	return NewWithTransport(cfg, transport, logger)
}

// NewWithTransport builds a Client that sends through rt.
func NewWithTransport(cfg config.UpstreamConfig, rt http.RoundTripper, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream base URL %q: %w", cfg.BaseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid upstream base URL %q: scheme and host are required", cfg.BaseURL)
	}

	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}

	return &Client{
		baseURL:    u.Scheme + "://" + u.Host + strings.TrimRight(u.EscapedPath(), "/"),
		httpClient: &http.Client{Transport: rt, Timeout: cfg.Timeout},
		userAgent:  cfg.UserAgent,
		maxBytes:   maxBytes,
		logger:     logger,
	}, nil
}

// BaseURL returns the upstream base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get issues GET <base><path>?<rawQuery>. path must already be escaped.
// Any transport failure, non-2xx status, oversized body or non-JSON body is
// an error; on success the body is returned byte-for-byte.
func (c *Client) Get(ctx context.Context, path, rawQuery string) (*Response, error) {
	target := c.baseURL + path
	if rawQuery != "" {
		target += "?" + rawQuery
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		metrics.UpstreamFailures.WithLabelValues("request").Inc()
		return nil, fmt.Errorf("building upstream request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if token, ok := TokenFromContext(ctx); ok {
		req.Header.Set("Authorization", "token "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.UpstreamFailures.WithLabelValues("transport").Inc()
		return nil, fmt.Errorf("calling upstream: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		metrics.UpstreamFailures.WithLabelValues("transport").Inc()
		return nil, fmt.Errorf("reading upstream body: %w", err)
	}
	if int64(len(body)) > c.maxBytes {
		metrics.UpstreamFailures.WithLabelValues("too_large").Inc()
		return nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, c.maxBytes)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.UpstreamFailures.WithLabelValues("status").Inc()
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: snippet(body, 512)}
	}

	if !json.Valid(body) {
		metrics.UpstreamFailures.WithLabelValues("invalid_json").Inc()
		return nil, fmt.Errorf("%w: %s", ErrInvalidJSON, snippet(body, 128))
	}

	c.logger.DebugContext(ctx, "upstream call",
		"url", req.URL.Redacted(),
		"status", resp.StatusCode,
		"bytes", len(body),
	)

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func snippet(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "...[truncated]"
}
