package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/operon-dev/operon/internal/logging"
	"github.com/operon-dev/operon/pkg/schema"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultMaxRetries           = 3
	DefaultRetryDelay           = 1 * time.Second
	DefaultRetryDelayMultiplier = 2.0
	DefaultMaxRetryDelay        = 30 * time.Second
	DefaultTimeout              = 30 * time.Second

	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
)

// Doer abstracts the HTTP transport. Satisfied by *http.Client and test doubles.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds client-wide settings. Per-call RequestOptions override
// Retries and Timeout.
type Config struct {
	BaseURL              string
	MaxRetries           int
	RetryDelay           time.Duration
	RetryDelayMultiplier float64
	MaxRetryDelay        time.Duration
	Timeout              time.Duration
	MaxResponseBody      int64
}

// RequestOptions carries per-call parameters for Request.
type RequestOptions struct {
	Method  string
	Headers map[string]string
	Body    any

	// Retries and Timeout override the client-wide configuration when set.
	Retries *int
	Timeout time.Duration

	// Extract is an optional jq selector applied to the parsed response body
	// after the data-field unwrap.
	Extract string

	// RequestID is the cancellation identity for this logical call. Generated
	// when empty. All attempts of one call share the same identity.
	RequestID string
}

// Client executes logical calls with per-call timeouts, exponential backoff
// retries, and explicit cancellation.
type Client struct {
	cfg       Config
	policy    Policy
	http      Doer
	registry  *CancelRegistry
	extractor *Extractor
	logger    *slog.Logger
	seq       atomic.Uint64
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying transport.
func WithHTTPClient(d Doer) Option {
	return func(c *Client) { c.http = d }
}

// WithLogger replaces the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client, filling unset Config fields with defaults.
func New(cfg Config, opts ...Option) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.RetryDelayMultiplier <= 0 {
		cfg.RetryDelayMultiplier = DefaultRetryDelayMultiplier
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = DefaultMaxRetryDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}

	c := &Client{
		cfg: cfg,
		policy: Policy{
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
			Multiplier: cfg.RetryDelayMultiplier,
			MaxDelay:   cfg.MaxRetryDelay,
		},
		http:      &http.Client{},
		registry:  NewCancelRegistry(),
		extractor: NewExtractor(),
		logger:    slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request executes one logical call against endpoint. Attempts are strictly
// sequential: each failed attempt waits the full backoff delay before the
// next one starts. On success it returns the `data` field of the parsed
// response body, or the whole body if no data field is present. On failure it
// returns the last observed typed error; callers never see intermediate
// retry failures.
func (c *Client) Request(ctx context.Context, endpoint string, opts RequestOptions) (any, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	retries := c.cfg.MaxRetries
	if opts.Retries != nil && *opts.Retries >= 0 {
		retries = *opts.Retries
	}
	timeout := c.cfg.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	requestID := opts.RequestID
	if requestID == "" {
		requestID = fmt.Sprintf("%s#%d", endpoint, c.seq.Add(1))
	}
	ctx = logging.WithRequestID(ctx, requestID)

	fullURL := c.cfg.BaseURL + endpoint
	delay := c.cfg.RetryDelay

	var lastErr *schema.Error
	for attempt := 0; attempt <= retries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		c.registry.Register(requestID, cancel)

		result, reqErr := c.doAttempt(attemptCtx, method, fullURL, opts)

		c.registry.Remove(requestID)
		aborted := attemptCtx.Err() == context.Canceled
		cancel()

		if reqErr == nil {
			return c.extractor.Apply(ctx, opts.Extract, result)
		}

		// Explicit cancellation (CancelRequest or a cancelled parent context)
		// is terminal: no further attempts.
		if aborted {
			return nil, schema.NewTimeoutError("request cancelled: " + endpoint).WithCause(context.Canceled)
		}

		lastErr = reqErr
		if !ShouldRetry(attempt, retries, reqErr) {
			return nil, lastErr
		}

		c.logger.WarnContext(ctx, "request failed, retrying",
			slog.String("endpoint", endpoint),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("error", reqErr.Message),
		)

		if err := waitBackoff(ctx, delay); err != nil {
			return nil, schema.NewTimeoutError("request cancelled: " + endpoint).WithCause(err)
		}
		delay = c.policy.NextDelay(delay)
	}

	return nil, lastErr
}

// Get issues a GET request. Method-fixing sugar over Request.
func (c *Client) Get(ctx context.Context, endpoint string, opts RequestOptions) (any, error) {
	opts.Method = http.MethodGet
	return c.Request(ctx, endpoint, opts)
}

// Post issues a POST request.
func (c *Client) Post(ctx context.Context, endpoint string, opts RequestOptions) (any, error) {
	opts.Method = http.MethodPost
	return c.Request(ctx, endpoint, opts)
}

// Put issues a PUT request.
func (c *Client) Put(ctx context.Context, endpoint string, opts RequestOptions) (any, error) {
	opts.Method = http.MethodPut
	return c.Request(ctx, endpoint, opts)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, endpoint string, opts RequestOptions) (any, error) {
	opts.Method = http.MethodDelete
	return c.Request(ctx, endpoint, opts)
}

// Patch issues a PATCH request.
func (c *Client) Patch(ctx context.Context, endpoint string, opts RequestOptions) (any, error) {
	opts.Method = http.MethodPatch
	return c.Request(ctx, endpoint, opts)
}

// CancelRequest aborts the in-flight call registered under id.
// Cancelling a request that has already completed is a no-op.
func (c *Client) CancelRequest(id string) {
	c.registry.Cancel(id)
}

// CancelAllRequests aborts every in-flight call.
func (c *Client) CancelAllRequests() {
	c.registry.CancelAll()
}

// doAttempt issues a single attempt and classifies the outcome.
// Success: (parsed body after data-field unwrap, nil).
// Failure: (nil, typed error) — TIMEOUT_ERROR for deadline/abort, NETWORK_ERROR
// for transport failure, HTTP_ERROR for a non-success response.
func (c *Client) doAttempt(ctx context.Context, method, url string, opts RequestOptions) (any, *schema.Error) {
	bodyReader, contentType, err := encodeBody(opts.Body)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "encode request body: %s", err.Error()).WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "build request: %s", err.Error()).WithCause(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		switch ctx.Err() {
		case context.DeadlineExceeded:
			return nil, schema.NewTimeoutError("request timed out").WithCause(err)
		case context.Canceled:
			return nil, schema.NewTimeoutError("request aborted").WithCause(err)
		default:
			return nil, schema.NewNetworkError(err.Error()).WithCause(err)
		}
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, c.cfg.MaxResponseBody)
	bodyBytes, err := io.ReadAll(limited)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, schema.NewTimeoutError("request timed out reading response").WithCause(err)
		}
		return nil, schema.NewNetworkError("read response body: " + err.Error()).WithCause(err)
	}

	parsed := parseBody(resp.Header.Get("Content-Type"), bodyBytes)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if m, ok := parsed.(map[string]any); ok {
			if data, ok := m["data"]; ok {
				return data, nil
			}
		}
		return parsed, nil
	}

	return nil, httpError(resp, parsed)
}

// encodeBody turns the request body into a reader plus content type.
// Raw types ([]byte, string, io.Reader) pass through untouched; everything
// else is JSON-encoded.
func encodeBody(body any) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case io.Reader:
		return b, "", nil
	case []byte:
		return bytes.NewReader(b), "", nil
	case string:
		return strings.NewReader(b), "", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

// parseBody decodes the response body by declared content type:
// JSON content types get a structured parse, everything else is raw text.
func parseBody(contentType string, body []byte) any {
	if len(body) == 0 {
		return nil
	}
	if strings.Contains(contentType, "application/json") {
		var parsed any
		if err := json.Unmarshal(body, &parsed); err == nil {
			return parsed
		}
	}
	return string(body)
}

// httpError builds the typed error for a non-success response, preferring
// body-provided message/code/details over the transport status text.
func httpError(resp *http.Response, parsed any) *schema.Error {
	message := http.StatusText(resp.StatusCode)
	if message == "" {
		message = resp.Status
	}

	e := schema.NewHTTPError(resp.StatusCode, message)
	m, ok := parsed.(map[string]any)
	if !ok {
		return e
	}

	if msg, ok := m["message"].(string); ok && msg != "" {
		e.Message = msg
	} else if msg, ok := m["error"].(string); ok && msg != "" {
		e.Message = msg
	}
	if code, ok := m["code"].(string); ok && code != "" {
		e.Code = code
	}
	if details, ok := m["details"].(map[string]any); ok {
		e.Details = details
	}
	return e
}
