// Package httpclient is the shared outbound HTTP core for provider clients
// (Twilio, the CRM API, Zoho, Telnyx). Requests run through a failsafe-go
// executor combining retry with an optional circuit breaker.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

const defaultUserAgent = "crm-dialer/1.0"

// Observer receives one observation per completed request.
type Observer interface {
	ObserveProviderCall(service, operation string, status int, elapsed time.Duration)
}

type Config struct {
	// Service names the remote system in logs, errors and metrics.
	Service string

	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	CircuitBreaker bool
	ShouldRetry    func(resp *http.Response, err error) bool

	HTTPClient *http.Client
	Logger     *slog.Logger
	Observer   Observer
	UserAgent  string
}

func (c Config) withDefaults() Config {
	out := c
	if out.Service == "" {
		out.Service = "http"
	}
	if out.Timeout <= 0 {
		out.Timeout = 15 * time.Second
	}
	if out.MaxRetries < 0 {
		out.MaxRetries = 0
	}
	if out.BaseDelay <= 0 {
		out.BaseDelay = 200 * time.Millisecond
	}
	if out.MaxDelay <= 0 {
		out.MaxDelay = 5 * time.Second
	}
	if out.MaxDelay < out.BaseDelay {
		out.MaxDelay = out.BaseDelay
	}
	if out.ShouldRetry == nil {
		out.ShouldRetry = DefaultShouldRetry
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	if strings.TrimSpace(out.UserAgent) == "" {
		out.UserAgent = defaultUserAgent
	}
	return out
}

// Client executes requests for one remote service.
type Client struct {
	service   string
	http      *http.Client
	executor  failsafe.Executor[*http.Response]
	logger    *slog.Logger
	observer  Observer
	userAgent string
}

func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		service:   cfg.Service,
		http:      hc,
		executor:  newExecutor(cfg),
		logger:    cfg.Logger,
		observer:  cfg.Observer,
		userAgent: cfg.UserAgent,
	}
}

// DefaultShouldRetry retries network errors, 5xx and 429.
func DefaultShouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	if resp == nil {
		return true
	}
	switch resp.StatusCode {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

//nolint:bodyclose // *http.Response is a type parameter here
func newExecutor(cfg Config) failsafe.Executor[*http.Response] {
	retry := retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(resp *http.Response, err error) bool {
			return cfg.ShouldRetry(resp, err)
		}).
		Build()

	if !cfg.CircuitBreaker {
		return failsafe.With(retry)
	}
	cb := circuitbreaker.NewBuilder[*http.Response]().
		WithFailureThresholdRatio(5, 10).
		WithDelay(15 * time.Second).
		WithSuccessThreshold(1).
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp != nil && resp.StatusCode >= 500
		}).
		Build()
	return failsafe.With(retry, cb)
}

// Request describes one call. Body is replayed on every attempt.
type Request struct {
	Method      string
	URL         string
	Query       url.Values
	Body        []byte
	ContentType string
	Header      http.Header

	// BasicUser/BasicPass set HTTP basic auth when BasicUser is non-empty.
	BasicUser string
	BasicPass string

	// Operation labels the call for metrics and logs.
	Operation string
}

// Do sends r and returns the response body for 2xx answers. Non-2xx answers
// surface as *APIError after retries are exhausted.
func (c *Client) Do(ctx context.Context, r Request) ([]byte, error) {
	target, err := buildURL(r.URL, r.Query)
	if err != nil {
		return nil, fmt.Errorf("%s: build url: %w", c.service, err)
	}
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	op := r.Operation
	if op == "" {
		op = method
	}

	start := time.Now()
	var last *http.Response
	attempt := 0

	//nolint:bodyclose // bodies are buffered and closed inside the attempt
	resp, err := c.executor.WithContext(ctx).Get(func() (*http.Response, error) {
		attempt++
		if attempt > 1 {
			c.logger.Warn("provider retry", "service", c.service, "operation", op, "attempt", attempt)
		}
		var body io.Reader
		if r.Body != nil {
			body = bytes.NewReader(r.Body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, body)
		if err != nil {
			return nil, err
		}
		for k, vs := range r.Header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		req.Header.Set("User-Agent", c.userAgent)
		if r.Body != nil {
			ct := r.ContentType
			if ct == "" {
				ct = "application/json"
			}
			req.Header.Set("Content-Type", ct)
		}
		if r.BasicUser != "" {
			req.SetBasicAuth(r.BasicUser, r.BasicPass)
		}

		res, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		data, readErr := io.ReadAll(res.Body)
		_ = res.Body.Close()
		if readErr != nil {
			return nil, readErr
		}
		res.Body = io.NopCloser(bytes.NewReader(data))
		last = res
		return res, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			c.observe(op, 0, start)
			return nil, ctx.Err()
		}
		if last == nil {
			c.observe(op, 0, start)
			return nil, fmt.Errorf("%s: http error: %w", c.service, err)
		}
		resp = last
	}

	data, _ := io.ReadAll(resp.Body)
	c.observe(op, resp.StatusCode, start)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}
	return nil, &APIError{Service: c.service, StatusCode: resp.StatusCode, Body: string(data)}
}

func (c *Client) observe(op string, status int, start time.Time) {
	if c.observer == nil {
		return
	}
	c.observer.ObserveProviderCall(c.service, op, status, time.Since(start))
}

func buildURL(raw string, query url.Values) (string, error) {
	if _, err := url.Parse(raw); err != nil {
		return "", err
	}
	if len(query) == 0 {
		return raw, nil
	}
	sep := "?"
	if strings.Contains(raw, "?") {
		sep = "&"
	}
	return raw + sep + query.Encode(), nil
}

// FormBody encodes values as application/x-www-form-urlencoded.
func FormBody(v url.Values) ([]byte, string) {
	return []byte(v.Encode()), "application/x-www-form-urlencoded"
}

// APIError is a non-2xx answer from a remote service.
type APIError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 256 {
		body = body[:256]
	}
	if body == "" {
		return fmt.Sprintf("%s: http status %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s: http status %d: %s", e.Service, e.StatusCode, body)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func IsNotFound(err error) bool { return StatusCode(err) == http.StatusNotFound }
