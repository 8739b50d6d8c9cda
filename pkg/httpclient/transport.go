package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OperationFunc labels a request for metrics and logs.
type OperationFunc func(*http.Request) string

// Transport is an http.RoundTripper that runs every request through the
// client's executor and observer. It serves SDKs that build their own
// requests. Non-2xx answers are returned as responses, not errors, once
// retries are exhausted.
type Transport struct {
	client    *Client
	base      http.RoundTripper
	timeout   time.Duration
	operation OperationFunc
}

// HTTPClient returns an *http.Client whose requests go through c's retry
// policy and observer. op may be nil; the method is used as label then.
func (c *Client) HTTPClient(op OperationFunc) *http.Client {
	base := c.http.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{Transport: &Transport{client: c, base: base, timeout: c.http.Timeout, operation: op}}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		b, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, err
		}
		body = b
	}
	op := req.Method
	if t.operation != nil {
		op = t.operation(req)
	}

	c := t.client
	ctx := req.Context()
	start := time.Now()
	var last *http.Response
	attempt := 0

	//nolint:bodyclose // bodies are buffered and closed inside the attempt
	resp, err := c.executor.WithContext(ctx).Get(func() (*http.Response, error) {
		attempt++
		if attempt > 1 {
			c.logger.Warn("provider retry", "service", c.service, "operation", op, "attempt", attempt)
		}
		actx := ctx
		if t.timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, t.timeout)
			defer cancel()
		}
		r := req.Clone(actx)
		if body != nil {
			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))
			r.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }
		}
		if r.Header.Get("User-Agent") == "" {
			r.Header.Set("User-Agent", c.userAgent)
		}

		res, err := t.base.RoundTrip(r)
		if err != nil {
			return nil, err
		}
		data, readErr := io.ReadAll(res.Body)
		_ = res.Body.Close()
		if readErr != nil {
			return nil, readErr
		}
		res.Body = io.NopCloser(bytes.NewReader(data))
		res.ContentLength = int64(len(data))
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
	c.observe(op, resp.StatusCode, start)
	return resp, nil
}
