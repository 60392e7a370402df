package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// StatusError reports a 5xx response that survived every retry.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("resilience: upstream responded %s", e.Status)
}

// HTTPClient retries 5xx responses and transport errors with exponential
// backoff. Calls to each host pass through that host's breaker.
type HTTPClient struct {
	Client      *http.Client
	Breakers    *BreakerGroup
	MaxAttempts int
	BaseBackoff time.Duration
	Jitter      float64
	// Timeout bounds each attempt. Zero falls back to Client.Timeout.
	Timeout time.Duration
}

// NewHTTPClient returns a single-attempt client whose transport emits client spans.
func NewHTTPClient(timeout time.Duration, breakers *BreakerGroup) HTTPClient {
	return HTTPClient{
		Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		Breakers:    breakers,
		MaxAttempts: 1,
		BaseBackoff: 100 * time.Millisecond,
		Timeout:     timeout,
	}
}

// Do sends req until it gets a non-5xx response or runs out of attempts.
// The caller owns the returned body. ErrOpenCircuit is returned as soon as
// the host breaker refuses a call.
func (c HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if c.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	getBody, err := replayable(req)
	if err != nil {
		return nil, err
	}
	var breaker *Breaker
	if c.Breakers != nil {
		breaker = c.Breakers.For(req.URL.Host)
	}
	attempts := max(c.MaxAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, Backoff(c.BaseBackoff, attempt-1, c.Jitter)); err != nil {
				return nil, err
			}
		}
		if breaker != nil {
			if err := breaker.Allow(ctx); err != nil {
				return nil, err
			}
		}
		resp, err := c.once(ctx, req, getBody)
		ok := err == nil && resp.StatusCode < 500
		if breaker != nil {
			breaker.Report(ctx, ok)
		}
		if ok {
			return resp, nil
		}
		if err != nil {
			lastErr = err
			continue
		}
		lastErr = &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}
	return nil, lastErr
}

func (c HTTPClient) once(ctx context.Context, req *http.Request, getBody func() (io.ReadCloser, error)) (*http.Response, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = c.Client.Timeout
	}
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}
	attempt := req.Clone(ctx)
	if getBody != nil {
		body, err := getBody()
		if err != nil {
			cancel()
			return nil, err
		}
		attempt.Body, attempt.GetBody = body, getBody
	}
	resp, err := c.Client.Do(attempt)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// replayable returns a body factory for req, buffering the body when the
// request cannot rebuild it itself.
func replayable(req *http.Request) (func() (io.ReadCloser, error), error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	if req.GetBody != nil {
		return req.GetBody, nil
	}
	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, err
	}
	return func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil }, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
