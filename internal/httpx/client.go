package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"time"

	clierr "github.com/ggonzalez94/ethpilot/internal/errors"
	"github.com/ggonzalez94/ethpilot/internal/version"
	"golang.org/x/time/rate"
)

const (
	DefaultAttemptTimeout = 5 * time.Second
	DefaultRetries        = 3
)

// Policy bounds a single logical call: each attempt gets AttemptTimeout and
// transient failures are retried up to Retries more times.
type Policy struct {
	Retries        int
	AttemptTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{Retries: DefaultRetries, AttemptTimeout: DefaultAttemptTimeout}
}

type Client struct {
	httpClient *http.Client
	policy     Policy
	userAgent  string
	limiter    *rate.Limiter
}

func New(timeout time.Duration, retries int) *Client {
	if retries < 0 {
		retries = 0
	}
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	return &Client{
		httpClient: &http.Client{},
		policy:     Policy{Retries: retries, AttemptTimeout: timeout},
		userAgent:  version.UserAgent(),
	}
}

// WithRateLimit returns a copy of the client sharing the transport but
// throttled to rps requests per second.
func (c *Client) WithRateLimit(rps float64, burst int) *Client {
	clone := *c
	if rps <= 0 {
		clone.limiter = nil
		return &clone
	}
	if burst <= 0 {
		burst = 1
	}
	clone.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	return &clone
}

func (c *Client) Policy() Policy { return c.policy }

func (c *Client) DoJSON(ctx context.Context, req *http.Request, out any) (http.Header, error) {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var header http.Header
	err := Retry(ctx, c.policy, func(attemptCtx context.Context) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(attemptCtx); err != nil {
				return clierr.Wrap(clierr.CodeUnavailable, "rate limiter wait", err)
			}
		}
		h, err := c.doOnce(attemptCtx, req, out)
		header = h
		return err
	})
	return header, err
}

func (c *Client) doOnce(ctx context.Context, req *http.Request, out any) (http.Header, error) {
	cloneReq := req.Clone(ctx)
	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeInternal, "clone request body", err)
		}
		cloneReq.Body = body
	}
	if cloneReq.Header.Get("User-Agent") == "" {
		cloneReq.Header.Set("User-Agent", version.UserAgent())
	}

	resp, err := c.httpClient.Do(cloneReq)
	if err != nil {
		return nil, mapNetError(err)
	}
	buf, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp.Header, mapNetError(readErr)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return resp.Header, clierr.New(clierr.CodeRateLimited, "provider rate limited request")
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return resp.Header, clierr.New(clierr.CodeAuth, "provider authentication failed")
	case resp.StatusCode == http.StatusNotFound:
		return resp.Header, clierr.New(clierr.CodeNotFound, "provider has no record for request")
	case resp.StatusCode >= http.StatusInternalServerError:
		return resp.Header, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("provider unavailable (status %d)", resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return resp.Header, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("provider returned unexpected status %d", resp.StatusCode))
	}

	if out == nil {
		return resp.Header, nil
	}
	if len(bytes.TrimSpace(buf)) == 0 {
		return resp.Header, clierr.New(clierr.CodeUnavailable, "provider returned empty response")
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return resp.Header, clierr.Wrap(clierr.CodeUnavailable, "decode provider JSON", err)
	}
	return resp.Header, nil
}

func DoBodyJSON(ctx context.Context, c *Client, method, url string, body []byte, headers map[string]string, out any) (http.Header, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.DoJSON(ctx, req, out)
}

// Retry runs fn under p. Each attempt gets its own deadline; only transient
// errors are retried. Untyped deadline errors are reported as timeouts.
func Retry(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.Retries < 0 {
		p.Retries = 0
	}
	var lastErr error
	for attempt := 0; attempt <= p.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return clierr.Wrap(clierr.CodeUnavailable, "request cancelled", ctx.Err())
			case <-time.After(backoff(attempt)):
			}
		}

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		if _, typed := clierr.As(err); !typed && errors.Is(err, context.DeadlineExceeded) {
			err = clierr.Wrap(clierr.CodeUnavailable, "provider timeout", err)
		}
		lastErr = err
		if !clierr.IsTransient(err) || ctx.Err() != nil {
			return err
		}
	}
	if lastErr != nil {
		return lastErr
	}
	return clierr.New(clierr.CodeUnavailable, "request failed")
}

func mapNetError(err error) error {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return clierr.Wrap(clierr.CodeUnavailable, "provider timeout", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return clierr.Wrap(clierr.CodeUnavailable, "provider timeout", err)
	}
	return clierr.Wrap(clierr.CodeUnavailable, "provider request failed", err)
}

func backoff(attempt int) time.Duration {
	base := 200 * time.Millisecond
	d := base * time.Duration(1<<uint(attempt-1))
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	jitter := time.Duration(rand.Intn(75)) * time.Millisecond
	return d + jitter
}
