// Package httpclient is the outbound HTTP client for calls to other
// storefront services: bounded retries behind a circuit breaker that only
// counts outages, never the callee's verdict on a request.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	apperrors "github.com/rakrong1/ladicare-sub000/pkg/errors"
)

// Options configures a Client. Name labels the breaker in logs and metrics
// and prefixes error messages.
type Options struct {
	Name       string
	Timeout    time.Duration
	Retries    int
	Backoff    time.Duration
	MaxBackoff time.Duration
	Breaker    BreakerOptions
}

// BreakerOptions configures the circuit breaker. The breaker trips once at
// least MinRequests calls in the current Interval failed at FailureRatio or
// more, stays open for OpenFor and then lets HalfOpenRequests through.
type BreakerOptions struct {
	HalfOpenRequests uint32
	Interval         time.Duration
	OpenFor          time.Duration
	FailureRatio     float64
	MinRequests      uint32
}

// Client sends requests to one downstream service.
type Client struct {
	name       string
	http       *http.Client
	retries    int
	backoff    time.Duration
	maxBackoff time.Duration
	breaker    *gobreaker.CircuitBreaker[*http.Response]
}

// New builds a Client with its own connection pool and breaker.
func New(opts Options, logger *slog.Logger) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 32
	transport.DialContext = (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext

	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = 50 * time.Millisecond
	}
	maxBackoff := max(opts.MaxBackoff, backoff)

	return &Client{
		name:       opts.Name,
		http:       &http.Client{Transport: transport, Timeout: opts.Timeout},
		retries:    max(opts.Retries, 0),
		backoff:    backoff,
		maxBackoff: maxBackoff,
		breaker:    newBreaker(opts.Name, opts.Breaker, logger),
	}
}

// Do sends req. Transport failures, 5xx answers and an open breaker all come
// back as a ServiceUnavailable AppError. Any other response, 4xx included,
// is returned for the caller to read and close.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		return c.send(ctx, req)
	})
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		breakerRejections.WithLabelValues(c.name).Inc()
		return nil, apperrors.ServiceUnavailable(c.name + " is temporarily unavailable").WithCause(err)
	}
	return nil, apperrors.ServiceUnavailable(c.name + " is unavailable").WithCause(err)
}

// State reports the breaker state.
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

// send performs req with up to c.retries extra attempts on network errors
// and retryable 5xx answers, doubling the wait each time.
func (c *Client) send(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	wait := c.backoff

	for attempt := 0; ; attempt++ {
		resp, err := c.http.Do(req)
		if err == nil && resp.StatusCode < http.StatusInternalServerError {
			return resp, nil
		}

		var netErr net.Error
		retry := attempt < c.retries && ctx.Err() == nil &&
			(err == nil && resp.StatusCode != http.StatusNotImplemented || errors.As(err, &netErr))
		if !retry {
			if err != nil {
				return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
			}
			return nil, serverError(resp)
		}
		if resp != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		wait = min(wait*2, c.maxBackoff)
	}
}

func serverError(resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s %s: status %d: %s", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, body)
}
