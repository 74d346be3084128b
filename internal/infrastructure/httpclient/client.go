// Package httpclient builds the resty client shared by the remote drive
// backend and the session API client: retries, rate limiting and a circuit
// breaker in front of every call.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/GriffinCanCode/StorySpark/internal/infrastructure/resilience"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

// UserAgent is sent with every request
const UserAgent = "StorySpark/1.0"

// Options configures a client
type Options struct {
	// Name labels the circuit breaker
	Name    string
	BaseURL string
	Timeout time.Duration
	Retry   RetryConfig
	// RateLimit is requests per second; zero means unlimited
	RateLimit float64
	// Trips is the consecutive failure count that opens the breaker
	Trips uint32
	// BreakerTimeout is how long the breaker stays open
	BreakerTimeout time.Duration
	// Ignore marks errors that do not count as failures for the breaker
	Ignore func(err error) bool
	// OnStateChange observes breaker transitions
	OnStateChange func(name string, from, to resilience.State)
}

// RetryConfig defines retry behavior
type RetryConfig struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultOptions returns production defaults
func DefaultOptions(name string) Options {
	return Options{
		Name:    name,
		Timeout: 30 * time.Second,
		Retry: RetryConfig{
			MaxRetries: 3,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		Trips:          5,
		BreakerTimeout: 30 * time.Second,
	}
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.Code)
}

// IsStatus reports whether err is a StatusError with the given code
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// Client wraps resty with rate limiting and a circuit breaker
type Client struct {
	Resty   *resty.Client
	Limiter *rate.Limiter
	Breaker *resilience.Breaker
	mu      sync.RWMutex
}

// New creates a client from opts
func New(opts Options) *Client {
	if opts.Name == "" {
		opts.Name = "http"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Trips == 0 {
		opts.Trips = 5
	}

	// Pooled transport from retryablehttp; resty owns the retry loop
	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil

	restyClient := resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.Retry.MaxRetries).
		SetRetryWaitTime(opts.Retry.MinWait).
		SetRetryMaxWaitTime(opts.Retry.MaxWait).
		SetHeader("User-Agent", UserAgent).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})
	restyClient.SetTransport(retryClient.HTTPClient.Transport)
	if opts.BaseURL != "" {
		restyClient.SetBaseURL(opts.BaseURL)
	}

	ignore := opts.Ignore
	trips := opts.Trips
	breaker := resilience.New(opts.Name, resilience.Settings{
		Trials:   1,
		Window:   60 * time.Second,
		Cooldown: opts.BreakerTimeout,
		ShouldTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= trips
		},
		Healthy: func(err error) bool {
			if err == nil {
				return true
			}
			// Client errors mean the service answered
			var se *StatusError
			if errors.As(err, &se) && se.Code < http.StatusInternalServerError {
				return true
			}
			return ignore != nil && ignore(err)
		},
		OnStateChange: opts.OnStateChange,
	})

	c := &Client{Resty: restyClient, Breaker: breaker}
	c.SetRateLimit(opts.RateLimit)
	return c
}

// SetBasicAuth configures basic authentication
func (c *Client) SetBasicAuth(username, password string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Resty.SetBasicAuth(username, password)
}

// SetRateLimit configures rate limiting (requests per second)
func (c *Client) SetRateLimit(rps float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rps <= 0 {
		c.Limiter = rate.NewLimiter(rate.Inf, 0)
		return
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	c.Limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// Request creates a new request after the rate limiter admits it
func (c *Client) Request(ctx context.Context) (*resty.Request, error) {
	if c.Breaker.State() == resilience.StateOpen {
		return nil, resilience.ErrCircuitOpen
	}

	c.mu.RLock()
	limiter := c.Limiter
	c.mu.RUnlock()
	if err := limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Resty.R().SetContext(ctx), nil
}

// Do builds a request, runs send through the breaker and converts non-2xx
// responses into *StatusError
func (c *Client) Do(ctx context.Context, send func(*resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	req, err := c.Request(ctx)
	if err != nil {
		return nil, err
	}
	return resilience.Do(c.Breaker, func() (*resty.Response, error) {
		resp, err := send(req)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return resp, &StatusError{
				Method: resp.Request.Method,
				URL:    resp.Request.URL,
				Code:   resp.StatusCode(),
				Body:   resp.Body(),
			}
		}
		return resp, nil
	})
}

// BreakerState returns the current circuit breaker state
func (c *Client) BreakerState() resilience.State {
	return c.Breaker.State()
}
