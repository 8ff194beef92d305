package llm

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/felixgeelhaar/fortify/bulkhead"
	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/ratelimit"
	"github.com/felixgeelhaar/fortify/retry"
)

// ResilientProvider wraps an LLM provider with resilience patterns from fortify
type ResilientProvider struct {
	provider       Provider
	circuitBreaker circuitbreaker.CircuitBreaker[*Response]
	retrier        retry.Retry[*Response]
	bulkhead       bulkhead.Bulkhead[*Response]
	rateLimit      ratelimit.RateLimiter
	attemptTimeout time.Duration
	deadline       time.Duration
	logger         *slog.Logger
	name           string
}

// ResilientConfig holds configuration for resilient provider wrapper
type ResilientConfig struct {
	// AttemptTimeout bounds a single provider call (0 disables)
	AttemptTimeout time.Duration

	// Deadline bounds the whole call including retries (0 disables)
	Deadline time.Duration

	// MaxAttempts is the total number of tries; 1 disables retry
	MaxAttempts int

	// InitialDelay and MaxDelay shape the exponential backoff
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// EnableCircuitBreaker enables circuit breaker pattern
	EnableCircuitBreaker bool

	// FailureThreshold is the consecutive failure count that opens the breaker (default: 3)
	FailureThreshold int

	// EnableBulkhead enables concurrency limiting
	EnableBulkhead bool

	// MaxConcurrent for bulkhead (default: 5)
	MaxConcurrent int

	// EnableRateLimit enables rate limiting
	EnableRateLimit bool

	// RatePerSecond for rate limiting (default: 2)
	RatePerSecond int

	// Logger for resilience events
	Logger *slog.Logger
}

// DefaultResilientConfig returns the defaults used for generation calls
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		AttemptTimeout:       90 * time.Second,
		Deadline:             180 * time.Second,
		MaxAttempts:          2,
		InitialDelay:         time.Second,
		MaxDelay:             10 * time.Second,
		EnableCircuitBreaker: true,
		FailureThreshold:     3,
		EnableBulkhead:       true,
		MaxConcurrent:        5,
		RatePerSecond:        2,
	}
}

// NewResilientProvider wraps a provider with resilience patterns using fortify
func NewResilientProvider(provider Provider, cfg ResilientConfig) *ResilientProvider {
	rp := &ResilientProvider{
		provider:       provider,
		attemptTimeout: cfg.AttemptTimeout,
		deadline:       cfg.Deadline,
		logger:         cfg.Logger,
		name:           provider.Name(),
	}

	if cfg.EnableCircuitBreaker {
		threshold := cfg.FailureThreshold
		if threshold <= 0 {
			threshold = 3
		}
		rp.circuitBreaker = circuitbreaker.New[*Response](circuitbreaker.Config{
			MaxRequests: 2,
			Interval:    10 * time.Second,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(threshold)
			},
			OnStateChange: func(from, to circuitbreaker.State) {
				if rp.logger != nil {
					rp.logger.Warn("circuit breaker state change",
						"provider", provider.Name(),
						"from", from.String(),
						"to", to.String())
				}
			},
		})
	}

	if cfg.MaxAttempts > 1 {
		initial := cfg.InitialDelay
		if initial <= 0 {
			initial = time.Second
		}
		maxDelay := cfg.MaxDelay
		if maxDelay < initial {
			maxDelay = initial * 10
		}
		rp.retrier = retry.New[*Response](retry.Config{
			MaxAttempts:   cfg.MaxAttempts,
			InitialDelay:  initial,
			MaxDelay:      maxDelay,
			Multiplier:    2.0,
			BackoffPolicy: retry.BackoffExponential,
			Jitter:        true,
			IsRetryable:   IsRetryable,
		})
	}

	if cfg.EnableBulkhead {
		maxConcurrent := cfg.MaxConcurrent
		if maxConcurrent <= 0 {
			maxConcurrent = 5
		}
		rp.bulkhead = bulkhead.New[*Response](bulkhead.Config{
			MaxConcurrent: maxConcurrent,
			MaxQueue:      maxConcurrent * 2,
			QueueTimeout:  30 * time.Second,
		})
	}

	if cfg.EnableRateLimit {
		rate := cfg.RatePerSecond
		if rate <= 0 {
			rate = 2
		}
		rp.rateLimit = ratelimit.New(&ratelimit.Config{
			Rate:     rate,
			Burst:    rate * 3,
			Interval: time.Second,
		})
	}

	return rp
}

func (p *ResilientProvider) Name() string {
	return p.provider.Name()
}

// Unwrap returns the wrapped provider
func (p *ResilientProvider) Unwrap() Provider {
	return p.provider
}

func (p *ResilientProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	if p.rateLimit != nil {
		if !p.rateLimit.Allow(ctx, p.name) {
			return nil, newAPIError(p.name, http.StatusTooManyRequests, "", "local rate limit exceeded")
		}
	}

	if p.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.deadline)
		defer cancel()
	}

	attempt := 0
	operation := func(ctx context.Context) (*Response, error) {
		attempt++
		if attempt > 1 && p.logger != nil {
			p.logger.Info("retrying provider call", "provider", p.name, "attempt", attempt)
		}
		if p.attemptTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.attemptTimeout)
			defer cancel()
		}
		if p.bulkhead != nil {
			return p.bulkhead.Execute(ctx, func(ctx context.Context) (*Response, error) {
				return p.provider.Generate(ctx, req)
			})
		}
		return p.provider.Generate(ctx, req)
	}

	if p.circuitBreaker != nil && p.retrier != nil {
		return p.circuitBreaker.Execute(ctx, func(ctx context.Context) (*Response, error) {
			return p.retrier.Do(ctx, operation)
		})
	}

	if p.circuitBreaker != nil {
		return p.circuitBreaker.Execute(ctx, operation)
	}

	if p.retrier != nil {
		return p.retrier.Do(ctx, operation)
	}

	return operation(ctx)
}

// Close releases resources held by the resilient provider
func (p *ResilientProvider) Close() error {
	if p.rateLimit != nil {
		return p.rateLimit.Close()
	}
	return nil
}

// IsRetryable reports whether err is a transient provider failure: an API
// answer of 429 or 5xx, or a transport timeout.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}
