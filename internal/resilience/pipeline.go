package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	enginerr "github.com/compoundkb/compoundmcp/internal/errors"
)

// Config configures the resilience pipeline.
type Config struct {
	// Permits is the number of concurrent calls allowed through.
	Permits int

	// QueueDepth is the FIFO wait queue capacity behind the permits.
	QueueDepth int

	// MaxRetries is the number of retry attempts after the initial call.
	MaxRetries int

	// RetryBaseDelay is the first backoff delay; it doubles per retry.
	RetryBaseDelay time.Duration

	// Breaker configures the circuit breaker.
	Breaker BreakerConfig
}

// DefaultConfig returns the default pipeline configuration: 2 permits,
// queue of 10, 3 retries at 1s/2s/4s, default breaker.
func DefaultConfig() Config {
	return Config{
		Permits:        2,
		QueueDepth:     10,
		MaxRetries:     3,
		RetryBaseDelay: time.Second,
		Breaker:        DefaultBreakerConfig(),
	}
}

// Health is a point-in-time snapshot of the pipeline.
type Health struct {
	CircuitState      string     `json:"circuit_state"`
	Available         bool       `json:"available"`
	RetryAfterSeconds float64    `json:"retry_after_seconds,omitempty"`
	LastFailure       string     `json:"last_failure,omitempty"`
	LastFailureAt     *time.Time `json:"last_failure_at,omitempty"`
	InFlight          int        `json:"in_flight"`
	Waiting           int        `json:"waiting"`
}

// Pipeline wraps outgoing host calls: a concurrency limiter, then retry
// with jittered exponential backoff, then the circuit breaker closest to
// the call. An open circuit aborts the retry loop.
type Pipeline struct {
	limiter *Limiter
	breaker *Breaker
	config  Config
}

// NewPipeline builds a pipeline for the named host.
func NewPipeline(name string, cfg Config) *Pipeline {
	if cfg.Permits <= 0 {
		cfg.Permits = 2
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 10
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	return &Pipeline{
		limiter: NewLimiter(cfg.Permits, cfg.QueueDepth),
		breaker: NewBreaker(name, cfg.Breaker),
		config:  cfg,
	}
}

// Breaker exposes the circuit breaker, used to register state-change
// callbacks and by the reconciler to watch for recovery.
func (p *Pipeline) Breaker() *Breaker {
	return p.breaker
}

// Do runs fn through the pipeline. Transient failures are retried per
// the config; circuit-open and queue-full conditions fail fast with
// EMBEDDING_SERVICE_ERROR.
func (p *Pipeline) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue runs a value-returning fn through the pipeline.
func DoValue[T any](ctx context.Context, p *Pipeline, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if err := p.limiter.Acquire(ctx); err != nil {
		if errors.Is(err, ErrQueueFull) {
			return zero, enginerr.New(enginerr.CodeEmbeddingServiceError,
				"rate limited: too many concurrent requests").
				WithDetail("reason", "rate_limited").
				WithSuggestion("reduce concurrent requests or retry shortly")
		}
		return zero, err
	}
	defer p.limiter.Release()

	delay := p.config.RetryBaseDelay
	var lastErr error

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		var result T
		err := p.breaker.Execute(func() error {
			var callErr error
			result, callErr = fn(ctx)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		if errors.Is(err, ErrCircuitOpen) {
			return zero, p.circuitOpenError()
		}
		lastErr = err

		if !enginerr.IsRetryable(err) || attempt >= p.config.MaxRetries {
			break
		}

		// jitter in [0, 0.2*delay)
		wait := delay + time.Duration(rand.Float64()*0.2*float64(delay))
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}
		delay *= 2
	}

	return zero, lastErr
}

// circuitOpenError maps the breaker rejection onto the stable error
// surface, carrying circuit_state and retry_after_seconds.
func (p *Pipeline) circuitOpenError() error {
	retryAfter := math.Ceil(p.breaker.RetryAfter().Seconds())
	return enginerr.New(enginerr.CodeEmbeddingServiceError,
		"service unavailable: circuit breaker is open").
		WithDetail("circuit_state", p.breaker.State().String()).
		WithDetail("retry_after_seconds", retryAfter).
		WithSuggestion("wait for the break to expire or check the embedding host")
}

// Health reports the pipeline state for the health tool.
func (p *Pipeline) Health() Health {
	state := p.breaker.State()
	h := Health{
		CircuitState: state.String(),
		Available:    state != StateOpen,
		InFlight:     p.limiter.InFlight(),
		Waiting:      p.limiter.Waiting(),
	}
	if state == StateOpen {
		h.RetryAfterSeconds = math.Ceil(p.breaker.RetryAfter().Seconds())
	}
	if lastErr, at := p.breaker.LastFailure(); lastErr != nil {
		h.LastFailure = lastErr.Error()
		h.LastFailureAt = &at
	}
	return h
}
