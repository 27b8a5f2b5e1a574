package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	enginerr "github.com/compoundkb/compoundmcp/internal/errors"
)

func testPipelineConfig() Config {
	return Config{
		Permits:        2,
		QueueDepth:     10,
		MaxRetries:     3,
		RetryBaseDelay: time.Millisecond,
		Breaker: BreakerConfig{
			SamplingDuration: 30 * time.Second,
			MinThroughput:    5,
			FailureRatio:     0.5,
			BreakDuration:    50 * time.Millisecond,
		},
	}
}

func TestPipeline_RetriesTransientFailures(t *testing.T) {
	p := NewPipeline("embedding", testPipelineConfig())

	attempts := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return enginerr.New(enginerr.CodeEmbeddingServiceError, "503")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestPipeline_NoRetryOnNonRetryableError(t *testing.T) {
	p := NewPipeline("embedding", testPipelineConfig())

	attempts := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		e := enginerr.New(enginerr.CodeEmbeddingServiceError, "bad request")
		e.Retryable = false
		return e
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestPipeline_ExhaustsRetries(t *testing.T) {
	p := NewPipeline("embedding", testPipelineConfig())

	attempts := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return enginerr.New(enginerr.CodeEmbeddingServiceError, "503")
	})

	require.Error(t, err)
	assert.Equal(t, 4, attempts) // initial call plus three retries
	assert.True(t, enginerr.IsCode(err, enginerr.CodeEmbeddingServiceError))
}

func TestPipeline_CircuitOpenFailsFastWithDetails(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.MaxRetries = 0
	p := NewPipeline("embedding", cfg)

	// Trip the breaker.
	for i := 0; i < 5; i++ {
		_ = p.Do(context.Background(), func(ctx context.Context) error {
			return enginerr.New(enginerr.CodeEmbeddingServiceError, "503")
		})
	}
	require.Equal(t, StateOpen, p.Breaker().State())

	attempts := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return nil
	})

	require.Error(t, err)
	assert.Equal(t, 0, attempts)
	assert.True(t, enginerr.IsCode(err, enginerr.CodeEmbeddingServiceError))

	ee := enginerr.AsEngineError(err)
	require.NotNil(t, ee)
	assert.Equal(t, "open", ee.Detail("circuit_state"))
	retryAfter, ok := ee.Detail("retry_after_seconds").(float64)
	require.True(t, ok)
	assert.Greater(t, retryAfter, 0.0)
}

func TestPipeline_CircuitOpenAbortsRetryLoop(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.Breaker.MinThroughput = 2
	p := NewPipeline("embedding", cfg)

	// The second failed attempt trips the breaker; the third attempt is
	// rejected and the loop must not keep retrying the rejection.
	attempts := 0
	err := p.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return enginerr.New(enginerr.CodeEmbeddingServiceError, "503")
	})

	require.Error(t, err)
	assert.Equal(t, 2, attempts)
	ee := enginerr.AsEngineError(err)
	require.NotNil(t, ee)
	assert.Equal(t, "open", ee.Detail("circuit_state"))
}

func TestPipeline_RateLimitedWhenQueueFull(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.Permits = 1
	cfg.QueueDepth = 1
	p := NewPipeline("embedding", cfg)

	release := make(chan struct{})
	holderDone := make(chan struct{})
	go func() {
		defer close(holderDone)
		_ = p.Do(context.Background(), func(ctx context.Context) error {
			<-release
			return nil
		})
	}()

	waiterDone := make(chan struct{})
	go func() {
		defer close(waiterDone)
		_ = p.Do(context.Background(), func(ctx context.Context) error { return nil })
	}()
	assert.Eventually(t, func() bool {
		return p.Health().Waiting == 1
	}, time.Second, 5*time.Millisecond)

	err := p.Do(context.Background(), func(ctx context.Context) error { return nil })
	require.Error(t, err)
	assert.True(t, enginerr.IsCode(err, enginerr.CodeEmbeddingServiceError))
	ee := enginerr.AsEngineError(err)
	require.NotNil(t, ee)
	assert.Equal(t, "rate_limited", ee.Detail("reason"))

	close(release)
	<-holderDone
	<-waiterDone
}

func TestPipeline_HealthSnapshot(t *testing.T) {
	p := NewPipeline("embedding", testPipelineConfig())

	h := p.Health()
	assert.Equal(t, "closed", h.CircuitState)
	assert.True(t, h.Available)
	assert.Zero(t, h.RetryAfterSeconds)
	assert.Empty(t, h.LastFailure)

	for i := 0; i < 5; i++ {
		_ = p.Do(context.Background(), func(ctx context.Context) error {
			e := enginerr.New(enginerr.CodeEmbeddingServiceError, "503")
			e.Retryable = false
			return e
		})
	}

	h = p.Health()
	assert.Equal(t, "open", h.CircuitState)
	assert.False(t, h.Available)
	assert.Greater(t, h.RetryAfterSeconds, 0.0)
	assert.Contains(t, h.LastFailure, "503")
	require.NotNil(t, h.LastFailureAt)
}

func TestPipeline_DoValue(t *testing.T) {
	p := NewPipeline("embedding", testPipelineConfig())

	got, err := DoValue(context.Background(), p, func(ctx context.Context) ([]float32, error) {
		return []float32{0.1, 0.2}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, got)
}
