// Package embed talks to the embedding host. The client issues raw HTTP
// calls; concurrency limits, retries, and circuit breaking are applied by
// the resilience pipeline that wraps it.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultTimeout bounds a single embedding request.
	DefaultTimeout = 60 * time.Second

	// DefaultPoolSize for the HTTP connection pool.
	DefaultPoolSize = 4

	// DefaultBatchSize for batch embedding requests.
	DefaultBatchSize = 32
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding for a single text. Empty input returns
	// a zero vector without a network call.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the configured embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available reports whether the embedding host answers.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
