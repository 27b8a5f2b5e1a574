// Package preflight validates at startup that the embedding model, the
// configured dimensionality, and the store's vector columns all agree.
//
// A disagreement anywhere means every stored vector or every future
// vector would be unsearchable, so the check is fatal: activation aborts
// unless the operator explicitly skips it.
package preflight

import (
	"context"
	"errors"
	"sort"
	"time"

	enginerr "github.com/compoundkb/compoundmcp/internal/errors"
)

// DefaultTimeout bounds the whole validation, probe call included.
const DefaultTimeout = 30 * time.Second

// probeText is embedded once to measure the model's output width. The
// content is irrelevant; it only has to be non-empty so the client does
// not short-circuit to a zero vector.
const probeText = "dimension probe"

// Prober is the slice of the embedding client the validator needs.
type Prober interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelName() string
}

// ColumnReader is the slice of the store the validator needs.
type ColumnReader interface {
	VectorColumnDims(ctx context.Context) (map[string]int, error)
}

// Option configures validation.
type Option func(*validator)

// WithTimeout overrides the default validation timeout.
func WithTimeout(d time.Duration) Option {
	return func(v *validator) {
		if d > 0 {
			v.timeout = d
		}
	}
}

type validator struct {
	timeout time.Duration
}

// ValidateDimensions generates one probe embedding and compares its width
// against the configured dimensionality and against every vector column
// that already exists in the store. Collections that have not been created
// yet are fine; they will be created to the configured width.
//
// Any mismatch returns DIMENSION_MISMATCH naming the disagreeing side.
// A probe or store failure, including the timeout, is returned as-is so
// the activation path can abort on it.
func ValidateDimensions(ctx context.Context, embedder Prober, store ColumnReader, expected int, opts ...Option) error {
	v := &validator{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(v)
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	vec, err := embedder.Embed(ctx, probeText)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return enginerr.Wrap(enginerr.CodeDimensionMismatch,
				"dimension validation timed out waiting for the embedding host", err).
				WithSuggestion("check that the embedding service is running and responsive")
		}
		// Keep the client's code (EMBEDDING_SERVICE_ERROR, MODEL_NOT_FOUND)
		// but record which phase failed.
		return enginerr.Wrap(enginerr.CodeOf(err), "dimension validation probe failed", err)
	}

	if len(vec) != expected {
		return enginerr.Newf(enginerr.CodeDimensionMismatch,
			"model %q produced %d-dimension vectors but the engine is configured for %d",
			embedder.ModelName(), len(vec), expected).
			WithDetail("model", embedder.ModelName()).
			WithDetail("model_dimensions", len(vec)).
			WithDetail("configured_dimensions", expected).
			WithSuggestion("set embedding dimensions to match the model, or switch to a model with the configured width")
	}

	columns, err := store.VectorColumnDims(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return enginerr.Wrap(enginerr.CodeDimensionMismatch,
				"dimension validation timed out reading vector column widths", err).
				WithSuggestion("check that PostgreSQL is running and reachable")
		}
		return enginerr.Wrap(enginerr.CodeOf(err), "dimension validation could not read vector columns", err)
	}

	// Deterministic ordering so repeated failures report the same column.
	names := make([]string, 0, len(columns))
	for name := range columns {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if dims := columns[name]; dims != expected {
			return enginerr.Newf(enginerr.CodeDimensionMismatch,
				"collection %q holds %d-dimension vectors but the engine is configured for %d",
				name, dims, expected).
				WithDetail("collection", name).
				WithDetail("column_dimensions", dims).
				WithDetail("configured_dimensions", expected).
				WithSuggestion("re-create the collection at the configured width, or set embedding dimensions to match the existing data")
		}
	}

	return nil
}
