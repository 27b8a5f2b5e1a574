package preflight

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	enginerr "github.com/compoundkb/compoundmcp/internal/errors"
)

type fakeProber struct {
	dims  int
	err   error
	delay time.Duration
	model string
}

func (f *fakeProber) Embed(ctx context.Context, _ string) ([]float32, error) {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return make([]float32, f.dims), nil
}

func (f *fakeProber) ModelName() string { return f.model }

type fakeColumns struct {
	columns map[string]int
	err     error
}

func (f *fakeColumns) VectorColumnDims(_ context.Context) (map[string]int, error) {
	return f.columns, f.err
}

func TestValidateDimensions_AllSidesAgree(t *testing.T) {
	// Given: model output, configured width, and every column agree
	prober := &fakeProber{dims: 1024, model: "mxbai-embed-large"}
	columns := &fakeColumns{columns: map[string]int{
		"documents":                1024,
		"document_chunks":          1024,
		"external_documents":       1024,
		"external_document_chunks": 1024,
	}}

	// When: I validate
	err := ValidateDimensions(context.Background(), prober, columns, 1024)

	// Then: validation passes
	assert.NoError(t, err)
}

func TestValidateDimensions_MissingCollectionsAccepted(t *testing.T) {
	// Given: no collections created yet
	prober := &fakeProber{dims: 1024, model: "mxbai-embed-large"}
	columns := &fakeColumns{columns: map[string]int{}}

	// When: I validate
	err := ValidateDimensions(context.Background(), prober, columns, 1024)

	// Then: absent tables are fine; they get created at the configured width
	assert.NoError(t, err)
}

func TestValidateDimensions_ModelDisagrees(t *testing.T) {
	// Given: the model produces narrower vectors than configured
	prober := &fakeProber{dims: 768, model: "nomic-embed-text"}
	columns := &fakeColumns{columns: map[string]int{}}

	// When: I validate
	err := ValidateDimensions(context.Background(), prober, columns, 1024)

	// Then: the error names the model as the disagreeing side
	require.Error(t, err)
	assert.True(t, enginerr.IsCode(err, enginerr.CodeDimensionMismatch))
	assert.True(t, enginerr.IsFatal(err))

	ee := enginerr.AsEngineError(err)
	require.NotNil(t, ee)
	assert.Equal(t, "nomic-embed-text", ee.Detail("model"))
	assert.Equal(t, 768, ee.Detail("model_dimensions"))
	assert.Equal(t, 1024, ee.Detail("configured_dimensions"))
	assert.NotEmpty(t, ee.Suggestion)
}

func TestValidateDimensions_ColumnDisagrees(t *testing.T) {
	// Given: one existing column was created at a different width
	prober := &fakeProber{dims: 1024, model: "mxbai-embed-large"}
	columns := &fakeColumns{columns: map[string]int{
		"documents":       1024,
		"document_chunks": 768,
	}}

	// When: I validate
	err := ValidateDimensions(context.Background(), prober, columns, 1024)

	// Then: the error names the disagreeing collection
	require.Error(t, err)
	assert.True(t, enginerr.IsCode(err, enginerr.CodeDimensionMismatch))

	ee := enginerr.AsEngineError(err)
	require.NotNil(t, ee)
	assert.Equal(t, "document_chunks", ee.Detail("collection"))
	assert.Equal(t, 768, ee.Detail("column_dimensions"))
}

func TestValidateDimensions_ProbeTimeoutIsFatal(t *testing.T) {
	// Given: an embedding host that never answers within the timeout
	prober := &fakeProber{dims: 1024, delay: time.Second, model: "mxbai-embed-large"}
	columns := &fakeColumns{columns: map[string]int{}}

	// When: I validate with a short timeout
	err := ValidateDimensions(context.Background(), prober, columns, 1024,
		WithTimeout(20*time.Millisecond))

	// Then: the timeout is a fatal mismatch error
	require.Error(t, err)
	assert.True(t, enginerr.IsCode(err, enginerr.CodeDimensionMismatch))
	assert.True(t, enginerr.IsFatal(err))
	assert.Contains(t, err.Error(), "timed out")
}

func TestValidateDimensions_ProbeErrorKeepsCode(t *testing.T) {
	// Given: the probe fails because the model is not installed
	prober := &fakeProber{
		err:   enginerr.New(enginerr.CodeModelNotFound, "model not installed"),
		model: "mxbai-embed-large",
	}
	columns := &fakeColumns{columns: map[string]int{}}

	// When: I validate
	err := ValidateDimensions(context.Background(), prober, columns, 1024)

	// Then: the client's code survives the wrap
	require.Error(t, err)
	assert.True(t, enginerr.IsCode(err, enginerr.CodeModelNotFound))
	assert.Contains(t, err.Error(), "probe failed")
}

func TestValidateDimensions_StoreErrorPassesThrough(t *testing.T) {
	// Given: reading column widths fails
	prober := &fakeProber{dims: 1024, model: "mxbai-embed-large"}
	columns := &fakeColumns{
		err: enginerr.New(enginerr.CodeDatabaseError, "connection refused"),
	}

	// When: I validate
	err := ValidateDimensions(context.Background(), prober, columns, 1024)

	// Then: the store failure keeps its own code
	require.Error(t, err)
	assert.True(t, enginerr.IsCode(err, enginerr.CodeDatabaseError))
}
