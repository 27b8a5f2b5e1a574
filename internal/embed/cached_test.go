package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder counts calls that reach the inner embedder.
type countingEmbedder struct {
	calls int
	model string
	dims  int
}

func (c *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	c.calls++
	return []float32{float32(len(text)), 0}, nil
}

func (c *countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	c.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 0}
	}
	return out, nil
}

func (c *countingEmbedder) Dimensions() int                  { return c.dims }
func (c *countingEmbedder) ModelName() string                { return c.model }
func (c *countingEmbedder) Available(_ context.Context) bool { return true }
func (c *countingEmbedder) Close() error                     { return nil }

func TestCachedEmbedHitsAndMisses(t *testing.T) {
	inner := &countingEmbedder{model: "m", dims: 2}
	cached := NewCachedEmbedder(inner, 16)

	ctx := context.Background()
	first, err := cached.Embed(ctx, "query")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)

	second, err := cached.Embed(ctx, "query")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls, "repeat query must be served from cache")
	assert.Equal(t, first, second)

	_, err = cached.Embed(ctx, "different")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedEmbedBatchOnlyEmbedsMisses(t *testing.T) {
	inner := &countingEmbedder{model: "m", dims: 2}
	cached := NewCachedEmbedder(inner, 16)
	ctx := context.Background()

	_, err := cached.Embed(ctx, "aa")
	require.NoError(t, err)

	vecs, err := cached.EmbedBatch(ctx, []string{"aa", "bbb"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, float32(2), vecs[0][0])
	assert.Equal(t, float32(3), vecs[1][0])
	// One Embed call plus one batch call for the single miss.
	assert.Equal(t, 2, inner.calls)

	// Everything cached now: no further inner calls.
	_, err = cached.EmbedBatch(ctx, []string{"aa", "bbb"})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedPurge(t *testing.T) {
	inner := &countingEmbedder{model: "m", dims: 2}
	cached := NewCachedEmbedder(inner, 16)
	ctx := context.Background()

	_, err := cached.Embed(ctx, "query")
	require.NoError(t, err)
	cached.Purge()

	_, err = cached.Embed(ctx, "query")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}
