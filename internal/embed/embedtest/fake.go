// Package embedtest provides a deterministic in-memory Embedder for
// tests that must not reach an embedding host.
package embedtest

import (
	"context"
	"crypto/sha256"
	"sync"

	"github.com/compoundkb/compoundmcp/internal/embed"
)

// Fake is a deterministic Embedder: the vector for a text is derived
// from its hash, so equal texts embed equally and different texts almost
// never collide.
type Fake struct {
	// Dims is the vector width reported and produced.
	Dims int

	mu    sync.Mutex
	err   error
	calls int
}

var _ embed.Embedder = (*Fake)(nil)

// New returns a fake producing dims-wide vectors.
func New(dims int) *Fake {
	return &Fake{Dims: dims}
}

// SetErr makes every subsequent call fail with err; nil restores
// service.
func (f *Fake) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Calls reports how many embed requests were served or rejected.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *Fake) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return Vector(text, f.Dims), nil
}

func (f *Fake) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = Vector(t, f.Dims)
	}
	return out, nil
}

func (f *Fake) Dimensions() int { return f.Dims }

func (f *Fake) ModelName() string { return "fake-embed" }

func (f *Fake) Available(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err == nil
}

func (f *Fake) Close() error { return nil }

// Vector derives a deterministic dims-wide vector from text.
func Vector(text string, dims int) []float32 {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, dims)
	for i := range vec {
		b := sum[i%len(sum)]
		vec[i] = float32(int(b)-128) / 128
	}
	return vec
}
