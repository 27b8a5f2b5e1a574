package embed

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	enginerr "github.com/compoundkb/compoundmcp/internal/errors"
)

// fakeOllama serves /api/tags and /api/embed with canned vectors.
func fakeOllama(t *testing.T, dims int, models ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			list := OllamaModelListResponse{}
			for _, m := range models {
				list.Models = append(list.Models, OllamaModelInfo{Name: m})
			}
			_ = json.NewEncoder(w).Encode(list)
		case "/api/embed":
			var req OllamaEmbedRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			count := 1
			if arr, ok := req.Input.([]any); ok {
				count = len(arr)
			}
			resp := OllamaEmbedResponse{Model: req.Model}
			for i := 0; i < count; i++ {
				vec := make([]float64, dims)
				vec[0] = float64(i + 1)
				resp.Embeddings = append(resp.Embeddings, vec)
			}
			_ = json.NewEncoder(w).Encode(resp)
		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestEmbedder(host string, dims int) *OllamaEmbedder {
	return NewOllamaEmbedder(OllamaConfig{
		Host:       host,
		Model:      "mxbai-embed-large",
		Dimensions: dims,
	})
}

func TestEmbedSingle(t *testing.T) {
	srv := fakeOllama(t, 4, "mxbai-embed-large:latest")
	defer srv.Close()

	e := newTestEmbedder(srv.URL, 4)
	defer e.Close()

	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	require.Len(t, vec, 4)
	// Vectors come back unit-normalized.
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestEmbedEmptyReturnsZeroVector(t *testing.T) {
	// No server: empty input must not hit the network.
	e := newTestEmbedder("http://127.0.0.1:1", 8)
	defer e.Close()

	vec, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 8), vec)
}

func TestEmbedBatchMixesEmptyAndReal(t *testing.T) {
	srv := fakeOllama(t, 4, "mxbai-embed-large")
	defer srv.Close()

	e := newTestEmbedder(srv.URL, 4)
	defer e.Close()

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, make([]float32, 4), vecs[1])
	assert.NotEqual(t, make([]float32, 4), vecs[0])
	assert.NotEqual(t, make([]float32, 4), vecs[2])
}

func TestEmbedServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := newTestEmbedder(srv.URL, 4)
	defer e.Close()

	_, err := e.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, enginerr.CodeEmbeddingServiceError, enginerr.CodeOf(err))
	assert.True(t, enginerr.IsRetryable(err))
}

func TestEmbedBadRequestIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad input", http.StatusBadRequest)
	}))
	defer srv.Close()

	e := newTestEmbedder(srv.URL, 4)
	defer e.Close()

	_, err := e.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, enginerr.CodeEmbeddingServiceError, enginerr.CodeOf(err))
	assert.False(t, enginerr.IsRetryable(err))
}

func TestEmbedConnectionFailure(t *testing.T) {
	e := newTestEmbedder("http://127.0.0.1:1", 4)
	defer e.Close()

	_, err := e.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, enginerr.CodeEmbeddingServiceError, enginerr.CodeOf(err))
	assert.True(t, enginerr.IsRetryable(err))
}

func TestCheckModel(t *testing.T) {
	srv := fakeOllama(t, 4, "mxbai-embed-large:latest", "llama3.1:8b")
	defer srv.Close()

	t.Run("exact base match", func(t *testing.T) {
		e := newTestEmbedder(srv.URL, 4)
		defer e.Close()
		assert.NoError(t, e.CheckModel(context.Background()))
	})

	t.Run("missing model", func(t *testing.T) {
		e := NewOllamaEmbedder(OllamaConfig{Host: srv.URL, Model: "nomic-embed-text", Dimensions: 4})
		defer e.Close()
		err := e.CheckModel(context.Background())
		require.Error(t, err)
		assert.Equal(t, enginerr.CodeModelNotFound, enginerr.CodeOf(err))
		assert.True(t, enginerr.IsFatal(err))
	})
}

func TestAvailable(t *testing.T) {
	srv := fakeOllama(t, 4, "mxbai-embed-large")
	e := newTestEmbedder(srv.URL, 4)

	assert.True(t, e.Available(context.Background()))

	srv.Close()
	assert.False(t, e.Available(context.Background()))

	require.NoError(t, e.Close())
	assert.False(t, e.Available(context.Background()))
}

func TestClosedEmbedderRejectsCalls(t *testing.T) {
	e := newTestEmbedder("http://127.0.0.1:1", 4)
	require.NoError(t, e.Close())

	_, err := e.Embed(context.Background(), "x")
	assert.Error(t, err)
	// Close is idempotent.
	assert.NoError(t, e.Close())
}
