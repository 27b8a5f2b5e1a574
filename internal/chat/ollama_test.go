package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	enginerr "github.com/compoundkb/compoundmcp/internal/errors"
)

// fakeChat serves /api/generate with a fixed set of NDJSON chunks.
func fakeChat(t *testing.T, chunks []generateResponse, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if status != http.StatusOK {
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":"boom"}`)
			return
		}

		if !req.Stream {
			var full string
			for _, c := range chunks {
				full += c.Response
			}
			_ = json.NewEncoder(w).Encode(generateResponse{
				Model: req.Model, Response: full, Done: true,
			})
			return
		}

		enc := json.NewEncoder(w)
		for _, c := range chunks {
			c.Model = req.Model
			require.NoError(t, enc.Encode(c))
		}
	}))
}

func TestGenerateCollectsFullResponse(t *testing.T) {
	server := fakeChat(t, []generateResponse{
		{Response: "Hello, "},
		{Response: "world.", Done: true},
	}, http.StatusOK)
	defer server.Close()

	client := NewOllamaChat(Config{Host: server.URL, Model: "llama3.2"})
	defer func() { _ = client.Close() }()

	answer, err := client.Generate(context.Background(), "be brief", "greet me")
	require.NoError(t, err)
	assert.Equal(t, "Hello, world.", answer)
}

func TestGenerateStreamEmitsDeltas(t *testing.T) {
	server := fakeChat(t, []generateResponse{
		{Response: "The "},
		{Response: "answer "},
		{Response: "is 42.", Done: true},
	}, http.StatusOK)
	defer server.Close()

	client := NewOllamaChat(Config{Host: server.URL, Model: "llama3.2"})
	defer func() { _ = client.Close() }()

	var deltas []string
	answer, err := client.GenerateStream(context.Background(), "", "question",
		func(delta string) { deltas = append(deltas, delta) })
	require.NoError(t, err)

	assert.Equal(t, "The answer is 42.", answer)
	assert.Equal(t, []string{"The ", "answer ", "is 42."}, deltas)
}

func TestGenerateStreamSurfacesChunkError(t *testing.T) {
	server := fakeChat(t, []generateResponse{
		{Response: "partial "},
		{Error: "model crashed"},
	}, http.StatusOK)
	defer server.Close()

	client := NewOllamaChat(Config{Host: server.URL, Model: "llama3.2"})
	defer func() { _ = client.Close() }()

	answer, err := client.GenerateStream(context.Background(), "", "question", nil)
	require.Error(t, err)
	assert.True(t, enginerr.IsCode(err, enginerr.CodeEmbeddingServiceError))
	assert.Contains(t, err.Error(), "model crashed")
	assert.Equal(t, "partial ", answer)
}

func TestGenerateServerErrorIsRetryable(t *testing.T) {
	server := fakeChat(t, nil, http.StatusInternalServerError)
	defer server.Close()

	client := NewOllamaChat(Config{Host: server.URL, Model: "llama3.2"})
	defer func() { _ = client.Close() }()

	_, err := client.Generate(context.Background(), "", "question")
	require.Error(t, err)
	assert.True(t, enginerr.IsCode(err, enginerr.CodeEmbeddingServiceError))
	assert.True(t, enginerr.IsRetryable(err))
}

func TestGenerateMissingModel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model \"nope\" not found"}`)
	}))
	defer server.Close()

	client := NewOllamaChat(Config{Host: server.URL, Model: "nope"})
	defer func() { _ = client.Close() }()

	_, err := client.Generate(context.Background(), "", "question")
	require.Error(t, err)
	assert.True(t, enginerr.IsCode(err, enginerr.CodeModelNotFound))
	assert.False(t, enginerr.IsRetryable(err))
}

func TestGenerateConnectionRefusedIsRetryable(t *testing.T) {
	client := NewOllamaChat(Config{Host: "http://127.0.0.1:1", Model: "llama3.2", Timeout: time.Second})
	defer func() { _ = client.Close() }()

	_, err := client.Generate(context.Background(), "", "question")
	require.Error(t, err)
	assert.True(t, enginerr.IsCode(err, enginerr.CodeEmbeddingServiceError))
	assert.True(t, enginerr.IsRetryable(err))
}

func TestClosedClientRejectsCalls(t *testing.T) {
	client := NewOllamaChat(Config{Host: "http://127.0.0.1:1", Model: "llama3.2"})
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	_, err := client.Generate(context.Background(), "", "question")
	require.Error(t, err)
	assert.True(t, enginerr.IsCode(err, enginerr.CodeInternal))
}
