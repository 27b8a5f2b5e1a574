package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	enginerr "github.com/compoundkb/compoundmcp/internal/errors"
)

// OllamaConfig configures the Ollama embedding client.
type OllamaConfig struct {
	// Host is the embedding API endpoint, e.g. http://127.0.0.1:11435.
	Host string

	// Model is the embedding model to use.
	Model string

	// Dimensions is the expected embedding dimension. The preflight check
	// verifies the model actually produces it.
	Dimensions int

	// Timeout bounds a single request (default 60s).
	Timeout time.Duration

	// BatchSize for batch embedding requests (default 32).
	BatchSize int

	// PoolSize for the HTTP connection pool (default 4).
	PoolSize int
}

// OllamaEmbedRequest is the /api/embed request body.
type OllamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

// OllamaEmbedResponse is the /api/embed response body.
type OllamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// OllamaModelInfo describes one installed model from /api/tags.
type OllamaModelInfo struct {
	Name       string `json:"name"`
	ModifiedAt string `json:"modified_at"`
	Size       int64  `json:"size"`
}

// OllamaModelListResponse is the /api/tags response body.
type OllamaModelListResponse struct {
	Models []OllamaModelInfo `json:"models"`
}

// OllamaEmbedder generates embeddings over Ollama's HTTP API. Calls are
// raw: one request, no retry. The resilience pipeline supplies retries and
// circuit breaking.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an embedding client. The constructor does not
// touch the network; CheckModel runs during preflight.
func NewOllamaEmbedder(cfg OllamaConfig) *OllamaEmbedder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")

	transport := &http.Transport{
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}
	// No client-level timeout; each request carries its own context
	// deadline so caller deadlines are never overridden.
	return &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
	}
}

// Dimensions returns the configured embedding dimension.
func (e *OllamaEmbedder) Dimensions() int {
	return e.config.Dimensions
}

// ModelName returns the model identifier.
func (e *OllamaEmbedder) ModelName() string {
	return e.config.Model
}

// Embed generates the embedding for a single text. Empty or whitespace-only
// input returns a zero vector without calling the host.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return make([]float32, e.config.Dimensions), nil
	}

	embeddings, err := e.doEmbed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, enginerr.New(enginerr.CodeEmbeddingServiceError, "embedding host returned no vectors")
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts. Empty entries become
// zero vectors; the rest go to the host in BatchSize groups.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	type indexedText struct {
		idx  int
		text string
	}
	results := make([][]float32, len(texts))
	var nonEmpty []indexedText
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.config.Dimensions)
		} else {
			nonEmpty = append(nonEmpty, indexedText{i, text})
		}
	}

	for start := 0; start < len(nonEmpty); start += e.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + e.config.BatchSize
		if end > len(nonEmpty) {
			end = len(nonEmpty)
		}
		batch := nonEmpty[start:end]
		batchTexts := make([]string, len(batch))
		for i, it := range batch {
			batchTexts[i] = it.text
		}

		embeddings, err := e.doEmbed(ctx, batchTexts)
		if err != nil {
			return nil, err
		}
		if len(embeddings) != len(batch) {
			return nil, enginerr.Newf(enginerr.CodeEmbeddingServiceError,
				"embedding host returned %d vectors for %d inputs", len(embeddings), len(batch))
		}
		for i, emb := range embeddings {
			results[batch[i].idx] = emb
		}
	}
	return results, nil
}

// doEmbed performs one /api/embed request.
func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	var input any
	if len(texts) == 1 {
		input = texts[0]
	} else {
		input = texts
	}
	body, err := json.Marshal(OllamaEmbedRequest{Model: e.config.Model, Input: input})
	if err != nil {
		return nil, enginerr.Wrap(enginerr.CodeInternal, "failed to marshal embed request", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, enginerr.Wrap(enginerr.CodeInternal, "failed to build embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, enginerr.Wrap(enginerr.CodeEmbeddingServiceError, "embedding request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, statusError(resp.StatusCode, respBody, e.config.Model)
	}

	var result OllamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, enginerr.Wrap(enginerr.CodeEmbeddingServiceError, "failed to decode embed response", err)
	}

	embeddings := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		vec := make([]float32, len(emb))
		for j, v := range emb {
			vec[j] = float32(v)
		}
		embeddings[i] = normalizeVector(vec)
	}
	return embeddings, nil
}

// statusError maps an HTTP failure to an engine error. A 404 mentioning the
// model is MODEL_NOT_FOUND; 5xx stays retryable; other 4xx are permanent.
func statusError(status int, body []byte, model string) error {
	text := string(body)
	if status == http.StatusNotFound && strings.Contains(strings.ToLower(text), "model") {
		return enginerr.Newf(enginerr.CodeModelNotFound, "model %q not found on embedding host", model).
			WithSuggestion(fmt.Sprintf("pull the model: ollama pull %s", model))
	}
	err := enginerr.Newf(enginerr.CodeEmbeddingServiceError,
		"embedding host returned status %d", status).
		WithDetail("status", status)
	if status >= 400 && status < 500 {
		err.Retryable = false
	}
	return err
}

// ListModels returns the models installed on the host.
func (e *OllamaEmbedder) ListModels(ctx context.Context) ([]OllamaModelInfo, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return nil, enginerr.Wrap(enginerr.CodeInternal, "failed to build tags request", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, enginerr.Wrap(enginerr.CodeEmbeddingServiceError, "failed to reach embedding host", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, statusError(resp.StatusCode, respBody, e.config.Model)
	}

	var result OllamaModelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, enginerr.Wrap(enginerr.CodeEmbeddingServiceError, "failed to decode tags response", err)
	}
	return result.Models, nil
}

// CheckModel verifies the configured model is installed. Matching accepts
// an exact name or a base name without tag, case-insensitively.
func (e *OllamaEmbedder) CheckModel(ctx context.Context) error {
	models, err := e.ListModels(ctx)
	if err != nil {
		return err
	}

	want := strings.ToLower(e.config.Model)
	wantBase := strings.Split(want, ":")[0]
	for _, m := range models {
		name := strings.ToLower(m.Name)
		if name == want || strings.Split(name, ":")[0] == wantBase {
			return nil
		}
	}
	return enginerr.Newf(enginerr.CodeModelNotFound,
		"model %q not installed on embedding host", e.config.Model).
		WithSuggestion(fmt.Sprintf("pull the model: ollama pull %s", e.config.Model))
}

// Available reports whether the host answers /api/tags.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return false
	}
	_, err := e.ListModels(ctx)
	return err == nil
}

func (e *OllamaEmbedder) checkOpen() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return enginerr.New(enginerr.CodeInternal, "embedder is closed")
	}
	return nil
}

// Close releases idle connections.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}
