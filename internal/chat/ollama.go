// Package chat talks to the chat host for answer generation. Like the
// embedding client, calls are raw; the resilience pipeline wraps them.
package chat

import (
	"bufio"
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

// DefaultTimeout bounds one generation request end to end.
const DefaultTimeout = 5 * time.Minute

// Generator produces an answer from a composed prompt.
type Generator interface {
	// Generate returns the full answer text.
	Generate(ctx context.Context, system, prompt string) (string, error)

	// GenerateStream invokes onDelta for every token group as it arrives
	// and returns the accumulated answer.
	GenerateStream(ctx context.Context, system, prompt string, onDelta func(delta string)) (string, error)

	// ModelName returns the chat model identifier.
	ModelName() string

	// Close releases resources.
	Close() error
}

// Config configures the Ollama chat client.
type Config struct {
	// Host is the chat API endpoint; the engine points it at the same
	// Ollama instance the embedder uses.
	Host string

	// Model is the chat model.
	Model string

	// Timeout bounds one generation (default 5m).
	Timeout time.Duration
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// OllamaChat generates answers over Ollama's /api/generate endpoint.
type OllamaChat struct {
	client    *http.Client
	transport *http.Transport
	config    Config

	mu     sync.RWMutex
	closed bool
}

var _ Generator = (*OllamaChat)(nil)

// NewOllamaChat creates a chat client. No network calls happen until
// Generate.
func NewOllamaChat(cfg Config) *OllamaChat {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")

	transport := &http.Transport{
		MaxIdleConns:        2,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,
	}
	return &OllamaChat{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
	}
}

// ModelName returns the chat model identifier.
func (c *OllamaChat) ModelName() string {
	return c.config.Model
}

// Generate returns the complete answer in one response.
func (c *OllamaChat) Generate(ctx context.Context, system, prompt string) (string, error) {
	resp, err := c.do(ctx, system, prompt, false)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", enginerr.Wrap(enginerr.CodeEmbeddingServiceError, "failed to decode chat response", err)
	}
	if result.Error != "" {
		return "", enginerr.Newf(enginerr.CodeEmbeddingServiceError, "chat host error: %s", result.Error)
	}
	return result.Response, nil
}

// GenerateStream reads the NDJSON stream, invoking onDelta per chunk, and
// returns the accumulated answer.
func (c *OllamaChat) GenerateStream(ctx context.Context, system, prompt string, onDelta func(delta string)) (string, error) {
	resp, err := c.do(ctx, system, prompt, true)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	var answer strings.Builder
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var chunk generateResponse
			if jsonErr := json.Unmarshal(bytes.TrimSpace(line), &chunk); jsonErr == nil {
				if chunk.Error != "" {
					return answer.String(), enginerr.Newf(enginerr.CodeEmbeddingServiceError,
						"chat host error: %s", chunk.Error)
				}
				if chunk.Response != "" {
					answer.WriteString(chunk.Response)
					if onDelta != nil {
						onDelta(chunk.Response)
					}
				}
				if chunk.Done {
					return answer.String(), nil
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				return answer.String(), nil
			}
			return answer.String(), enginerr.Wrap(enginerr.CodeEmbeddingServiceError,
				"chat stream interrupted", err)
		}
	}
}

// do issues the generate request and checks the HTTP status.
func (c *OllamaChat) do(ctx context.Context, system, prompt string, stream bool) (*http.Response, error) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, enginerr.New(enginerr.CodeInternal, "chat client is closed")
	}

	body, err := json.Marshal(generateRequest{
		Model:  c.config.Model,
		Prompt: prompt,
		System: system,
		Stream: stream,
	})
	if err != nil {
		return nil, enginerr.Wrap(enginerr.CodeInternal, "failed to marshal chat request", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.config.Host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, enginerr.Wrap(enginerr.CodeInternal, "failed to build chat request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		cancel()
		return nil, enginerr.Wrap(enginerr.CodeEmbeddingServiceError, "chat request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		cancel()
		return nil, chatStatusError(resp.StatusCode, respBody, c.config.Model)
	}

	// The cancel travels with the body: the caller's read loop owns it.
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	c.cancel()
	return c.ReadCloser.Close()
}

func chatStatusError(status int, body []byte, model string) error {
	text := string(body)
	if status == http.StatusNotFound && strings.Contains(strings.ToLower(text), "model") {
		return enginerr.Newf(enginerr.CodeModelNotFound, "model %q not found on chat host", model).
			WithSuggestion(fmt.Sprintf("pull the model: ollama pull %s", model))
	}
	err := enginerr.Newf(enginerr.CodeEmbeddingServiceError, "chat host returned status %d", status).
		WithDetail("status", status)
	if status >= 400 && status < 500 {
		err.Retryable = false
	}
	return err
}

// Close releases idle connections.
func (c *OllamaChat) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.transport.CloseIdleConnections()
	return nil
}
