// Package config provides the two configuration layers of the engine: the
// process-wide engine configuration (connection endpoints, model names) and
// the per-project configuration loaded at activation.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
)

// Engine is the process-wide configuration assembled from command-line flags
// with COMPOUNDMCP_* environment overrides. It never changes after startup.
type Engine struct {
	// Postgres connection settings.
	PostgresHost     string
	PostgresPort     int
	PostgresDatabase string
	PostgresUser     string
	PostgresPassword string

	// Embedding/chat host settings (one Ollama-compatible host serves both).
	EmbeddingHost string
	EmbeddingPort int

	// EmbeddingModel is the model used for all embeddings.
	EmbeddingModel string
	// EmbeddingDimensions is the expected vector dimensionality for the
	// configured model. Every stored vector and every vector column must
	// match it.
	EmbeddingDimensions int
	// ChatModel is the model used for RAG answer generation.
	ChatModel string

	// SkipDimensionCheck bypasses startup dimension validation. Emits a
	// prominent warning when set.
	SkipDimensionCheck bool

	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string
	// LogFile is an optional file that receives a JSON copy of the stderr
	// log stream.
	LogFile string
}

// NewEngine returns an Engine populated with defaults.
func NewEngine() *Engine {
	return &Engine{
		PostgresHost:        "127.0.0.1",
		PostgresPort:        5433,
		PostgresDatabase:    "compounding",
		PostgresUser:        "postgres",
		PostgresPassword:    "",
		EmbeddingHost:       "127.0.0.1",
		EmbeddingPort:       11435,
		EmbeddingModel:      "mxbai-embed-large",
		EmbeddingDimensions: 1024,
		ChatModel:           "llama3.1",
		LogLevel:            "info",
	}
}

// ApplyEnvOverrides applies COMPOUNDMCP_* environment variables on top of
// the current values. Flags are parsed before this runs, so environment
// wins only where the caller wants it to (the root command applies env
// first, then explicit flags).
func (e *Engine) ApplyEnvOverrides() {
	if v := os.Getenv("COMPOUNDMCP_POSTGRES_HOST"); v != "" {
		e.PostgresHost = v
	}
	if v := os.Getenv("COMPOUNDMCP_POSTGRES_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			e.PostgresPort = p
		}
	}
	if v := os.Getenv("COMPOUNDMCP_POSTGRES_DATABASE"); v != "" {
		e.PostgresDatabase = v
	}
	if v := os.Getenv("COMPOUNDMCP_POSTGRES_USER"); v != "" {
		e.PostgresUser = v
	}
	if v := os.Getenv("COMPOUNDMCP_POSTGRES_PASSWORD"); v != "" {
		e.PostgresPassword = v
	}
	if v := os.Getenv("COMPOUNDMCP_EMBEDDING_HOST"); v != "" {
		e.EmbeddingHost = v
	}
	if v := os.Getenv("COMPOUNDMCP_EMBEDDING_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			e.EmbeddingPort = p
		}
	}
	if v := os.Getenv("COMPOUNDMCP_EMBEDDING_MODEL"); v != "" {
		e.EmbeddingModel = v
	}
	if v := os.Getenv("COMPOUNDMCP_CHAT_MODEL"); v != "" {
		e.ChatModel = v
	}
	if v := os.Getenv("COMPOUNDMCP_SKIP_DIMENSION_CHECK"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			e.SkipDimensionCheck = b
		}
	}
	if v := os.Getenv("COMPOUNDMCP_LOG_LEVEL"); v != "" {
		e.LogLevel = v
	}
	if v := os.Getenv("COMPOUNDMCP_LOG_FILE"); v != "" {
		e.LogFile = v
	}
}

// Validate checks the engine configuration for startup.
func (e *Engine) Validate() error {
	if err := validatePort("postgres-port", e.PostgresPort); err != nil {
		return err
	}
	if err := validatePort("embedding-port", e.EmbeddingPort); err != nil {
		return err
	}
	if e.PostgresDatabase == "" {
		return fmt.Errorf("postgres-database must not be empty")
	}
	if e.EmbeddingModel == "" {
		return fmt.Errorf("embedding model must not be empty")
	}
	if e.EmbeddingDimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive, got %d", e.EmbeddingDimensions)
	}
	return nil
}

func validatePort(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be in [1, 65535], got %d", name, port)
	}
	return nil
}

// PostgresDSN returns the pgx connection string.
func (e *Engine) PostgresDSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", e.PostgresHost, e.PostgresPort),
		Path:   "/" + e.PostgresDatabase,
	}
	if e.PostgresUser != "" {
		if e.PostgresPassword != "" {
			u.User = url.UserPassword(e.PostgresUser, e.PostgresPassword)
		} else {
			u.User = url.User(e.PostgresUser)
		}
	}
	q := u.Query()
	q.Set("sslmode", "disable")
	u.RawQuery = q.Encode()
	return u.String()
}

// EmbeddingBaseURL returns the embedding/chat host base URL.
func (e *Engine) EmbeddingBaseURL() string {
	return fmt.Sprintf("http://%s:%d", e.EmbeddingHost, e.EmbeddingPort)
}
