package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	enginerr "github.com/compoundkb/compoundmcp/internal/errors"
)

// Config configures the Postgres store.
type Config struct {
	// DSN is the pgx connection string.
	DSN string

	// Dimensions is the vector column dimensionality used when creating
	// collections.
	Dimensions int

	// MaxConns caps the pool size; 0 keeps the pgxpool default.
	MaxConns int
}

// collection describes one document/chunk table pair.
type collection struct {
	docs      string
	chunks    string
	promotion bool
}

var (
	projectCollection  = collection{docs: "compounding.documents", chunks: "compounding.document_chunks", promotion: true}
	externalCollection = collection{docs: "compounding.external_documents", chunks: "compounding.external_document_chunks", promotion: false}
)

// PgStore is the Postgres-backed Store implementation.
type PgStore struct {
	pool *pgxpool.Pool
	dims int
}

var _ Store = (*PgStore)(nil)

// NewStore connects to Postgres. The schema is not touched here; callers
// run EnsureSchema during startup.
func NewStore(ctx context.Context, cfg Config) (*PgStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, enginerr.Wrap(enginerr.CodeDatabaseError, "invalid postgres connection string", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, enginerr.Wrap(enginerr.CodeDatabaseError, "failed to create postgres pool", err)
	}

	return &PgStore{pool: pool, dims: cfg.Dimensions}, nil
}

// Ping verifies connectivity.
func (s *PgStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return wrapDB("postgres ping failed", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PgStore) Close() {
	s.pool.Close()
}

// EnsureSchema creates the compounding schema, the four collections, the
// tenant-record tables, and the cosine ANN indexes. Idempotent.
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL(s.dims))
	if err != nil && strings.Contains(err.Error(), "ivfflat") {
		// ivfflat creation can fail on an empty or tiny table; sequential
		// scan still serves queries until enough rows exist.
		err = nil
	}
	if err != nil {
		return wrapDB("failed to ensure schema", err)
	}
	return nil
}

// schemaSQL renders the idempotent DDL for the given vector dimension.
func schemaSQL(dims int) string {
	var b strings.Builder

	b.WriteString(`
CREATE SCHEMA IF NOT EXISTS compounding;
CREATE EXTENSION IF NOT EXISTS vector;
`)

	// Project collections carry promotion levels; external ones do not.
	fmt.Fprintf(&b, `
CREATE TABLE IF NOT EXISTS compounding.documents (
	id UUID PRIMARY KEY,
	project_name TEXT NOT NULL,
	branch_name TEXT NOT NULL,
	path_hash TEXT NOT NULL,
	relative_path TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	doc_type TEXT NOT NULL DEFAULT '',
	promotion_level TEXT NOT NULL DEFAULT 'standard',
	content_hash TEXT NOT NULL,
	char_count INT NOT NULL DEFAULT 0,
	frontmatter JSONB,
	embedding vector(%[1]d),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS compounding.document_chunks (
	id UUID PRIMARY KEY,
	document_id UUID NOT NULL REFERENCES compounding.documents(id) ON DELETE CASCADE,
	project_name TEXT NOT NULL,
	branch_name TEXT NOT NULL,
	path_hash TEXT NOT NULL,
	chunk_index INT NOT NULL,
	header_path TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	promotion_level TEXT NOT NULL DEFAULT 'standard',
	embedding vector(%[1]d)
);

CREATE TABLE IF NOT EXISTS compounding.external_documents (
	id UUID PRIMARY KEY,
	project_name TEXT NOT NULL,
	branch_name TEXT NOT NULL,
	path_hash TEXT NOT NULL,
	relative_path TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	doc_type TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL,
	char_count INT NOT NULL DEFAULT 0,
	frontmatter JSONB,
	embedding vector(%[1]d),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS compounding.external_document_chunks (
	id UUID PRIMARY KEY,
	document_id UUID NOT NULL REFERENCES compounding.external_documents(id) ON DELETE CASCADE,
	project_name TEXT NOT NULL,
	branch_name TEXT NOT NULL,
	path_hash TEXT NOT NULL,
	chunk_index INT NOT NULL,
	header_path TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	embedding vector(%[1]d)
);

CREATE TABLE IF NOT EXISTS compounding.worktrees (
	path_hash TEXT PRIMARY KEY,
	repo_root TEXT NOT NULL,
	project_name TEXT NOT NULL,
	last_seen TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS compounding.projects (
	project_name TEXT NOT NULL,
	branch_name TEXT NOT NULL,
	last_seen TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (project_name, branch_name)
);

CREATE UNIQUE INDEX IF NOT EXISTS documents_tenant_path_uidx
	ON compounding.documents (project_name, branch_name, path_hash, relative_path);
CREATE INDEX IF NOT EXISTS document_chunks_document_idx
	ON compounding.document_chunks (document_id);
CREATE UNIQUE INDEX IF NOT EXISTS external_documents_tenant_path_uidx
	ON compounding.external_documents (project_name, branch_name, path_hash, relative_path);
CREATE INDEX IF NOT EXISTS external_document_chunks_document_idx
	ON compounding.external_document_chunks (document_id);
`, dims)

	// ANN indexes are created through guards so re-running is idempotent
	// across pgvector versions that lack IF NOT EXISTS on index types.
	for _, spec := range []struct{ table, index string }{
		{"documents", "documents_embedding_idx"},
		{"document_chunks", "document_chunks_embedding_idx"},
		{"external_documents", "external_documents_embedding_idx"},
		{"external_document_chunks", "external_document_chunks_embedding_idx"},
	} {
		fmt.Fprintf(&b, `
DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1 FROM pg_indexes
		WHERE schemaname = 'compounding' AND indexname = '%[2]s'
	) THEN
		EXECUTE 'CREATE INDEX %[2]s ON compounding.%[1]s USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);';
	END IF;
END
$$;
`, spec.table, spec.index)
	}

	return b.String()
}

// VectorColumnDims reports the embedding column dimensionality of each
// collection that exists. Missing tables are omitted.
func (s *PgStore) VectorColumnDims(ctx context.Context) (map[string]int, error) {
	tables := map[string]string{
		CollectionDocuments:      "compounding.documents",
		CollectionChunks:         "compounding.document_chunks",
		CollectionExternalDocs:   "compounding.external_documents",
		CollectionExternalChunks: "compounding.external_document_chunks",
	}

	dims := make(map[string]int, len(tables))
	for name, table := range tables {
		// For pgvector columns atttypmod holds the declared dimension.
		// to_regclass yields NULL for missing tables, matching no rows.
		var dim int
		err := s.pool.QueryRow(ctx, `
SELECT a.atttypmod
FROM pg_attribute a
WHERE a.attrelid = to_regclass($1) AND a.attname = 'embedding'`, table).Scan(&dim)
		if err != nil {
			if isNoRows(err) {
				continue
			}
			return nil, wrapDB("failed to read vector column dims", err)
		}
		dims[name] = dim
	}
	return dims, nil
}

// withRetry runs fn with the store's transient-failure retry schedule.
func withRetry(ctx context.Context, fn func() error) error {
	cfg := enginerr.DatabaseRetryConfig()
	cfg.RetryIf = isTransientDBError
	return enginerr.Retry(ctx, cfg, fn)
}

// wrapDB converts a database failure into a DATABASE_ERROR, marking it
// retryable only when the underlying failure is transient.
func wrapDB(message string, err error) error {
	wrapped := enginerr.Wrap(enginerr.CodeDatabaseError, message, err)
	wrapped.Retryable = isTransientDBError(err)
	return wrapped
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isTransientDBError reports whether a failure is worth retrying:
// connection-class SQLSTATEs, serialization failures, deadlocks,
// resource exhaustion, and network errors.
func isTransientDBError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := pgErr.SQLState()
		switch {
		case strings.HasPrefix(code, "08"): // connection exception
			return true
		case strings.HasPrefix(code, "53"): // insufficient resources
			return true
		case strings.HasPrefix(code, "57P"): // operator intervention
			return true
		case code == "40001" || code == "40P01": // serialization, deadlock
			return true
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// pgx surfaces dial failures wrapped in connect errors.
	var connectErr *pgconn.ConnectError
	return errors.As(err, &connectErr)
}
