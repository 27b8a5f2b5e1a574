// Package store persists documents, chunks, and tenant records in
// Postgres, with pgvector columns for embeddings. This is the persistence
// layer for all indexed data; every read is scoped by the tenant triple.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/compoundkb/compoundmcp/internal/tenant"
)

// ErrNotFound is returned by id-scoped mutations that matched no row.
var ErrNotFound = errors.New("not found")

// Collection names, as reported by VectorColumnDims.
const (
	CollectionDocuments      = "documents"
	CollectionChunks         = "document_chunks"
	CollectionExternalDocs   = "external_documents"
	CollectionExternalChunks = "external_document_chunks"
)

// Document is a stored markdown document row. The body itself is not
// stored; the docs tree on disk stays authoritative and content_hash
// tracks what was last indexed.
type Document struct {
	ID           string         // UUID, stable across re-indexing of the same path
	Tenant       tenant.Key     // tenancy triple, equality-filtered on every read
	RelativePath string         // relative to the docs root
	Title        string
	Summary      string
	DocType      string
	Promotion    string         // standard | important | critical; empty for external rows
	ContentHash  string         // SHA-256 of file bytes at last index
	CharCount    int
	Frontmatter  map[string]any // parsed YAML frontmatter, stored as JSONB
	Embedding    []float32      // write-only; reads never materialize vectors
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Chunk is one ordered split of a long document.
type Chunk struct {
	ID         string
	DocumentID string
	Tenant     tenant.Key
	ChunkIndex int    // zero-based, contiguous in document order
	HeaderPath string // e.g. "## Setup > ### Postgres"
	Content    string
	Promotion  string // mirrors the parent document
	Embedding  []float32
}

// DocumentMeta is the reconciler's view of a stored document.
type DocumentMeta struct {
	ID           string
	RelativePath string
	ContentHash  string
}

// DocumentHit pairs a document with its cosine similarity to a query.
type DocumentHit struct {
	Document Document
	Score    float64
}

// ChunkHit pairs a chunk with its cosine similarity to a query.
type ChunkHit struct {
	Chunk Chunk
	Score float64
}

// Store is the vector/metadata store adapter. Implementations must apply
// the tenant key as an equality filter on every read.
type Store interface {
	// EnsureSchema creates the compounding schema, tables, and vector
	// indexes if missing. Idempotent; invoked at startup.
	EnsureSchema(ctx context.Context) error

	// Document operations (project collections)
	UpsertDocument(ctx context.Context, doc *Document) (string, error)
	UpsertChunks(ctx context.Context, documentID string, chunks []*Chunk) error
	DeleteDocumentByPath(ctx context.Context, key tenant.Key, relativePath string) error
	GetDocumentByPath(ctx context.Context, key tenant.Key, relativePath string) (*Document, error)
	GetDocumentsByIDs(ctx context.Context, key tenant.Key, ids []string) ([]*Document, error)
	GetDocumentsByPaths(ctx context.Context, key tenant.Key, relativePaths []string) ([]*Document, error)
	ListDocumentMeta(ctx context.Context, key tenant.Key) ([]DocumentMeta, error)
	SearchDocuments(ctx context.Context, key tenant.Key, queryVec []float32, k int) ([]DocumentHit, error)
	SearchChunks(ctx context.Context, key tenant.Key, queryVec []float32, k int) ([]ChunkHit, error)

	// UpdatePromotion sets the promotion level on a document and all of
	// its chunks in one transaction. Returns ErrNotFound when the
	// document does not exist under the key.
	UpdatePromotion(ctx context.Context, key tenant.Key, documentID, level string) error

	// External-docs operations (read-only reference collections; no
	// promotion levels, no client mutation path)
	UpsertExternalDocument(ctx context.Context, doc *Document) (string, error)
	UpsertExternalChunks(ctx context.Context, documentID string, chunks []*Chunk) error
	DeleteExternalDocumentByPath(ctx context.Context, key tenant.Key, relativePath string) error
	ListExternalDocumentMeta(ctx context.Context, key tenant.Key) ([]DocumentMeta, error)
	GetExternalDocumentsByIDs(ctx context.Context, key tenant.Key, ids []string) ([]*Document, error)
	SearchExternalDocuments(ctx context.Context, key tenant.Key, queryVec []float32, k int) ([]DocumentHit, error)
	SearchExternalChunks(ctx context.Context, key tenant.Key, queryVec []float32, k int) ([]ChunkHit, error)

	// Tenant-record operations
	UpsertWorktree(ctx context.Context, pathHash, repoRoot, projectName string) error
	UpsertProjectRecord(ctx context.Context, projectName, branchName string) error
	TouchTenantRecords(ctx context.Context, key tenant.Key) error

	// VectorColumnDims reports the vector column dimensionality of each
	// collection that already exists, keyed by collection name.
	VectorColumnDims(ctx context.Context) (map[string]int, error)

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases the connection pool.
	Close()
}
