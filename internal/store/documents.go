package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/compoundkb/compoundmcp/internal/tenant"
)

// docColumns is the shared select list. External collections have no
// promotion column, so a constant empty level keeps one scan shape.
func (c collection) docColumns() string {
	promo := "promotion_level"
	if !c.promotion {
		promo = "''::text AS promotion_level"
	}
	return fmt.Sprintf(`id, project_name, branch_name, path_hash, relative_path,
	title, summary, doc_type, %s, content_hash, char_count, frontmatter,
	created_at, updated_at`, promo)
}

func (c collection) chunkColumns() string {
	promo := "promotion_level"
	if !c.promotion {
		promo = "''::text AS promotion_level"
	}
	return fmt.Sprintf("id, document_id, project_name, branch_name, path_hash, chunk_index, header_path, content, %s", promo)
}

// UpsertDocument inserts or updates a document row, keyed by the tenant
// triple plus relative path. The id of a pre-existing row is preserved
// and returned.
func (s *PgStore) UpsertDocument(ctx context.Context, doc *Document) (string, error) {
	return s.upsertDocument(ctx, projectCollection, doc)
}

// UpsertExternalDocument is the external-collection variant of UpsertDocument.
func (s *PgStore) UpsertExternalDocument(ctx context.Context, doc *Document) (string, error) {
	return s.upsertDocument(ctx, externalCollection, doc)
}

func (s *PgStore) upsertDocument(ctx context.Context, col collection, doc *Document) (string, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}

	var emb any
	if doc.Embedding != nil {
		emb = pgvector.NewVector(doc.Embedding)
	}
	var fm any
	if doc.Frontmatter != nil {
		fm = doc.Frontmatter
	}

	args := []any{doc.ID, doc.Tenant.ProjectName, doc.Tenant.BranchName, doc.Tenant.PathHash,
		doc.RelativePath, doc.Title, doc.Summary, doc.DocType, doc.ContentHash,
		doc.CharCount, fm, emb}

	promoCol, promoVal, promoSet := "", "", ""
	if col.promotion {
		promoCol = ", promotion_level"
		promoVal = ", $13"
		promoSet = "\n\tpromotion_level = EXCLUDED.promotion_level,"
		args = append(args, promotionOrDefault(doc.Promotion))
	}

	query := fmt.Sprintf(`
INSERT INTO %s (id, project_name, branch_name, path_hash, relative_path,
	title, summary, doc_type, content_hash, char_count, frontmatter, embedding%s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12%s)
ON CONFLICT (project_name, branch_name, path_hash, relative_path) DO UPDATE SET
	title = EXCLUDED.title,
	summary = EXCLUDED.summary,
	doc_type = EXCLUDED.doc_type,
	content_hash = EXCLUDED.content_hash,
	char_count = EXCLUDED.char_count,
	frontmatter = EXCLUDED.frontmatter,
	embedding = EXCLUDED.embedding,%s
	updated_at = NOW()
RETURNING id`, col.docs, promoCol, promoVal, promoSet)

	var id string
	err := withRetry(ctx, func() error {
		return s.pool.QueryRow(ctx, query, args...).Scan(&id)
	})
	if err != nil {
		return "", wrapDB("failed to upsert document", err)
	}
	return id, nil
}

// UpsertChunks replaces the full chunk set of a document in one
// transaction: delete all existing chunks, then insert the new ordered set.
func (s *PgStore) UpsertChunks(ctx context.Context, documentID string, chunks []*Chunk) error {
	return s.upsertChunks(ctx, projectCollection, documentID, chunks)
}

// UpsertExternalChunks is the external-collection variant of UpsertChunks.
func (s *PgStore) UpsertExternalChunks(ctx context.Context, documentID string, chunks []*Chunk) error {
	return s.upsertChunks(ctx, externalCollection, documentID, chunks)
}

func (s *PgStore) upsertChunks(ctx context.Context, col collection, documentID string, chunks []*Chunk) error {
	insertCols := "id, document_id, project_name, branch_name, path_hash, chunk_index, header_path, content, embedding"
	placeholders := "$1, $2, $3, $4, $5, $6, $7, $8, $9"
	if col.promotion {
		insertCols += ", promotion_level"
		placeholders += ", $10"
	}
	insertQuery := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", col.chunks, insertCols, placeholders)

	err := withRetry(ctx, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if _, err := tx.Exec(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE document_id = $1", col.chunks), documentID); err != nil {
			return err
		}

		for _, c := range chunks {
			if c.ID == "" {
				c.ID = uuid.NewString()
			}
			var emb any
			if c.Embedding != nil {
				emb = pgvector.NewVector(c.Embedding)
			}
			args := []any{c.ID, documentID, c.Tenant.ProjectName, c.Tenant.BranchName,
				c.Tenant.PathHash, c.ChunkIndex, c.HeaderPath, c.Content, emb}
			if col.promotion {
				args = append(args, promotionOrDefault(c.Promotion))
			}
			if _, err := tx.Exec(ctx, insertQuery, args...); err != nil {
				return err
			}
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return wrapDB("failed to upsert chunks", err)
	}
	return nil
}

// DeleteDocumentByPath removes a document and, via the foreign key, all
// of its chunks. Deleting an absent document is a no-op.
func (s *PgStore) DeleteDocumentByPath(ctx context.Context, key tenant.Key, relativePath string) error {
	return s.deleteDocumentByPath(ctx, projectCollection, key, relativePath)
}

// DeleteExternalDocumentByPath is the external-collection variant.
func (s *PgStore) DeleteExternalDocumentByPath(ctx context.Context, key tenant.Key, relativePath string) error {
	return s.deleteDocumentByPath(ctx, externalCollection, key, relativePath)
}

func (s *PgStore) deleteDocumentByPath(ctx context.Context, col collection, key tenant.Key, relativePath string) error {
	query := fmt.Sprintf(`
DELETE FROM %s
WHERE project_name = $1 AND branch_name = $2 AND path_hash = $3 AND relative_path = $4`, col.docs)

	err := withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, query, key.ProjectName, key.BranchName, key.PathHash, relativePath)
		return err
	})
	if err != nil {
		return wrapDB("failed to delete document", err)
	}
	return nil
}

// GetDocumentByPath returns the document at relativePath, or nil when it
// does not exist under the key.
func (s *PgStore) GetDocumentByPath(ctx context.Context, key tenant.Key, relativePath string) (*Document, error) {
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE project_name = $1 AND branch_name = $2 AND path_hash = $3 AND relative_path = $4`,
		projectCollection.docColumns(), projectCollection.docs)

	var doc *Document
	err := withRetry(ctx, func() error {
		row := s.pool.QueryRow(ctx, query, key.ProjectName, key.BranchName, key.PathHash, relativePath)
		scanned, err := scanDocument(row)
		if err != nil {
			return err
		}
		doc = scanned
		return nil
	})
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, wrapDB("failed to get document by path", err)
	}
	return doc, nil
}

// GetDocumentsByIDs batch-fetches documents by id.
func (s *PgStore) GetDocumentsByIDs(ctx context.Context, key tenant.Key, ids []string) ([]*Document, error) {
	return s.getDocuments(ctx, projectCollection, key, "id::text = ANY($4)", ids)
}

// GetExternalDocumentsByIDs is the external-collection variant.
func (s *PgStore) GetExternalDocumentsByIDs(ctx context.Context, key tenant.Key, ids []string) ([]*Document, error) {
	return s.getDocuments(ctx, externalCollection, key, "id::text = ANY($4)", ids)
}

// GetDocumentsByPaths batch-fetches documents by relative path in one query.
func (s *PgStore) GetDocumentsByPaths(ctx context.Context, key tenant.Key, relativePaths []string) ([]*Document, error) {
	return s.getDocuments(ctx, projectCollection, key, "relative_path = ANY($4)", relativePaths)
}

func (s *PgStore) getDocuments(ctx context.Context, col collection, key tenant.Key, predicate string, values []string) ([]*Document, error) {
	if len(values) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE project_name = $1 AND branch_name = $2 AND path_hash = $3 AND %s`,
		col.docColumns(), col.docs, predicate)

	var docs []*Document
	err := withRetry(ctx, func() error {
		rows, err := s.pool.Query(ctx, query, key.ProjectName, key.BranchName, key.PathHash, values)
		if err != nil {
			return err
		}
		defer rows.Close()

		docs = docs[:0]
		for rows.Next() {
			doc, err := scanDocument(rows)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, wrapDB("failed to get documents", err)
	}
	return docs, nil
}

// ListDocumentMeta returns (id, path, hash) for every document under the
// key; the reconciler diffs this against the disk scan.
func (s *PgStore) ListDocumentMeta(ctx context.Context, key tenant.Key) ([]DocumentMeta, error) {
	return s.listDocumentMeta(ctx, projectCollection, key)
}

// ListExternalDocumentMeta is the external-collection variant.
func (s *PgStore) ListExternalDocumentMeta(ctx context.Context, key tenant.Key) ([]DocumentMeta, error) {
	return s.listDocumentMeta(ctx, externalCollection, key)
}

func (s *PgStore) listDocumentMeta(ctx context.Context, col collection, key tenant.Key) ([]DocumentMeta, error) {
	query := fmt.Sprintf(`
SELECT id, relative_path, content_hash FROM %s
WHERE project_name = $1 AND branch_name = $2 AND path_hash = $3`, col.docs)

	var metas []DocumentMeta
	err := withRetry(ctx, func() error {
		rows, err := s.pool.Query(ctx, query, key.ProjectName, key.BranchName, key.PathHash)
		if err != nil {
			return err
		}
		defer rows.Close()

		metas = metas[:0]
		for rows.Next() {
			var m DocumentMeta
			if err := rows.Scan(&m.ID, &m.RelativePath, &m.ContentHash); err != nil {
				return err
			}
			metas = append(metas, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, wrapDB("failed to list document metadata", err)
	}
	return metas, nil
}

// SearchDocuments runs a cosine-similarity search over document
// embeddings, scoped to the key.
func (s *PgStore) SearchDocuments(ctx context.Context, key tenant.Key, queryVec []float32, k int) ([]DocumentHit, error) {
	return s.searchDocuments(ctx, projectCollection, key, queryVec, k)
}

// SearchExternalDocuments is the external-collection variant.
func (s *PgStore) SearchExternalDocuments(ctx context.Context, key tenant.Key, queryVec []float32, k int) ([]DocumentHit, error) {
	return s.searchDocuments(ctx, externalCollection, key, queryVec, k)
}

func (s *PgStore) searchDocuments(ctx context.Context, col collection, key tenant.Key, queryVec []float32, k int) ([]DocumentHit, error) {
	query := fmt.Sprintf(`
SELECT %s, 1 - (embedding <=> $1) AS score
FROM %s
WHERE project_name = $2 AND branch_name = $3 AND path_hash = $4 AND embedding IS NOT NULL
ORDER BY embedding <=> $1
LIMIT $5`, col.docColumns(), col.docs)

	var hits []DocumentHit
	err := withRetry(ctx, func() error {
		rows, err := s.pool.Query(ctx, query,
			pgvector.NewVector(queryVec), key.ProjectName, key.BranchName, key.PathHash, k)
		if err != nil {
			return err
		}
		defer rows.Close()

		hits = hits[:0]
		for rows.Next() {
			var hit DocumentHit
			doc, err := scanDocumentWithScore(rows, &hit.Score)
			if err != nil {
				return err
			}
			hit.Document = *doc
			hits = append(hits, hit)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, wrapDB("document vector search failed", err)
	}
	return hits, nil
}

// SearchChunks runs a cosine-similarity search over chunk embeddings,
// scoped to the key. Callers fan hits back to parent documents.
func (s *PgStore) SearchChunks(ctx context.Context, key tenant.Key, queryVec []float32, k int) ([]ChunkHit, error) {
	return s.searchChunks(ctx, projectCollection, key, queryVec, k)
}

// SearchExternalChunks is the external-collection variant.
func (s *PgStore) SearchExternalChunks(ctx context.Context, key tenant.Key, queryVec []float32, k int) ([]ChunkHit, error) {
	return s.searchChunks(ctx, externalCollection, key, queryVec, k)
}

func (s *PgStore) searchChunks(ctx context.Context, col collection, key tenant.Key, queryVec []float32, k int) ([]ChunkHit, error) {
	query := fmt.Sprintf(`
SELECT %s, 1 - (embedding <=> $1) AS score
FROM %s
WHERE project_name = $2 AND branch_name = $3 AND path_hash = $4 AND embedding IS NOT NULL
ORDER BY embedding <=> $1
LIMIT $5`, col.chunkColumns(), col.chunks)

	var hits []ChunkHit
	err := withRetry(ctx, func() error {
		rows, err := s.pool.Query(ctx, query,
			pgvector.NewVector(queryVec), key.ProjectName, key.BranchName, key.PathHash, k)
		if err != nil {
			return err
		}
		defer rows.Close()

		hits = hits[:0]
		for rows.Next() {
			var hit ChunkHit
			if err := rows.Scan(&hit.Chunk.ID, &hit.Chunk.DocumentID,
				&hit.Chunk.Tenant.ProjectName, &hit.Chunk.Tenant.BranchName, &hit.Chunk.Tenant.PathHash,
				&hit.Chunk.ChunkIndex, &hit.Chunk.HeaderPath, &hit.Chunk.Content,
				&hit.Chunk.Promotion, &hit.Score); err != nil {
				return err
			}
			hits = append(hits, hit)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, wrapDB("chunk vector search failed", err)
	}
	return hits, nil
}

// UpdatePromotion sets the promotion level on a document row and all of
// its chunks in a single transaction, preserving the inheritance
// invariant. Returns ErrNotFound when no document matches.
func (s *PgStore) UpdatePromotion(ctx context.Context, key tenant.Key, documentID, level string) error {
	err := withRetry(ctx, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		tag, err := tx.Exec(ctx, `
UPDATE compounding.documents
SET promotion_level = $1, updated_at = NOW()
WHERE id = $2 AND project_name = $3 AND branch_name = $4 AND path_hash = $5`,
			level, documentID, key.ProjectName, key.BranchName, key.PathHash)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}

		if _, err := tx.Exec(ctx, `
UPDATE compounding.document_chunks
SET promotion_level = $1
WHERE document_id = $2`, level, documentID); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return wrapDB("failed to update promotion level", err)
	}
	return nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	return scanDocumentInto(row, nil)
}

func scanDocumentWithScore(row rowScanner, score *float64) (*Document, error) {
	return scanDocumentInto(row, score)
}

func scanDocumentInto(row rowScanner, score *float64) (*Document, error) {
	var doc Document
	dest := []any{&doc.ID, &doc.Tenant.ProjectName, &doc.Tenant.BranchName, &doc.Tenant.PathHash,
		&doc.RelativePath, &doc.Title, &doc.Summary, &doc.DocType, &doc.Promotion,
		&doc.ContentHash, &doc.CharCount, &doc.Frontmatter, &doc.CreatedAt, &doc.UpdatedAt}
	if score != nil {
		dest = append(dest, score)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &doc, nil
}

// promotionOrDefault normalizes an absent promotion level to standard.
func promotionOrDefault(level string) string {
	if level == "" {
		return "standard"
	}
	return level
}
