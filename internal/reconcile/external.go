package reconcile

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/compoundkb/compoundmcp/internal/chunk"
	"github.com/compoundkb/compoundmcp/internal/embed"
	"github.com/compoundkb/compoundmcp/internal/logging"
	"github.com/compoundkb/compoundmcp/internal/parse"
	"github.com/compoundkb/compoundmcp/internal/resilience"
	"github.com/compoundkb/compoundmcp/internal/scan"
	"github.com/compoundkb/compoundmcp/internal/store"
	"github.com/compoundkb/compoundmcp/internal/tenant"
)

// ExternalIndexer writes the read-only reference tree into the external
// collections. External documents carry no promotion level, no schema
// validation, and no link-graph edges; the tree has no watcher, so the
// reconcile pass is its only write path.
type ExternalIndexer struct {
	store    store.Store
	embedder embed.Embedder
	pipeline *resilience.Pipeline
	chunker  *chunk.Chunker
	key      tenant.Key
	logger   *slog.Logger
}

// NewExternalIndexer builds the external-tree indexer.
func NewExternalIndexer(st store.Store, embedder embed.Embedder, pipeline *resilience.Pipeline, chunker *chunk.Chunker, key tenant.Key, logger *slog.Logger) *ExternalIndexer {
	if chunker == nil {
		chunker = chunk.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExternalIndexer{
		store:    st,
		embedder: embedder,
		pipeline: pipeline,
		chunker:  chunker,
		key:      key,
		logger:   logger,
	}
}

// RunExternal reconciles the configured external tree into the external
// collections. A no-op when no external tree is configured.
func (r *Reconciler) RunExternal(ctx context.Context) (Stats, error) {
	if r.externalRoot == "" || r.external == nil {
		return Stats{}, nil
	}
	start := time.Now()

	var files []*scan.File
	var meta []store.DocumentMeta

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		files, err = scan.ListFiles(gctx, r.externalRoot, r.externalMatcher)
		return err
	})
	g.Go(func() error {
		var err error
		meta, err = r.store.ListExternalDocumentMeta(gctx, r.key)
		return err
	})
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}

	stored := make(map[string]store.DocumentMeta, len(meta))
	for _, m := range meta {
		stored[m.RelativePath] = m
	}

	var stats Stats
	onDisk := make(map[string]bool, len(files))
	for _, f := range files {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		onDisk[f.RelPath] = true

		prev, known := stored[f.RelPath]
		changed, err := r.external.upsert(ctx, r.externalRoot, f.RelPath, prev, known)
		switch {
		case err != nil:
			stats.Failed++
		case !changed:
			stats.Unchanged++
		case known:
			stats.Updated++
		default:
			stats.Created++
		}
	}

	for relPath := range stored {
		if onDisk[relPath] {
			continue
		}
		if err := r.store.DeleteExternalDocumentByPath(ctx, r.key, relPath); err != nil {
			stats.Failed++
			continue
		}
		stats.Deleted++
	}

	r.logger.Info("external reconciliation complete",
		logging.Project(r.key.ProjectName),
		logging.Elapsed(time.Since(start)),
		slog.Int("created", stats.Created),
		slog.Int("updated", stats.Updated),
		slog.Int("deleted", stats.Deleted),
		slog.Int("unchanged", stats.Unchanged),
		slog.Int("failed", stats.Failed))
	return stats, nil
}

// upsert indexes one external file. The changed return is false when
// the stored hash already matches.
func (x *ExternalIndexer) upsert(ctx context.Context, root, relPath string, prev store.DocumentMeta, known bool) (bool, error) {
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(relPath)))
	if err != nil {
		return false, err
	}
	hash := scan.HashBytes(data)
	if known && prev.ContentHash == hash {
		return false, nil
	}

	res, err := parse.Parse(data)
	if err != nil {
		x.logger.Warn("external document rejected", logging.DocPath(relPath),
			slog.String("error", err.Error()))
		return false, err
	}

	embedding, err := resilience.DoValue(ctx, x.pipeline, func(ctx context.Context) ([]float32, error) {
		return x.embedder.Embed(ctx, res.Body)
	})
	if err != nil {
		return false, err
	}

	docID, err := x.store.UpsertExternalDocument(ctx, &store.Document{
		Tenant:       x.key,
		RelativePath: relPath,
		Title:        res.Title,
		Summary:      res.Summary(),
		DocType:      res.DocType(),
		ContentHash:  hash,
		CharCount:    res.CharCount,
		Frontmatter:  res.Frontmatter,
		Embedding:    embedding,
	})
	if err != nil {
		return false, err
	}

	var rows []*store.Chunk
	if pieces := x.chunker.Split(res); len(pieces) > 0 {
		texts := make([]string, len(pieces))
		for i, p := range pieces {
			texts[i] = p.Content
		}
		vectors, err := resilience.DoValue(ctx, x.pipeline, func(ctx context.Context) ([][]float32, error) {
			return x.embedder.EmbedBatch(ctx, texts)
		})
		if err != nil {
			return false, err
		}
		rows = make([]*store.Chunk, len(pieces))
		for i, p := range pieces {
			rows[i] = &store.Chunk{
				Tenant:     x.key,
				ChunkIndex: p.Index,
				HeaderPath: p.HeaderPath,
				Content:    p.Content,
				Embedding:  vectors[i],
			}
		}
	}
	if err := x.store.UpsertExternalChunks(ctx, docID, rows); err != nil {
		return false, err
	}
	return true, nil
}
