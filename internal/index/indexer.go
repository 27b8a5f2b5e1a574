// Package index applies watcher events to the store: read, parse,
// validate, chunk, embed, upsert, and maintain the in-memory link graph.
// A single worker drains the debounced queue, so nothing here needs to
// tolerate concurrent events for the same path; a fault in one file must
// never stop the loop.
package index

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/compoundkb/compoundmcp/internal/chunk"
	"github.com/compoundkb/compoundmcp/internal/doctype"
	"github.com/compoundkb/compoundmcp/internal/embed"
	enginerr "github.com/compoundkb/compoundmcp/internal/errors"
	"github.com/compoundkb/compoundmcp/internal/graph"
	"github.com/compoundkb/compoundmcp/internal/logging"
	"github.com/compoundkb/compoundmcp/internal/parse"
	"github.com/compoundkb/compoundmcp/internal/resilience"
	"github.com/compoundkb/compoundmcp/internal/scan"
	"github.com/compoundkb/compoundmcp/internal/store"
	"github.com/compoundkb/compoundmcp/internal/tenant"
	"github.com/compoundkb/compoundmcp/internal/watcher"
)

// Config wires an Indexer for one activation. Everything is fixed for
// the activation's lifetime; a project switch builds a fresh Indexer.
type Config struct {
	Store    store.Store
	Embedder embed.Embedder
	Pipeline *resilience.Pipeline
	Graph    *graph.Graph
	Chunker  *chunk.Chunker
	Registry *doctype.Registry
	Tracker  *watcher.Tracker
	Key      tenant.Key
	DocsRoot string
	Logger   *slog.Logger
}

// Indexer keeps one document's stored representation in sync with its
// bytes on disk.
type Indexer struct {
	store    store.Store
	embedder embed.Embedder
	pipeline *resilience.Pipeline
	graph    *graph.Graph
	chunker  *chunk.Chunker
	registry *doctype.Registry
	tracker  *watcher.Tracker
	key      tenant.Key
	docsRoot string
	logger   *slog.Logger
}

// New builds an indexer from its activation-scoped collaborators.
func New(cfg Config) *Indexer {
	if cfg.Chunker == nil {
		cfg.Chunker = chunk.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Indexer{
		store:    cfg.Store,
		embedder: cfg.Embedder,
		pipeline: cfg.Pipeline,
		graph:    cfg.Graph,
		chunker:  cfg.Chunker,
		registry: cfg.Registry,
		tracker:  cfg.Tracker,
		key:      cfg.Key,
		docsRoot: cfg.DocsRoot,
		logger:   cfg.Logger,
	}
}

// HandleEvent applies one settled watcher event. Content and service
// faults are absorbed (logged and recorded on the tracker); only store
// failures surface as errors, and callers keep draining regardless.
func (ix *Indexer) HandleEvent(ctx context.Context, ev watcher.Event) error {
	switch ev.Type {
	case watcher.EventDeleted:
		return ix.remove(ctx, ev.Path)
	case watcher.EventRenamed:
		if ev.OldPath != "" && ev.OldPath != ev.Path {
			if err := ix.remove(ctx, ev.OldPath); err != nil {
				return err
			}
		}
		return ix.upsert(ctx, ev)
	default:
		return ix.upsert(ctx, ev)
	}
}

func (ix *Indexer) remove(ctx context.Context, relPath string) error {
	if err := ix.store.DeleteDocumentByPath(ctx, ix.key, relPath); err != nil {
		ix.logger.LogAttrs(ctx, slog.LevelError, "failed to delete document",
			append(errAttrs(err), logging.DocPath(relPath))...)
		return err
	}
	ix.graph.Remove(relPath)
	ix.tracker.Clear(relPath)
	ix.logger.Info("document removed", logging.DocPath(relPath))
	return nil
}

func (ix *Indexer) upsert(ctx context.Context, ev watcher.Event) error {
	relPath := ev.Path
	absPath := filepath.Join(ix.docsRoot, filepath.FromSlash(relPath))

	data, err := readShared(ctx, absPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// The file vanished between the event and the read; the
			// deletion event is on its way.
			ix.logger.Debug("file gone before indexing", logging.DocPath(relPath))
			return nil
		}
		ix.tracker.MarkFailed(relPath, err)
		ix.logger.LogAttrs(ctx, slog.LevelWarn, "failed to read document",
			append(errAttrs(err), logging.DocPath(relPath))...)
		return nil
	}

	hash := scan.HashBytes(data)
	existing, err := ix.store.GetDocumentByPath(ctx, ix.key, relPath)
	if err != nil {
		return err
	}
	if existing != nil && existing.ContentHash == hash {
		ix.tracker.Clear(relPath)
		ix.logger.Debug("content unchanged, skipping", logging.DocPath(relPath))
		return nil
	}

	res, err := parse.Parse(data)
	if err != nil {
		ix.tracker.MarkFailed(relPath, err)
		ix.logger.LogAttrs(ctx, slog.LevelWarn, "document rejected",
			append(errAttrs(err), logging.DocPath(relPath))...)
		return nil
	}

	if dt := res.DocType(); dt != "" {
		if err := ix.registry.ValidateFrontmatter(dt, res.Frontmatter); err != nil {
			ix.tracker.MarkFailed(relPath, err)
			ix.logger.LogAttrs(ctx, slog.LevelWarn, "frontmatter validation failed",
				append(errAttrs(err), logging.DocPath(relPath))...)
			return nil
		}
	}

	embedding, err := resilience.DoValue(ctx, ix.pipeline, func(ctx context.Context) ([]float32, error) {
		return ix.embedder.Embed(ctx, res.Body)
	})
	if err != nil {
		ix.tracker.MarkPending(relPath, ev.Type)
		ix.logger.LogAttrs(ctx, slog.LevelWarn, "embedding unavailable, queued for retry",
			append(errAttrs(err), logging.DocPath(relPath))...)
		return nil
	}

	promotion := string(res.Promotion())
	doc := &store.Document{
		Tenant:       ix.key,
		RelativePath: relPath,
		Title:        res.Title,
		Summary:      res.Summary(),
		DocType:      res.DocType(),
		Promotion:    promotion,
		ContentHash:  hash,
		CharCount:    res.CharCount,
		Frontmatter:  res.Frontmatter,
		Embedding:    embedding,
	}
	docID, err := ix.store.UpsertDocument(ctx, doc)
	if err != nil {
		ix.tracker.MarkFailed(relPath, err)
		return err
	}

	rows, serviceErr, err := ix.buildChunks(ctx, res, promotion)
	if serviceErr != nil {
		ix.tracker.MarkPending(relPath, ev.Type)
		ix.logger.LogAttrs(ctx, slog.LevelWarn, "chunk embedding unavailable, queued for retry",
			append(errAttrs(serviceErr), logging.DocPath(relPath))...)
		return nil
	}
	if err != nil {
		ix.tracker.MarkFailed(relPath, err)
		return err
	}
	// rows is nil for short documents, which also clears stale chunks
	// left over from a previously long version.
	if err := ix.store.UpsertChunks(ctx, docID, rows); err != nil {
		ix.tracker.MarkFailed(relPath, err)
		return err
	}

	ix.graph.ReplaceOutgoing(relPath, resolveInternalTargets(relPath, res.Links))
	ix.tracker.Clear(relPath)
	ix.logger.Info("document indexed",
		logging.DocPath(relPath),
		logging.EventType(ev.Type.String()),
		slog.Int("chunks", len(rows)))
	return nil
}

// buildChunks splits and embeds a long document. The second return is a
// service failure (retry later); the third is permanent.
func (ix *Indexer) buildChunks(ctx context.Context, res *parse.Result, promotion string) ([]*store.Chunk, error, error) {
	pieces := ix.chunker.Split(res)
	if len(pieces) == 0 {
		return nil, nil, nil
	}

	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Content
	}
	vectors, err := resilience.DoValue(ctx, ix.pipeline, func(ctx context.Context) ([][]float32, error) {
		return ix.embedder.EmbedBatch(ctx, texts)
	})
	if err != nil {
		return nil, err, nil
	}
	if len(vectors) != len(pieces) {
		return nil, nil, enginerr.Newf(enginerr.CodeEmbeddingServiceError,
			"embedding host returned %d vectors for %d chunks", len(vectors), len(pieces))
	}

	rows := make([]*store.Chunk, len(pieces))
	for i, p := range pieces {
		rows[i] = &store.Chunk{
			Tenant:     ix.key,
			ChunkIndex: p.Index,
			HeaderPath: p.HeaderPath,
			Content:    p.Content,
			Promotion:  promotion,
			Embedding:  vectors[i],
		}
	}
	return rows, nil, nil
}

// readShared reads a file with the sharing-violation retry schedule.
// An editor holding the file exclusively for a few milliseconds is
// normal; a hard failure after the retries is the caller's problem.
func readShared(ctx context.Context, absPath string) ([]byte, error) {
	data, err := enginerr.RetryWithResult(ctx, enginerr.FileShareRetryConfig(), func() ([]byte, error) {
		return os.ReadFile(absPath)
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, enginerr.Wrap(enginerr.CodeFileSystemError, "failed to read document", err)
	}
	return data, nil
}

// resolveInternalTargets maps a document's internal links onto docs-root
// relative paths, resolved against the linking file's directory. Targets
// escaping the root are dropped.
func resolveInternalTargets(relPath string, links []parse.Link) []string {
	var targets []string
	base := path.Dir(relPath)
	for _, l := range links {
		if !l.Target.Internal() || l.Path == "" {
			continue
		}
		target := scan.ToSlash(l.Path)
		if strings.HasPrefix(target, "/") {
			target = strings.TrimPrefix(target, "/")
		} else {
			target = path.Join(base, target)
		}
		target = path.Clean(target)
		if target == ".." || strings.HasPrefix(target, "../") || target == "." {
			continue
		}
		targets = append(targets, target)
	}
	return targets
}

func errAttrs(err error) []slog.Attr {
	return enginerr.LogAttrs(err)
}
