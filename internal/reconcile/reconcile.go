// Package reconcile diffs the docs tree on disk against the store and
// replays the difference through the indexer. There is no persisted
// change queue; reconciliation at activation and after circuit recovery
// is the crash-recovery story, so every run must be idempotent.
package reconcile

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/compoundkb/compoundmcp/internal/index"
	"github.com/compoundkb/compoundmcp/internal/logging"
	"github.com/compoundkb/compoundmcp/internal/scan"
	"github.com/compoundkb/compoundmcp/internal/store"
	"github.com/compoundkb/compoundmcp/internal/tenant"
	"github.com/compoundkb/compoundmcp/internal/watcher"
)

// Stats summarizes one reconciliation run.
type Stats struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Deleted   int `json:"deleted"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

// Config wires a Reconciler for one activation.
type Config struct {
	Store   store.Store
	Indexer *index.Indexer
	Tracker *watcher.Tracker
	Key     tenant.Key

	DocsRoot string
	Matcher  *scan.Matcher

	// External tree, optional. When ExternalRoot is empty RunExternal is
	// a no-op.
	ExternalRoot    string
	ExternalMatcher *scan.Matcher
	External        *ExternalIndexer

	Logger *slog.Logger
}

// Reconciler drives disk-vs-store reconciliation for the active tenant.
type Reconciler struct {
	store   store.Store
	indexer *index.Indexer
	tracker *watcher.Tracker
	key     tenant.Key

	docsRoot string
	matcher  *scan.Matcher

	externalRoot    string
	externalMatcher *scan.Matcher
	external        *ExternalIndexer

	logger *slog.Logger
}

// New builds a reconciler.
func New(cfg Config) *Reconciler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Reconciler{
		store:           cfg.Store,
		indexer:         cfg.Indexer,
		tracker:         cfg.Tracker,
		key:             cfg.Key,
		docsRoot:        cfg.DocsRoot,
		matcher:         cfg.Matcher,
		externalRoot:    cfg.ExternalRoot,
		externalMatcher: cfg.ExternalMatcher,
		external:        cfg.External,
		logger:          cfg.Logger,
	}
}

// Run enumerates the docs root and the stored metadata in parallel,
// diffs content hashes, and replays the difference through the indexer.
// Single-file failures are counted, not fatal.
func (r *Reconciler) Run(ctx context.Context) (Stats, error) {
	start := time.Now()

	var files []*scan.File
	var meta []store.DocumentMeta

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		files, err = scan.ListFiles(gctx, r.docsRoot, r.matcher)
		return err
	})
	g.Go(func() error {
		var err error
		meta, err = r.store.ListDocumentMeta(gctx, r.key)
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
		if known {
			data, err := os.ReadFile(filepath.Join(r.docsRoot, filepath.FromSlash(f.RelPath)))
			if err == nil && scan.HashBytes(data) == prev.ContentHash {
				stats.Unchanged++
				continue
			}
		}

		evType := watcher.EventModified
		if !known {
			evType = watcher.EventCreated
		}
		err := r.indexer.HandleEvent(ctx, watcher.Event{Type: evType, Path: f.RelPath, At: time.Now()})
		switch {
		case err != nil:
			stats.Failed++
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
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		err := r.indexer.HandleEvent(ctx, watcher.Event{Type: watcher.EventDeleted, Path: relPath, At: time.Now()})
		if err != nil {
			stats.Failed++
			continue
		}
		stats.Deleted++
	}

	stats.Failed += r.DrainPending(ctx)

	r.logger.Info("reconciliation complete",
		logging.Project(r.key.ProjectName),
		logging.Branch(r.key.BranchName),
		logging.Elapsed(time.Since(start)),
		slog.Int("created", stats.Created),
		slog.Int("updated", stats.Updated),
		slog.Int("deleted", stats.Deleted),
		slog.Int("unchanged", stats.Unchanged),
		slog.Int("failed", stats.Failed))
	return stats, nil
}

// DrainPending replays every pending tracker entry through the indexer.
// Called at the end of every run and when the circuit breaker closes
// again after a break. Returns how many entries are still unresolved.
func (r *Reconciler) DrainPending(ctx context.Context) int {
	pending := r.tracker.PendingList()
	for _, entry := range pending {
		if ctx.Err() != nil {
			break
		}
		ev := watcher.Event{Type: entry.Event, Path: entry.Path, At: time.Now()}
		if err := r.indexer.HandleEvent(ctx, ev); err != nil {
			r.logger.Warn("pending drain failed",
				logging.DocPath(entry.Path),
				slog.String("error", err.Error()))
		}
	}
	remaining := r.tracker.Status().Pending
	if len(pending) > 0 {
		r.logger.Info("pending drain finished",
			slog.Int("drained", len(pending)-remaining),
			slog.Int("remaining", remaining))
	}
	return remaining
}
