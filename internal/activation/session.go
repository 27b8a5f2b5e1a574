package activation

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/compoundkb/compoundmcp/internal/chunk"
	"github.com/compoundkb/compoundmcp/internal/config"
	"github.com/compoundkb/compoundmcp/internal/doctype"
	"github.com/compoundkb/compoundmcp/internal/graph"
	"github.com/compoundkb/compoundmcp/internal/index"
	"github.com/compoundkb/compoundmcp/internal/logging"
	"github.com/compoundkb/compoundmcp/internal/rag"
	"github.com/compoundkb/compoundmcp/internal/reconcile"
	"github.com/compoundkb/compoundmcp/internal/resilience"
	"github.com/compoundkb/compoundmcp/internal/retrieval"
	"github.com/compoundkb/compoundmcp/internal/scan"
	"github.com/compoundkb/compoundmcp/internal/tenant"
	"github.com/compoundkb/compoundmcp/internal/watcher"
)

// session is everything scoped to one activated project: pipelines,
// indexer, watcher, retrieval, and the worktree lock. A project switch
// tears the whole session down and builds a fresh one; nothing here
// survives across activations.
type session struct {
	key      tenant.Key
	cfg      *config.Project
	registry *doctype.Registry
	lock     *tenant.WorktreeLock
	docsRoot string

	embedPipe *resilience.Pipeline
	chatPipe  *resilience.Pipeline

	graph      *graph.Graph
	tracker    *watcher.Tracker
	indexer    *index.Indexer
	reconciler *reconcile.Reconciler
	watch      *watcher.Watcher

	planner     *retrieval.Planner
	rag         *rag.Generator
	ragExternal *rag.Generator // nil unless external docs are configured

	cancel   context.CancelFunc
	done     chan struct{}
	draining atomic.Bool

	logger *slog.Logger
}

// pipelineConfig maps the project's resilience section onto a pipeline.
func pipelineConfig(r config.Resilience) resilience.Config {
	return resilience.Config{
		Permits:        r.MaxConcurrency,
		QueueDepth:     r.MaxQueueDepth,
		MaxRetries:     r.RetryMaxAttempts,
		RetryBaseDelay: time.Second,
		Breaker: resilience.BreakerConfig{
			SamplingDuration: r.SamplingDuration(),
			MinThroughput:    r.MinThroughput,
			FailureRatio:     r.FailureRatio,
			BreakDuration:    r.BreakDuration(),
		},
	}
}

func (e *Engine) buildSession(cfg *config.Project, registry *doctype.Registry, key tenant.Key, lock *tenant.WorktreeLock, docsRoot, externalRoot string) *session {
	s := &session{
		key:      key,
		cfg:      cfg,
		registry: registry,
		lock:     lock,
		docsRoot: docsRoot,
		logger:   e.logger,
	}

	s.embedPipe = resilience.NewPipeline("embedding", pipelineConfig(cfg.Resilience))
	s.chatPipe = resilience.NewPipeline("chat", pipelineConfig(cfg.Resilience))

	s.graph = graph.New()
	s.tracker = watcher.NewTracker()
	chunker := chunk.New()
	matcher := scan.NewMatcher(cfg.IncludePatterns, cfg.ExcludePatterns)

	s.indexer = index.New(index.Config{
		Store:    e.store,
		Embedder: e.embedder,
		Pipeline: s.embedPipe,
		Graph:    s.graph,
		Chunker:  chunker,
		Registry: registry,
		Tracker:  s.tracker,
		Key:      key,
		DocsRoot: docsRoot,
		Logger:   e.logger,
	})

	recCfg := reconcile.Config{
		Store:    e.store,
		Indexer:  s.indexer,
		Tracker:  s.tracker,
		Key:      key,
		DocsRoot: docsRoot,
		Matcher:  matcher,
		Logger:   e.logger,
	}
	if externalRoot != "" {
		recCfg.ExternalRoot = externalRoot
		recCfg.ExternalMatcher = scan.NewMatcher(cfg.ExternalInclude(), cfg.ExternalExclude())
		recCfg.External = reconcile.NewExternalIndexer(e.store, e.embedder, s.embedPipe, chunker, key, e.logger)
		s.ragExternal = rag.New(e.chat, s.chatPipe, rag.FileBody(externalRoot), e.logger)
	}
	s.reconciler = reconcile.New(recCfg)

	s.planner = retrieval.New(e.store, e.embedder, s.embedPipe, s.graph, e.logger)
	s.rag = rag.New(e.chat, s.chatPipe, rag.FileBody(docsRoot), e.logger)

	s.watch = watcher.New(watcher.Config{
		Root:    docsRoot,
		Matcher: matcher,
		Debounce: cfg.FileWatcher.DebounceWindow(),
		Logger:  e.logger,
	})
	return s
}

// start launches the watcher and the single event-drain loop, and
// registers the breaker-recovery drain.
func (s *session) start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	if err := s.watch.Start(ctx); err != nil {
		cancel()
		close(s.done)
		return err
	}

	// Circuit recovery replays the pending backlog. One drain at a time;
	// a flapping breaker must not stack goroutines.
	s.embedPipe.Breaker().OnStateChange(func(from, to resilience.State) {
		if to != resilience.StateClosed || from == resilience.StateClosed {
			return
		}
		if !s.draining.CompareAndSwap(false, true) {
			return
		}
		go func() {
			defer s.draining.Store(false)
			s.reconciler.DrainPending(ctx)
		}()
	})

	go func() {
		defer close(s.done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-s.watch.Events():
				if err := s.indexer.HandleEvent(ctx, ev); err != nil {
					s.logger.Error("index event failed",
						logging.DocPath(ev.Path),
						logging.EventType(ev.Type.String()),
						slog.String("error", err.Error()))
				}
			}
		}
	}()
	return nil
}

// stop cancels the session context, stops the watcher, and waits for the
// drain loop to exit.
func (s *session) stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.watch != nil {
		s.watch.Stop()
	}
	if s.done != nil {
		<-s.done
	}
}

// retrievalOptions resolves per-call overrides against the project
// config defaults.
func (s *session) retrievalOptions(opts QueryOptions) retrieval.Options {
	out := retrieval.Options{
		TopK:          s.cfg.Retrieval.TopK,
		MinRelevance:  s.cfg.Retrieval.MinRelevanceScore,
		MaxDepth:      s.cfg.LinkResolution.MaxDepth,
		MaxLinkedDocs: s.cfg.Retrieval.MaxLinkedDocs,
		DocType:       opts.DocType,
		Promotion:     opts.Promotion,
	}
	if opts.TopK > 0 {
		out.TopK = opts.TopK
	}
	if opts.MinRelevance != nil {
		out.MinRelevance = *opts.MinRelevance
	}
	if opts.MaxDepth != nil {
		out.MaxDepth = *opts.MaxDepth
	}
	if opts.MaxLinkedDocs != nil {
		out.MaxLinkedDocs = *opts.MaxLinkedDocs
	}
	return out
}
