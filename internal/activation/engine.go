// Package activation orchestrates the project lifecycle: activate loads
// and validates the project config, claims the worktree lock, reconciles
// the docs tree into the store, and starts the watcher; deactivate tears
// it all down in reverse. Exactly one project is active per process.
package activation

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/compoundkb/compoundmcp/internal/chat"
	"github.com/compoundkb/compoundmcp/internal/config"
	"github.com/compoundkb/compoundmcp/internal/doctype"
	"github.com/compoundkb/compoundmcp/internal/embed"
	enginerr "github.com/compoundkb/compoundmcp/internal/errors"
	"github.com/compoundkb/compoundmcp/internal/logging"
	"github.com/compoundkb/compoundmcp/internal/preflight"
	"github.com/compoundkb/compoundmcp/internal/reconcile"
	"github.com/compoundkb/compoundmcp/internal/store"
	"github.com/compoundkb/compoundmcp/internal/tenant"
)

// DefaultBranch is assumed when the client does not name one.
const DefaultBranch = "main"

// Purger is the cache-invalidation slice of the embedder. The cached
// embedder implements it; raw clients do not and that is fine.
type Purger interface {
	Purge()
}

// Config wires an Engine from process-lifetime collaborators.
type Config struct {
	Store    store.Store
	Embedder embed.Embedder
	Chat     chat.Generator
	Engine   *config.Engine
	Provider *config.Provider
	State    *tenant.State
	LockDir  string
	Logger   *slog.Logger
}

// Engine owns the active session and serializes lifecycle transitions.
type Engine struct {
	store    store.Store
	embedder embed.Embedder
	chat     chat.Generator
	engine   *config.Engine
	provider *config.Provider
	state    *tenant.State
	lockDir  string
	logger   *slog.Logger

	// opMu serializes Activate/Deactivate/Shutdown; mu guards session
	// reads from the query paths.
	opMu    sync.Mutex
	mu      sync.RWMutex
	session *session
}

// New builds an engine.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Provider == nil {
		cfg.Provider = config.NewProvider()
	}
	if cfg.State == nil {
		cfg.State = tenant.NewState()
	}
	return &Engine{
		store:    cfg.Store,
		embedder: cfg.Embedder,
		chat:     cfg.Chat,
		engine:   cfg.Engine,
		provider: cfg.Provider,
		state:    cfg.State,
		lockDir:  cfg.LockDir,
		logger:   cfg.Logger,
	}
}

// Result reports what one activation did.
type Result struct {
	ProjectName   string          `json:"project_name"`
	BranchName    string          `json:"branch_name"`
	PathHash      string          `json:"path_hash"`
	DocsRoot      string          `json:"docs_root"`
	Stats         reconcile.Stats `json:"stats"`
	ExternalStats reconcile.Stats `json:"external_stats,omitempty"`
	Warnings      []string        `json:"warnings,omitempty"`
}

// Activate loads the project config at configPath and brings the project
// online for branchName. An already-active project is deactivated first;
// a failure at any step leaves the engine with no active project.
func (e *Engine) Activate(ctx context.Context, configPath, branchName string) (*Result, error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	start := time.Now()
	if branchName == "" {
		branchName = DefaultBranch
	}

	configPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, enginerr.Wrap(enginerr.CodeFileSystemError, "could not resolve config path", err)
	}
	if _, err := os.Stat(configPath); err != nil {
		if os.IsNotExist(err) {
			return nil, enginerr.Newf(enginerr.CodeConfigNotFound,
				"project config not found at %s", configPath).
				WithDetail("config_path", configPath).
				WithSuggestion("check the path, or create the config file first")
		}
		return nil, enginerr.Wrap(enginerr.CodeFileSystemError, "could not stat project config", err)
	}

	// The config conventionally lives in a dot-prefixed directory inside
	// the repository; the repo root is then its parent. A config in a
	// plain directory makes that directory the root.
	configDir := filepath.Dir(configPath)
	repoRoot := configDir
	if strings.HasPrefix(filepath.Base(configDir), ".") {
		repoRoot = filepath.Dir(configDir)
	}
	pathHash := tenant.PathHash(repoRoot)

	cfg, err := config.LoadProject(configPath)
	if err != nil {
		return nil, enginerr.Wrap(enginerr.CodeInvalidConfig, "project config rejected", err).
			WithDetail("config_path", configPath)
	}

	projectName := cfg.ProjectName
	if projectName == "" {
		projectName = filepath.Base(repoRoot)
	}
	if projectName == "" || projectName == "." || projectName == string(filepath.Separator) {
		projectName = "unknown"
	}

	registry, warnings, err := doctype.NewRegistry(cfg.CustomDocTypes, configDir)
	if err != nil {
		return nil, enginerr.Wrap(enginerr.CodeInvalidConfig, "custom doc types rejected", err).
			WithDetail("config_path", configPath)
	}
	for _, w := range warnings {
		e.logger.Warn("doc type warning", logging.Project(projectName), slog.String("warning", w))
	}

	if prev := e.current(); prev != nil {
		e.logger.Info("switching projects, deactivating previous",
			logging.Project(prev.key.ProjectName))
		e.deactivateLocked(ctx)
	}

	key := tenant.Key{ProjectName: projectName, BranchName: branchName, PathHash: pathHash}
	lock := tenant.NewWorktreeLock(e.lockDir, pathHash)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, enginerr.Wrap(enginerr.CodeFileSystemError, "could not acquire worktree lock", err).
			WithDetail("lock_path", lock.Path())
	}
	if !locked {
		return nil, enginerr.Newf(enginerr.CodeInvalidConfig,
			"worktree %s is already activated by another engine process", repoRoot).
			WithDetail("lock_path", lock.Path()).
			WithSuggestion("deactivate the other process or wait for it to exit")
	}

	fail := func(err error) (*Result, error) {
		_ = lock.Unlock()
		e.provider.Clear()
		return nil, err
	}

	if err := e.store.UpsertWorktree(ctx, pathHash, repoRoot, projectName); err != nil {
		return fail(enginerr.Wrap(enginerr.CodeDatabaseError, "could not record worktree", err))
	}
	if err := e.store.UpsertProjectRecord(ctx, projectName, branchName); err != nil {
		return fail(enginerr.Wrap(enginerr.CodeDatabaseError, "could not record project", err))
	}

	e.provider.Install(cfg, configPath)
	e.purgeCaches()

	switch {
	case e.engine == nil:
		e.logger.Warn("dimension validation unavailable: no engine configuration",
			logging.Project(projectName))
	case e.engine.SkipDimensionCheck:
		e.logger.Warn("dimension validation skipped by configuration",
			logging.Project(projectName))
	default:
		if err := preflight.ValidateDimensions(ctx, e.embedder, e.store, e.engine.EmbeddingDimensions); err != nil {
			return fail(err)
		}
	}

	docsRoot := cfg.DocsRoot
	if !filepath.IsAbs(docsRoot) {
		docsRoot = filepath.Join(repoRoot, docsRoot)
	}
	if err := os.MkdirAll(docsRoot, 0o755); err != nil {
		return fail(enginerr.Wrap(enginerr.CodeFileSystemError, "could not create docs root", err).
			WithDetail("docs_root", docsRoot))
	}

	externalRoot := ""
	if cfg.HasExternalDocs() {
		externalRoot = cfg.ExternalDocs.Path
		if !filepath.IsAbs(externalRoot) {
			externalRoot = filepath.Join(repoRoot, externalRoot)
		}
	}

	s := e.buildSession(cfg, registry, key, lock, docsRoot, externalRoot)

	stats, err := s.reconciler.Run(ctx)
	if err != nil {
		return fail(enginerr.Wrap(enginerr.CodeDatabaseError, "initial reconciliation failed", err))
	}
	extStats, err := s.reconciler.RunExternal(ctx)
	if err != nil {
		return fail(enginerr.Wrap(enginerr.CodeDatabaseError, "external reconciliation failed", err))
	}

	if err := s.start(); err != nil {
		return fail(enginerr.Wrap(enginerr.CodeFileSystemError, "could not start file watcher", err).
			WithDetail("docs_root", docsRoot))
	}

	e.mu.Lock()
	e.session = s
	e.mu.Unlock()
	e.state.SetActive(tenant.Info{
		ConfigPath:  configPath,
		RepoRoot:    repoRoot,
		Key:         key,
		ActivatedAt: time.Now(),
	})

	e.logger.Info("project activated",
		logging.Project(projectName),
		logging.Branch(branchName),
		logging.Elapsed(time.Since(start)),
		slog.String("path_hash", pathHash),
		slog.Int("documents", stats.Created+stats.Updated+stats.Unchanged))

	return &Result{
		ProjectName:   projectName,
		BranchName:    branchName,
		PathHash:      pathHash,
		DocsRoot:      docsRoot,
		Stats:         stats,
		ExternalStats: extStats,
		Warnings:      warnings,
	}, nil
}

// Deactivate stops the active session and releases its resources.
func (e *Engine) Deactivate(ctx context.Context) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	if e.current() == nil {
		return enginerr.New(enginerr.CodeProjectNotActivated, "no project is active").
			WithSuggestion("nothing to deactivate")
	}
	e.deactivateLocked(ctx)
	return nil
}

// deactivateLocked tears down the current session. Caller holds opMu.
func (e *Engine) deactivateLocked(ctx context.Context) {
	e.mu.Lock()
	s := e.session
	e.session = nil
	e.mu.Unlock()
	if s == nil {
		return
	}

	s.stop()

	if err := e.store.TouchTenantRecords(ctx, s.key); err != nil {
		e.logger.Warn("could not update tenant last-seen timestamps",
			logging.Project(s.key.ProjectName),
			slog.String("error", err.Error()))
	}

	e.provider.Clear()
	e.purgeCaches()
	e.state.Clear()

	if err := s.lock.Unlock(); err != nil {
		e.logger.Warn("could not release worktree lock",
			slog.String("lock_path", s.lock.Path()),
			slog.String("error", err.Error()))
	}

	e.logger.Info("project deactivated", logging.Project(s.key.ProjectName),
		logging.Branch(s.key.BranchName))
}

// Shutdown deactivates if needed. Safe to call with no active project.
func (e *Engine) Shutdown(ctx context.Context) {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	e.deactivateLocked(ctx)
}

func (e *Engine) purgeCaches() {
	if p, ok := e.embedder.(Purger); ok {
		p.Purge()
	}
	doctype.FlushSchemaCache()
}

func (e *Engine) current() *session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session
}
