package activation

import (
	"context"

	"github.com/compoundkb/compoundmcp/internal/doctype"
	enginerr "github.com/compoundkb/compoundmcp/internal/errors"
	"github.com/compoundkb/compoundmcp/internal/rag"
	"github.com/compoundkb/compoundmcp/internal/resilience"
	"github.com/compoundkb/compoundmcp/internal/retrieval"
	"github.com/compoundkb/compoundmcp/internal/watcher"
)

// QueryOptions carries per-call overrides; zero/nil fields fall back to
// the active project's config.
type QueryOptions struct {
	TopK          int
	MinRelevance  *float64
	MaxDepth      *int
	MaxLinkedDocs *int
	DocType       string
	Promotion     string
}

func (e *Engine) active() (*session, error) {
	s := e.current()
	if s == nil {
		return nil, enginerr.New(enginerr.CodeProjectNotActivated, "no project is active").
			WithSuggestion("call activate_project with the project's config path first")
	}
	return s, nil
}

// Search retrieves primary and link-expanded documents for a query.
func (e *Engine) Search(ctx context.Context, query string, opts QueryOptions) ([]retrieval.Primary, []retrieval.Linked, error) {
	s, err := e.active()
	if err != nil {
		return nil, nil, err
	}
	return s.planner.Retrieve(ctx, s.key, query, s.retrievalOptions(opts))
}

// RAGQuery retrieves context and generates a grounded answer.
func (e *Engine) RAGQuery(ctx context.Context, query string, opts QueryOptions, ragOpts rag.Options) (*rag.Result, []retrieval.Primary, []retrieval.Linked, error) {
	s, err := e.active()
	if err != nil {
		return nil, nil, nil, err
	}
	primary, linked, err := s.planner.Retrieve(ctx, s.key, query, s.retrievalOptions(opts))
	if err != nil {
		return nil, nil, nil, err
	}
	res, err := s.rag.Answer(ctx, query, primary, linked, ragOpts)
	if err != nil {
		return nil, nil, nil, err
	}
	return res, primary, linked, nil
}

// SearchExternal searches the read-only external reference collections.
func (e *Engine) SearchExternal(ctx context.Context, query string, opts QueryOptions) ([]retrieval.Primary, error) {
	s, err := e.active()
	if err != nil {
		return nil, err
	}
	if !s.cfg.HasExternalDocs() {
		return nil, externalNotConfigured()
	}
	return s.planner.RetrieveExternal(ctx, s.key, query, s.retrievalOptions(opts))
}

// RAGQueryExternal answers a question from the external reference docs.
func (e *Engine) RAGQueryExternal(ctx context.Context, query string, opts QueryOptions, ragOpts rag.Options) (*rag.Result, []retrieval.Primary, error) {
	s, err := e.active()
	if err != nil {
		return nil, nil, err
	}
	if !s.cfg.HasExternalDocs() || s.ragExternal == nil {
		return nil, nil, externalNotConfigured()
	}
	primary, err := s.planner.RetrieveExternal(ctx, s.key, query, s.retrievalOptions(opts))
	if err != nil {
		return nil, nil, err
	}
	res, err := s.ragExternal.Answer(ctx, query, primary, nil, ragOpts)
	if err != nil {
		return nil, nil, err
	}
	return res, primary, nil
}

// Promote changes a document's promotion level in the store and in its
// frontmatter on disk.
func (e *Engine) Promote(ctx context.Context, relativePath, level string) error {
	s, err := e.active()
	if err != nil {
		return err
	}
	return s.indexer.Promote(ctx, relativePath, level)
}

// DocTypes lists the built-in and custom doc types of the active project.
func (e *Engine) DocTypes() ([]doctype.Type, error) {
	s, err := e.active()
	if err != nil {
		return nil, err
	}
	return s.registry.All(), nil
}

func externalNotConfigured() error {
	return enginerr.New(enginerr.CodeExternalDocsNotConfigured,
		"the active project has no external docs configured").
		WithSuggestion("add an external_docs section to the project config")
}

// ComponentStatus is one dependency's health.
type ComponentStatus struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// HealthReport is a point-in-time snapshot of the engine. Available
// whether or not a project is active; session fields are nil when idle.
type HealthReport struct {
	Active      bool   `json:"active"`
	ProjectName string `json:"project_name,omitempty"`
	BranchName  string `json:"branch_name,omitempty"`
	PathHash    string `json:"path_hash,omitempty"`
	DocsRoot    string `json:"docs_root,omitempty"`

	Database  ComponentStatus `json:"database"`
	Embedding ComponentStatus `json:"embedding"`

	EmbeddingPipeline *resilience.Health `json:"embedding_pipeline,omitempty"`
	ChatPipeline      *resilience.Health `json:"chat_pipeline,omitempty"`
	Indexing          *watcher.Status    `json:"indexing,omitempty"`
	DroppedEvents     int64              `json:"dropped_events,omitempty"`
	PollingWatcher    bool               `json:"polling_watcher,omitempty"`
}

// Health reports engine and session health. Never errors; outages show
// up as unhealthy components.
func (e *Engine) Health(ctx context.Context) HealthReport {
	report := HealthReport{
		Database:  ComponentStatus{Healthy: true},
		Embedding: ComponentStatus{Healthy: true},
	}

	if err := e.store.Ping(ctx); err != nil {
		report.Database = ComponentStatus{Healthy: false, Error: err.Error()}
	}
	if !e.embedder.Available(ctx) {
		report.Embedding = ComponentStatus{Healthy: false, Error: "embedding host unavailable"}
	}

	s := e.current()
	if s == nil {
		return report
	}

	report.Active = true
	report.ProjectName = s.key.ProjectName
	report.BranchName = s.key.BranchName
	report.PathHash = s.key.PathHash
	report.DocsRoot = s.docsRoot

	embedHealth := s.embedPipe.Health()
	chatHealth := s.chatPipe.Health()
	indexing := s.tracker.Status()
	report.EmbeddingPipeline = &embedHealth
	report.ChatPipeline = &chatHealth
	report.Indexing = &indexing
	report.DroppedEvents = s.watch.Dropped()
	report.PollingWatcher = s.watch.Polling()
	return report
}
