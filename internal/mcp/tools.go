package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/compoundkb/compoundmcp/internal/activation"
	"github.com/compoundkb/compoundmcp/internal/logging"
	"github.com/compoundkb/compoundmcp/internal/rag"
	"github.com/compoundkb/compoundmcp/internal/reconcile"
	"github.com/compoundkb/compoundmcp/internal/retrieval"
	"github.com/compoundkb/compoundmcp/internal/store"
)

// filenameConvention documents how capture skills should name new files.
const filenameConvention = "{sanitized-title}-{YYYYMMDD}.md"

// ActivateInput is the input schema for activate_project.
type ActivateInput struct {
	ConfigPath string `json:"config_path" jsonschema:"path to the project's config file"`
	BranchName string `json:"branch_name,omitempty" jsonschema:"branch to scope the tenant to, default main"`
}

// ActivateOutput is the output schema for activate_project.
type ActivateOutput struct {
	ProjectName   string           `json:"project_name"`
	BranchName    string           `json:"branch_name"`
	PathHash      string           `json:"path_hash"`
	DocsRoot      string           `json:"docs_root"`
	Stats         reconcile.Stats  `json:"stats"`
	ExternalStats *reconcile.Stats `json:"external_stats,omitempty"`
	Warnings      []string         `json:"warnings,omitempty"`
}

// DeactivateInput is the input schema for deactivate_project.
type DeactivateInput struct{}

// DeactivateOutput is the output schema for deactivate_project.
type DeactivateOutput struct {
	Deactivated bool `json:"deactivated"`
}

// DocumentResult is one retrieved document in a tool response. Bodies
// are never returned; clients read files through their own tooling.
type DocumentResult struct {
	Path      string  `json:"path"`
	Title     string  `json:"title"`
	DocType   string  `json:"doc_type,omitempty"`
	Promotion string  `json:"promotion,omitempty"`
	Summary   string  `json:"summary,omitempty"`
	Score     float64 `json:"score"`
}

// LinkedResult is a document reached through link expansion.
type LinkedResult struct {
	DocumentResult
	LinkedFrom string `json:"linked_from"`
	LinkDepth  int    `json:"link_depth"`
}

// SearchInput is the input schema for search.
type SearchInput struct {
	Query        string   `json:"query" jsonschema:"the semantic search query"`
	TopK         int      `json:"top_k,omitempty" jsonschema:"maximum primary results, default from project config"`
	MinRelevance *float64 `json:"min_relevance,omitempty" jsonschema:"relevance floor in [0,1]; critical documents bypass it"`
	DocType      string   `json:"doc_type,omitempty" jsonschema:"only return documents of this doc type"`
	Promotion    string   `json:"promotion,omitempty" jsonschema:"only return documents at this promotion level"`
}

// SearchOutput is the output schema for search.
type SearchOutput struct {
	Results []DocumentResult `json:"results"`
}

// RAGQueryInput is the input schema for rag_query.
type RAGQueryInput struct {
	Query         string   `json:"query" jsonschema:"the question to answer from the knowledge base"`
	TopK          int      `json:"top_k,omitempty" jsonschema:"maximum primary documents, default from project config"`
	MinRelevance  *float64 `json:"min_relevance,omitempty" jsonschema:"relevance floor in [0,1]"`
	MaxDepth      *int     `json:"max_depth,omitempty" jsonschema:"link expansion depth, 0 disables"`
	MaxLinkedDocs *int     `json:"max_linked_docs,omitempty" jsonschema:"maximum link-expanded documents"`
	IncludeLinked *bool    `json:"include_linked,omitempty" jsonschema:"include link-expanded context, default true"`
}

// RAGQueryOutput is the output schema for rag_query and
// rag_query_external.
type RAGQueryOutput struct {
	Answer    string           `json:"answer"`
	Citations []string         `json:"citations,omitempty"`
	Sources   []DocumentResult `json:"sources,omitempty"`
	Linked    []LinkedResult   `json:"linked,omitempty"`
}

// ExternalSearchInput is the input schema for search_external_docs.
type ExternalSearchInput struct {
	Query string `json:"query" jsonschema:"the semantic search query"`
	K     int    `json:"k,omitempty" jsonschema:"maximum results, default from project config"`
}

// ExternalSearchOutput is the output schema for search_external_docs.
type ExternalSearchOutput struct {
	Results []DocumentResult `json:"results"`
}

// ExternalRAGInput is the input schema for rag_query_external.
type ExternalRAGInput struct {
	Query string `json:"query" jsonschema:"the question to answer from the external reference docs"`
	K     int    `json:"k,omitempty" jsonschema:"maximum documents, default from project config"`
}

// PromotionInput is the input schema for update_promotion_level.
type PromotionInput struct {
	RelativePath string `json:"relative_path" jsonschema:"document path relative to the docs root"`
	Level        string `json:"level" jsonschema:"standard, important, or critical"`
}

// PromotionOutput is the output schema for update_promotion_level.
type PromotionOutput struct {
	RelativePath string `json:"relative_path"`
	Level        string `json:"level"`
}

// DocTypeResult is one doc type in list_doc_types.
type DocTypeResult struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Folder      string `json:"folder"`
	BuiltIn     bool   `json:"built_in"`
}

// ListDocTypesInput is the input schema for list_doc_types.
type ListDocTypesInput struct{}

// ListDocTypesOutput is the output schema for list_doc_types.
type ListDocTypesOutput struct {
	DocTypes           []DocTypeResult `json:"doc_types"`
	FilenameConvention string          `json:"filename_convention"`
}

// HealthInput is the input schema for health.
type HealthInput struct{}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "activate_project",
		Description: "Activate a project for indexing and retrieval. Loads the project config, reconciles the docs tree into the store, and starts watching for changes. Must be called before any other tool except health.",
	}, s.handleActivate)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "deactivate_project",
		Description: "Deactivate the current project: stop watching, settle in-flight indexing, and release the worktree lock.",
	}, s.handleDeactivate)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Semantic search over the active project's captured documents. Returns the most relevant documents; promoted documents rank ahead at equal relevance. Use rag_query for link-expanded context.",
	}, s.handleSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_query",
		Description: "Answer a question from the active project's captured documents. Retrieves relevant documents, follows their links for context, and generates a grounded answer with citations.",
	}, s.handleRAGQuery)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_external_docs",
		Description: "Semantic search over the read-only external reference docs configured for the project.",
	}, s.handleSearchExternal)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_query_external",
		Description: "Answer a question from the external reference docs. No link expansion; external docs carry no links.",
	}, s.handleRAGQueryExternal)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "update_promotion_level",
		Description: "Set a document's promotion level (standard, important, critical) in both the store and its frontmatter on disk.",
	}, s.handlePromotion)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_doc_types",
		Description: "List the built-in and custom doc types of the active project, with their folders and the filename convention for new captures.",
	}, s.handleListDocTypes)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "health",
		Description: "Report engine health: database and embedding host reachability, circuit breaker state, active project, and pending-indexing counts. Available with or without an active project.",
	}, s.handleHealth)

	s.logger.Debug("MCP tools registered", slog.Int("count", 9))
}

func (s *Server) handleActivate(ctx context.Context, _ *mcp.CallToolRequest, input ActivateInput) (*mcp.CallToolResult, ActivateOutput, error) {
	if strings.TrimSpace(input.ConfigPath) == "" {
		return nil, ActivateOutput{}, fmt.Errorf("config_path is required")
	}

	start := time.Now()
	res, err := s.engine.Activate(ctx, input.ConfigPath, input.BranchName)
	if err != nil {
		return nil, ActivateOutput{}, toolError(err)
	}

	s.logger.Info("tool completed",
		logging.Tool("activate_project"),
		logging.Project(res.ProjectName),
		logging.Elapsed(time.Since(start)))

	out := ActivateOutput{
		ProjectName: res.ProjectName,
		BranchName:  res.BranchName,
		PathHash:    res.PathHash,
		DocsRoot:    res.DocsRoot,
		Stats:       res.Stats,
		Warnings:    res.Warnings,
	}
	if res.ExternalStats != (reconcile.Stats{}) {
		ext := res.ExternalStats
		out.ExternalStats = &ext
	}
	return nil, out, nil
}

func (s *Server) handleDeactivate(ctx context.Context, _ *mcp.CallToolRequest, _ DeactivateInput) (*mcp.CallToolResult, DeactivateOutput, error) {
	if err := s.engine.Deactivate(ctx); err != nil {
		return nil, DeactivateOutput{}, toolError(err)
	}
	return nil, DeactivateOutput{Deactivated: true}, nil
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, SearchOutput{}, fmt.Errorf("query is required")
	}

	// search returns direct hits only; link expansion belongs to rag_query.
	noDepth := 0
	primary, _, err := s.engine.Search(ctx, input.Query, activation.QueryOptions{
		TopK:         input.TopK,
		MinRelevance: input.MinRelevance,
		MaxDepth:     &noDepth,
		DocType:      input.DocType,
		Promotion:    input.Promotion,
	})
	if err != nil {
		return nil, SearchOutput{}, toolError(err)
	}
	return nil, SearchOutput{Results: toDocumentResults(primary)}, nil
}

func (s *Server) handleRAGQuery(ctx context.Context, _ *mcp.CallToolRequest, input RAGQueryInput) (*mcp.CallToolResult, RAGQueryOutput, error) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, RAGQueryOutput{}, fmt.Errorf("query is required")
	}

	opts := activation.QueryOptions{
		TopK:          input.TopK,
		MinRelevance:  input.MinRelevance,
		MaxDepth:      input.MaxDepth,
		MaxLinkedDocs: input.MaxLinkedDocs,
	}
	if input.IncludeLinked != nil && !*input.IncludeLinked {
		zero := 0
		opts.MaxDepth = &zero
	}

	res, primary, linked, err := s.engine.RAGQuery(ctx, input.Query, opts, rag.Options{})
	if err != nil {
		return nil, RAGQueryOutput{}, toolError(err)
	}
	return nil, RAGQueryOutput{
		Answer:    res.Answer,
		Citations: res.Citations,
		Sources:   toDocumentResults(primary),
		Linked:    toLinkedResults(linked),
	}, nil
}

func (s *Server) handleSearchExternal(ctx context.Context, _ *mcp.CallToolRequest, input ExternalSearchInput) (*mcp.CallToolResult, ExternalSearchOutput, error) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, ExternalSearchOutput{}, fmt.Errorf("query is required")
	}

	primary, err := s.engine.SearchExternal(ctx, input.Query, activation.QueryOptions{TopK: input.K})
	if err != nil {
		return nil, ExternalSearchOutput{}, toolError(err)
	}
	return nil, ExternalSearchOutput{Results: toDocumentResults(primary)}, nil
}

func (s *Server) handleRAGQueryExternal(ctx context.Context, _ *mcp.CallToolRequest, input ExternalRAGInput) (*mcp.CallToolResult, RAGQueryOutput, error) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, RAGQueryOutput{}, fmt.Errorf("query is required")
	}

	res, primary, err := s.engine.RAGQueryExternal(ctx, input.Query, activation.QueryOptions{TopK: input.K}, rag.Options{})
	if err != nil {
		return nil, RAGQueryOutput{}, toolError(err)
	}
	return nil, RAGQueryOutput{
		Answer:    res.Answer,
		Citations: res.Citations,
		Sources:   toDocumentResults(primary),
	}, nil
}

func (s *Server) handlePromotion(ctx context.Context, _ *mcp.CallToolRequest, input PromotionInput) (*mcp.CallToolResult, PromotionOutput, error) {
	if strings.TrimSpace(input.RelativePath) == "" {
		return nil, PromotionOutput{}, fmt.Errorf("relative_path is required")
	}
	if strings.TrimSpace(input.Level) == "" {
		return nil, PromotionOutput{}, fmt.Errorf("level is required")
	}

	if err := s.engine.Promote(ctx, input.RelativePath, input.Level); err != nil {
		return nil, PromotionOutput{}, toolError(err)
	}
	return nil, PromotionOutput{RelativePath: input.RelativePath, Level: input.Level}, nil
}

func (s *Server) handleListDocTypes(ctx context.Context, _ *mcp.CallToolRequest, _ ListDocTypesInput) (*mcp.CallToolResult, ListDocTypesOutput, error) {
	types, err := s.engine.DocTypes()
	if err != nil {
		return nil, ListDocTypesOutput{}, toolError(err)
	}

	out := ListDocTypesOutput{
		DocTypes:           make([]DocTypeResult, 0, len(types)),
		FilenameConvention: filenameConvention,
	}
	for _, dt := range types {
		out.DocTypes = append(out.DocTypes, DocTypeResult{
			Name:        dt.Name,
			Description: dt.Description,
			Folder:      dt.Folder,
			BuiltIn:     dt.BuiltIn,
		})
	}
	return nil, out, nil
}

func (s *Server) handleHealth(ctx context.Context, _ *mcp.CallToolRequest, _ HealthInput) (*mcp.CallToolResult, activation.HealthReport, error) {
	return nil, s.engine.Health(ctx), nil
}

func toDocumentResults(primary []retrieval.Primary) []DocumentResult {
	out := make([]DocumentResult, 0, len(primary))
	for _, hit := range primary {
		out = append(out, toDocumentResult(hit.Document, hit.Score))
	}
	return out
}

func toLinkedResults(linked []retrieval.Linked) []LinkedResult {
	out := make([]LinkedResult, 0, len(linked))
	for _, hit := range linked {
		out = append(out, LinkedResult{
			DocumentResult: toDocumentResult(hit.Document, hit.Score),
			LinkedFrom:     hit.LinkedFrom,
			LinkDepth:      hit.Depth,
		})
	}
	return out
}

func toDocumentResult(doc store.Document, score float64) DocumentResult {
	return DocumentResult{
		Path:      doc.RelativePath,
		Title:     doc.Title,
		DocType:   doc.DocType,
		Promotion: doc.Promotion,
		Summary:   doc.Summary,
		Score:     score,
	}
}
