// Package retrieval plans tenant-scoped semantic retrieval: embed the
// query, search the vector collections chunk-first, apply promotion and
// relevance rules, then expand through the link graph for related
// context.
package retrieval

import (
	"context"
	"log/slog"
	"sort"

	"github.com/compoundkb/compoundmcp/internal/doctype"
	"github.com/compoundkb/compoundmcp/internal/embed"
	"github.com/compoundkb/compoundmcp/internal/graph"
	"github.com/compoundkb/compoundmcp/internal/logging"
	"github.com/compoundkb/compoundmcp/internal/resilience"
	"github.com/compoundkb/compoundmcp/internal/store"
	"github.com/compoundkb/compoundmcp/internal/tenant"
)

// Defaults applied when Options fields are zero.
const (
	DefaultTopK          = 10
	DefaultMinRelevance  = 0.7
	DefaultMaxDepth      = 2
	DefaultMaxLinkedDocs = 5

	// chunkOverfetch widens the chunk search so that fan-back to parent
	// documents still fills TopK when several chunks of one document hit.
	chunkOverfetch = 4
)

// Options tunes one retrieval.
type Options struct {
	TopK          int
	MinRelevance  float64
	MaxDepth      int
	MaxLinkedDocs int

	// DocType, when set, keeps only primary documents of that type.
	DocType string
	// Promotion, when set, keeps only primary documents at that level.
	Promotion string
}

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.MaxDepth < 0 {
		o.MaxDepth = 0
	}
	if o.MaxLinkedDocs < 0 {
		o.MaxLinkedDocs = 0
	}
	return o
}

// Primary is a directly retrieved document.
type Primary struct {
	Document store.Document
	Score    float64
}

// Linked is a document reached through link expansion from a primary.
type Linked struct {
	Document   store.Document
	Score      float64
	LinkedFrom string
	Depth      int
}

// Planner executes retrievals against one store and link graph.
type Planner struct {
	store    store.Store
	embedder embed.Embedder
	pipeline *resilience.Pipeline
	graph    *graph.Graph
	logger   *slog.Logger
}

// New builds a planner. graph may be nil for external-only use.
func New(st store.Store, embedder embed.Embedder, pipeline *resilience.Pipeline, g *graph.Graph, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		store:    st,
		embedder: embedder,
		pipeline: pipeline,
		graph:    g,
		logger:   logger,
	}
}

// Retrieve embeds the query and returns primary hits plus link-expanded
// context. Chunk hits fan back to their parent documents, keeping the
// best chunk score per document, merged with whole-document hits for
// unchunked corpora.
func (p *Planner) Retrieve(ctx context.Context, key tenant.Key, query string, opts Options) ([]Primary, []Linked, error) {
	opts = opts.withDefaults()

	vec, err := p.embedQuery(ctx, query)
	if err != nil {
		return nil, nil, err
	}

	primary, err := p.searchPrimary(ctx, key, vec, opts, false)
	if err != nil {
		return nil, nil, err
	}

	linked, err := p.expandLinks(ctx, key, primary, opts)
	if err != nil {
		return nil, nil, err
	}

	p.logger.Debug("retrieval complete",
		logging.Project(key.ProjectName),
		slog.Int("primary", len(primary)),
		slog.Int("linked", len(linked)))
	return primary, linked, nil
}

// RetrieveExternal searches the external reference collections. External
// documents carry no links, so there is no expansion.
func (p *Planner) RetrieveExternal(ctx context.Context, key tenant.Key, query string, opts Options) ([]Primary, error) {
	opts = opts.withDefaults()

	vec, err := p.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return p.searchPrimary(ctx, key, vec, opts, true)
}

func (p *Planner) embedQuery(ctx context.Context, query string) ([]float32, error) {
	return resilience.DoValue(ctx, p.pipeline, func(ctx context.Context) ([]float32, error) {
		return p.embedder.Embed(ctx, query)
	})
}

func (p *Planner) searchPrimary(ctx context.Context, key tenant.Key, vec []float32, opts Options, external bool) ([]Primary, error) {
	searchChunks := p.store.SearchChunks
	searchDocs := p.store.SearchDocuments
	getByIDs := p.store.GetDocumentsByIDs
	if external {
		searchChunks = p.store.SearchExternalChunks
		searchDocs = p.store.SearchExternalDocuments
		getByIDs = p.store.GetExternalDocumentsByIDs
	}

	chunkHits, err := searchChunks(ctx, key, vec, opts.TopK*chunkOverfetch)
	if err != nil {
		return nil, err
	}
	// Fan back: best chunk score per parent document.
	bestByDoc := make(map[string]float64)
	for _, hit := range chunkHits {
		if prev, ok := bestByDoc[hit.Chunk.DocumentID]; !ok || hit.Score > prev {
			bestByDoc[hit.Chunk.DocumentID] = hit.Score
		}
	}

	docHits, err := searchDocs(ctx, key, vec, opts.TopK)
	if err != nil {
		return nil, err
	}

	docs := make(map[string]store.Document, len(docHits))
	score := make(map[string]float64, len(docHits))
	for _, hit := range docHits {
		docs[hit.Document.ID] = hit.Document
		score[hit.Document.ID] = hit.Score
	}
	for id, s := range bestByDoc {
		if prev, ok := score[id]; !ok || s > prev {
			score[id] = s
		}
	}

	// Chunk hits whose parents the document search missed.
	var missing []string
	for id := range bestByDoc {
		if _, ok := docs[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		fetched, err := getByIDs(ctx, key, missing)
		if err != nil {
			return nil, err
		}
		for _, d := range fetched {
			docs[d.ID] = *d
		}
	}

	out := make([]Primary, 0, len(docs))
	for id, doc := range docs {
		s := score[id]
		if opts.DocType != "" && doc.DocType != opts.DocType {
			continue
		}
		if opts.Promotion != "" && doc.Promotion != opts.Promotion {
			continue
		}
		// Critical documents bypass the relevance floor.
		if s < opts.MinRelevance && doc.Promotion != string(doctype.PromotionCritical) {
			continue
		}
		out = append(out, Primary{Document: doc, Score: s})
	}

	sort.Slice(out, func(i, j int) bool {
		ri := promotionRank(out[i].Document.Promotion)
		rj := promotionRank(out[j].Document.Promotion)
		if ri != rj {
			return ri > rj
		}
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Document.RelativePath < out[j].Document.RelativePath
	})
	if len(out) > opts.TopK {
		out = out[:opts.TopK]
	}
	return out, nil
}

func (p *Planner) expandLinks(ctx context.Context, key tenant.Key, primary []Primary, opts Options) ([]Linked, error) {
	if p.graph == nil || len(primary) == 0 || opts.MaxDepth == 0 || opts.MaxLinkedDocs == 0 {
		return nil, nil
	}

	seeds := make([]string, len(primary))
	for i, hit := range primary {
		seeds[i] = hit.Document.RelativePath
	}
	visits := p.graph.Traverse(seeds, opts.MaxDepth, opts.MaxLinkedDocs)
	if len(visits) == 0 {
		return nil, nil
	}

	paths := make([]string, len(visits))
	for i, v := range visits {
		paths[i] = v.Path
	}
	fetched, err := p.store.GetDocumentsByPaths(ctx, key, paths)
	if err != nil {
		return nil, err
	}
	byPath := make(map[string]*store.Document, len(fetched))
	for _, d := range fetched {
		byPath[d.RelativePath] = d
	}

	linked := make([]Linked, 0, len(visits))
	for _, v := range visits {
		doc, ok := byPath[v.Path]
		if !ok {
			p.logger.Warn("link expansion dropped unindexed target",
				logging.Project(key.ProjectName),
				logging.DocPath(v.Path),
				slog.String("linked_from", v.LinkedFrom))
			continue
		}
		linked = append(linked, Linked{
			Document:   *doc,
			Score:      LinkScore(v.Depth, doc.Promotion, v.SeedLinkCount),
			LinkedFrom: v.LinkedFrom,
			Depth:      v.Depth,
		})
	}

	sort.Slice(linked, func(i, j int) bool {
		if linked[i].Score != linked[j].Score {
			return linked[i].Score > linked[j].Score
		}
		return linked[i].Document.RelativePath < linked[j].Document.RelativePath
	})
	return linked, nil
}

func promotionRank(promotion string) int {
	level, _ := doctype.ParsePromotion(promotion)
	return level.Rank()
}
