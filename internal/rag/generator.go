// Package rag assembles retrieved documents into a grounded prompt and
// generates an answer through the chat model. Document bodies are read
// from disk at answer time; the store keeps only metadata and vectors.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/compoundkb/compoundmcp/internal/chat"
	"github.com/compoundkb/compoundmcp/internal/logging"
	"github.com/compoundkb/compoundmcp/internal/resilience"
	"github.com/compoundkb/compoundmcp/internal/retrieval"
)

// NoDocumentsAnswer is returned verbatim when nothing relevant fits the
// context window; the chat model is not called.
const NoDocumentsAnswer = "No relevant documents found."

// Token budget defaults.
const (
	DefaultMaxContextTokens       = 8192
	DefaultReservedResponseTokens = 1024
)

const systemPrompt = `You are a knowledge-base assistant answering questions from a project's captured documentation.

Rules:
- Answer using ONLY the documents provided below. Do not invent facts.
- Cite documents by their relative path when you draw on them.
- If the documents do not contain enough information to answer, say so plainly.
- Prefer primary documents; related documents provide supporting context.`

// BodyFunc resolves a document's body text by relative path.
type BodyFunc func(relPath string) (string, error)

// FileBody returns a BodyFunc reading from the docs root on disk.
func FileBody(root string) BodyFunc {
	return func(relPath string) (string, error) {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(relPath)))
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

// EstimateTokens approximates the token count of s. The chat endpoint
// exposes no tokenizer, so budgeting uses the rough 4-chars-per-token
// rule, rounded up.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// Options tunes one answer generation.
type Options struct {
	MaxContextTokens       int
	ReservedResponseTokens int

	// OnDelta, when set, streams answer fragments as they arrive.
	OnDelta func(delta string)
}

func (o Options) withDefaults() Options {
	if o.MaxContextTokens <= 0 {
		o.MaxContextTokens = DefaultMaxContextTokens
	}
	if o.ReservedResponseTokens <= 0 {
		o.ReservedResponseTokens = DefaultReservedResponseTokens
	}
	return o
}

// Result is a generated answer plus the relative paths of every document
// included in the prompt.
type Result struct {
	Answer    string   `json:"answer"`
	Citations []string `json:"citations"`
}

// Generator turns retrieval output into answers.
type Generator struct {
	chat     chat.Generator
	pipeline *resilience.Pipeline
	body     BodyFunc
	logger   *slog.Logger
}

// New builds a generator.
func New(chatGen chat.Generator, pipeline *resilience.Pipeline, body BodyFunc, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		chat:     chatGen,
		pipeline: pipeline,
		body:     body,
		logger:   logger,
	}
}

// Answer builds the grounded prompt from primary and linked documents,
// in that priority order, and generates a response. Documents that do
// not fit the token budget are skipped with a log line; when nothing
// fits at all, NoDocumentsAnswer is returned without a chat call.
func (g *Generator) Answer(ctx context.Context, query string, primary []retrieval.Primary, linked []retrieval.Linked, opts Options) (*Result, error) {
	opts = opts.withDefaults()

	budget := opts.MaxContextTokens - opts.ReservedResponseTokens - EstimateTokens(systemPrompt) - EstimateTokens(query)

	var prompt strings.Builder
	var citations []string

	appendSection := func(heading string, entries []entry) {
		header := "## " + heading + "\n\n"
		wrote := false
		for _, e := range entries {
			block := e.render()
			cost := EstimateTokens(block)
			if !wrote {
				cost += EstimateTokens(header)
			}
			if cost > budget {
				g.logger.Info("document skipped, over token budget",
					logging.DocPath(e.path),
					slog.Int("tokens", EstimateTokens(block)),
					slog.Int("remaining", budget))
				continue
			}
			if !wrote {
				prompt.WriteString(header)
				wrote = true
			}
			prompt.WriteString(block)
			budget -= cost
			citations = append(citations, e.path)
		}
	}

	appendSection("Primary Documents", g.primaryEntries(primary))
	appendSection("Related Documents (via links)", g.linkedEntries(linked))

	if len(citations) == 0 {
		return &Result{Answer: NoDocumentsAnswer}, nil
	}

	prompt.WriteString("## Question\n\n")
	prompt.WriteString(query)
	prompt.WriteString("\n")

	answer, err := resilience.DoValue(ctx, g.pipeline, func(ctx context.Context) (string, error) {
		if opts.OnDelta != nil {
			return g.chat.GenerateStream(ctx, systemPrompt, prompt.String(), opts.OnDelta)
		}
		return g.chat.Generate(ctx, systemPrompt, prompt.String())
	})
	if err != nil {
		return nil, err
	}
	return &Result{Answer: answer, Citations: citations}, nil
}

type entry struct {
	path   string
	header []string
	body   string
}

func (e entry) render() string {
	var b strings.Builder
	b.WriteString("### ")
	b.WriteString(e.path)
	b.WriteString("\n")
	for _, line := range e.header {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(e.body)
	if !strings.HasSuffix(e.body, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

func (g *Generator) primaryEntries(primary []retrieval.Primary) []entry {
	out := make([]entry, 0, len(primary))
	for _, hit := range primary {
		body, err := g.body(hit.Document.RelativePath)
		if err != nil {
			g.logger.Warn("document body unreadable, skipping",
				logging.DocPath(hit.Document.RelativePath),
				slog.String("error", err.Error()))
			continue
		}
		doc := hit.Document
		header := []string{
			"title: " + doc.Title,
			"path: " + doc.RelativePath,
		}
		if doc.DocType != "" {
			header = append(header, "doc_type: "+doc.DocType)
		}
		header = append(header, fmt.Sprintf("relevance: %.2f", hit.Score))
		if doc.Promotion != "" && doc.Promotion != "standard" {
			header = append(header, "promotion: "+doc.Promotion)
		}
		if !doc.UpdatedAt.IsZero() {
			header = append(header, "date: "+doc.UpdatedAt.Format("2006-01-02"))
		}
		out = append(out, entry{path: doc.RelativePath, header: header, body: body})
	}
	return out
}

func (g *Generator) linkedEntries(linked []retrieval.Linked) []entry {
	out := make([]entry, 0, len(linked))
	for _, hit := range linked {
		body, err := g.body(hit.Document.RelativePath)
		if err != nil {
			g.logger.Warn("document body unreadable, skipping",
				logging.DocPath(hit.Document.RelativePath),
				slog.String("error", err.Error()))
			continue
		}
		doc := hit.Document
		header := []string{
			"title: " + doc.Title,
			"path: " + doc.RelativePath,
		}
		if doc.DocType != "" {
			header = append(header, "doc_type: "+doc.DocType)
		}
		header = append(header,
			fmt.Sprintf("relevance: %.2f", hit.Score),
			"linked_from: "+hit.LinkedFrom,
			fmt.Sprintf("link_depth: %d", hit.Depth))
		if doc.Promotion != "" && doc.Promotion != "standard" {
			header = append(header, "promotion: "+doc.Promotion)
		}
		if !doc.UpdatedAt.IsZero() {
			header = append(header, "date: "+doc.UpdatedAt.Format("2006-01-02"))
		}
		out = append(out, entry{path: doc.RelativePath, header: header, body: body})
	}
	return out
}
