// Package chunk splits long markdown documents into section chunks for
// embedding. Short documents are embedded whole and produce no chunks.
package chunk

import (
	"regexp"
	"strings"

	"github.com/compoundkb/compoundmcp/internal/parse"
)

// DefaultLineThreshold is the body line count above which a document is
// chunked.
const DefaultLineThreshold = 500

// Chunk is one section of a chunked document. Tenant keys and promotion
// level are stamped on by the indexer when the chunk rows are written; the
// document row is the single source for both.
type Chunk struct {
	// Index increases from 0 in document order.
	Index int
	// HeaderPath is the H2/H3 section path at the chunk's first line,
	// in the form "## A > ### B". Empty for content before the first
	// section header.
	HeaderPath string
	// Content is the chunk body, trimmed of trailing blank lines.
	Content string
	// StartLine is the 0-based file line where the chunk begins.
	StartLine int
}

// Matches chunk boundaries: H2 and H3 headers. Deeper headers stay inside
// their containing chunk.
var boundaryPattern = regexp.MustCompile(`^(##|###)\s+.+$`)

// Matches a fence delimiter line
var fencePattern = regexp.MustCompile("^\\s{0,3}(```|~~~)")

// Matches any header line, used to detect sections with no body content.
var headerLinePattern = regexp.MustCompile(`^#{1,6}\s+.+$`)

// Chunker splits parsed documents at section boundaries.
type Chunker struct {
	threshold int
}

// New returns a chunker with the default line threshold.
func New() *Chunker {
	return NewWithThreshold(DefaultLineThreshold)
}

// NewWithThreshold returns a chunker splitting documents whose body exceeds
// threshold lines.
func NewWithThreshold(threshold int) *Chunker {
	if threshold <= 0 {
		threshold = DefaultLineThreshold
	}
	return &Chunker{threshold: threshold}
}

// Split returns the document's chunks, or nil when the body is at or under
// the line threshold. Splits happen at every H2/H3 header outside fenced
// code; a section holding nothing but header lines is skipped.
func (c *Chunker) Split(res *parse.Result) []Chunk {
	lines := strings.Split(res.Body, "\n")
	if len(lines) <= c.threshold {
		return nil
	}

	type section struct {
		start int // body line index
		lines []string
	}

	var sections []*section
	current := &section{start: 0}
	inFence := false
	fenceMarker := ""

	for i, line := range lines {
		if m := fencePattern.FindStringSubmatch(line); m != nil {
			if !inFence {
				inFence = true
				fenceMarker = m[1]
			} else if m[1] == fenceMarker {
				inFence = false
			}
			current.lines = append(current.lines, line)
			continue
		}
		if !inFence && boundaryPattern.MatchString(line) {
			sections = append(sections, current)
			current = &section{start: i}
		}
		current.lines = append(current.lines, line)
	}
	sections = append(sections, current)

	chunks := make([]Chunk, 0, len(sections))
	for _, sec := range sections {
		content := strings.TrimRight(strings.Join(sec.lines, "\n"), "\n ")
		if emptySection(content) {
			continue
		}
		fileLine := res.BodyStartLine + sec.start
		headerPath := ""
		if fileLine < len(res.HeaderPaths) {
			headerPath = res.HeaderPaths[fileLine]
		}
		chunks = append(chunks, Chunk{
			Index:      len(chunks),
			HeaderPath: headerPath,
			Content:    content,
			StartLine:  fileLine,
		})
	}
	return chunks
}

// emptySection reports whether a section holds nothing beyond header
// lines. A preamble that is only the document's H1, or a boundary header
// with no body, produces no chunk.
func emptySection(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || headerLinePattern.MatchString(trimmed) {
			continue
		}
		return false
	}
	return true
}
