// Package parse turns markdown bytes into frontmatter, body, extracted
// links, and per-line header paths. Parsing is pure; all output lives in
// the Result, so a single parser serves every goroutine.
package parse

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/compoundkb/compoundmcp/internal/doctype"
	enginerr "github.com/compoundkb/compoundmcp/internal/errors"
)

// Regex patterns for markdown structure
var (
	// Matches headers: # Title, ## Title, etc.
	headerPattern = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

	// Matches frontmatter: ---\n...\n---
	frontmatterPattern = regexp.MustCompile(`(?s)^---\n(.+?)\n---\n?`)

	// Matches a fence delimiter line (``` or ~~~, any info string)
	fencePattern = regexp.MustCompile("^\\s{0,3}(```|~~~)")
)

// Result is the full parse of one markdown file.
type Result struct {
	// Frontmatter is the decoded YAML map, nil when the file has no
	// frontmatter block.
	Frontmatter map[string]any
	// Body is the content after the frontmatter block.
	Body string
	// BodyStartLine is the 0-based file line where the body begins.
	BodyStartLine int
	// Links holds every extracted link in file order.
	Links []Link
	// HeaderPaths has one entry per file line: the inherited section
	// path at that line in the form "## A > ### B". Frontmatter lines
	// and lines before the first H2/H3 are "".
	HeaderPaths []string
	// Title resolves frontmatter title, then the first H1, then "".
	Title string
	// LineCount counts lines in the whole file.
	LineCount int
	// CharCount counts characters (runes) in the whole file.
	CharCount int
}

// Parse parses a markdown document. A frontmatter block that is not valid
// YAML is a content error; the caller logs it and skips the file.
func Parse(data []byte) (*Result, error) {
	content := strings.TrimPrefix(string(data), "\uFEFF")
	content = strings.ReplaceAll(content, "\r\n", "\n")

	res := &Result{
		Body:      content,
		CharCount: utf8.RuneCountInString(content),
	}

	if m := frontmatterPattern.FindStringSubmatch(content); m != nil {
		fm := make(map[string]any)
		if err := yaml.Unmarshal([]byte(m[1]), &fm); err != nil {
			return nil, enginerr.Wrap(enginerr.CodeSchemaValidationFailed,
				"frontmatter is not valid YAML", err)
		}
		res.Frontmatter = fm
		res.Body = content[len(m[0]):]
		res.BodyStartLine = strings.Count(m[0], "\n")
	}

	res.LineCount = strings.Count(content, "\n") + 1
	res.HeaderPaths = headerPaths(content, res.BodyStartLine)
	res.Links = extractLinks(res.Body, res.BodyStartLine, res.HeaderPaths)
	res.Title = resolveTitle(res.Frontmatter, res.Body)
	return res, nil
}

// DocType returns the frontmatter type field, or "" for untyped documents.
func (r *Result) DocType() string {
	return stringField(r.Frontmatter, "type")
}

// Summary returns the frontmatter summary field.
func (r *Result) Summary() string {
	return stringField(r.Frontmatter, "summary")
}

// Promotion returns the frontmatter promotion level, defaulting to standard
// when absent or unknown.
func (r *Result) Promotion() doctype.Promotion {
	p, _ := doctype.ParsePromotion(stringField(r.Frontmatter, "promotion_level"))
	return p
}

func stringField(fm map[string]any, key string) string {
	if fm == nil {
		return ""
	}
	s, _ := fm[key].(string)
	return strings.TrimSpace(s)
}

// headerPaths walks the file once and records, for every line, the section
// path inherited at that line. The path tracks the H2/H3 stack with its
// markdown markers ("## A > ### B"); an H1 resets the stack and deeper
// headers stay inside their containing section. A header line carries the
// path that includes itself. Fenced code is opaque: a # inside a fence is
// not a header.
func headerPaths(content string, bodyStart int) []string {
	lines := strings.Split(content, "\n")
	paths := make([]string, len(lines))
	h2, h3 := "", ""
	current := ""
	inFence := false
	fenceMarker := ""

	for i, line := range lines {
		if i < bodyStart {
			continue
		}
		if m := fencePattern.FindStringSubmatch(line); m != nil {
			if !inFence {
				inFence = true
				fenceMarker = m[1]
			} else if m[1] == fenceMarker {
				inFence = false
			}
			paths[i] = current
			continue
		}
		if inFence {
			paths[i] = current
			continue
		}
		if m := headerPattern.FindStringSubmatch(line); m != nil {
			title := strings.TrimSpace(m[2])
			switch len(m[1]) {
			case 1:
				h2, h3 = "", ""
			case 2:
				h2, h3 = "## "+title, ""
			case 3:
				h3 = "### "+title
			}
			current = joinSectionPath(h2, h3)
		}
		paths[i] = current
	}
	return paths
}

func joinSectionPath(h2, h3 string) string {
	switch {
	case h2 == "":
		return h3
	case h3 == "":
		return h2
	default:
		return h2 + " > " + h3
	}
}

// resolveTitle prefers the frontmatter title, then the first H1.
func resolveTitle(fm map[string]any, body string) string {
	if t := stringField(fm, "title"); t != "" {
		return t
	}
	inFence := false
	for _, line := range strings.Split(body, "\n") {
		if fencePattern.MatchString(line) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if m := headerPattern.FindStringSubmatch(line); m != nil && len(m[1]) == 1 {
			return strings.TrimSpace(m[2])
		}
	}
	return ""
}
