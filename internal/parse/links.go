package parse

import (
	"regexp"
	"strings"
)

// TargetType classifies where a link points.
type TargetType string

const (
	TargetInternalDocument           TargetType = "internal_document"
	TargetInternalAnchor             TargetType = "internal_anchor"
	TargetInternalDocumentWithAnchor TargetType = "internal_document_with_anchor"
	TargetExternalHTTP               TargetType = "external_http"
	TargetExternalEmail              TargetType = "external_email"
	TargetExternalTel                TargetType = "external_tel"
	TargetExternalOther              TargetType = "external_other"
	TargetDataURL                    TargetType = "data_url"
	TargetInvalid                    TargetType = "invalid"
)

// Internal reports whether the target names another document in the docs
// root. Only these targets become link-graph edges.
func (t TargetType) Internal() bool {
	return t == TargetInternalDocument || t == TargetInternalDocumentWithAnchor
}

// Link is one extracted link occurrence.
type Link struct {
	// RawURL is the target exactly as written (reference links resolve to
	// their definition's URL).
	RawURL string
	// Text is the display text; autolinks and bare URLs repeat the URL.
	Text string
	// Title is the optional link title.
	Title string
	// Line and Column are 0-based file coordinates of the occurrence.
	Line   int
	Column int
	// IsReference marks reference-style links; Label holds the reference
	// label (the display text when the label is implicit).
	IsReference bool
	Label       string
	// Path and Anchor are the split target components for internal links.
	Path   string
	Anchor string
	// Target is the classification of RawURL.
	Target TargetType
	// HeaderPath is the inherited header path at the occurrence line.
	HeaderPath string
}

// Regex patterns for link extraction
var (
	// Matches images, both inline and reference style; extracted first so
	// their spans never surface as links.
	imagePattern = regexp.MustCompile(`!\[[^\]]*\](\([^)]*\)|\[[^\]]*\])`)

	// Matches inline links: [text](url) and [text](url "title")
	inlineLinkPattern = regexp.MustCompile(`\[([^\]]*)\]\(\s*([^)\s]+)(?:\s+"([^"]*)")?\s*\)`)

	// Matches reference usages: [text][label] and [text][]
	refUsagePattern = regexp.MustCompile(`\[([^\]]+)\]\[([^\]]*)\]`)

	// Matches reference definitions: [label]: url "title"
	refDefPattern = regexp.MustCompile(`^\s{0,3}\[([^\]]+)\]:\s*(\S+)(?:\s+"([^"]*)")?\s*$`)

	// Matches autolinks: <http://…>
	autolinkPattern = regexp.MustCompile(`<(https?://[^>\s]+)>`)

	// Matches shortcut references: [label] with no trailing ( or [
	shortcutPattern = regexp.MustCompile(`\[([^\]]+)\]`)

	// Matches bare URLs
	bareURLPattern = regexp.MustCompile(`https?://[^\s<>\[\]()"']+`)

	// Matches a URI scheme prefix
	schemePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.\-]*:`)
)

type refDef struct {
	url   string
	title string
}

// extractLinks scans the body line by line. Fenced code is skipped, images
// are dropped, and each line tracks consumed spans so a URL claimed by one
// pattern is not re-matched by a later one.
func extractLinks(body string, bodyStart int, headerPaths []string) []Link {
	lines := strings.Split(body, "\n")

	// First pass: collect reference definitions and fence state.
	refs := make(map[string]refDef)
	skip := make([]bool, len(lines))
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
			skip[i] = true
			continue
		}
		if inFence {
			skip[i] = true
			continue
		}
		if m := refDefPattern.FindStringSubmatch(line); m != nil {
			refs[strings.ToLower(m[1])] = refDef{url: m[2], title: m[3]}
			skip[i] = true
		}
	}

	var links []Link
	for i, line := range lines {
		if skip[i] {
			continue
		}
		fileLine := bodyStart + i
		headerPath := ""
		if fileLine < len(headerPaths) {
			headerPath = headerPaths[fileLine]
		}
		links = append(links, extractLineLinks(line, fileLine, headerPath, refs)...)
	}
	return links
}

// span marks a consumed byte range within one line.
type span struct{ start, end int }

func overlapsAny(spans []span, start, end int) bool {
	for _, s := range spans {
		if start < s.end && end > s.start {
			return true
		}
	}
	return false
}

func extractLineLinks(line string, fileLine int, headerPath string, refs map[string]refDef) []Link {
	var links []Link
	var consumed []span

	claim := func(start, end int) { consumed = append(consumed, span{start, end}) }

	// Images are consumed silently.
	for _, m := range imagePattern.FindAllStringIndex(line, -1) {
		claim(m[0], m[1])
	}

	// Inline links.
	for _, m := range inlineLinkPattern.FindAllStringSubmatchIndex(line, -1) {
		if overlapsAny(consumed, m[0], m[1]) {
			continue
		}
		claim(m[0], m[1])
		link := Link{
			Text:       line[m[2]:m[3]],
			RawURL:     line[m[4]:m[5]],
			Line:       fileLine,
			Column:     m[0],
			HeaderPath: headerPath,
		}
		if m[6] >= 0 {
			link.Title = line[m[6]:m[7]]
		}
		links = append(links, classify(link))
	}

	// Reference usages with explicit (possibly empty) label.
	for _, m := range refUsagePattern.FindAllStringSubmatchIndex(line, -1) {
		if overlapsAny(consumed, m[0], m[1]) {
			continue
		}
		claim(m[0], m[1])
		text := line[m[2]:m[3]]
		label := line[m[4]:m[5]]
		if label == "" {
			label = text
		}
		def, ok := refs[strings.ToLower(label)]
		if !ok {
			continue
		}
		links = append(links, classify(Link{
			Text:        text,
			RawURL:      def.url,
			Title:       def.title,
			Line:        fileLine,
			Column:      m[0],
			IsReference: true,
			Label:       label,
			HeaderPath:  headerPath,
		}))
	}

	// Autolinks.
	for _, m := range autolinkPattern.FindAllStringSubmatchIndex(line, -1) {
		if overlapsAny(consumed, m[0], m[1]) {
			continue
		}
		claim(m[0], m[1])
		url := line[m[2]:m[3]]
		links = append(links, classify(Link{
			Text:       url,
			RawURL:     url,
			Line:       fileLine,
			Column:     m[0],
			HeaderPath: headerPath,
		}))
	}

	// Shortcut references: [label] that resolves against a definition.
	for _, m := range shortcutPattern.FindAllStringSubmatchIndex(line, -1) {
		if overlapsAny(consumed, m[0], m[1]) {
			continue
		}
		if m[1] < len(line) && (line[m[1]] == '(' || line[m[1]] == '[') {
			continue
		}
		if m[0] > 0 && line[m[0]-1] == '!' {
			continue
		}
		label := line[m[2]:m[3]]
		def, ok := refs[strings.ToLower(label)]
		if !ok {
			continue
		}
		claim(m[0], m[1])
		links = append(links, classify(Link{
			Text:        label,
			RawURL:      def.url,
			Title:       def.title,
			Line:        fileLine,
			Column:      m[0],
			IsReference: true,
			Label:       label,
			HeaderPath:  headerPath,
		}))
	}

	// Bare URLs.
	for _, m := range bareURLPattern.FindAllStringIndex(line, -1) {
		if overlapsAny(consumed, m[0], m[1]) {
			continue
		}
		claim(m[0], m[1])
		url := strings.TrimRight(line[m[0]:m[1]], ".,;:!?")
		links = append(links, classify(Link{
			Text:       url,
			RawURL:     url,
			Line:       fileLine,
			Column:     m[0],
			HeaderPath: headerPath,
		}))
	}

	return links
}

// classify fills Path, Anchor, and Target from RawURL. javascript: targets
// are invalid; data: URLs keep their own class; protocol-relative URLs are
// external HTTP; fragment-only is an in-document anchor; any other
// recognized scheme is external; everything else names a document in the
// docs root.
func classify(link Link) Link {
	raw := strings.TrimSpace(link.RawURL)
	lower := strings.ToLower(raw)

	switch {
	case raw == "":
		link.Target = TargetInvalid
	case strings.HasPrefix(lower, "javascript:"):
		link.Target = TargetInvalid
	case strings.HasPrefix(lower, "data:"):
		link.Target = TargetDataURL
	case strings.HasPrefix(lower, "mailto:"):
		link.Target = TargetExternalEmail
	case strings.HasPrefix(lower, "tel:"):
		link.Target = TargetExternalTel
	case strings.HasPrefix(raw, "//"):
		link.Target = TargetExternalHTTP
	case strings.HasPrefix(raw, "#"):
		link.Anchor = raw[1:]
		link.Target = TargetInternalAnchor
	case schemePattern.MatchString(raw):
		scheme := strings.ToLower(raw[:strings.IndexByte(raw, ':')])
		if scheme == "http" || scheme == "https" {
			link.Target = TargetExternalHTTP
		} else {
			link.Target = TargetExternalOther
		}
	default:
		path, anchor, _ := strings.Cut(raw, "#")
		link.Path = path
		link.Anchor = anchor
		if anchor != "" {
			link.Target = TargetInternalDocumentWithAnchor
		} else {
			link.Target = TargetInternalDocument
		}
	}
	return link
}
