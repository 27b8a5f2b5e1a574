package parse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compoundkb/compoundmcp/internal/doctype"
	enginerr "github.com/compoundkb/compoundmcp/internal/errors"
)

func TestParseFrontmatter(t *testing.T) {
	doc := `---
type: problem
title: "Alpha"
date: 2025-01-24
promotion_level: important
tags: [db, retry]
---
# Alpha

Body text.
`
	res, err := Parse([]byte(doc))
	require.NoError(t, err)

	require.NotNil(t, res.Frontmatter)
	assert.Equal(t, "problem", res.DocType())
	assert.Equal(t, "Alpha", res.Title)
	assert.Equal(t, doctype.PromotionImportant, res.Promotion())
	assert.Equal(t, 7, res.BodyStartLine)
	assert.True(t, strings.HasPrefix(res.Body, "# Alpha"))
}

func TestParseNoFrontmatter(t *testing.T) {
	doc := "# Just A Heading\n\nText.\n"
	res, err := Parse([]byte(doc))
	require.NoError(t, err)

	assert.Nil(t, res.Frontmatter)
	assert.Equal(t, 0, res.BodyStartLine)
	assert.Equal(t, doc, res.Body)
	assert.Equal(t, "Just A Heading", res.Title)
	assert.Equal(t, doctype.PromotionStandard, res.Promotion())
	assert.Empty(t, res.DocType())
}

func TestParseInvalidFrontmatterYAML(t *testing.T) {
	doc := "---\ntitle: [unclosed\n---\nbody\n"
	_, err := Parse([]byte(doc))
	require.Error(t, err)
	assert.Equal(t, enginerr.CodeSchemaValidationFailed, enginerr.CodeOf(err))
}

func TestParseNormalizesCRLFAndBOM(t *testing.T) {
	doc := "\uFEFF---\r\ntitle: Windows\r\n---\r\nBody line.\r\n"
	res, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "Windows", res.Title)
	assert.NotContains(t, res.Body, "\r")
}

func TestParseCounts(t *testing.T) {
	doc := "line one\nline two\nline three"
	res, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, 3, res.LineCount)
	assert.Equal(t, len(doc), res.CharCount)
}

func TestHeaderPaths(t *testing.T) {
	doc := `# Top

intro

## Section A

a text

### Deep

deep text

## Section B

b text
`
	res, err := Parse([]byte(doc))
	require.NoError(t, err)

	paths := res.HeaderPaths
	// The H1 and everything above the first H2 carry no section path.
	assert.Equal(t, "", paths[0])
	assert.Equal(t, "", paths[2])
	assert.Equal(t, "## Section A", paths[4])
	assert.Equal(t, "## Section A", paths[6])
	assert.Equal(t, "## Section A > ### Deep", paths[8])
	assert.Equal(t, "## Section A > ### Deep", paths[10])
	// A new H2 clears the stale H3.
	assert.Equal(t, "## Section B", paths[12])
	assert.Equal(t, "## Section B", paths[14])
}

func TestHeaderPathsIgnoreFencedHashes(t *testing.T) {
	doc := "## Real\n\n```bash\n## not a header\n```\n\nafter\n"
	res, err := Parse([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "## Real", res.HeaderPaths[3])
	assert.Equal(t, "## Real", res.HeaderPaths[6])
}

func findLink(t *testing.T, links []Link, raw string) Link {
	t.Helper()
	for _, l := range links {
		if l.RawURL == raw {
			return l
		}
	}
	t.Fatalf("no link with raw url %q in %+v", raw, links)
	return Link{}
}

func TestExtractInlineLinks(t *testing.T) {
	doc := `# Doc

## Refs

See [other](other.md) and [titled](dir/thing.md "The Thing").
`
	res, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, res.Links, 2)

	plain := findLink(t, res.Links, "other.md")
	assert.Equal(t, "other", plain.Text)
	assert.Equal(t, TargetInternalDocument, plain.Target)
	assert.Equal(t, "other.md", plain.Path)
	assert.Equal(t, 4, plain.Line)
	assert.Equal(t, 4, plain.Column)
	assert.Equal(t, "## Refs", plain.HeaderPath)
	assert.False(t, plain.IsReference)

	titled := findLink(t, res.Links, "dir/thing.md")
	assert.Equal(t, "The Thing", titled.Title)
}

func TestExtractReferenceLinks(t *testing.T) {
	doc := `Explicit [text][ref1] and implicit [ref2][] and shortcut [ref3].

[ref1]: target-one.md
[ref2]: target-two.md "Two"
[ref3]: target-three.md
`
	res, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, res.Links, 3)

	explicit := findLink(t, res.Links, "target-one.md")
	assert.True(t, explicit.IsReference)
	assert.Equal(t, "ref1", explicit.Label)
	assert.Equal(t, "text", explicit.Text)

	implicit := findLink(t, res.Links, "target-two.md")
	assert.True(t, implicit.IsReference)
	assert.Equal(t, "ref2", implicit.Label)
	assert.Equal(t, "Two", implicit.Title)

	shortcut := findLink(t, res.Links, "target-three.md")
	assert.True(t, shortcut.IsReference)
	assert.Equal(t, "ref3", shortcut.Label)
}

func TestUnresolvedReferenceIsDropped(t *testing.T) {
	res, err := Parse([]byte("Uses [text][nowhere] only.\n"))
	require.NoError(t, err)
	assert.Empty(t, res.Links)
}

func TestExtractAutolinkAndBareURL(t *testing.T) {
	doc := "Auto <https://example.com/a> and bare https://example.com/b.\n"
	res, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, res.Links, 2)

	auto := findLink(t, res.Links, "https://example.com/a")
	assert.Equal(t, TargetExternalHTTP, auto.Target)
	assert.Equal(t, auto.RawURL, auto.Text)

	// Trailing sentence punctuation is not part of the URL.
	bare := findLink(t, res.Links, "https://example.com/b")
	assert.Equal(t, TargetExternalHTTP, bare.Target)
}

func TestImagesAreFiltered(t *testing.T) {
	doc := "![diagram](arch.png) and ![ref image][img]\n\n[img]: img.png\n"
	res, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Empty(t, res.Links)
}

func TestLinksInFencesAreSkipped(t *testing.T) {
	doc := "```\n[not a link](skip.md)\nhttps://example.com/skip\n```\n\n[real](keep.md)\n"
	res, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, res.Links, 1)
	assert.Equal(t, "keep.md", res.Links[0].RawURL)
}

func TestClassifyTargets(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		target TargetType
		path   string
		anchor string
	}{
		{"internal document", "notes/alpha.md", TargetInternalDocument, "notes/alpha.md", ""},
		{"internal with anchor", "alpha.md#setup", TargetInternalDocumentWithAnchor, "alpha.md", "setup"},
		{"fragment only", "#setup", TargetInternalAnchor, "", "setup"},
		{"http", "http://example.com", TargetExternalHTTP, "", ""},
		{"https", "https://example.com/x", TargetExternalHTTP, "", ""},
		{"protocol relative", "//example.com/x", TargetExternalHTTP, "", ""},
		{"email", "mailto:ops@example.com", TargetExternalEmail, "", ""},
		{"tel", "tel:+15551234567", TargetExternalTel, "", ""},
		{"ftp is other", "ftp://example.com/f", TargetExternalOther, "", ""},
		{"javascript invalid", "javascript:alert(1)", TargetInvalid, "", ""},
		{"data url", "data:text/plain;base64,aGk=", TargetDataURL, "", ""},
		{"empty invalid", "", TargetInvalid, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(Link{RawURL: tt.url})
			assert.Equal(t, tt.target, got.Target)
			assert.Equal(t, tt.path, got.Path)
			assert.Equal(t, tt.anchor, got.Anchor)
		})
	}
}

func TestLinkPositionsAreZeroBased(t *testing.T) {
	doc := "---\ntitle: T\n---\n[first](a.md)\n"
	res, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, res.Links, 1)
	assert.Equal(t, 3, res.Links[0].Line)
	assert.Equal(t, 0, res.Links[0].Column)
}

func TestInlineURLNotDoubleCountedAsBare(t *testing.T) {
	res, err := Parse([]byte("[site](https://example.com/page)\n"))
	require.NoError(t, err)
	require.Len(t, res.Links, 1)
	assert.Equal(t, TargetExternalHTTP, res.Links[0].Target)
}
