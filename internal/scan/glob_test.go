package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		path    string
		want    bool
	}{
		// Single-segment globs
		{name: "star matches within segment", pattern: "*.md", path: "readme.md", want: true},
		{name: "star does not cross segments", pattern: "*.md", path: "notes/readme.md", want: false},
		{name: "question mark", pattern: "doc?.md", path: "doc1.md", want: true},
		{name: "exact path", pattern: "notes/plan.md", path: "notes/plan.md", want: true},
		{name: "exact path mismatch", pattern: "notes/plan.md", path: "notes/other.md", want: false},

		// Double-star spans
		{name: "doublestar prefix", pattern: "**/*.md", path: "a/b/c/deep.md", want: true},
		{name: "doublestar matches zero segments", pattern: "**/*.md", path: "top.md", want: true},
		{name: "doublestar suffix", pattern: "archive/**", path: "archive/2024/old.md", want: true},
		{name: "doublestar suffix excludes siblings", pattern: "archive/**", path: "current/new.md", want: false},
		{name: "doublestar middle", pattern: "docs/**/api.md", path: "docs/v1/ref/api.md", want: true},
		{name: "doublestar middle zero segments", pattern: "docs/**/api.md", path: "docs/api.md", want: true},
		{name: "bare doublestar matches everything", pattern: "**", path: "any/depth/file.txt", want: true},

		// Extension filtering through doublestar
		{name: "non markdown rejected", pattern: "**/*.md", path: "a/image.png", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.pattern, tt.path))
		})
	}
}

func TestMatcher_Admit(t *testing.T) {
	tests := []struct {
		name    string
		include []string
		exclude []string
		path    string
		want    bool
	}{
		{
			name:    "included markdown",
			include: []string{"**/*.md"},
			path:    "problems/cache.md",
			want:    true,
		},
		{
			name:    "exclude wins over include",
			include: []string{"**/*.md"},
			exclude: []string{"archive/**"},
			path:    "archive/old.md",
			want:    false,
		},
		{
			name:    "empty include admits nothing",
			include: nil,
			path:    "anything.md",
			want:    false,
		},
		{
			name:    "second include pattern",
			include: []string{"*.md", "notes/*.md"},
			path:    "notes/plan.md",
			want:    true,
		},
		{
			name:    "backslash path normalized",
			include: []string{"**/*.md"},
			path:    `notes\plan.md`,
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMatcher(tt.include, tt.exclude)
			assert.Equal(t, tt.want, m.Admit(tt.path))
		})
	}
}

func TestMatcher_SkipDir(t *testing.T) {
	m := NewMatcher([]string{"**/*.md"}, []string{"archive/**", "**/node_modules/**", "tmp"})

	assert.True(t, m.SkipDir("archive"), "subtree exclude prunes the directory itself")
	assert.True(t, m.SkipDir("archive/2024"), "subtree exclude prunes nested directories")
	assert.True(t, m.SkipDir("a/node_modules"), "nested name exclude prunes at any depth")
	assert.True(t, m.SkipDir("tmp"), "bare directory exclude prunes")
	assert.False(t, m.SkipDir("current"), "unrelated directories are walked")
	assert.False(t, m.SkipDir("archived"), "prefix similarity does not prune")
}
