package doctype

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeTitle(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{"simple", "Alpha", "alpha"},
		{"spaces and punctuation", "Fix: N+1 queries in OrderService!", "fix-n-1-queries-in-orderservice"},
		{"collapses runs", "a  --  b", "a-b"},
		{"trims edges", "  (draft) retry policy  ", "draft-retry-policy"},
		{"unicode folded to dashes", "café résumé", "caf-r-sum"},
		{"empty becomes untitled", "!!!", "untitled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeTitle(tt.title))
		})
	}
}

func TestSanitizeTitleTruncatesOnDash(t *testing.T) {
	title := strings.Repeat("word-", 20) + "tail"
	got := SanitizeTitle(title)

	assert.LessOrEqual(t, len(got), 60)
	assert.False(t, strings.HasSuffix(got, "-"))
	// The cut lands on a dash boundary, not mid-word.
	assert.True(t, strings.HasSuffix(got, "word"), "got %q", got)
}

func TestSanitizeTitleTruncatesHardWithoutDash(t *testing.T) {
	got := SanitizeTitle(strings.Repeat("x", 80))
	assert.Len(t, got, 60)
}

func TestFilename(t *testing.T) {
	date := time.Date(2025, 1, 24, 15, 4, 5, 0, time.UTC)
	assert.Equal(t, "alpha-20250124.md", Filename("Alpha", date))
	assert.Equal(t, "n-1-queries-20250124.md", Filename("N+1 Queries", date))
}
