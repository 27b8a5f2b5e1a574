package doctype

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const maxSlugLen = 60

var (
	nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)
	dashRuns = regexp.MustCompile(`-{2,}`)
)

// SanitizeTitle converts a document title into its filename slug: lowercase,
// non-alphanumeric runs become single dashes, trimmed, and truncated at 60
// characters breaking on a dash where possible.
func SanitizeTitle(title string) string {
	s := strings.ToLower(title)
	s = nonAlnum.ReplaceAllString(s, "-")
	s = dashRuns.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > maxSlugLen {
		cut := s[:maxSlugLen]
		if i := strings.LastIndexByte(cut, '-'); i > 0 {
			cut = cut[:i]
		}
		s = strings.TrimRight(cut, "-")
	}
	if s == "" {
		return "untitled"
	}
	return s
}

// Filename returns the on-disk name for a newly captured document,
// {sanitized-title}-{YYYYMMDD}.md.
func Filename(title string, date time.Time) string {
	return fmt.Sprintf("%s-%s.md", SanitizeTitle(title), date.Format("20060102"))
}
