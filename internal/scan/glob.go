package scan

import (
	"path"
	"strings"
)

// Matcher applies include/exclude globs to slash-separated paths relative
// to the docs root. A path is admitted when it matches at least one
// include pattern and no exclude pattern. An empty include list admits
// nothing.
type Matcher struct {
	include []string
	exclude []string
}

// NewMatcher builds a matcher from configured glob lists. Patterns are
// normalized to forward slashes.
func NewMatcher(include, exclude []string) *Matcher {
	return &Matcher{
		include: normalizePatterns(include),
		exclude: normalizePatterns(exclude),
	}
}

func normalizePatterns(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
		p = strings.TrimPrefix(p, "./")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Admit reports whether a file at relPath passes the configured globs.
func (m *Matcher) Admit(relPath string) bool {
	relPath = ToSlash(relPath)
	if !matchAny(m.include, relPath) {
		return false
	}
	return !matchAny(m.exclude, relPath)
}

// SkipDir reports whether an entire directory subtree can be pruned
// because an exclude pattern covers everything under it. Pruning is an
// optimization only; Admit stays the source of truth per file.
func (m *Matcher) SkipDir(relDir string) bool {
	relDir = ToSlash(relDir)
	for _, pattern := range m.exclude {
		if coversSubtree(pattern, relDir) {
			return true
		}
	}
	return false
}

// coversSubtree reports whether pattern excludes every file under relDir.
// Only subtree-shaped patterns can prune: `dir/**`, `**/name/**`, or a
// bare directory name.
func coversSubtree(pattern, relDir string) bool {
	if trimmed, ok := strings.CutSuffix(pattern, "/**"); ok {
		if inner, nested := strings.CutPrefix(trimmed, "**/"); nested {
			for _, seg := range strings.Split(relDir, "/") {
				if seg == inner {
					return true
				}
			}
			return false
		}
		return relDir == trimmed || strings.HasPrefix(relDir, trimmed+"/")
	}
	return relDir == pattern || strings.HasPrefix(relDir, pattern+"/")
}

func matchAny(patterns []string, relPath string) bool {
	for _, pattern := range patterns {
		if Match(pattern, relPath) {
			return true
		}
	}
	return false
}

// Match reports whether the slash-separated relPath matches pattern.
// Within a segment the syntax is path.Match (`*`, `?`, character
// classes); a `**` segment spans zero or more whole segments.
func Match(pattern, relPath string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(relPath, "/"))
}

func matchSegments(pattern, segs []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			// Collapse consecutive ** segments.
			for len(pattern) > 0 && pattern[0] == "**" {
				pattern = pattern[1:]
			}
			if len(pattern) == 0 {
				return true
			}
			for i := 0; i <= len(segs); i++ {
				if matchSegments(pattern, segs[i:]) {
					return true
				}
			}
			return false
		}
		if len(segs) == 0 {
			return false
		}
		ok, err := path.Match(pattern[0], segs[0])
		if err != nil || !ok {
			return false
		}
		pattern = pattern[1:]
		segs = segs[1:]
	}
	return len(segs) == 0
}

// ToSlash normalizes OS path separators to forward slashes. Relative
// paths are stored and matched in slash form on every platform.
func ToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}
