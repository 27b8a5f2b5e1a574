package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultDocsRootName is the directory name the docs root defaults to,
// resolved relative to the repository root.
const DefaultDocsRootName = "csharp-compounding-docs"

// Project is the per-project configuration loaded at activation. Field names
// match the on-disk config file; the file may be JSON (the convention) or
// YAML by extension.
type Project struct {
	ProjectName     string         `yaml:"project_name" json:"project_name"`
	DocsRoot        string         `yaml:"docs_root" json:"docs_root"`
	IncludePatterns []string       `yaml:"include_patterns" json:"include_patterns"`
	ExcludePatterns []string       `yaml:"exclude_patterns" json:"exclude_patterns"`
	FileWatcher     FileWatcher    `yaml:"file_watcher" json:"file_watcher"`
	LinkResolution  LinkResolution `yaml:"link_resolution" json:"link_resolution"`
	Retrieval       Retrieval      `yaml:"retrieval" json:"retrieval"`
	ExternalDocs    *ExternalDocs  `yaml:"external_docs,omitempty" json:"external_docs,omitempty"`
	CustomDocTypes  []CustomType   `yaml:"custom_doc_types" json:"custom_doc_types"`
	Resilience      Resilience     `yaml:"resilience" json:"resilience"`
}

// FileWatcher configures the debouncer.
type FileWatcher struct {
	// DebounceMS is the per-path coalescing window in milliseconds.
	// Clamped to [100, 5000].
	DebounceMS int `yaml:"debounce_ms" json:"debounce_ms"`
}

// LinkResolution configures link-graph traversal.
type LinkResolution struct {
	// MaxDepth bounds BFS link expansion; 0 disables link following.
	MaxDepth int `yaml:"max_depth" json:"max_depth"`
}

// Retrieval configures the retrieval planner defaults.
type Retrieval struct {
	TopK              int     `yaml:"top_k" json:"top_k"`
	MinRelevanceScore float64 `yaml:"min_relevance_score" json:"min_relevance_score"`
	MaxLinkedDocs     int     `yaml:"max_linked_docs" json:"max_linked_docs"`
}

// ExternalDocs configures the read-only reference tree. Absence means the
// external-docs tools fail with EXTERNAL_DOCS_NOT_CONFIGURED.
type ExternalDocs struct {
	Path            string   `yaml:"path" json:"path"`
	IncludePatterns []string `yaml:"include_patterns" json:"include_patterns"`
	ExcludePatterns []string `yaml:"exclude_patterns" json:"exclude_patterns"`
}

// CustomType registers a project-specific doc type.
type CustomType struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Folder      string `yaml:"folder" json:"folder"`
	SchemaFile  string `yaml:"schema_file" json:"schema_file"`
}

// Resilience configures the pipeline around the embedding/chat host.
type Resilience struct {
	// MaxConcurrency is the permit count of the concurrency limiter.
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency"`
	// MaxQueueDepth bounds the limiter's FIFO wait queue.
	MaxQueueDepth int `yaml:"max_queue_depth" json:"max_queue_depth"`
	// RetryMaxAttempts caps retry attempts on transient HTTP errors.
	RetryMaxAttempts int `yaml:"retry_max_attempts" json:"retry_max_attempts"`
	// SamplingDurationMS is the circuit breaker's sliding window.
	SamplingDurationMS int `yaml:"sampling_duration_ms" json:"sampling_duration_ms"`
	// MinThroughput is the minimum samples in the window before the
	// failure ratio is evaluated.
	MinThroughput int `yaml:"min_throughput" json:"min_throughput"`
	// FailureRatio opens the circuit when exceeded.
	FailureRatio float64 `yaml:"failure_ratio" json:"failure_ratio"`
	// BreakDurationMS is how long the circuit stays open.
	BreakDurationMS int `yaml:"break_duration_ms" json:"break_duration_ms"`
}

// SamplingDuration returns the breaker window as a duration.
func (r Resilience) SamplingDuration() time.Duration {
	return time.Duration(r.SamplingDurationMS) * time.Millisecond
}

// BreakDuration returns the open-state duration.
func (r Resilience) BreakDuration() time.Duration {
	return time.Duration(r.BreakDurationMS) * time.Millisecond
}

// DebounceWindow returns the debounce window as a duration.
func (f FileWatcher) DebounceWindow() time.Duration {
	return time.Duration(f.DebounceMS) * time.Millisecond
}

// NewProject returns a Project with all defaults applied.
func NewProject() *Project {
	return &Project{
		DocsRoot:        "./" + DefaultDocsRootName,
		IncludePatterns: []string{"**/*.md"},
		ExcludePatterns: []string{},
		FileWatcher:     FileWatcher{DebounceMS: 500},
		LinkResolution:  LinkResolution{MaxDepth: 2},
		Retrieval: Retrieval{
			TopK:              10,
			MinRelevanceScore: 0.7,
			MaxLinkedDocs:     5,
		},
		Resilience: Resilience{
			MaxConcurrency:     2,
			MaxQueueDepth:      10,
			RetryMaxAttempts:   3,
			SamplingDurationMS: 30_000,
			MinThroughput:      5,
			FailureRatio:       0.5,
			BreakDurationMS:    30_000,
		},
	}
}

// LoadProject reads and validates the project config at path. The format is
// chosen by extension: .yaml/.yml parse as YAML, everything else as JSON.
func LoadProject(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read project config %s: %w", path, err)
	}

	var parsed Project
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return nil, fmt.Errorf("failed to parse project config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &parsed); err != nil {
			return nil, fmt.Errorf("failed to parse project config %s: %w", path, err)
		}
	}

	cfg := NewProject()
	cfg.mergeWith(&parsed)
	cfg.clamp()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeWith merges non-zero values from other into c.
func (c *Project) mergeWith(other *Project) {
	if other.ProjectName != "" {
		c.ProjectName = other.ProjectName
	}
	if other.DocsRoot != "" {
		c.DocsRoot = other.DocsRoot
	}
	if len(other.IncludePatterns) > 0 {
		c.IncludePatterns = other.IncludePatterns
	}
	if len(other.ExcludePatterns) > 0 {
		c.ExcludePatterns = other.ExcludePatterns
	}
	if other.FileWatcher.DebounceMS != 0 {
		c.FileWatcher.DebounceMS = other.FileWatcher.DebounceMS
	}
	if other.LinkResolution.MaxDepth != 0 {
		c.LinkResolution.MaxDepth = other.LinkResolution.MaxDepth
	}
	if other.Retrieval.TopK != 0 {
		c.Retrieval.TopK = other.Retrieval.TopK
	}
	if other.Retrieval.MinRelevanceScore != 0 {
		c.Retrieval.MinRelevanceScore = other.Retrieval.MinRelevanceScore
	}
	if other.Retrieval.MaxLinkedDocs != 0 {
		c.Retrieval.MaxLinkedDocs = other.Retrieval.MaxLinkedDocs
	}
	if other.ExternalDocs != nil {
		copied := *other.ExternalDocs
		c.ExternalDocs = &copied
	}
	if len(other.CustomDocTypes) > 0 {
		c.CustomDocTypes = other.CustomDocTypes
	}
	if other.Resilience.MaxConcurrency != 0 {
		c.Resilience.MaxConcurrency = other.Resilience.MaxConcurrency
	}
	if other.Resilience.MaxQueueDepth != 0 {
		c.Resilience.MaxQueueDepth = other.Resilience.MaxQueueDepth
	}
	if other.Resilience.RetryMaxAttempts != 0 {
		c.Resilience.RetryMaxAttempts = other.Resilience.RetryMaxAttempts
	}
	if other.Resilience.SamplingDurationMS != 0 {
		c.Resilience.SamplingDurationMS = other.Resilience.SamplingDurationMS
	}
	if other.Resilience.MinThroughput != 0 {
		c.Resilience.MinThroughput = other.Resilience.MinThroughput
	}
	if other.Resilience.FailureRatio != 0 {
		c.Resilience.FailureRatio = other.Resilience.FailureRatio
	}
	if other.Resilience.BreakDurationMS != 0 {
		c.Resilience.BreakDurationMS = other.Resilience.BreakDurationMS
	}
}

// clamp forces out-of-range values into their documented bounds.
func (c *Project) clamp() {
	if c.FileWatcher.DebounceMS < 100 {
		c.FileWatcher.DebounceMS = 100
	}
	if c.FileWatcher.DebounceMS > 5000 {
		c.FileWatcher.DebounceMS = 5000
	}
	if c.LinkResolution.MaxDepth < 0 {
		c.LinkResolution.MaxDepth = 0
	}
	if c.Retrieval.MaxLinkedDocs < 0 {
		c.Retrieval.MaxLinkedDocs = 0
	}
}

// Validate checks value ranges that cannot be silently clamped.
func (c *Project) Validate() error {
	if c.Retrieval.MinRelevanceScore < 0 || c.Retrieval.MinRelevanceScore > 1 {
		return fmt.Errorf("retrieval.min_relevance_score must be in [0, 1], got %g", c.Retrieval.MinRelevanceScore)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Resilience.FailureRatio <= 0 || c.Resilience.FailureRatio > 1 {
		return fmt.Errorf("resilience.failure_ratio must be in (0, 1], got %g", c.Resilience.FailureRatio)
	}
	if c.ExternalDocs != nil && c.ExternalDocs.Path == "" {
		return fmt.Errorf("external_docs.path must not be empty when external_docs is configured")
	}
	return nil
}

// HasExternalDocs reports whether an external docs tree is configured.
func (c *Project) HasExternalDocs() bool {
	return c.ExternalDocs != nil && c.ExternalDocs.Path != ""
}

// ExternalInclude returns the external tree's include globs, defaulting to
// the markdown-only pattern the docs root uses.
func (c *Project) ExternalInclude() []string {
	if c.ExternalDocs == nil || len(c.ExternalDocs.IncludePatterns) == 0 {
		return []string{"**/*.md"}
	}
	return c.ExternalDocs.IncludePatterns
}

// ExternalExclude returns the external tree's exclude globs.
func (c *Project) ExternalExclude() []string {
	if c.ExternalDocs == nil {
		return nil
	}
	return c.ExternalDocs.ExcludePatterns
}
