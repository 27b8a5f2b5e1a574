package config

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewProjectDefaults(t *testing.T) {
	cfg := NewProject()

	assert.Equal(t, "./csharp-compounding-docs", cfg.DocsRoot)
	assert.Equal(t, []string{"**/*.md"}, cfg.IncludePatterns)
	assert.Equal(t, 500, cfg.FileWatcher.DebounceMS)
	assert.Equal(t, 2, cfg.LinkResolution.MaxDepth)
	assert.Equal(t, 10, cfg.Retrieval.TopK)
	assert.InDelta(t, 0.7, cfg.Retrieval.MinRelevanceScore, 1e-9)
	assert.Equal(t, 5, cfg.Retrieval.MaxLinkedDocs)
	assert.Equal(t, 2, cfg.Resilience.MaxConcurrency)
	assert.Equal(t, 10, cfg.Resilience.MaxQueueDepth)
	assert.Equal(t, 3, cfg.Resilience.RetryMaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Resilience.SamplingDuration())
	assert.Equal(t, 30*time.Second, cfg.Resilience.BreakDuration())
	assert.Nil(t, cfg.ExternalDocs)
	assert.False(t, cfg.HasExternalDocs())
}

func TestLoadProjectJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"project_name": "order-service",
		"docs_root": "./docs",
		"include_patterns": ["**/*.md", "notes/*.md"],
		"file_watcher": {"debounce_ms": 1000},
		"retrieval": {"top_k": 25},
		"external_docs": {"path": "/mnt/reference"}
	}`)

	cfg, err := LoadProject(path)
	require.NoError(t, err)

	assert.Equal(t, "order-service", cfg.ProjectName)
	assert.Equal(t, "./docs", cfg.DocsRoot)
	assert.Equal(t, []string{"**/*.md", "notes/*.md"}, cfg.IncludePatterns)
	assert.Equal(t, 1000, cfg.FileWatcher.DebounceMS)
	assert.Equal(t, 25, cfg.Retrieval.TopK)
	// Unset fields keep defaults.
	assert.InDelta(t, 0.7, cfg.Retrieval.MinRelevanceScore, 1e-9)
	assert.Equal(t, 5, cfg.Retrieval.MaxLinkedDocs)
	require.True(t, cfg.HasExternalDocs())
	assert.Equal(t, "/mnt/reference", cfg.ExternalDocs.Path)
	assert.Equal(t, []string{"**/*.md"}, cfg.ExternalInclude())
}

func TestLoadProjectYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
project_name: billing
link_resolution:
  max_depth: 3
resilience:
  max_concurrency: 4
  failure_ratio: 0.25
custom_doc_types:
  - name: runbook
    description: Operational runbooks
    folder: runbooks
    schema_file: schemas/runbook.json
`)

	cfg, err := LoadProject(path)
	require.NoError(t, err)

	assert.Equal(t, "billing", cfg.ProjectName)
	assert.Equal(t, 3, cfg.LinkResolution.MaxDepth)
	assert.Equal(t, 4, cfg.Resilience.MaxConcurrency)
	assert.InDelta(t, 0.25, cfg.Resilience.FailureRatio, 1e-9)
	require.Len(t, cfg.CustomDocTypes, 1)
	assert.Equal(t, "runbook", cfg.CustomDocTypes[0].Name)
	assert.Equal(t, "runbooks", cfg.CustomDocTypes[0].Folder)
}

func TestLoadProjectClampsDebounce(t *testing.T) {
	tests := []struct {
		name string
		ms   int
		want int
	}{
		{"below floor", 10, 100},
		{"above ceiling", 60000, 5000},
		{"in range", 750, 750},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "config.json",
				`{"file_watcher": {"debounce_ms": `+strconv.Itoa(tt.ms)+`}}`)
			cfg, err := LoadProject(path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.FileWatcher.DebounceMS)
		})
	}
}

func TestLoadProjectRejectsBadScore(t *testing.T) {
	path := writeConfig(t, "config.json", `{"retrieval": {"min_relevance_score": 1.5}}`)

	_, err := LoadProject(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_relevance_score")
}

func TestLoadProjectRejectsEmptyExternalPath(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
external_docs:
  include_patterns: ["**/*.md"]
`)

	_, err := LoadProject(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "external_docs.path")
}

func TestLoadProjectMissingFile(t *testing.T) {
	_, err := LoadProject(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read")
}

func TestLoadProjectMalformedJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{"project_name": `)

	_, err := LoadProject(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}
