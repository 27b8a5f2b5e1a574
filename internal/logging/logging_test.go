package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.input), "level %q", tt.input)
	}
}

func TestSetup_FileCopyIsJSON(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "server.log")
	logger, cleanup, err := Setup(Config{Level: "debug", FilePath: logPath, ForceJSON: true})
	require.NoError(t, err)

	logger.Info("indexed document",
		Project("demo"),
		Branch("main"),
		DocPath("problems/alpha.md"),
		Elapsed(1500*time.Millisecond),
	)
	cleanup()

	f, err := os.Open(logPath)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan(), "expected at least one log line")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
	assert.Equal(t, "indexed document", rec["msg"])
	assert.Equal(t, "demo", rec["project_name"])
	assert.Equal(t, "main", rec["branch_name"])
	assert.Equal(t, "problems/alpha.md", rec["document_path"])
	assert.Equal(t, float64(1500), rec["elapsed_ms"])
}

func TestSetup_NoFileIsStderrOnly(t *testing.T) {
	logger, cleanup, err := Setup(Config{Level: "info", ForceJSON: true})
	require.NoError(t, err)
	defer cleanup()
	require.NotNil(t, logger)

	// Nothing to assert about stderr contents here; the point is Setup does
	// not create any files.
	entries, err := os.ReadDir(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTeeHandler_RespectsPerHandlerLevels(t *testing.T) {
	var fileBuf strings.Builder
	debugHandler := slog.NewJSONHandler(&fileBuf, &slog.HandlerOptions{Level: slog.LevelDebug})
	var errBuf strings.Builder
	errorHandler := slog.NewJSONHandler(&errBuf, &slog.HandlerOptions{Level: slog.LevelError})

	logger := slog.New(newTeeHandler(errorHandler, debugHandler))
	logger.Debug("quiet record")

	assert.Empty(t, errBuf.String(), "error-level handler must not receive debug records")
	assert.Contains(t, fileBuf.String(), "quiet record")
}

func TestTeeHandler_WithAttrsPropagates(t *testing.T) {
	var a, b strings.Builder
	h := newTeeHandler(
		slog.NewJSONHandler(&a, nil),
		slog.NewJSONHandler(&b, nil),
	).WithAttrs([]slog.Attr{Tool("search")})

	require.NoError(t, h.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "called", 0)))
	assert.Contains(t, a.String(), `"tool_name":"search"`)
	assert.Contains(t, b.String(), `"tool_name":"search"`)
}

func TestFieldHelpers_UseStableNames(t *testing.T) {
	assert.Equal(t, "project_name", Project("x").Key)
	assert.Equal(t, "branch_name", Branch("x").Key)
	assert.Equal(t, "document_path", DocPath("x").Key)
	assert.Equal(t, "tool_name", Tool("x").Key)
	assert.Equal(t, "elapsed_ms", Elapsed(time.Second).Key)
	assert.Equal(t, "correlation_id", Correlation("x").Key)
	assert.Equal(t, "event_type", EventType("x").Key)
	assert.Equal(t, "attempt_number", Attempt(1).Key)
	assert.Equal(t, "error_code", ErrorCode("INTERNAL").Key)
}

func TestRotatingWriter_RotatesAtSizeLimit(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "server.log")

	w, err := NewRotatingWriter(logPath, 1, 2)
	require.NoError(t, err)
	defer w.Close()

	// Force the limit down so the test does not write megabytes.
	w.maxSize = 64

	line := []byte(strings.Repeat("x", 32) + "\n")
	for i := 0; i < 6; i++ {
		_, err := w.Write(line)
		require.NoError(t, err)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "server.log")
	assert.Contains(t, names, "server.log.1")
	assert.LessOrEqual(t, len(names), 3, "old rotations beyond maxFiles are removed")
}

func TestStateDir_NotEmpty(t *testing.T) {
	assert.NotEmpty(t, StateDir())
	assert.Equal(t, filepath.Join(StateDir(), "logs"), DefaultLogDir())
	assert.Equal(t, filepath.Join(DefaultLogDir(), "server.log"), DefaultLogPath())
}
