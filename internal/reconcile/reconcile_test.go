package reconcile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compoundkb/compoundmcp/internal/chunk"
	"github.com/compoundkb/compoundmcp/internal/doctype"
	"github.com/compoundkb/compoundmcp/internal/embed/embedtest"
	"github.com/compoundkb/compoundmcp/internal/graph"
	"github.com/compoundkb/compoundmcp/internal/index"
	"github.com/compoundkb/compoundmcp/internal/resilience"
	"github.com/compoundkb/compoundmcp/internal/scan"
	"github.com/compoundkb/compoundmcp/internal/store/storetest"
	"github.com/compoundkb/compoundmcp/internal/tenant"
	"github.com/compoundkb/compoundmcp/internal/watcher"
)

var testKey = tenant.Key{ProjectName: "demo", BranchName: "main", PathHash: "abcd1234abcd1234"}

type fixture struct {
	rec      *Reconciler
	store    *storetest.Fake
	embedder *embedtest.Fake
	tracker  *watcher.Tracker
	root     string
	extRoot  string
}

func newFixture(t *testing.T, withExternal bool) *fixture {
	t.Helper()

	registry, _, err := doctype.NewRegistry(nil, t.TempDir())
	require.NoError(t, err)

	f := &fixture{
		store:    storetest.New(),
		embedder: embedtest.New(8),
		tracker:  watcher.NewTracker(),
		root:     t.TempDir(),
	}
	pipeline := resilience.NewPipeline("test", resilience.Config{
		Permits:        2,
		QueueDepth:     4,
		MaxRetries:     0,
		RetryBaseDelay: time.Millisecond,
		Breaker:        resilience.DefaultBreakerConfig(),
	})
	ix := index.New(index.Config{
		Store:    f.store,
		Embedder: f.embedder,
		Pipeline: pipeline,
		Graph:    graph.New(),
		Registry: registry,
		Tracker:  f.tracker,
		Key:      testKey,
		DocsRoot: f.root,
	})

	cfg := Config{
		Store:    f.store,
		Indexer:  ix,
		Tracker:  f.tracker,
		Key:      testKey,
		DocsRoot: f.root,
		Matcher:  scan.NewMatcher([]string{"**/*.md"}, nil),
	}
	if withExternal {
		f.extRoot = t.TempDir()
		cfg.ExternalRoot = f.extRoot
		cfg.ExternalMatcher = scan.NewMatcher([]string{"**/*.md"}, nil)
		cfg.External = NewExternalIndexer(f.store, f.embedder, pipeline, chunk.New(), testKey, nil)
	}
	f.rec = New(cfg)
	return f
}

func (f *fixture) write(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func TestRunIndexesNewFiles(t *testing.T) {
	f := newFixture(t, false)
	f.write(t, f.root, "a.md", "# A\n")
	f.write(t, f.root, "sub/b.md", "# B\n")

	stats, err := f.rec.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Stats{Created: 2}, stats)
	assert.Equal(t, 2, f.store.DocumentCount())
}

func TestRunIsIdempotent(t *testing.T) {
	f := newFixture(t, false)
	f.write(t, f.root, "a.md", "# A\n")

	_, err := f.rec.Run(context.Background())
	require.NoError(t, err)
	callsAfterFirst := f.embedder.Calls()

	stats, err := f.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Unchanged: 1}, stats)
	assert.Equal(t, callsAfterFirst, f.embedder.Calls(), "second run must not re-embed")
}

func TestRunDetectsModificationsAndDeletions(t *testing.T) {
	f := newFixture(t, false)
	f.write(t, f.root, "a.md", "# A\n")
	f.write(t, f.root, "b.md", "# B\n")
	_, err := f.rec.Run(context.Background())
	require.NoError(t, err)

	f.write(t, f.root, "a.md", "# A\n\nnew content\n")
	require.NoError(t, os.Remove(filepath.Join(f.root, "b.md")))

	stats, err := f.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Updated: 1, Deleted: 1}, stats)
	assert.Equal(t, 1, f.store.DocumentCount())
}

func TestRunDrainsPendingEntries(t *testing.T) {
	f := newFixture(t, false)
	f.write(t, f.root, "a.md", "# A\n")

	// First pass while the embedding host is down leaves a pending entry.
	f.embedder.SetErr(errors.New("down"))
	stats, err := f.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, f.store.DocumentCount())

	// Recovery: the next run drains the pending entry.
	f.embedder.SetErr(nil)
	stats, err = f.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Failed)
	assert.Equal(t, 1, f.store.DocumentCount())
	assert.Zero(t, f.tracker.Len())
}

func TestRunExternalWithoutConfigurationIsNoOp(t *testing.T) {
	f := newFixture(t, false)
	stats, err := f.rec.RunExternal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestRunExternalIndexesTree(t *testing.T) {
	f := newFixture(t, true)
	f.write(t, f.extRoot, "guide.md", "# Guide\n\nreference text\n")

	stats, err := f.rec.RunExternal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Created: 1}, stats)

	// Unchanged on the second pass.
	stats, err = f.rec.RunExternal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Unchanged: 1}, stats)

	// Removal propagates.
	require.NoError(t, os.Remove(filepath.Join(f.extRoot, "guide.md")))
	stats, err = f.rec.RunExternal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Deleted: 1}, stats)
}
