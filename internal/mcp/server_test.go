package mcp

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compoundkb/compoundmcp/internal/activation"
	"github.com/compoundkb/compoundmcp/internal/config"
	"github.com/compoundkb/compoundmcp/internal/embed/embedtest"
	enginerr "github.com/compoundkb/compoundmcp/internal/errors"
	"github.com/compoundkb/compoundmcp/internal/store/storetest"
)

const dims = 32

type fakeChat struct{ answer string }

func (f *fakeChat) Generate(ctx context.Context, system, prompt string) (string, error) {
	return f.answer, nil
}

func (f *fakeChat) GenerateStream(ctx context.Context, system, prompt string, onDelta func(string)) (string, error) {
	onDelta(f.answer)
	return f.answer, nil
}

func (f *fakeChat) ModelName() string { return "fake-chat" }
func (f *fakeChat) Close() error      { return nil }

type fixture struct {
	server *Server
	store  *storetest.Fake
	repo   string
	cfg    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := t.TempDir()
	cfgDir := filepath.Join(repo, ".compounding")
	require.NoError(t, os.MkdirAll(cfgDir, 0o755))
	cfgPath := filepath.Join(cfgDir, "config.json")
	require.NoError(t, os.WriteFile(cfgPath,
		[]byte(`{"project_name": "demo", "file_watcher": {"debounce_ms": 100}}`), 0o644))

	engineCfg := config.NewEngine()
	engineCfg.EmbeddingDimensions = dims

	st := storetest.New()
	st.Dims = dims
	engine := activation.New(activation.Config{
		Store:    st,
		Embedder: embedtest.New(dims),
		Chat:     &fakeChat{answer: "grounded answer"},
		Engine:   engineCfg,
		LockDir:  t.TempDir(),
	})
	t.Cleanup(func() { engine.Shutdown(context.Background()) })

	server, err := NewServer(engine, nil)
	require.NoError(t, err)
	return &fixture{server: server, store: st, repo: repo, cfg: cfgPath}
}

func (f *fixture) writeDoc(t *testing.T, rel, content string) {
	t.Helper()
	abs := filepath.Join(f.repo, config.DefaultDocsRootName, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func (f *fixture) activate(t *testing.T) ActivateOutput {
	t.Helper()
	_, out, err := f.server.handleActivate(context.Background(), nil,
		ActivateInput{ConfigPath: f.cfg})
	require.NoError(t, err)
	return out
}

func TestNewServerRequiresEngine(t *testing.T) {
	_, err := NewServer(nil, nil)
	require.Error(t, err)
}

func TestActivateAndSearchRoundTrip(t *testing.T) {
	f := newFixture(t)
	body := "# Cache Warmup\n\nWarm before listening.\n"
	f.writeDoc(t, "cache.md", body)

	out := f.activate(t)
	assert.Equal(t, "demo", out.ProjectName)
	assert.Equal(t, "main", out.BranchName)
	assert.Equal(t, 1, out.Stats.Created)

	_, search, err := f.server.handleSearch(context.Background(), nil, SearchInput{Query: body})
	require.NoError(t, err)
	require.NotEmpty(t, search.Results)
	assert.Equal(t, "cache.md", search.Results[0].Path)
	assert.Equal(t, "Cache Warmup", search.Results[0].Title)
	assert.InDelta(t, 1.0, search.Results[0].Score, 1e-6)
}

func TestSearchReturnsDirectHitsOnly(t *testing.T) {
	f := newFixture(t)
	body := "# Cache Warmup\n\nSee [eviction](./eviction.md) for the flip side.\n"
	f.writeDoc(t, "cache.md", body)
	f.writeDoc(t, "eviction.md", "# Eviction\n\nDrop cold entries.\n")
	f.activate(t)

	_, search, err := f.server.handleSearch(context.Background(), nil, SearchInput{Query: body})
	require.NoError(t, err)

	// The linked document does not ride along; only rag_query expands links.
	require.Len(t, search.Results, 1)
	assert.Equal(t, "cache.md", search.Results[0].Path)
}

func TestActivateRequiresConfigPath(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.server.handleActivate(context.Background(), nil, ActivateInput{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config_path")
}

func TestToolsGateOnActivation(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.server.handleSearch(context.Background(), nil, SearchInput{Query: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), enginerr.CodeProjectNotActivated)

	_, _, err = f.server.handleRAGQuery(context.Background(), nil, RAGQueryInput{Query: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), enginerr.CodeProjectNotActivated)

	_, _, err = f.server.handlePromotion(context.Background(), nil,
		PromotionInput{RelativePath: "a.md", Level: "critical"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), enginerr.CodeProjectNotActivated)

	_, _, err = f.server.handleListDocTypes(context.Background(), nil, ListDocTypesInput{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), enginerr.CodeProjectNotActivated)
}

func TestRAGQueryReturnsAnswerWithCitations(t *testing.T) {
	f := newFixture(t)
	body := "# Cache Warmup\n\nWarm before listening.\n"
	f.writeDoc(t, "cache.md", body)
	f.activate(t)

	_, out, err := f.server.handleRAGQuery(context.Background(), nil, RAGQueryInput{Query: body})
	require.NoError(t, err)
	assert.Equal(t, "grounded answer", out.Answer)
	assert.Equal(t, []string{"cache.md"}, out.Citations)
	require.NotEmpty(t, out.Sources)
	assert.Equal(t, "cache.md", out.Sources[0].Path)
}

func TestExternalToolsWithoutConfiguration(t *testing.T) {
	f := newFixture(t)
	f.activate(t)

	_, _, err := f.server.handleSearchExternal(context.Background(), nil,
		ExternalSearchInput{Query: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), enginerr.CodeExternalDocsNotConfigured)

	_, _, err = f.server.handleRAGQueryExternal(context.Background(), nil,
		ExternalRAGInput{Query: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), enginerr.CodeExternalDocsNotConfigured)
}

func TestPromotionRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.writeDoc(t, "a.md", "---\ntitle: A\n---\n# A\n")
	f.activate(t)

	_, out, err := f.server.handlePromotion(context.Background(), nil,
		PromotionInput{RelativePath: "a.md", Level: "important"})
	require.NoError(t, err)
	assert.Equal(t, "important", out.Level)
}

func TestListDocTypes(t *testing.T) {
	f := newFixture(t)
	f.activate(t)

	_, out, err := f.server.handleListDocTypes(context.Background(), nil, ListDocTypesInput{})
	require.NoError(t, err)
	assert.Equal(t, filenameConvention, out.FilenameConvention)

	names := make(map[string]bool, len(out.DocTypes))
	for _, dt := range out.DocTypes {
		names[dt.Name] = true
	}
	assert.True(t, names["problem"])
	assert.True(t, names["insight"])
}

func TestHealthAvailableWithoutActivation(t *testing.T) {
	f := newFixture(t)

	_, report, err := f.server.handleHealth(context.Background(), nil, HealthInput{})
	require.NoError(t, err)
	assert.False(t, report.Active)
	assert.True(t, report.Database.Healthy)

	f.activate(t)
	_, report, err = f.server.handleHealth(context.Background(), nil, HealthInput{})
	require.NoError(t, err)
	assert.True(t, report.Active)
	assert.Equal(t, "demo", report.ProjectName)
}

func TestDeactivate(t *testing.T) {
	f := newFixture(t)
	f.activate(t)

	_, out, err := f.server.handleDeactivate(context.Background(), nil, DeactivateInput{})
	require.NoError(t, err)
	assert.True(t, out.Deactivated)

	_, _, err = f.server.handleDeactivate(context.Background(), nil, DeactivateInput{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), enginerr.CodeProjectNotActivated)
}
