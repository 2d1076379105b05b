package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/indexd/internal/crawler"
	"github.com/fyrsmithlabs/indexd/internal/document"
	"github.com/fyrsmithlabs/indexd/internal/embeddings"
	"github.com/fyrsmithlabs/indexd/internal/pipeline"
	"github.com/fyrsmithlabs/indexd/internal/vectorstore"
)

// hashProvider is a deterministic in-process embedding provider.
// Texts listed in fail produce failed results.
type hashProvider struct {
	dimension int
	fail      map[string]bool
	failAll   bool
}

func (p *hashProvider) embed(text string) []float32 {
	vec := make([]float32, p.dimension)
	hash := 0
	for _, c := range text {
		hash = (hash*31 + int(c)) % 1000
	}
	var sumSq float32
	for i := range vec {
		vec[i] = float32((hash+i)%100) / 100.0
		sumSq += vec[i] * vec[i]
	}
	if sumSq > 0 {
		norm := 1 / sqrt32(sumSq)
		for i := range vec {
			vec[i] *= norm
		}
	}
	return vec
}

func sqrt32(x float32) float32 {
	z := x / 2
	for i := 0; i < 10; i++ {
		z = (z + x/z) / 2
	}
	return z
}

func (p *hashProvider) EmbedBatch(ctx context.Context, texts []string) ([]embeddings.Result, error) {
	results := make([]embeddings.Result, len(texts))
	for i, text := range texts {
		if p.failAll || p.fail[text] {
			results[i] = embeddings.Result{Err: embeddings.ErrEmbeddingFailed}
			continue
		}
		results[i] = embeddings.Result{Vector: p.embed(text)}
	}
	return results, ctx.Err()
}

func (p *hashProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return p.embed(text), nil
}

func (p *hashProvider) Dimension() int { return p.dimension }
func (p *hashProvider) Model() string  { return "hash-test-model" }
func (p *hashProvider) Close() error   { return nil }

// stubSource returns fixed content or an error.
type stubSource struct {
	name    string
	content *pipeline.SourceContent
	err     error
}

func (s *stubSource) Name() string { return s.name }
func (s *stubSource) Fetch(ctx context.Context) (*pipeline.SourceContent, error) {
	return s.content, s.err
}

// stubCrawler serves canned results by URL; unknown URLs fail.
type stubCrawler struct {
	pages map[string]*crawler.Result
}

func (c *stubCrawler) Crawl(ctx context.Context, url string) (*crawler.Result, error) {
	if page, ok := c.pages[url]; ok {
		return page, nil
	}
	return nil, crawler.ErrCrawlFailed
}

func testContent() *pipeline.SourceContent {
	return &pipeline.SourceContent{
		Bundles: []document.Bundle{
			{ID: "acme/deploy", Name: "deploy", Platform: "linux", Description: "Rolling deploys"},
			{ID: "acme/backup", Name: "backup", Platform: "linux", Description: "Nightly backups"},
		},
		Modules: []document.LibraryModule{
			{ID: "std/files", Name: "files", Category: "filesystem", Description: "File helpers"},
		},
		Targets: []pipeline.CrawlTarget{
			{URL: "https://docs.example.com/install", Section: "guides"},
			{URL: "https://docs.example.com/missing", Section: "guides"},
		},
	}
}

func testCrawler() *stubCrawler {
	return &stubCrawler{pages: map[string]*crawler.Result{
		"https://docs.example.com/install": {
			URL:     "https://docs.example.com/install",
			Title:   "Install",
			Content: "Install with the package manager.",
			Backend: crawler.BackendStatic,
		},
	}}
}

func newTestPipeline(t *testing.T, provider embeddings.Provider, sources ...pipeline.Source) (*pipeline.Pipeline, *vectorstore.Store, string) {
	t.Helper()

	store, err := vectorstore.New(vectorstore.Config{Path: t.TempDir()}, provider.Model(), nil)
	require.NoError(t, err)

	snapshotDir := t.TempDir()
	p := pipeline.New(pipeline.Config{SnapshotDir: snapshotDir}, provider, store, testCrawler(), sources, nil)
	return p, store, snapshotDir
}

func TestRunIndexesAllCategories(t *testing.T) {
	provider := &hashProvider{dimension: 8}
	p, store, snapshotDir := newTestPipeline(t, provider,
		&stubSource{name: "galaxy", content: testContent()},
	)

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Written[document.CategoryBundles])
	assert.Equal(t, 1, report.Written[document.CategoryLibraries])
	assert.Equal(t, 1, report.Written[document.CategoryDocs])
	assert.Equal(t, 1, report.CrawlFailures)
	assert.Empty(t, report.SourceErrors)
	assert.Empty(t, report.CategoryErrors)
	assert.NotEmpty(t, report.RunID)

	assert.Equal(t, map[string]int{"bundles": 2, "libraries": 1, "docs": 1}, store.Stats())

	// One snapshot file per category that produced records.
	for _, category := range document.Categories() {
		_, err := os.Stat(filepath.Join(snapshotDir, category.String()+".json"))
		assert.NoError(t, err, "snapshot for %s", category)
	}
}

func TestRunSkipsFailedSource(t *testing.T) {
	provider := &hashProvider{dimension: 8}
	p, store, _ := newTestPipeline(t, provider,
		&stubSource{name: "broken", err: errors.New("clone failed")},
		&stubSource{name: "galaxy", content: testContent()},
	)

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	require.Contains(t, report.SourceErrors, "broken")
	assert.Equal(t, 2, report.Written[document.CategoryBundles])
	assert.Equal(t, map[string]int{"bundles": 2, "libraries": 1, "docs": 1}, store.Stats())
}

func TestRunDropsFailedEmbeddings(t *testing.T) {
	content := testContent()
	provider := &hashProvider{dimension: 8, fail: map[string]bool{}}
	p, store, _ := newTestPipeline(t, provider,
		&stubSource{name: "galaxy", content: content},
	)

	// Fail one of two bundle texts; 1/2 valid still passes the 0.5 bar.
	rec, err := document.BuildBundleRecord(content.Bundles[1])
	require.NoError(t, err)
	provider.fail[rec.Text] = true

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Written[document.CategoryBundles])
	assert.Equal(t, 1, report.EmbedFailures)
	assert.Equal(t, 1, store.Stats()["bundles"])
}

func TestRunRecordsRefusedRebuild(t *testing.T) {
	provider := &hashProvider{dimension: 8, failAll: true}
	p, store, snapshotDir := newTestPipeline(t, provider,
		&stubSource{name: "galaxy", content: testContent()},
	)

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	// Every category rebuild is refused, nothing written.
	for _, category := range []document.Category{
		document.CategoryBundles, document.CategoryLibraries, document.CategoryDocs,
	} {
		assert.ErrorIs(t, report.CategoryErrors[category], vectorstore.ErrDataIntegrity)
	}
	assert.Empty(t, store.Stats())

	// Snapshots are still written: the records themselves are fine.
	_, err = os.Stat(filepath.Join(snapshotDir, "bundles.json"))
	assert.NoError(t, err)
}

func TestRunRefusalLeavesPriorIndexIntact(t *testing.T) {
	provider := &hashProvider{dimension: 8}
	store, err := vectorstore.New(vectorstore.Config{Path: t.TempDir()}, provider.Model(), nil)
	require.NoError(t, err)

	sources := []pipeline.Source{&stubSource{name: "galaxy", content: testContent()}}

	p := pipeline.New(pipeline.Config{SnapshotDir: t.TempDir()}, provider, store, testCrawler(), sources, nil)
	_, err = p.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, store.Stats()["bundles"])

	// Second run with a dead provider: rebuild refused, index kept.
	dead := &hashProvider{dimension: 8, failAll: true}
	p2 := pipeline.New(pipeline.Config{SnapshotDir: t.TempDir()}, dead, store, testCrawler(), sources, nil)
	report, err := p2.Run(context.Background())
	require.NoError(t, err)

	assert.ErrorIs(t, report.CategoryErrors[document.CategoryBundles], vectorstore.ErrDataIntegrity)
	assert.Equal(t, 2, store.Stats()["bundles"])
}

func TestSnapshotDirTildeExpansion(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	provider := &hashProvider{dimension: 8}
	store, err := vectorstore.New(vectorstore.Config{Path: t.TempDir()}, provider.Model(), nil)
	require.NoError(t, err)

	sources := []pipeline.Source{&stubSource{name: "galaxy", content: testContent()}}
	p := pipeline.New(pipeline.Config{SnapshotDir: "~/snapshots"}, provider, store, testCrawler(), sources, nil)

	_, err = p.Run(context.Background())
	require.NoError(t, err)

	// Snapshots land under the home directory, not a literal "~" dir.
	_, err = os.Stat(filepath.Join(home, "snapshots", "bundles.json"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join("~", "snapshots"))
	assert.True(t, os.IsNotExist(err))

	// Restore resolves the same location.
	restored, err := vectorstore.New(vectorstore.Config{Path: t.TempDir()}, provider.Model(), nil)
	require.NoError(t, err)
	p2 := pipeline.New(pipeline.Config{SnapshotDir: "~/snapshots"}, provider, restored, testCrawler(), nil, nil)
	report, err := p2.Restore(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.CategoryErrors)
	assert.Equal(t, store.Stats(), restored.Stats())
}

func TestRunCancelledContext(t *testing.T) {
	provider := &hashProvider{dimension: 8}
	p, _, _ := newTestPipeline(t, provider,
		&stubSource{name: "galaxy", content: testContent()},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRestoreRebuildsFromSnapshots(t *testing.T) {
	provider := &hashProvider{dimension: 8}
	p, store, snapshotDir := newTestPipeline(t, provider,
		&stubSource{name: "galaxy", content: testContent()},
	)

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	// Fresh store, same snapshots: restore rebuilds without sources.
	restored, err := vectorstore.New(vectorstore.Config{Path: t.TempDir()}, provider.Model(), nil)
	require.NoError(t, err)

	p2 := pipeline.New(pipeline.Config{SnapshotDir: snapshotDir}, provider, restored, testCrawler(), nil, nil)
	report, err := p2.Restore(context.Background())
	require.NoError(t, err)

	assert.Equal(t, store.Stats(), restored.Stats())
	assert.Empty(t, report.CategoryErrors)
}
