// Package pipeline drives an end-to-end indexing run: gather parsed
// artifacts, build documents, crawl documentation URLs, batch-embed,
// rebuild the vector tables, and export JSON snapshots for disaster
// recovery.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/indexd/internal/crawler"
	"github.com/fyrsmithlabs/indexd/internal/document"
	"github.com/fyrsmithlabs/indexd/internal/embeddings"
)

var tracer = otel.Tracer("indexd.pipeline")

// Store is the slice of the vector store the pipeline writes to.
type Store interface {
	Upsert(ctx context.Context, category string, ids []string, embeddings [][]float32, documents []string, metadatas []map[string]string, clearExisting bool) (int, error)
}

// Crawler fetches one URL. Implemented by crawler.Crawler.
type Crawler interface {
	Crawl(ctx context.Context, url string) (*crawler.Result, error)
}

// Config holds pipeline configuration.
type Config struct {
	// SnapshotDir is where per-category JSON snapshots are written.
	SnapshotDir string `koanf:"snapshot_dir"`
}

// Report summarizes one indexing run.
type Report struct {
	// RunID identifies the run in logs.
	RunID string

	// Written counts rows written per category.
	Written map[document.Category]int

	// SourceErrors maps failed sources to their errors. A source
	// failure never aborts the run.
	SourceErrors map[string]error

	// CategoryErrors maps categories whose rebuild was refused or
	// failed to their errors.
	CategoryErrors map[document.Category]error

	// CrawlFailures counts URLs that produced no result.
	CrawlFailures int

	// EmbedFailures counts documents whose embedding could not be
	// produced and were therefore dropped from the index.
	EmbedFailures int
}

// Pipeline wires the document builder, crawler, embedding provider,
// and vector store into one batch indexing run.
type Pipeline struct {
	provider embeddings.Provider
	store    Store
	crawler  Crawler
	sources  []Source
	cfg      Config
	logger   *zap.Logger
}

// New creates a pipeline over the given collaborators.
func New(cfg Config, provider embeddings.Provider, store Store, crawl Crawler, sources []Source, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		provider: provider,
		store:    store,
		crawler:  crawl,
		sources:  sources,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run executes a full indexing run: every category is rebuilt with
// clear-existing semantics, relying on the store's rebuild refusal as
// the circuit breaker against embedding outages.
//
// Per-source and per-category failures are recorded in the report and
// the run continues; only context cancellation aborts it. Snapshots
// are written for every category that produced records, independent
// of whether its rebuild succeeded.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.Run")
	defer span.End()

	report := newReport()
	span.SetAttributes(attribute.String("run_id", report.RunID))
	logger := p.logger.With(zap.String("run_id", report.RunID))
	logger.Info("indexing run started", zap.Int("sources", len(p.sources)))

	records := make(map[document.Category][]document.Record)
	for _, source := range p.sources {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := p.gatherSource(ctx, source, records, report, logger); err != nil {
			// Only cancellation propagates out of gathering.
			return report, err
		}
	}

	if err := p.index(ctx, records, report, logger); err != nil {
		return report, err
	}

	logger.Info("indexing run finished",
		zap.Any("written", report.Written),
		zap.Int("crawl_failures", report.CrawlFailures),
		zap.Int("embed_failures", report.EmbedFailures),
	)
	return report, nil
}

// Restore replays previously exported snapshots through the embedding
// provider and store, rebuilding the index without re-crawling or
// re-parsing.
func (p *Pipeline) Restore(ctx context.Context) (*Report, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.Restore")
	defer span.End()

	report := newReport()
	logger := p.logger.With(zap.String("run_id", report.RunID))
	logger.Info("snapshot restore started", zap.String("dir", p.cfg.SnapshotDir))

	records := make(map[document.Category][]document.Record)
	for _, category := range document.Categories() {
		recs, err := readSnapshot(p.cfg.SnapshotDir, category)
		if err != nil {
			logger.Error("snapshot unreadable",
				zap.String("category", category.String()),
				zap.Error(err),
			)
			report.CategoryErrors[category] = err
			continue
		}
		if len(recs) > 0 {
			records[category] = recs
		}
	}

	if err := p.index(ctx, records, report, logger); err != nil {
		return report, err
	}
	return report, nil
}

func newReport() *Report {
	return &Report{
		RunID:          uuid.NewString(),
		Written:        make(map[document.Category]int),
		SourceErrors:   make(map[string]error),
		CategoryErrors: make(map[document.Category]error),
	}
}

// gatherSource converts one source's artifacts and crawl targets into
// document records. A source failure is recorded and skipped; the
// returned error is reserved for cancellation.
func (p *Pipeline) gatherSource(ctx context.Context, source Source, records map[document.Category][]document.Record, report *Report, logger *zap.Logger) error {
	content, err := source.Fetch(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		logger.Error("source failed, skipping",
			zap.String("source", source.Name()),
			zap.Error(err),
		)
		report.SourceErrors[source.Name()] = err
		return nil
	}

	for _, bundle := range content.Bundles {
		if bundle.Source == "" {
			bundle.Source = source.Name()
		}
		rec, err := document.BuildBundleRecord(bundle)
		if err != nil {
			logger.Warn("skipping bundle", zap.String("id", bundle.ID), zap.Error(err))
			continue
		}
		records[rec.Category] = append(records[rec.Category], rec)
	}

	for _, module := range content.Modules {
		if module.Source == "" {
			module.Source = source.Name()
		}
		rec, err := document.BuildLibraryRecord(module)
		if err != nil {
			logger.Warn("skipping module", zap.String("id", module.ID), zap.Error(err))
			continue
		}
		records[rec.Category] = append(records[rec.Category], rec)
	}

	for _, target := range content.Targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := p.crawler.Crawl(ctx, target.URL)
		if err != nil {
			report.CrawlFailures++
			continue
		}

		headings := make([]document.Heading, len(result.Headings))
		for i, h := range result.Headings {
			headings[i] = document.Heading{Level: h.Level, Text: h.Text}
		}
		rec, err := document.BuildPageRecord(document.Page{
			URL:        result.URL,
			Title:      result.Title,
			Content:    result.Content,
			Headings:   headings,
			CodeBlocks: result.CodeBlocks,
			Section:    target.Section,
			Source:     source.Name(),
			Backend:    string(result.Backend),
		})
		if err != nil {
			logger.Warn("skipping page", zap.String("url", target.URL), zap.Error(err))
			continue
		}
		records[rec.Category] = append(records[rec.Category], rec)
	}

	return nil
}

// index embeds gathered records per category, rebuilds each table,
// and exports snapshots.
func (p *Pipeline) index(ctx context.Context, records map[document.Category][]document.Record, report *Report, logger *zap.Logger) error {
	for _, category := range document.Categories() {
		recs := records[category]
		if len(recs) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		texts := make([]string, len(recs))
		for i, rec := range recs {
			texts[i] = rec.Text
		}

		results, err := p.provider.EmbedBatch(ctx, texts)
		if err != nil {
			// EmbedBatch errors only on cancellation.
			return fmt.Errorf("embedding %q: %w", category, err)
		}

		ids := make([]string, len(recs))
		vectors := make([][]float32, len(recs))
		documents := make([]string, len(recs))
		metadatas := make([]map[string]string, len(recs))
		for i, rec := range recs {
			ids[i] = rec.ID
			documents[i] = rec.Text
			metadatas[i] = rec.Metadata
			if results[i].OK() {
				vectors[i] = results[i].Vector
			} else {
				report.EmbedFailures++
			}
		}

		written, err := p.store.Upsert(ctx, category.String(), ids, vectors, documents, metadatas, true)
		if err != nil {
			logger.Error("category rebuild refused",
				zap.String("category", category.String()),
				zap.Error(err),
			)
			report.CategoryErrors[category] = err
		} else {
			report.Written[category] = written
		}

		if p.cfg.SnapshotDir != "" {
			if err := writeSnapshot(p.cfg.SnapshotDir, category, recs); err != nil {
				logger.Error("snapshot write failed",
					zap.String("category", category.String()),
					zap.Error(err),
				)
			}
		}
	}
	return nil
}
