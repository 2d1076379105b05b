// Package commands implements the indexd CLI subcommands.
package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/indexd/internal/config"
	"github.com/fyrsmithlabs/indexd/internal/crawler"
	"github.com/fyrsmithlabs/indexd/internal/document"
	"github.com/fyrsmithlabs/indexd/internal/embeddings"
	"github.com/fyrsmithlabs/indexd/internal/logging"
	"github.com/fyrsmithlabs/indexd/internal/pipeline"
	"github.com/fyrsmithlabs/indexd/internal/search"
	"github.com/fyrsmithlabs/indexd/internal/telemetry"
	"github.com/fyrsmithlabs/indexd/internal/vectorstore"
)

// version is set at build time via -ldflags.
var version = "dev"

// env bundles the wired-up services a command runs against.
type env struct {
	cfg      *config.Config
	logger   *zap.Logger
	provider embeddings.Provider
	store    *vectorstore.Store
	tel      *telemetry.Telemetry
}

// setup loads config and constructs the provider and store. Provider
// construction fails fast on credential problems.
func setup(cmd *cobra.Command) (*env, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.New(cmd.Context(), cfg.Telemetry, version, logger.Named("telemetry"))
	if err != nil {
		return nil, err
	}

	provider, err := embeddings.NewProvider(cfg.Embeddings, logger.Named("embeddings"))
	if err != nil {
		return nil, err
	}

	store, err := vectorstore.New(cfg.Store, provider.Model(), logger.Named("vectorstore"))
	if err != nil {
		_ = provider.Close()
		return nil, err
	}

	return &env{cfg: cfg, logger: logger, provider: provider, store: store, tel: tel}, nil
}

func (e *env) close() {
	_ = e.provider.Close()
	_ = e.tel.Shutdown(context.Background())
	_ = e.logger.Sync()
}

// NewIndexCommand creates the "index" subcommand.
func NewIndexCommand() *cobra.Command {
	var restore bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Run a full indexing pass over the configured sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			sources := make([]pipeline.Source, 0, len(e.cfg.Sources))
			for _, src := range e.cfg.Sources {
				sources = append(sources, &pipeline.FileSource{
					SourceName: src.Name,
					Path:       src.Artifacts,
				})
			}

			crawl := crawler.New(e.cfg.Crawler, e.logger.Named("crawler"))
			p := pipeline.New(e.cfg.Pipeline, e.provider, e.store, crawl, sources, e.logger.Named("pipeline"))

			var report *pipeline.Report
			if restore {
				report, err = p.Restore(cmd.Context())
			} else {
				report, err = p.Run(cmd.Context())
			}
			if err != nil {
				return err
			}

			printReport(cmd, report)
			return nil
		},
	}

	cmd.Flags().BoolVar(&restore, "restore", false, "rebuild from JSON snapshots instead of sources")
	return cmd
}

func printReport(cmd *cobra.Command, report *pipeline.Report) {
	cmd.Printf("run %s\n", report.RunID)
	for _, category := range document.Categories() {
		if written, ok := report.Written[category]; ok {
			cmd.Printf("  %-12s %d rows\n", category, written)
		}
		if err, ok := report.CategoryErrors[category]; ok {
			cmd.Printf("  %-12s SKIPPED: %v\n", category, err)
		}
	}
	for name, err := range report.SourceErrors {
		cmd.Printf("  source %s failed: %v\n", name, err)
	}
	if report.CrawlFailures > 0 {
		cmd.Printf("  %d URLs failed to crawl\n", report.CrawlFailures)
	}
	if report.EmbedFailures > 0 {
		cmd.Printf("  %d documents dropped (embedding failed)\n", report.EmbedFailures)
	}
}

// NewSearchCommand creates the "search" subcommand.
func NewSearchCommand() *cobra.Command {
	var (
		limit      int
		categories []string
		filters    []string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Query the index across categories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			filterMap, err := parseFilters(filters)
			if err != nil {
				return err
			}

			queryEmbedding, err := e.provider.EmbedQuery(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			targets := make([]document.Category, 0, len(categories))
			for _, c := range categories {
				targets = append(targets, document.Category(c))
			}

			orchestrator := search.NewOrchestrator(e.store, e.logger.Named("search"))
			results, err := orchestrator.SearchAll(cmd.Context(), targets, queryEmbedding, limit, filterMap)
			if err != nil {
				return err
			}

			for _, category := range document.Categories() {
				rows, ok := results[category]
				if !ok {
					continue
				}
				cmd.Printf("%s:\n", category)
				if len(rows) == 0 {
					cmd.Println("  (no results)")
					continue
				}
				for _, row := range rows {
					cmd.Printf("  %.3f  %s\n", row.Score(), row.ID)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 5, "max results per category")
	cmd.Flags().StringSliceVar(&categories, "category", nil, "categories to search (default: all)")
	cmd.Flags().StringSliceVar(&filters, "filter", nil, "metadata filters as key=value")
	return cmd
}

// parseFilters converts key=value pairs to a filter map.
func parseFilters(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	filters := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid filter %q (want key=value)", pair)
		}
		filters[key] = value
	}
	return filters, nil
}

// NewStatsCommand creates the "stats" subcommand.
func NewStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show row counts per category",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			stats := e.store.Stats()
			if len(stats) == 0 {
				cmd.Println("index is empty")
				return nil
			}
			for _, category := range document.Categories() {
				if count, ok := stats[category.String()]; ok {
					cmd.Printf("%-12s %d\n", category, count)
				}
			}
			return nil
		},
	}
}
