// Package search fans one query embedding out across entity
// categories, scoping metadata filters to the categories they apply
// to.
package search

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/indexd/internal/document"
	"github.com/fyrsmithlabs/indexd/internal/vectorstore"
	"go.uber.org/zap"
)

// Store is the slice of the vector store the orchestrator needs.
type Store interface {
	Search(ctx context.Context, category string, queryEmbedding []float32, limit int, filters map[string]string) ([]vectorstore.SearchResult, error)
}

// filterScopes fixes which generic filter keys apply to each
// category. Filters outside a category's scope are not forwarded to
// it; a category whose scope intersection is empty is queried
// unfiltered, never skipped.
var filterScopes = map[document.Category][]string{
	document.CategoryBundles:   {"platform", "source"},
	document.CategoryLibraries: {"category", "source"},
	document.CategoryDocs:      {"section", "source"},
}

// Orchestrator runs one query across multiple category tables.
//
// Distances from different categories are not comparable (tables may
// hold vectors from different models), so results stay grouped per
// category and are never merged into one ranked list.
type Orchestrator struct {
	store  Store
	logger *zap.Logger
}

// NewOrchestrator creates an orchestrator over the given store.
func NewOrchestrator(store Store, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{store: store, logger: logger}
}

// SearchAll queries each category with the query embedding, applying
// only the filters scoped to that category, and returns per-category
// ranked results.
func (o *Orchestrator) SearchAll(ctx context.Context, categories []document.Category, queryEmbedding []float32, limit int, filters map[string]string) (map[document.Category][]vectorstore.SearchResult, error) {
	if len(categories) == 0 {
		categories = document.Categories()
	}

	results := make(map[document.Category][]vectorstore.SearchResult, len(categories))
	for _, category := range categories {
		if !category.Valid() {
			return nil, fmt.Errorf("%w: unknown category %q", vectorstore.ErrValidation, category)
		}

		scoped := scopeFilters(category, filters)
		rows, err := o.store.Search(ctx, category.String(), queryEmbedding, limit, scoped)
		if err != nil {
			return nil, fmt.Errorf("searching %q: %w", category, err)
		}

		o.logger.Debug("category searched",
			zap.String("category", category.String()),
			zap.Int("results", len(rows)),
			zap.Int("filters_forwarded", len(scoped)),
		)
		results[category] = rows
	}
	return results, nil
}

// scopeFilters intersects supplied filters with the category's
// allowed keys. An empty intersection yields nil, an unfiltered
// query.
func scopeFilters(category document.Category, filters map[string]string) map[string]string {
	if len(filters) == 0 {
		return nil
	}

	scoped := make(map[string]string)
	for _, key := range filterScopes[category] {
		if value, ok := filters[key]; ok {
			scoped[key] = value
		}
	}
	if len(scoped) == 0 {
		return nil
	}
	return scoped
}
