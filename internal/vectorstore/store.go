// Package vectorstore persists per-category vector tables with
// partial-failure-safe rebuild semantics and filtered similarity
// search.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("indexd.vectorstore")

// updatedAtKey is the store-injected row timestamp metadata key.
const updatedAtKey = "updated_at"

// timeNow is a variable for testing purposes.
var timeNow = time.Now

// addDocs is a variable for testing purposes.
var addDocs = func(ctx context.Context, c *chromem.Collection, docs []chromem.Document) error {
	return c.AddDocuments(ctx, docs, 1)
}

// Config holds configuration for the vector store.
type Config struct {
	// Path is the directory for persistent storage.
	Path string `koanf:"path"`

	// Compress enables gzip compression for stored data.
	Compress bool `koanf:"compress"`

	// MinValidRatio is the minimum fraction of non-empty embeddings a
	// rebuild batch must carry before the store allows clearing a
	// table. Guards against a transient embedding outage silently
	// wiping an index.
	MinValidRatio float64 `koanf:"min_valid_ratio"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.local/share/indexd/vectorstore"
	}
	if c.MinValidRatio == 0 {
		c.MinValidRatio = 0.5
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.MinValidRatio < 0 || c.MinValidRatio > 1 {
		return fmt.Errorf("%w: min_valid_ratio must be in [0, 1]", ErrInvalidConfig)
	}
	return nil
}

// Store persists id -> (embedding, document, metadata) rows in one
// table per entity category, backed by an embedded chromem-go
// database.
//
// Writes to a category are serialized so a rebuild is observed by
// readers as an atomic transition from the old complete row set to
// the new one. Reads against one category never block on writes to a
// different category. Rows are never stored without an embedding.
type Store struct {
	db     *chromem.DB
	cfg    Config
	model  string
	logger *zap.Logger

	tablesMu sync.Mutex
	tables   map[string]*sync.RWMutex

	manifestMu sync.Mutex
	manifest   *tableManifest
}

// New opens or creates a store at cfg.Path. The model identifier
// stamps every table this store writes; a non-empty model that
// conflicts with a table's existing stamp refuses incremental writes
// until the table is rebuilt.
func New(cfg Config, model string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	path, err := expandPath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	cfg.Path = path

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("opening chromem DB: %w", err)
	}

	manifest, err := loadManifest(path)
	if err != nil {
		return nil, err
	}

	logger.Info("vector store opened",
		zap.String("path", path),
		zap.String("model", model),
		zap.Float64("min_valid_ratio", cfg.MinValidRatio),
	)

	return &Store{
		db:       db,
		cfg:      cfg,
		model:    model,
		logger:   logger,
		tables:   make(map[string]*sync.RWMutex),
		manifest: manifest,
	}, nil
}

// noEmbedFunc rejects implicit embedding. All rows arrive with
// precomputed vectors and queries supply their own embedding.
func noEmbedFunc(context.Context, string) ([]float32, error) {
	return nil, errors.New("store does not generate embeddings")
}

// tableLock returns the per-category lock, creating it on first use.
func (s *Store) tableLock(category string) *sync.RWMutex {
	s.tablesMu.Lock()
	defer s.tablesMu.Unlock()

	lock, ok := s.tables[category]
	if !ok {
		lock = &sync.RWMutex{}
		s.tables[category] = lock
	}
	return lock
}

// Upsert writes a batch of rows to a category table.
//
// The four positional slices are associated strictly by index and
// must have equal length. Rows whose embedding is empty are dropped,
// never written as nulls.
//
// With clearExisting set, the category's rows are atomically replaced
// by the batch's valid rows. The replacement is refused with
// ErrDataIntegrity, leaving the table untouched, when no embedding is
// valid or the valid fraction falls below MinValidRatio.
//
// Without clearExisting, rows are upserted by id, last write wins.
//
// Returns the number of rows actually written.
func (s *Store) Upsert(ctx context.Context, category string, ids []string, embeddings [][]float32, documents []string, metadatas []map[string]string, clearExisting bool) (int, error) {
	ctx, span := tracer.Start(ctx, "Store.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("category", category),
		attribute.Int("batch_size", len(ids)),
		attribute.Bool("clear_existing", clearExisting),
	)

	if err := validateCategory(category); err != nil {
		return 0, err
	}

	n := len(ids)
	if len(embeddings) != n || len(documents) != n || len(metadatas) != n {
		return 0, fmt.Errorf("%w: mismatched lengths ids=%d embeddings=%d documents=%d metadatas=%d",
			ErrDataIntegrity, n, len(embeddings), len(documents), len(metadatas))
	}

	valid := make([]int, 0, n)
	batchDim := 0
	for i, emb := range embeddings {
		if len(emb) == 0 {
			continue
		}
		if batchDim == 0 {
			batchDim = len(emb)
		} else if len(emb) != batchDim {
			return 0, fmt.Errorf("%w: mixed embedding dimensions %d and %d in one batch",
				ErrDataIntegrity, batchDim, len(emb))
		}
		if ids[i] == "" {
			return 0, fmt.Errorf("%w: empty id at index %d", ErrDataIntegrity, i)
		}
		valid = append(valid, i)
	}

	for _, i := range valid {
		if err := validateMetadataKeys(metadatas[i]); err != nil {
			return 0, err
		}
	}

	if clearExisting && n > 0 {
		ratio := float64(len(valid)) / float64(n)
		if len(valid) == 0 || ratio < s.cfg.MinValidRatio {
			err := fmt.Errorf("%w: rebuild refused for %q: %d/%d valid embeddings (ratio %.2f < %.2f)",
				ErrDataIntegrity, category, len(valid), n, ratio, s.cfg.MinValidRatio)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return 0, err
		}
	}

	if err := s.checkStamp(category, batchDim, clearExisting); err != nil {
		span.RecordError(err)
		return 0, err
	}

	lock := s.tableLock(category)
	lock.Lock()
	defer lock.Unlock()

	if clearExisting {
		if err := s.db.DeleteCollection(category); err != nil {
			return 0, fmt.Errorf("clearing table %q: %w", category, err)
		}
	}

	if len(valid) == 0 {
		if clearExisting {
			s.clearStamp(category)
		}
		return 0, nil
	}

	collection, err := s.db.GetOrCreateCollection(category, nil, noEmbedFunc)
	if err != nil {
		return 0, fmt.Errorf("opening table %q: %w", category, err)
	}

	now := timeNow().UTC().Format(time.RFC3339)
	docs := make([]chromem.Document, 0, len(valid))
	for _, i := range valid {
		metadata := make(map[string]string, len(metadatas[i])+1)
		for k, v := range metadatas[i] {
			metadata[k] = v
		}
		metadata[updatedAtKey] = now

		docs = append(docs, chromem.Document{
			ID:        ids[i],
			Content:   documents[i],
			Metadata:  metadata,
			Embedding: embeddings[i],
		})
	}

	if err := addDocs(ctx, collection, docs); err != nil {
		// A rebuild has already cleared the old rows at this point, so
		// the old stamp no longer describes the table's contents.
		if clearExisting {
			s.clearStamp(category)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("writing table %q: %w", category, err)
	}

	if err := s.stamp(category, batchDim); err != nil {
		return 0, err
	}

	span.SetAttributes(attribute.Int("written", len(valid)))
	s.logger.Debug("upserted rows",
		zap.String("category", category),
		zap.Int("written", len(valid)),
		zap.Int("dropped", n-len(valid)),
		zap.Bool("clear_existing", clearExisting),
	)

	return len(valid), nil
}

// checkStamp enforces per-category model and dimension stability
// before any mutation. Rebuilds may re-stamp; incremental writes must
// match the existing stamp.
func (s *Store) checkStamp(category string, batchDim int, clearExisting bool) error {
	if batchDim == 0 || clearExisting {
		return nil
	}

	s.manifestMu.Lock()
	defer s.manifestMu.Unlock()

	st, ok := s.manifest.Tables[category]
	if !ok {
		return nil
	}
	if st.Dimension != batchDim {
		return fmt.Errorf("%w: table %q holds %d-dimension vectors, batch has %d",
			ErrDataIntegrity, category, st.Dimension, batchDim)
	}
	if s.model != "" && st.Model != "" && st.Model != s.model {
		return fmt.Errorf("%w: table %q was built by model %q, current model is %q; rebuild required",
			ErrDataIntegrity, category, st.Model, s.model)
	}
	return nil
}

func (s *Store) stamp(category string, dimension int) error {
	s.manifestMu.Lock()
	defer s.manifestMu.Unlock()

	st := tableStamp{Model: s.model, Dimension: dimension}
	if s.manifest.Tables[category] == st {
		return nil
	}
	s.manifest.Tables[category] = st
	return s.manifest.save(s.cfg.Path)
}

func (s *Store) clearStamp(category string) {
	s.manifestMu.Lock()
	defer s.manifestMu.Unlock()

	if _, ok := s.manifest.Tables[category]; !ok {
		return
	}
	delete(s.manifest.Tables, category)
	if err := s.manifest.save(s.cfg.Path); err != nil {
		s.logger.Warn("saving manifest failed", zap.Error(err))
	}
}

// Search returns up to limit rows from a category ordered by
// ascending cosine distance to the query embedding.
//
// Filters are equality constraints ANDed together; keys must match
// the safe identifier pattern or the call fails with ErrValidation.
// A category with no rows returns an empty result, not an error.
func (s *Store) Search(ctx context.Context, category string, queryEmbedding []float32, limit int, filters map[string]string) ([]SearchResult, error) {
	ctx, span := tracer.Start(ctx, "Store.Search")
	defer span.End()
	span.SetAttributes(
		attribute.String("category", category),
		attribute.Int("limit", limit),
	)

	if err := validateCategory(category); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", ErrValidation, limit)
	}
	if len(queryEmbedding) == 0 {
		return nil, fmt.Errorf("%w: query embedding cannot be empty", ErrValidation)
	}
	if err := validateFilterKeys(filters); err != nil {
		span.RecordError(err)
		return nil, err
	}

	lock := s.tableLock(category)
	lock.RLock()
	defer lock.RUnlock()

	s.manifestMu.Lock()
	st, stamped := s.manifest.Tables[category]
	s.manifestMu.Unlock()

	if stamped && len(queryEmbedding) != st.Dimension {
		return nil, fmt.Errorf("%w: query embedding has %d dimensions, table %q holds %d",
			ErrValidation, len(queryEmbedding), category, st.Dimension)
	}

	collection := s.db.GetCollection(category, noEmbedFunc)
	if collection == nil {
		return []SearchResult{}, nil
	}

	count := collection.Count()
	if count == 0 {
		return []SearchResult{}, nil
	}
	if limit > count {
		limit = count
	}

	results, err := collection.QueryEmbedding(ctx, queryEmbedding, limit, filters, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying table %q: %w", category, err)
	}

	searchResults := make([]SearchResult, len(results))
	for i, r := range results {
		metadata := make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			if k == updatedAtKey {
				continue
			}
			metadata[k] = v
		}
		searchResults[i] = SearchResult{
			ID:       r.ID,
			Document: r.Content,
			Metadata: metadata,
			Distance: 1 - r.Similarity,
		}
	}

	span.SetAttributes(attribute.Int("results", len(searchResults)))
	return searchResults, nil
}

// Stats returns the row count per category table. Tables are
// enumerated from the database itself so rows survive a lost or
// corrupt manifest.
func (s *Store) Stats() map[string]int {
	collections := s.db.ListCollections()

	stats := make(map[string]int, len(collections))
	for category, collection := range collections {
		lock := s.tableLock(category)
		lock.RLock()
		stats[category] = collection.Count()
		lock.RUnlock()
	}
	return stats
}

// Model returns the model identifier this store stamps tables with.
func (s *Store) Model() string { return s.model }
