package embeddings

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
	"go.uber.org/zap"
)

// localModelMapping maps friendly model names to fastembed constants.
var localModelMapping = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":                       fastembed.BGEBaseEN,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
}

// localModelDimensions maps fastembed models to their output width.
var localModelDimensions = map[fastembed.EmbeddingModel]int{
	fastembed.BGESmallENV15: 384,
	fastembed.BGESmallEN:    384,
	fastembed.BGEBaseENV15:  768,
	fastembed.BGEBaseEN:     768,
	fastembed.AllMiniLML6V2: 384,
}

// LocalProvider generates embeddings with local ONNX models. It is the
// fallback when no cloud credentials are configured; its output
// dimension differs from the cloud backend's.
type LocalProvider struct {
	model     *fastembed.FlagEmbedding
	modelName string
	dimension int
	batchSize int
	logger    *zap.Logger
	mu        sync.RWMutex
}

// NewLocalProvider creates a FastEmbed-backed provider.
func NewLocalProvider(cfg Config, logger *zap.Logger) (*LocalProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	modelName := cfg.Model
	if modelName == "" {
		modelName = "BAAI/bge-small-en-v1.5"
	}

	model, ok := localModelMapping[modelName]
	if !ok {
		model = fastembed.EmbeddingModel(modelName)
		if _, known := localModelDimensions[model]; !known {
			return nil, fmt.Errorf("%w: unsupported local model %q", ErrConfiguration, modelName)
		}
	}

	dim := localModelDimensions[model]
	if cfg.Dimensions != 0 && cfg.Dimensions != dim {
		return nil, fmt.Errorf("%w: model %q emits %d dimensions, config expects %d",
			ErrConfiguration, modelName, dim, cfg.Dimensions)
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(".", "model_cache")
	}

	showProgress := false
	flagEmbed, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cacheDir,
		MaxLength:            512,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: initializing FastEmbed: %v", ErrConfiguration, err)
	}

	logger.Info("local embedding provider initialized",
		zap.String("model", modelName),
		zap.Int("dimension", dim),
	)

	return &LocalProvider{
		model:     flagEmbed,
		modelName: modelName,
		dimension: dim,
		batchSize: cfg.BatchSize,
		logger:    logger,
	}, nil
}

// EmbedBatch embeds texts with the local model. Chunk failures mark
// only the affected items; the rest of the batch proceeds.
func (p *LocalProvider) EmbedBatch(ctx context.Context, texts []string) ([]Result, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	results := make([]Result, len(texts))
	for start := 0; start < len(texts); start += p.batchSize {
		if err := ctx.Err(); err != nil {
			for i := start; i < len(texts); i++ {
				results[i] = Result{Err: err}
			}
			return results, err
		}

		end := start + p.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		chunk := texts[start:end]

		// PassageEmbed adds the "passage: " prefix BGE models expect.
		vectors, err := p.model.PassageEmbed(chunk, len(chunk))
		if err != nil || len(vectors) != len(chunk) {
			if err == nil {
				err = fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), len(chunk))
			}
			p.logger.Warn("local embedding chunk failed",
				zap.Int("offset", start),
				zap.Error(err),
			)
			for i := start; i < end; i++ {
				results[i] = Result{Err: fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)}
			}
			continue
		}

		for i, vec := range vectors {
			if len(vec) == 0 {
				results[start+i] = Result{Err: fmt.Errorf("%w: empty vector", ErrEmbeddingFailed)}
				continue
			}
			results[start+i] = Result{Vector: vec}
		}
	}

	return results, nil
}

// EmbedQuery embeds a single query with the "query: " prefix BGE
// models expect.
func (p *LocalProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	vec, err := p.model.QueryEmbed(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vec, nil
}

// Dimension returns the output vector width.
func (p *LocalProvider) Dimension() int { return p.dimension }

// Model returns the configured model identifier.
func (p *LocalProvider) Model() string { return p.modelName }

// Close releases the ONNX runtime resources.
func (p *LocalProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.model != nil {
		return p.model.Destroy()
	}
	return nil
}
