package embeddings

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

// batchEmbedder is the slice of the langchaingo embedder the cloud
// provider needs. Narrowed for testability.
type batchEmbedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// CloudProvider generates embeddings through an OpenAI-compatible API.
type CloudProvider struct {
	embedder  batchEmbedder
	model     string
	dimension int
	cfg       Config
	logger    *zap.Logger
}

// NewCloudProvider creates a provider backed by langchaingo's OpenAI
// client. Works against the OpenAI API and any compatible endpoint.
func NewCloudProvider(cfg Config, logger *zap.Logger) (*CloudProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(model),
		openai.WithEmbeddingModel(model),
		openai.WithToken(cfg.APIKey),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: creating OpenAI client: %v", ErrConfiguration, err)
	}

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("%w: creating embedder: %v", ErrConfiguration, err)
	}

	dim := cfg.Dimensions
	if dim == 0 {
		dim = detectDimension(model)
	}

	logger.Info("cloud embedding provider initialized",
		zap.String("model", model),
		zap.Int("dimension", dim),
		zap.Int("batch_size", cfg.BatchSize),
	)

	return &CloudProvider{
		embedder:  embedder,
		model:     model,
		dimension: dim,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// EmbedBatch embeds texts in chunks of the configured batch size.
// A failed chunk marks only its own items as failed; the batch as a
// whole proceeds. Each chunk call carries a bounded timeout.
func (p *CloudProvider) EmbedBatch(ctx context.Context, texts []string) ([]Result, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	results := make([]Result, len(texts))
	for start := 0; start < len(texts); start += p.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			for i := start; i < len(texts); i++ {
				results[i] = Result{Err: err}
			}
			return results, err
		}

		end := start + p.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		chunk := texts[start:end]

		chunkCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		vectors, err := p.embedder.EmbedDocuments(chunkCtx, chunk)
		cancel()

		if err != nil || len(vectors) != len(chunk) {
			if err == nil {
				err = fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), len(chunk))
			}
			p.logger.Warn("embedding chunk failed",
				zap.Int("offset", start),
				zap.Int("size", len(chunk)),
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

// EmbedQuery embeds a single query text.
func (p *CloudProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	vec, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vec, nil
}

// Dimension returns the output vector width.
func (p *CloudProvider) Dimension() int { return p.dimension }

// Model returns the configured model identifier.
func (p *CloudProvider) Model() string { return p.model }

// Close is a no-op for the HTTP-backed provider.
func (p *CloudProvider) Close() error { return nil }
