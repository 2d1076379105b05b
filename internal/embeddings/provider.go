// Package embeddings provides embedding generation via a cloud
// (OpenAI-compatible) backend with a local ONNX fallback.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Sentinel errors for embedding providers.
var (
	// ErrConfiguration indicates the provider cannot be constructed.
	// Raised at construction, never deferred to the first call.
	ErrConfiguration = errors.New("embedding provider configuration invalid")

	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrEmbeddingFailed indicates a per-item embedding failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Result is the typed outcome of embedding one text. A failed item
// carries Err and an empty vector; a legitimately produced vector is
// never empty. This keeps "couldn't compute" distinct from "empty".
type Result struct {
	Vector []float32
	Err    error
}

// OK reports whether the item produced a usable vector.
func (r Result) OK() bool {
	return r.Err == nil && len(r.Vector) > 0
}

// Provider generates embeddings for documents and queries.
//
// EmbedBatch never fails the whole batch for a per-item problem: the
// returned slice always has one Result per input text, and transient
// backend failures surface as failed Results at the affected
// positions. The returned error is reserved for context cancellation.
type Provider interface {
	EmbedBatch(ctx context.Context, texts []string) ([]Result, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the output vector width.
	Dimension() int

	// Model returns the backend-specific model identifier, used to
	// stamp vector tables with their producing model.
	Model() string

	Close() error
}

// Config holds configuration for creating an embedding provider.
type Config struct {
	// Provider selects the backend: "cloud", "local", or "" for
	// automatic selection based on credential presence.
	Provider string `koanf:"provider"`

	// Model is the backend-specific model identifier.
	Model string `koanf:"model"`

	// Dimensions is the expected output width. Zero means detect from
	// the model name.
	Dimensions int `koanf:"dimensions"`

	// BatchSize chunks network calls to respect payload limits.
	BatchSize int `koanf:"batch_size"`

	// BaseURL is the cloud backend endpoint (OpenAI-compatible).
	BaseURL string `koanf:"base_url"`

	// APIKey is the cloud backend credential. Absence selects the
	// local fallback under automatic provider selection.
	APIKey string `koanf:"api_key"`

	// CacheDir is the local model cache directory.
	CacheDir string `koanf:"cache_dir"`

	// Timeout bounds each network call.
	Timeout time.Duration `koanf:"timeout"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 64
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// NewProvider creates an embedding provider, probing for cloud
// credentials at construction time.
//
// Selection rules:
//   - "cloud": requires APIKey, otherwise ErrConfiguration
//   - "local": local ONNX models, no credentials needed
//   - "": cloud when APIKey is present, local otherwise
func NewProvider(cfg Config, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	switch cfg.Provider {
	case "cloud":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: cloud provider requires an API key", ErrConfiguration)
		}
		return NewCloudProvider(cfg, logger)
	case "local":
		return NewLocalProvider(cfg, logger)
	case "", "auto":
		if cfg.APIKey != "" {
			return NewCloudProvider(cfg, logger)
		}
		logger.Info("no cloud credentials, using local embedding fallback")
		return NewLocalProvider(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrConfiguration, cfg.Provider)
	}
}

// detectDimension returns the embedding dimension for a model name,
// falling back to 384 for unknown small models.
func detectDimension(model string) int {
	switch model {
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	case "text-embedding-3-large":
		return 3072
	}
	switch {
	case strings.Contains(model, "large"):
		return 1024
	case strings.Contains(model, "base"):
		return 768
	default:
		return 384
	}
}
