// Package crawler fetches and normalizes external documentation URLs.
//
// Two backends are supported: a rendering service that handles dynamic
// pages and returns structured markdown, and a simpler static fetcher
// with HTML content extraction. The crawler starts on the rendering
// backend and degrades permanently to the static backend after
// repeated failures; it never recovers within a run.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCrawlFailed indicates the active backend could not produce a
// result for one URL. The job continues with the next URL.
var ErrCrawlFailed = errors.New("crawl failed")

// Backend identifies which backend produced a result. Downstream
// consumers use it to flag reduced-richness content.
type Backend string

const (
	// BackendRender is the primary rendering service.
	BackendRender Backend = "render"

	// BackendStatic is the fallback static fetcher.
	BackendStatic Backend = "static"
)

// state is the crawler's backend selection state.
type state int

const (
	statePrimary state = iota
	stateDegraded
)

// Heading is one extracted section heading.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// Result is the normalized content of one crawled URL.
type Result struct {
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	Headings   []Heading `json:"headings,omitempty"`
	CodeBlocks []string  `json:"code_blocks,omitempty"`
	Backend    Backend   `json:"backend"`
}

// Config holds crawler configuration.
type Config struct {
	// RenderURL is the rendering service endpoint. Empty disables the
	// primary backend; the crawler then starts degraded.
	RenderURL string `koanf:"render_url"`

	// Timeout bounds each fetch.
	Timeout time.Duration `koanf:"timeout"`

	// FailureThreshold is the number of consecutive primary failures
	// before degrading permanently.
	FailureThreshold int `koanf:"failure_threshold"`

	// MinDelay is the minimum delay between static fetches.
	MinDelay time.Duration `koanf:"min_delay"`

	// MaxBodyBytes caps fetched response bodies.
	MaxBodyBytes int64 `koanf:"max_body_bytes"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 20 * time.Second
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 2
	}
	if c.MinDelay == 0 {
		c.MinDelay = 500 * time.Millisecond
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = 5 << 20
	}
}

// Crawler fetches URLs through the active backend, degrading one-way
// from the rendering service to the static fetcher.
type Crawler struct {
	render *renderClient
	static *staticClient
	logger *zap.Logger

	mu           sync.Mutex
	state        state
	consecutive  int
	failureLimit int
}

// New creates a crawler. Without a rendering endpoint configured the
// crawler starts in the degraded state.
func New(cfg Config, logger *zap.Logger) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	c := &Crawler{
		static:       newStaticClient(cfg),
		logger:       logger,
		failureLimit: cfg.FailureThreshold,
	}
	if cfg.RenderURL != "" {
		c.render = newRenderClient(cfg)
	} else {
		c.state = stateDegraded
		logger.Info("no rendering endpoint configured, using static backend")
	}
	return c
}

// Degraded reports whether the crawler has fallen back to the static
// backend.
func (c *Crawler) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateDegraded
}

// Crawl fetches one URL through the active backend. A failure returns
// an error for that URL only; the caller is expected to continue with
// the next URL. Primary-backend failures count toward permanent
// degradation.
func (c *Crawler) Crawl(ctx context.Context, url string) (*Result, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: empty URL", ErrCrawlFailed)
	}

	if c.usePrimary() {
		result, err := c.render.Fetch(ctx, url)
		if err != nil {
			c.recordPrimaryFailure(url, err)
			return nil, fmt.Errorf("%w: %s: %v", ErrCrawlFailed, url, err)
		}
		c.recordPrimarySuccess()
		return result, nil
	}

	result, err := c.static.Fetch(ctx, url)
	if err != nil {
		c.logger.Debug("static crawl failed",
			zap.String("url", url),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %s: %v", ErrCrawlFailed, url, err)
	}
	return result, nil
}

func (c *Crawler) usePrimary() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == statePrimary
}

func (c *Crawler) recordPrimarySuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutive = 0
}

// recordPrimaryFailure counts a consecutive failure and flips to the
// degraded state at the threshold. The transition is one-way for the
// lifetime of the crawler.
func (c *Crawler) recordPrimaryFailure(url string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutive++
	c.logger.Warn("render backend failure",
		zap.String("url", url),
		zap.Int("consecutive", c.consecutive),
		zap.Error(err),
	)
	if c.consecutive >= c.failureLimit && c.state == statePrimary {
		c.state = stateDegraded
		c.logger.Warn("render backend degraded, switching to static fetcher",
			zap.Int("failures", c.consecutive),
		)
	}
}
