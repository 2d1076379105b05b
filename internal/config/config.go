// Package config provides configuration loading for indexd.
package config

import (
	"fmt"

	"github.com/fyrsmithlabs/indexd/internal/crawler"
	"github.com/fyrsmithlabs/indexd/internal/embeddings"
	"github.com/fyrsmithlabs/indexd/internal/logging"
	"github.com/fyrsmithlabs/indexd/internal/pipeline"
	"github.com/fyrsmithlabs/indexd/internal/telemetry"
	"github.com/fyrsmithlabs/indexd/internal/vectorstore"
)

// SourceConfig names one artifact file to index.
type SourceConfig struct {
	// Name labels records produced from this source.
	Name string `koanf:"name"`

	// Artifacts is the path to the parser's JSON output.
	Artifacts string `koanf:"artifacts"`
}

// Config is the root configuration.
type Config struct {
	Logging    logging.Config     `koanf:"logging"`
	Embeddings embeddings.Config  `koanf:"embeddings"`
	Crawler    crawler.Config     `koanf:"crawler"`
	Store      vectorstore.Config `koanf:"store"`
	Pipeline   pipeline.Config    `koanf:"pipeline"`
	Telemetry  telemetry.Config   `koanf:"telemetry"`
	Sources    []SourceConfig     `koanf:"sources"`
}

// ApplyDefaults sets defaults on all sections.
func (c *Config) ApplyDefaults() {
	c.Logging.ApplyDefaults()
	c.Embeddings.ApplyDefaults()
	c.Crawler.ApplyDefaults()
	c.Store.ApplyDefaults()
	if c.Pipeline.SnapshotDir == "" {
		c.Pipeline.SnapshotDir = "~/.local/share/indexd/snapshots"
	}
	c.Telemetry.ApplyDefaults()
}

// Validate validates all sections.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	for i, source := range c.Sources {
		if source.Name == "" {
			return fmt.Errorf("sources[%d]: name required", i)
		}
		if source.Artifacts == "" {
			return fmt.Errorf("sources[%d]: artifacts path required", i)
		}
	}
	return nil
}
