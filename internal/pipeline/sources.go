package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fyrsmithlabs/indexd/internal/document"
)

// CrawlTarget is one documentation URL to fetch, with its category
// metadata.
type CrawlTarget struct {
	URL      string `json:"url"`
	Section  string `json:"section,omitempty"`
	Priority int    `json:"priority,omitempty"`
}

// SourceContent is the structured output of one artifact parser:
// bundle and module records plus the documentation URLs to crawl.
type SourceContent struct {
	Bundles []document.Bundle        `json:"bundles,omitempty"`
	Modules []document.LibraryModule `json:"modules,omitempty"`
	Targets []CrawlTarget            `json:"targets,omitempty"`
}

// Source supplies parsed artifacts for one source collection. Parsers
// themselves (git clones, registry scrapes) are external
// collaborators; the pipeline only consumes their structured output.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (*SourceContent, error)
}

// FileSource reads a parser's structured output from a JSON file.
type FileSource struct {
	// SourceName labels records produced from this file.
	SourceName string

	// Path is the JSON file holding a SourceContent payload.
	Path string
}

// Name returns the source label.
func (s *FileSource) Name() string { return s.SourceName }

// Fetch loads and decodes the artifact file.
func (s *FileSource) Fetch(ctx context.Context) (*SourceContent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("reading artifacts %s: %w", s.Path, err)
	}

	var content SourceContent
	if err := json.Unmarshal(data, &content); err != nil {
		return nil, fmt.Errorf("parsing artifacts %s: %w", s.Path, err)
	}
	return &content, nil
}
