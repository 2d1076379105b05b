// Package document defines the searchable document model and builds
// embedding input from structured source artifacts.
package document

import (
	"errors"
	"fmt"
	"regexp"
)

// Validation errors for document records.
var (
	// ErrInvalidCategory indicates an unknown entity category.
	ErrInvalidCategory = errors.New("invalid category")

	// ErrEmptyID indicates a record without an identifier.
	ErrEmptyID = errors.New("record ID cannot be empty")

	// ErrUnknownMetadataKey indicates a metadata key outside the
	// category's allow-list.
	ErrUnknownMetadataKey = errors.New("unknown metadata key")
)

// Category is a named partition of the index holding one kind of entity.
type Category string

const (
	// CategoryBundles holds automation bundle descriptions.
	CategoryBundles Category = "bundles"

	// CategoryLibraries holds library and module documentation.
	CategoryLibraries Category = "libraries"

	// CategoryDocs holds crawled documentation pages.
	CategoryDocs Category = "docs"
)

// Categories returns all known categories in stable order.
func Categories() []Category {
	return []Category{CategoryBundles, CategoryLibraries, CategoryDocs}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryBundles, CategoryLibraries, CategoryDocs:
		return true
	}
	return false
}

// String returns the category name.
func (c Category) String() string { return string(c) }

// allowedMetadataKeys is the closed per-category metadata allow-list.
// Unknown keys are rejected at build time rather than silently stored.
var allowedMetadataKeys = map[Category]map[string]bool{
	CategoryBundles: {
		"name":       true,
		"platform":   true,
		"source":     true,
		"task_count": true,
	},
	CategoryLibraries: {
		"name":     true,
		"category": true,
		"source":   true,
	},
	CategoryDocs: {
		"title":   true,
		"section": true,
		"url":     true,
		"source":  true,
		"backend": true,
	},
}

// metadataKeyPattern matches safe metadata keys: alphanumeric plus
// underscore, leading letter or underscore.
var metadataKeyPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Record is one searchable document: a prioritized, size-bounded text
// blob plus flat string metadata, keyed by ID within its category.
// Records are immutable once handed to the pipeline for a run.
type Record struct {
	// ID is unique within the record's category.
	ID string `json:"id"`

	// Text is the searchable blob used as embedding input.
	Text string `json:"text"`

	// Metadata holds flat string key-value pairs for filtering.
	Metadata map[string]string `json:"metadata"`

	// Category is the entity kind this record belongs to.
	Category Category `json:"category"`
}

// Validate checks the record against the category allow-list.
func (r Record) Validate() error {
	if r.ID == "" {
		return ErrEmptyID
	}
	if !r.Category.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, r.Category)
	}
	allowed := allowedMetadataKeys[r.Category]
	for key := range r.Metadata {
		if !metadataKeyPattern.MatchString(key) {
			return fmt.Errorf("%w: %q (unsafe key)", ErrUnknownMetadataKey, key)
		}
		if !allowed[key] {
			return fmt.Errorf("%w: %q for category %q", ErrUnknownMetadataKey, key, r.Category)
		}
	}
	return nil
}
