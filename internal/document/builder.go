package document

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Build limits. Embedding inputs are length-limited, so the blob is
// assembled highest-signal first and the long-form tail is hard-capped.
const (
	// maxListedItems bounds the enumerated task/function list.
	maxListedItems = 20

	// maxLongFormBytes caps the trailing readme/page body.
	maxLongFormBytes = 4096
)

// Bundle is a structured automation bundle record supplied by an
// external artifact parser.
type Bundle struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Platform    string   `json:"platform"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Tasks       []string `json:"tasks,omitempty"`
	Readme      string   `json:"readme,omitempty"`
	Source      string   `json:"source,omitempty"`
}

// LibraryModule is a structured library/module record supplied by an
// external artifact parser.
type LibraryModule struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Functions   []string `json:"functions,omitempty"`
	Readme      string   `json:"readme,omitempty"`
	Source      string   `json:"source,omitempty"`
}

// Heading is one extracted section heading from a crawled page.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// Page is the normalized content of one crawled documentation URL.
type Page struct {
	URL        string
	Title      string
	Content    string
	Headings   []Heading
	CodeBlocks []string
	Section    string
	Source     string
	Backend    string
}

// BuildBundleRecord assembles the embedding blob for an automation
// bundle. Field order is by signal priority: identity, platform tags,
// short description, bounded task list, truncated readme.
func BuildBundleRecord(b Bundle) (Record, error) {
	var sb strings.Builder
	writeField(&sb, "Bundle", b.Name)
	writeField(&sb, "Platform", b.Platform)
	writeField(&sb, "Tags", strings.Join(b.Tags, ", "))
	writeField(&sb, "Description", b.Description)
	writeField(&sb, "Tasks", joinBounded(b.Tasks, maxListedItems))
	writeField(&sb, "Readme", truncateBytes(b.Readme, maxLongFormBytes))

	rec := Record{
		ID:       b.ID,
		Text:     strings.TrimSpace(sb.String()),
		Category: CategoryBundles,
		Metadata: map[string]string{
			"name":       b.Name,
			"platform":   b.Platform,
			"task_count": strconv.Itoa(len(b.Tasks)),
		},
	}
	if b.Source != "" {
		rec.Metadata["source"] = b.Source
	}
	if err := rec.Validate(); err != nil {
		return Record{}, fmt.Errorf("building bundle record %q: %w", b.ID, err)
	}
	return rec, nil
}

// BuildLibraryRecord assembles the embedding blob for a library module.
func BuildLibraryRecord(m LibraryModule) (Record, error) {
	var sb strings.Builder
	writeField(&sb, "Module", m.Name)
	writeField(&sb, "Category", m.Category)
	writeField(&sb, "Tags", strings.Join(m.Tags, ", "))
	writeField(&sb, "Description", m.Description)
	writeField(&sb, "Functions", joinBounded(m.Functions, maxListedItems))
	writeField(&sb, "Readme", truncateBytes(m.Readme, maxLongFormBytes))

	rec := Record{
		ID:       m.ID,
		Text:     strings.TrimSpace(sb.String()),
		Category: CategoryLibraries,
		Metadata: map[string]string{
			"name":     m.Name,
			"category": m.Category,
		},
	}
	if m.Source != "" {
		rec.Metadata["source"] = m.Source
	}
	if err := rec.Validate(); err != nil {
		return Record{}, fmt.Errorf("building library record %q: %w", m.ID, err)
	}
	return rec, nil
}

// BuildPageRecord assembles the embedding blob for a crawled page.
// Headings act as the page's tag layer, code block count is noted but
// the blocks themselves ride in the truncated body.
func BuildPageRecord(p Page) (Record, error) {
	var sb strings.Builder
	writeField(&sb, "Page", p.Title)
	writeField(&sb, "Section", p.Section)

	headings := make([]string, 0, len(p.Headings))
	for _, h := range p.Headings {
		headings = append(headings, h.Text)
	}
	writeField(&sb, "Headings", joinBounded(headings, maxListedItems))
	writeField(&sb, "Content", truncateBytes(p.Content, maxLongFormBytes))
	writeField(&sb, "Code", truncateBytes(strings.Join(p.CodeBlocks, "\n\n"), maxLongFormBytes))

	rec := Record{
		ID:       p.URL,
		Text:     strings.TrimSpace(sb.String()),
		Category: CategoryDocs,
		Metadata: map[string]string{
			"title": p.Title,
			"url":   p.URL,
		},
	}
	if p.Section != "" {
		rec.Metadata["section"] = p.Section
	}
	if p.Source != "" {
		rec.Metadata["source"] = p.Source
	}
	if p.Backend != "" {
		rec.Metadata["backend"] = p.Backend
	}
	if err := rec.Validate(); err != nil {
		return Record{}, fmt.Errorf("building page record %q: %w", p.URL, err)
	}
	return rec, nil
}

// writeField appends "Label: value\n" when value is non-empty.
func writeField(sb *strings.Builder, label, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	sb.WriteString(label)
	sb.WriteString(": ")
	sb.WriteString(value)
	sb.WriteString("\n")
}

// joinBounded joins at most max items, noting how many were elided.
func joinBounded(items []string, max int) string {
	if len(items) == 0 {
		return ""
	}
	if len(items) <= max {
		return strings.Join(items, ", ")
	}
	kept := strings.Join(items[:max], ", ")
	return fmt.Sprintf("%s (and %d more)", kept, len(items)-max)
}

// truncateBytes caps s at max bytes without splitting a rune.
func truncateBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	for !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
