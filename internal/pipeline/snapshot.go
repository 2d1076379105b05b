package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fyrsmithlabs/indexd/internal/document"
)

// snapshotRecord is the persisted form of one document record. With a
// working embedding provider, the index is fully reconstructible from
// these files without re-crawling or re-parsing.
type snapshotRecord struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// writeSnapshot writes one category's records to {category}.json in
// dir, atomically via temp file and rename.
func writeSnapshot(dir string, category document.Category, records []document.Record) error {
	dir, err := expandPath(dir)
	if err != nil {
		return fmt.Errorf("expanding snapshot dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating snapshot dir: %w", err)
	}

	out := make([]snapshotRecord, len(records))
	for i, rec := range records {
		out[i] = snapshotRecord{ID: rec.ID, Text: rec.Text, Metadata: rec.Metadata}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	path := filepath.Join(dir, category.String()+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing snapshot: %w", err)
	}
	return nil
}

// readSnapshot loads one category's records from dir. A missing file
// yields no records and no error.
func readSnapshot(dir string, category document.Category) ([]document.Record, error) {
	dir, err := expandPath(dir)
	if err != nil {
		return nil, fmt.Errorf("expanding snapshot dir: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, category.String()+".json"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}

	var stored []snapshotRecord
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("parsing snapshot for %q: %w", category, err)
	}

	records := make([]document.Record, len(stored))
	for i, rec := range stored {
		records[i] = document.Record{
			ID:       rec.ID,
			Text:     rec.Text,
			Metadata: rec.Metadata,
			Category: category,
		}
	}
	return records, nil
}
