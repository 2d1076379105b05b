package vectorstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const manifestFile = "manifest.json"

// tableManifest stamps each category with the model that produced its
// vectors and the vector dimension fixed at the category's first
// write. A provider/model change mid-lifecycle is caught here instead
// of silently mixing incompatible vector spaces.
type tableManifest struct {
	Tables map[string]tableStamp `json:"tables"`
}

// tableStamp records a category's producing model and dimension.
type tableStamp struct {
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
}

// loadManifest reads the manifest from dir, returning an empty
// manifest when none exists yet.
func loadManifest(dir string) (*tableManifest, error) {
	m := &tableManifest{Tables: make(map[string]tableStamp)}

	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if m.Tables == nil {
		m.Tables = make(map[string]tableStamp)
	}
	return m, nil
}

// save writes the manifest atomically via temp file and rename.
func (m *tableManifest) save(dir string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}

	tmp := filepath.Join(dir, manifestFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, manifestFile)); err != nil {
		return fmt.Errorf("replacing manifest: %w", err)
	}
	return nil
}
