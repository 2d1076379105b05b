package document_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/indexd/internal/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildBundleRecord(t *testing.T) {
	rec, err := document.BuildBundleRecord(document.Bundle{
		ID:          "acme/deploy",
		Name:        "deploy",
		Platform:    "linux",
		Description: "Rolling deploys for web fleets",
		Tags:        []string{"deploy", "web"},
		Tasks:       []string{"stage", "flip", "verify"},
		Readme:      "Long readme body",
		Source:      "galaxy",
	})
	require.NoError(t, err)

	assert.Equal(t, "acme/deploy", rec.ID)
	assert.Equal(t, document.CategoryBundles, rec.Category)
	assert.Equal(t, "linux", rec.Metadata["platform"])
	assert.Equal(t, "3", rec.Metadata["task_count"])
	assert.Equal(t, "galaxy", rec.Metadata["source"])
}

func TestBuildBundleRecordPriorityOrder(t *testing.T) {
	rec, err := document.BuildBundleRecord(document.Bundle{
		ID:          "b1",
		Name:        "backup",
		Platform:    "linux",
		Description: "Nightly backups",
		Tasks:       []string{"dump", "rotate"},
		Readme:      "README TAIL",
	})
	require.NoError(t, err)

	// Identity must come before platform, description, tasks, readme.
	name := strings.Index(rec.Text, "backup")
	platform := strings.Index(rec.Text, "linux")
	desc := strings.Index(rec.Text, "Nightly backups")
	tasks := strings.Index(rec.Text, "dump")
	readme := strings.Index(rec.Text, "README TAIL")

	require.GreaterOrEqual(t, name, 0)
	assert.Less(t, name, platform)
	assert.Less(t, platform, desc)
	assert.Less(t, desc, tasks)
	assert.Less(t, tasks, readme)
}

func TestBuildBundleRecordBoundsTaskList(t *testing.T) {
	tasks := make([]string, 30)
	for i := range tasks {
		tasks[i] = fmt.Sprintf("task_%02d", i)
	}

	rec, err := document.BuildBundleRecord(document.Bundle{
		ID:    "b2",
		Name:  "many-tasks",
		Tasks: tasks,
	})
	require.NoError(t, err)

	assert.Contains(t, rec.Text, "task_19")
	assert.NotContains(t, rec.Text, "task_20")
	assert.Contains(t, rec.Text, "and 10 more")
	assert.Equal(t, "30", rec.Metadata["task_count"])
}

func TestBuildBundleRecordTruncatesReadme(t *testing.T) {
	rec, err := document.BuildBundleRecord(document.Bundle{
		ID:     "b3",
		Name:   "huge",
		Readme: strings.Repeat("x", 100_000),
	})
	require.NoError(t, err)

	// Hard cap: blob stays well under the raw readme size.
	assert.Less(t, len(rec.Text), 8192)
}

func TestBuildLibraryRecord(t *testing.T) {
	rec, err := document.BuildLibraryRecord(document.LibraryModule{
		ID:          "stdlib/files",
		Name:        "files",
		Category:    "filesystem",
		Description: "File manipulation helpers",
		Functions:   []string{"copy", "move", "touch"},
	})
	require.NoError(t, err)

	assert.Equal(t, document.CategoryLibraries, rec.Category)
	assert.Equal(t, "filesystem", rec.Metadata["category"])
	assert.Contains(t, rec.Text, "copy, move, touch")
}

func TestBuildPageRecord(t *testing.T) {
	rec, err := document.BuildPageRecord(document.Page{
		URL:     "https://docs.example.com/install",
		Title:   "Installation",
		Content: "Install with the package manager.",
		Headings: []document.Heading{
			{Level: 1, Text: "Installation"},
			{Level: 2, Text: "Requirements"},
		},
		CodeBlocks: []string{"apt install example"},
		Section:    "getting-started",
		Backend:    "static",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://docs.example.com/install", rec.ID)
	assert.Equal(t, document.CategoryDocs, rec.Category)
	assert.Equal(t, "getting-started", rec.Metadata["section"])
	assert.Equal(t, "static", rec.Metadata["backend"])
	assert.Contains(t, rec.Text, "Requirements")
	assert.Contains(t, rec.Text, "apt install example")
}

func TestRecordValidate(t *testing.T) {
	tests := []struct {
		name    string
		rec     document.Record
		wantErr error
	}{
		{
			name: "valid",
			rec: document.Record{
				ID:       "a",
				Category: document.CategoryBundles,
				Metadata: map[string]string{"platform": "linux"},
			},
		},
		{
			name:    "empty id",
			rec:     document.Record{Category: document.CategoryBundles},
			wantErr: document.ErrEmptyID,
		},
		{
			name:    "unknown category",
			rec:     document.Record{ID: "a", Category: "widgets"},
			wantErr: document.ErrInvalidCategory,
		},
		{
			name: "metadata key outside allow-list",
			rec: document.Record{
				ID:       "a",
				Category: document.CategoryBundles,
				Metadata: map[string]string{"shoe_size": "9"},
			},
			wantErr: document.ErrUnknownMetadataKey,
		},
		{
			name: "unsafe metadata key",
			rec: document.Record{
				ID:       "a",
				Category: document.CategoryDocs,
				Metadata: map[string]string{"title; drop": "x"},
			},
			wantErr: document.ErrUnknownMetadataKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
