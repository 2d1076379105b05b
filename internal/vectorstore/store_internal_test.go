package vectorstore

import (
	"context"
	"errors"
	"testing"

	chromem "github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebuildWriteFailureClearsStamp(t *testing.T) {
	s, err := New(Config{Path: t.TempDir()}, "test-model", nil)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = s.Upsert(ctx, "bundles",
		[]string{"a"}, [][]float32{{1, 0}}, []string{"doc a"}, []map[string]string{nil}, true)
	require.NoError(t, err)
	require.Contains(t, s.manifest.Tables, "bundles")

	orig := addDocs
	addDocs = func(context.Context, *chromem.Collection, []chromem.Document) error {
		return errors.New("disk full")
	}

	_, err = s.Upsert(ctx, "bundles",
		[]string{"b"}, [][]float32{{0, 1}}, []string{"doc b"}, []map[string]string{nil}, true)
	require.Error(t, err)
	addDocs = orig

	s.manifestMu.Lock()
	_, stamped := s.manifest.Tables["bundles"]
	s.manifestMu.Unlock()
	assert.False(t, stamped, "stamp survived a failed rebuild write")

	// With the stamp gone, an incremental write with a different
	// dimension is no longer refused against stale table facts.
	written, err := s.Upsert(ctx, "bundles",
		[]string{"c"}, [][]float32{{0, 0, 1}}, []string{"doc c"}, []map[string]string{nil}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, written)
}
