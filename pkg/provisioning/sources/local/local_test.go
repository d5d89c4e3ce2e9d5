package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectFalseWhenFileAbsent(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "missing.json"))
	require.False(t, s.Detect(context.Background()))
}

func TestDetectAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "provisioning.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"hostname":"h1"}`), 0o644))

	s := New(path)
	require.True(t, s.Detect(context.Background()))

	doc, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "h1", doc["hostname"])
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "provisioning.json")
	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o644))

	s := New(path)
	_, err := s.Load(context.Background())
	require.Error(t, err)
}
