package state

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetPathEmptyReturnsWholeDocument(t *testing.T) {
	doc := json.RawMessage(`{"hostname":"h1"}`)
	out, err := GetPath(doc, "")
	require.NoError(t, err)
	require.JSONEq(t, `{"hostname":"h1"}`, string(out))
}

func TestGetPathNested(t *testing.T) {
	doc := json.RawMessage(`{"networking":{"hostname":"h1","interfaces":[]}}`)
	out, err := GetPath(doc, "networking.hostname")
	require.NoError(t, err)
	require.JSONEq(t, `"h1"`, string(out))
}

func TestGetPathMissingReturnsNotFound(t *testing.T) {
	doc := json.RawMessage(`{"hostname":"h1"}`)
	_, err := GetPath(doc, "networking.hostname")
	require.Error(t, err)
}

func TestHasPath(t *testing.T) {
	doc := json.RawMessage(`{"networking":{"hostname":"h1"}}`)
	require.True(t, HasPath(doc, "networking.hostname"))
	require.True(t, HasPath(doc, "networking"))
	require.False(t, HasPath(doc, "storage"))
}
