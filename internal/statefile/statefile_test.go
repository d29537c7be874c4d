package statefile_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duo-workflow-bridge/bridge/internal/statefile"
)

func TestGetMissingFileReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	store := statefile.New(filepath.Join(dir, "does-not-exist.json"))

	_, ok := store.Get(context.Background(), statefile.Key{HostSessionID: "s1"})
	assert.False(t, ok)
}

func TestSetThenGetRoundTrips(t *testing.T) {
	dir := t.TempDir()
	store := statefile.New(filepath.Join(dir, "state.json"))
	key := statefile.Key{InstanceURL: "https://gitlab.example.com", ModelID: "m1", HostSessionID: "s1"}

	store.Set(context.Background(), key, "wf-123")
	id, ok := store.Get(context.Background(), key)
	require.True(t, ok)
	assert.Equal(t, "wf-123", id)
}

func TestGetCorruptJSONTreatedAsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store := statefile.New(path)
	_, ok := store.Get(context.Background(), statefile.Key{HostSessionID: "s1"})
	assert.False(t, ok)
}

func TestSetCreatesMissingParentDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "deeper", "state.json")
	store := statefile.New(path)

	store.Set(context.Background(), statefile.Key{HostSessionID: "s1"}, "wf-1")
	id, ok := store.Get(context.Background(), statefile.Key{HostSessionID: "s1"})
	require.True(t, ok)
	assert.Equal(t, "wf-1", id)
}
