package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelCache_DirFlattensIdentifier(t *testing.T) {
	cache := NewModelCache("/cache")
	assert.Equal(t, "/cache/models--org--model", cache.Dir("org/model"))
	assert.Equal(t, "/cache/models--plain", cache.Dir("plain"))
}

func TestModelCache_IsComplete(t *testing.T) {
	cache := NewModelCache(t.TempDir())
	dir := cache.Dir("org/model")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "weights.bin"), []byte("w"), 0o644))

	assert.True(t, cache.IsComplete("org/model", []string{"config.json", "weights.bin"}))
	assert.False(t, cache.IsComplete("org/model", []string{"config.json", "missing.bin"}))

	// Empty expectation list is never a cache hit.
	assert.False(t, cache.IsComplete("org/model", nil))

	// Zero-byte files do not count as present.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.bin"), nil, 0o644))
	assert.False(t, cache.IsComplete("org/model", []string{"empty.bin"}))
}

func TestModelCache_RevisionRoundTrip(t *testing.T) {
	cache := NewModelCache(t.TempDir())

	assert.Empty(t, cache.Revision("org/model"))

	require.NoError(t, cache.WriteRevision("org/model", "abc123"))
	assert.Equal(t, "abc123", cache.Revision("org/model"))

	// A new revision overwrites the old ref.
	require.NoError(t, cache.WriteRevision("org/model", "def456"))
	assert.Equal(t, "def456", cache.Revision("org/model"))
}
