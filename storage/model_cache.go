package storage

import (
	"os"
	"path/filepath"
	"strings"
)

// refFileName records which revision of a model the cache directory holds.
const refFileName = ".revision"

// ModelCache lays out downloaded models under a single root, one directory
// per model identifier, with a small ref file recording the fetched
// revision so cache-hit checks target the same version deterministically.
type ModelCache struct {
	root string
}

// NewModelCache creates a model cache rooted at root.
func NewModelCache(root string) *ModelCache {
	return &ModelCache{root: root}
}

// Root returns the cache root directory.
func (c *ModelCache) Root() string { return c.root }

// Dir returns the deterministic local directory for a model identifier.
// Path separators in the identifier are flattened so "org/model" maps to
// one directory level.
func (c *ModelCache) Dir(modelID string) string {
	return filepath.Join(c.root, "models--"+strings.ReplaceAll(modelID, "/", "--"))
}

// IsComplete reports whether every expected relative file is present and
// non-empty under the model's cache directory. An empty expectation list
// is never treated as a hit.
func (c *ModelCache) IsComplete(modelID string, relPaths []string) bool {
	if len(relPaths) == 0 {
		return false
	}
	dir := c.Dir(modelID)
	for _, rel := range relPaths {
		info, err := os.Stat(filepath.Join(dir, rel))
		if err != nil || info.IsDir() || info.Size() == 0 {
			return false
		}
	}
	return true
}

// Revision returns the recorded revision for a cached model, or empty if
// none was recorded.
func (c *ModelCache) Revision(modelID string) string {
	data, err := os.ReadFile(filepath.Join(c.Dir(modelID), refFileName))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// WriteRevision records the revision a completed download materialized.
func (c *ModelCache) WriteRevision(modelID, revision string) error {
	dir := c.Dir(modelID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, refFileName), []byte(revision+"\n"), 0o644)
}
