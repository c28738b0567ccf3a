package downloader

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHub serves a model-info document, a tree listing, and file bodies the
// way the real hub does.
func fakeHub(t *testing.T, files map[string]string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/models/") && strings.Contains(r.URL.Path, "/tree/"):
			var entries []treeEntry
			for path, body := range files {
				entries = append(entries, treeEntry{Type: "file", Path: path, Size: int64(len(body))})
			}
			json.NewEncoder(w).Encode(entries)
		case strings.HasPrefix(r.URL.Path, "/api/models/"):
			json.NewEncoder(w).Encode(modelInfo{Sha: "abc123"})
		case strings.Contains(r.URL.Path, "/resolve/"):
			if status != http.StatusOK {
				w.WriteHeader(status)
				return
			}
			name := r.URL.Path[strings.LastIndexByte(r.URL.Path, '/')+1:]
			body, ok := files[name]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write([]byte(body))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestHubClient_ListFiles(t *testing.T) {
	files := map[string]string{"config.json": "{}", "model.safetensors": "weights"}
	srv := fakeHub(t, files, http.StatusOK)
	defer srv.Close()

	hub := NewHubClient(srv.URL, "")
	revision, entries, err := hub.ListFiles(context.Background(), "org/model")
	require.NoError(t, err)
	assert.Equal(t, "abc123", revision)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, int64(len(files[e.Path])), e.Size)
	}
}

func TestDownloader_FetchWritesManifest(t *testing.T) {
	files := map[string]string{"config.json": `{"model_type":"llama"}`, "tokenizer.json": "tok"}
	srv := fakeHub(t, files, http.StatusOK)
	defer srv.Close()

	dest := t.TempDir()
	dl := NewDownloader(NewHubClient(srv.URL, ""), 4)

	var last float64
	manifest := []FileEntry{
		{Path: "config.json", Size: int64(len(files["config.json"]))},
		{Path: "tokenizer.json", Size: int64(len(files["tokenizer.json"]))},
	}
	err := dl.Fetch(context.Background(), "org/model", "abc123", manifest, dest, func(f float64) { last = f })
	require.NoError(t, err)

	assert.Equal(t, 1.0, last)
	for path, body := range files {
		data, err := os.ReadFile(filepath.Join(dest, path))
		require.NoError(t, err)
		assert.Equal(t, body, string(data))
	}
}

func TestDownloader_FetchClassifiesAuthFailures(t *testing.T) {
	tests := []struct {
		status int
		kind   FailureKind
	}{
		{http.StatusUnauthorized, FailureAuthentication},
		{http.StatusForbidden, FailureForbidden},
		{http.StatusInternalServerError, FailureTransfer},
	}
	for _, tt := range tests {
		srv := fakeHub(t, map[string]string{"a": "x"}, tt.status)
		dl := NewDownloader(NewHubClient(srv.URL, ""), 2)

		err := dl.Fetch(context.Background(), "org/model", "main",
			[]FileEntry{{Path: "a", Size: 1}}, t.TempDir(), nil)
		srv.Close()

		var de *DownloadError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, tt.kind, de.Kind)
		assert.False(t, IsCancelled(err))
	}
}

func TestDownloader_FetchCancelled(t *testing.T) {
	srv := fakeHub(t, map[string]string{"a": "x"}, http.StatusOK)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dl := NewDownloader(NewHubClient(srv.URL, ""), 2)
	err := dl.Fetch(ctx, "org/model", "main",
		[]FileEntry{{Path: "a", Size: 1}}, t.TempDir(), nil)

	require.Error(t, err)
	assert.True(t, IsCancelled(err))
}

func TestNewDownloader_ConcurrencyBounds(t *testing.T) {
	hub := NewHubClient("http://example.invalid", "")
	assert.Equal(t, maxConcurrent, NewDownloader(hub, 0).concurrency)
	assert.Equal(t, maxConcurrent, NewDownloader(hub, 100).concurrency)
	assert.Equal(t, 4, NewDownloader(hub, 4).concurrency)
}
