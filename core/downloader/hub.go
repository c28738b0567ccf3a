package downloader

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// FileEntry is one entry of a download manifest: a repo-relative path and
// the expected byte size. Manifests are fetched per job start and never
// persisted.
type FileEntry struct {
	Path string
	Size int64
}

// HubClient queries the model hub's metadata API and builds resolve URLs
// for file transfers.
type HubClient struct {
	BaseURL string
	Token   string

	http *http.Client
}

// NewHubClient creates a hub client. token may be empty for public models.
func NewHubClient(baseURL, token string) *HubClient {
	return &HubClient{
		BaseURL: baseURL,
		Token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type modelInfo struct {
	Sha      string `json:"sha"`
	Siblings []struct {
		Rfilename string `json:"rfilename"`
	} `json:"siblings"`
}

type treeEntry struct {
	Type string `json:"type"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// ListFiles returns the revision identifier and the (path, size) manifest
// for a model. The tree endpoint is the primary listing; when it yields
// nothing usable the sibling list from the model-info endpoint is used,
// with sizes resolved per file.
func (c *HubClient) ListFiles(ctx context.Context, modelID string) (string, []FileEntry, error) {
	info, err := c.fetchModelInfo(ctx, modelID)
	if err != nil {
		return "", nil, err
	}

	revision := info.Sha
	if revision == "" {
		revision = "main"
	}

	files, err := c.fetchTree(ctx, modelID, revision)
	if err != nil {
		logrus.Warnf("Tree listing for %s failed, falling back to sibling list: %v", modelID, err)
	}
	if len(files) > 0 {
		return revision, files, nil
	}

	// Secondary listing: siblings carry no sizes, so probe each file.
	for _, s := range info.Siblings {
		if s.Rfilename == "" {
			continue
		}
		files = append(files, FileEntry{
			Path: s.Rfilename,
			Size: c.headSize(ctx, modelID, revision, s.Rfilename),
		})
	}
	if len(files) == 0 {
		return "", nil, fmt.Errorf("model %s has no listable files", modelID)
	}
	return revision, files, nil
}

// ResolveURL returns the per-file transfer URL pinned to a revision.
func (c *HubClient) ResolveURL(modelID, revision, path string) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s", c.BaseURL, modelID, revision, path)
}

func (c *HubClient) fetchModelInfo(ctx context.Context, modelID string) (*modelInfo, error) {
	url := fmt.Sprintf("%s/api/models/%s", c.BaseURL, modelID)
	resp, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, modelID)
	}

	var info modelInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode model info: %w", err)
	}
	return &info, nil
}

func (c *HubClient) fetchTree(ctx context.Context, modelID, revision string) ([]FileEntry, error) {
	url := fmt.Sprintf("%s/api/models/%s/tree/%s?recursive=true", c.BaseURL, modelID, revision)
	resp, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, modelID)
	}

	var entries []treeEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to decode tree listing: %w", err)
	}

	var files []FileEntry
	for _, e := range entries {
		if e.Type == "file" && e.Path != "" {
			files = append(files, FileEntry{Path: e.Path, Size: e.Size})
		}
	}
	return files, nil
}

// headSize probes a file's size; 0 means unknown, and such files count
// only their completion toward aggregate progress.
func (c *HubClient) headSize(ctx context.Context, modelID, revision, path string) int64 {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.ResolveURL(modelID, revision, path), nil)
	if err != nil {
		return 0
	}
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.ContentLength < 0 {
		return 0
	}
	return resp.ContentLength
}

func (c *HubClient) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)
	return c.http.Do(req)
}

func (c *HubClient) authorize(req *http.Request) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
}
