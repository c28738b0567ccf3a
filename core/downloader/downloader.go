package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// maxConcurrent caps the number of files in flight at once.
	maxConcurrent = 15
	// smallFileThreshold selects whole-body fetches for small files;
	// larger files stream with incremental progress callbacks.
	smallFileThreshold = 10 << 20 // 10 MB
	// progressInterval throttles per-file progress updates.
	progressInterval = 100 * time.Millisecond
)

// FailureKind classifies why a download failed.
type FailureKind string

const (
	FailureAuthentication FailureKind = "authentication"
	FailureForbidden      FailureKind = "forbidden"
	FailureTransfer       FailureKind = "transfer"
	FailureCancelled      FailureKind = "cancelled"
)

// DownloadError carries the failure class alongside the underlying error.
// Cancellation is a distinct outcome, not a failure needing a user-facing
// message.
type DownloadError struct {
	Kind FailureKind
	Path string
	Err  error
}

func (e *DownloadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("download of %s failed (%s): %v", e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("download failed (%s): %v", e.Kind, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// IsCancelled reports whether err is a download cancellation.
func IsCancelled(err error) bool {
	de, ok := err.(*DownloadError)
	return ok && de.Kind == FailureCancelled
}

func classifyStatus(status int, path string) *DownloadError {
	switch status {
	case http.StatusUnauthorized:
		return &DownloadError{Kind: FailureAuthentication, Path: path,
			Err: fmt.Errorf("authentication required (HTTP 401)")}
	case http.StatusForbidden:
		return &DownloadError{Kind: FailureForbidden, Path: path,
			Err: fmt.Errorf("access forbidden, the model may be gated or private (HTTP 403)")}
	default:
		return &DownloadError{Kind: FailureTransfer, Path: path,
			Err: fmt.Errorf("unexpected HTTP status %d", status)}
	}
}

// Downloader materializes a manifest of remote files into a local directory
// tree with bounded concurrency and aggregate progress reporting.
type Downloader struct {
	hub         *HubClient
	concurrency int
	http        *http.Client
}

// NewDownloader creates a downloader over the given hub client.
func NewDownloader(hub *HubClient, concurrency int) *Downloader {
	if concurrency <= 0 || concurrency > maxConcurrent {
		concurrency = maxConcurrent
	}
	return &Downloader{
		hub:         hub,
		concurrency: concurrency,
		// No overall timeout: model shards legitimately take a long
		// time. Cancellation comes from the context.
		http: &http.Client{},
	}
}

// Fetch downloads every manifest entry under destRoot. Cancellation is
// cooperative: the shared context is checked between files and aborts
// in-flight transfers; partial files are discarded. onProgress receives the
// aggregate fraction, which is monotone and stays below 1.0 until every
// file is confirmed on disk.
func (d *Downloader) Fetch(ctx context.Context, modelID, revision string, files []FileEntry, destRoot string, onProgress func(float64)) error {
	tracker := newProgressTracker(files, onProgress)

	sem := make(chan struct{}, d.concurrency)
	var wg sync.WaitGroup

	var mu sync.Mutex
	var firstErr *DownloadError

	for _, f := range files {
		// Cooperative cancellation at the loop boundary: no new file
		// starts once the context is gone.
		if ctx.Err() != nil {
			break
		}
		mu.Lock()
		failed := firstErr != nil
		mu.Unlock()
		if failed {
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(f FileEntry) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := d.fetchOne(ctx, modelID, revision, f, destRoot, tracker); err != nil {
				tracker.fileAborted(f.Path)
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(f)
	}

	wg.Wait()

	if ctx.Err() != nil {
		return &DownloadError{Kind: FailureCancelled, Err: ctx.Err()}
	}
	if firstErr != nil {
		return firstErr
	}

	tracker.finish()
	return nil
}

func (d *Downloader) fetchOne(ctx context.Context, modelID, revision string, f FileEntry, destRoot string, tracker *progressTracker) *DownloadError {
	dest := filepath.Join(destRoot, f.Path)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return &DownloadError{Kind: FailureTransfer, Path: f.Path, Err: err}
	}

	url := d.hub.ResolveURL(modelID, revision, f.Path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &DownloadError{Kind: FailureTransfer, Path: f.Path, Err: err}
	}
	d.hub.authorize(req)

	resp, err := d.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return &DownloadError{Kind: FailureCancelled, Path: f.Path, Err: ctx.Err()}
		}
		return &DownloadError{Kind: FailureTransfer, Path: f.Path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp.StatusCode, f.Path)
	}

	if f.Size > 0 && f.Size <= smallFileThreshold {
		return d.fetchWhole(resp.Body, dest, f, tracker)
	}
	return d.fetchStreaming(ctx, resp.Body, dest, f, tracker)
}

// fetchWhole reads a small file in one go; progress is reported only on
// completion.
func (d *Downloader) fetchWhole(body io.Reader, dest string, f FileEntry, tracker *progressTracker) *DownloadError {
	data, err := io.ReadAll(body)
	if err != nil {
		return &DownloadError{Kind: FailureTransfer, Path: f.Path, Err: err}
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return &DownloadError{Kind: FailureTransfer, Path: f.Path, Err: err}
	}
	tracker.fileDone(f.Path, f.Size)
	return nil
}

// fetchStreaming copies a large file to disk, feeding throttled byte counts
// into the aggregate tracker as the transfer proceeds.
func (d *Downloader) fetchStreaming(ctx context.Context, body io.Reader, dest string, f FileEntry, tracker *progressTracker) *DownloadError {
	out, err := os.Create(dest)
	if err != nil {
		return &DownloadError{Kind: FailureTransfer, Path: f.Path, Err: err}
	}

	cw := &countingWriter{
		out:  out,
		path: f.Path,
		tick: tracker,
	}
	_, copyErr := io.Copy(cw, body)
	closeErr := out.Close()

	if copyErr != nil || closeErr != nil {
		os.Remove(dest) // discard the partial file
		if ctx.Err() != nil {
			return &DownloadError{Kind: FailureCancelled, Path: f.Path, Err: ctx.Err()}
		}
		if copyErr == nil {
			copyErr = closeErr
		}
		return &DownloadError{Kind: FailureTransfer, Path: f.Path, Err: copyErr}
	}

	tracker.fileDone(f.Path, f.Size)
	return nil
}

// countingWriter reports bytes written to the tracker at most once per
// progressInterval, to avoid flooding observers.
type countingWriter struct {
	out        io.Writer
	path       string
	tick       *progressTracker
	written    int64
	lastReport time.Time
}

func (w *countingWriter) Write(p []byte) (int, error) {
	n, err := w.out.Write(p)
	w.written += int64(n)
	if now := time.Now(); now.Sub(w.lastReport) >= progressInterval {
		w.lastReport = now
		w.tick.fileProgress(w.path, w.written)
	}
	return n, err
}
