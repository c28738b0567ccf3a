package downloader

import "sync"

// progressCeiling is the highest fraction reported while any file remains
// unverified. Per-file size estimates can drift during a transfer, and the
// aggregate must never visually signal "done" before the last file is
// confirmed on disk.
const progressCeiling = 0.99

// progressTracker aggregates byte-level progress across completed and
// in-flight files into a single monotone 0..1 fraction. All updates are
// applied under one mutex so the reported fraction is consistent with real
// completion order no matter which worker finishes first.
type progressTracker struct {
	mu        sync.Mutex
	total     int64
	completed int64
	inflight  map[string]int64
	last      float64
	onUpdate  func(fraction float64)
}

func newProgressTracker(files []FileEntry, onUpdate func(float64)) *progressTracker {
	var total int64
	for _, f := range files {
		total += f.Size
	}
	return &progressTracker{
		total:    total,
		inflight: make(map[string]int64),
		onUpdate: onUpdate,
	}
}

// fileProgress records the live byte count of an in-flight file.
func (t *progressTracker) fileProgress(path string, written int64) {
	t.mu.Lock()
	t.inflight[path] = written
	f := t.fractionLocked()
	t.mu.Unlock()
	t.report(f)
}

// fileDone replaces a file's partial contribution with its final size, so
// completed bytes are never double-counted.
func (t *progressTracker) fileDone(path string, size int64) {
	t.mu.Lock()
	delete(t.inflight, path)
	t.completed += size
	f := t.fractionLocked()
	t.mu.Unlock()
	t.report(f)
}

// fileAborted discards an in-flight file's partial contribution. The
// fraction stays at its last reported value; it never decreases.
func (t *progressTracker) fileAborted(path string) {
	t.mu.Lock()
	delete(t.inflight, path)
	t.mu.Unlock()
}

// finish marks the whole manifest verified and reports exactly 1.0.
func (t *progressTracker) finish() {
	t.mu.Lock()
	t.last = 1.0
	t.mu.Unlock()
	t.report(1.0)
}

// fraction returns the current aggregate fraction.
func (t *progressTracker) fraction() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fractionLocked()
}

func (t *progressTracker) fractionLocked() float64 {
	if t.total <= 0 {
		return t.last
	}
	running := t.completed
	for _, w := range t.inflight {
		running += w
	}
	f := float64(running) / float64(t.total)
	if f > progressCeiling {
		f = progressCeiling
	}
	if f < t.last {
		f = t.last
	}
	t.last = f
	return f
}

func (t *progressTracker) report(f float64) {
	if t.onUpdate != nil {
		t.onUpdate(f)
	}
}
