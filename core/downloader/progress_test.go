package downloader

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func manifest() []FileEntry {
	return []FileEntry{
		{Path: "a", Size: 10},
		{Path: "b", Size: 20},
		{Path: "c", Size: 70},
	}
}

func TestProgressTracker_AggregatesCompletedAndInflight(t *testing.T) {
	tr := newProgressTracker(manifest(), nil)

	tr.fileDone("a", 10)
	tr.fileDone("b", 20)
	assert.InDelta(t, 0.30, tr.fraction(), 1e-9)

	tr.fileProgress("c", 35)
	assert.InDelta(t, 0.65, tr.fraction(), 1e-9)
}

func TestProgressTracker_CompletionReplacesPartial(t *testing.T) {
	tr := newProgressTracker(manifest(), nil)

	tr.fileProgress("a", 8)
	tr.fileDone("a", 10)
	assert.InDelta(t, 0.10, tr.fraction(), 1e-9)
}

func TestProgressTracker_ClampsBelowOneUntilFinished(t *testing.T) {
	tr := newProgressTracker(manifest(), nil)

	tr.fileDone("a", 10)
	tr.fileDone("b", 20)
	tr.fileProgress("c", 70)
	assert.InDelta(t, progressCeiling, tr.fraction(), 1e-9)

	tr.fileDone("c", 70)
	assert.InDelta(t, progressCeiling, tr.fraction(), 1e-9)

	tr.finish()
	assert.Equal(t, 1.0, tr.fraction())
}

func TestProgressTracker_NeverDecreases(t *testing.T) {
	var reports []float64
	tr := newProgressTracker(manifest(), func(f float64) { reports = append(reports, f) })

	tr.fileProgress("c", 50)
	tr.fileAborted("c")
	tr.fileProgress("c", 10) // retry reports fewer bytes

	last := 0.0
	for _, f := range reports {
		assert.GreaterOrEqual(t, f, last)
		last = f
	}
	assert.InDelta(t, 0.50, tr.fraction(), 1e-9)
}

func TestProgressTracker_UnknownTotal(t *testing.T) {
	tr := newProgressTracker([]FileEntry{{Path: "a", Size: 0}}, nil)

	tr.fileProgress("a", 1024)
	assert.Equal(t, 0.0, tr.fraction())

	tr.finish()
	assert.Equal(t, 1.0, tr.fraction())
}
