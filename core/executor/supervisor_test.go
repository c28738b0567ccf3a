package executor

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector gathers streamed output safely across goroutines.
type collector struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (c *collector) append(text string) {
	c.mu.Lock()
	c.buf.WriteString(text)
	c.mu.Unlock()
}

func (c *collector) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func TestStart_StreamsOutputAndReportsExit(t *testing.T) {
	var out collector
	var exitCode atomic.Int64
	exited := make(chan struct{})

	h, err := Start(Options{
		Executable: "/bin/sh",
		Args:       []string{"-c", "echo hello; echo world >&2"},
		OnOutput:   out.append,
		OnExit: func(code int) {
			exitCode.Store(int64(code))
			close(exited)
		},
	})
	require.NoError(t, err)

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	h.Wait()

	assert.Equal(t, int64(0), exitCode.Load())
	assert.Contains(t, out.String(), "hello")
	assert.Contains(t, out.String(), "world")
	assert.False(t, h.Alive())

	code, done := h.ExitCode()
	assert.True(t, done)
	assert.Equal(t, 0, code)
}

func TestStart_NonZeroExitCode(t *testing.T) {
	exited := make(chan int, 1)
	h, err := Start(Options{
		Executable: "/bin/sh",
		Args:       []string{"-c", "exit 3"},
		OnExit:     func(code int) { exited <- code },
	})
	require.NoError(t, err)

	select {
	case code := <-exited:
		assert.Equal(t, 3, code)
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}
	h.Wait()
}

func TestStart_LaunchFailure(t *testing.T) {
	_, err := Start(Options{Executable: "/nonexistent/binary"})
	require.Error(t, err)

	var le *LaunchError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "/nonexistent/binary", le.Executable)
}

func TestTerminate_Graceful(t *testing.T) {
	h, err := Start(Options{
		Executable: "/bin/sleep",
		Args:       []string{"30"},
	})
	require.NoError(t, err)
	require.True(t, h.Alive())

	start := time.Now()
	h.Terminate(true)
	h.Wait()

	// sleep dies on the interrupt, well inside the graceful window.
	assert.Less(t, time.Since(start), gracefulWait)
	assert.False(t, h.Alive())

	// Terminating an exited process is a no-op.
	h.Terminate(true)
	h.Terminate(false)
}

func TestTerminate_Force(t *testing.T) {
	// Trap the interrupt so only the kill escalation can end the process.
	h, err := Start(Options{
		Executable: "/bin/sh",
		Args:       []string{"-c", "trap '' INT; sleep 30"},
	})
	require.NoError(t, err)

	h.Terminate(false)
	h.Wait()
	assert.False(t, h.Alive())
}

func TestPauseResume(t *testing.T) {
	h, err := Start(Options{
		Executable: "/bin/sleep",
		Args:       []string{"30"},
	})
	require.NoError(t, err)

	require.NoError(t, h.Pause())
	require.NoError(t, h.Resume())

	h.Terminate(false)
	h.Wait()

	assert.Error(t, h.Pause())
	assert.Error(t, h.Resume())
}

func TestSuppress_SkipsExitCallback(t *testing.T) {
	var fired atomic.Bool
	h, err := Start(Options{
		Executable: "/bin/sleep",
		Args:       []string{"30"},
		OnExit:     func(int) { fired.Store(true) },
	})
	require.NoError(t, err)

	h.Suppress()
	h.Terminate(false)
	h.Wait()

	assert.False(t, fired.Load())
}

func TestMergeEnv(t *testing.T) {
	base := []string{"PATH=/usr/bin", "HOME=/root", "EMPTY="}
	merged := MergeEnv(base,
		map[string]string{"HOME": "/override", "EXTRA": "1"},
		map[string]string{"EXTRA": "2"},
	)

	assert.Contains(t, merged, "PATH=/usr/bin")
	assert.Contains(t, merged, "HOME=/override")
	assert.Contains(t, merged, "EXTRA=2")
	assert.Contains(t, merged, "EMPTY=")
	assert.NotContains(t, merged, "HOME=/root")
	assert.IsIncreasing(t, merged)
}
