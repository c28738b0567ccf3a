package executor

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"
)

const (
	// gracefulWait bounds how long Terminate waits after the interrupt
	// signal before escalating to an unconditional kill.
	gracefulWait = 2 * time.Second
	// terminatePoll is the liveness polling interval during the wait.
	terminatePoll = 100 * time.Millisecond
	// forceGrace is the short delay between the interrupt attempt and the
	// kill on the force path.
	forceGrace = 100 * time.Millisecond
)

// LaunchError indicates the executable could not be started at all.
type LaunchError struct {
	Executable string
	Err        error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch %s: %v", e.Executable, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Options configures a supervised process launch.
type Options struct {
	Executable string
	Args       []string
	Dir        string
	// Env is overlaid onto the base process environment; entries here win.
	Env map[string]string
	// OnOutput receives combined stdout/stderr text in arrival order.
	// It is invoked from a dedicated goroutine, never from the pipe
	// readers, so a slow observer does not stall the child's writes.
	OnOutput func(text string)
	// OnExit fires exactly once after all buffered output has been
	// delivered, unless the handle was suppressed first.
	OnExit func(exitCode int)
}

// Handle owns exactly one external process's lifecycle.
type Handle struct {
	cmd *exec.Cmd

	mu         sync.Mutex
	exited     bool
	exitCode   int
	suppressed bool

	done chan struct{}
}

// Start spawns the process in its own process group and begins streaming
// its combined output. A spawn failure is reported as a LaunchError.
func Start(opts Options) (*Handle, error) {
	cmd := exec.Command(opts.Executable, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = MergeEnv(os.Environ(), opts.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &LaunchError{Executable: opts.Executable, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &LaunchError{Executable: opts.Executable, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Executable: opts.Executable, Err: err}
	}

	h := &Handle{
		cmd:  cmd,
		done: make(chan struct{}),
	}

	outCh := make(chan string, 256)
	dispatched := make(chan struct{})

	// Dispatcher: the only goroutine that invokes OnOutput, preserving
	// arrival order across both streams.
	go func() {
		defer close(dispatched)
		for text := range outCh {
			if opts.OnOutput != nil {
				opts.OnOutput(text)
			}
		}
	}()

	var readers sync.WaitGroup
	for _, pipe := range []struct {
		r interface{ Read([]byte) (int, error) }
	}{{stdout}, {stderr}} {
		readers.Add(1)
		go func(r interface{ Read([]byte) (int, error) }) {
			defer readers.Done()
			buf := make([]byte, 4096)
			for {
				n, err := r.Read(buf)
				if n > 0 {
					// Best-effort UTF-8: invalid sequences pass
					// through; the log is display-only.
					outCh <- string(buf[:n])
				}
				if err != nil {
					return
				}
			}
		}(pipe.r)
	}

	go func() {
		defer close(h.done)

		// Drain both pipes before Wait closes them, then make sure
		// every chunk reached the observer before reporting exit.
		readers.Wait()
		close(outCh)
		<-dispatched

		err := cmd.Wait()
		code := 0
		if err != nil {
			code = -1
			if exitErr, ok := err.(*exec.ExitError); ok {
				code = exitErr.ExitCode()
			}
		}

		h.mu.Lock()
		h.exited = true
		h.exitCode = code
		suppressed := h.suppressed
		h.mu.Unlock()

		if !suppressed && opts.OnExit != nil {
			opts.OnExit(code)
		}
	}()

	return h, nil
}

// Alive reports whether the process has not yet exited.
func (h *Handle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.exited
}

// ExitCode returns the exit code once the process has exited.
func (h *Handle) ExitCode() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode, h.exited
}

// Suppress puts the handle into shutdown mode: the exit callback will not
// fire even if the process terminates afterwards. Used during application
// shutdown when no further state may be written.
func (h *Handle) Suppress() {
	h.mu.Lock()
	h.suppressed = true
	h.mu.Unlock()
}

// Pause suspends the OS process without killing it.
func (h *Handle) Pause() error {
	if !h.Alive() {
		return fmt.Errorf("process has already exited")
	}
	return h.signal(syscall.SIGSTOP)
}

// Resume continues a previously paused process.
func (h *Handle) Resume() error {
	if !h.Alive() {
		return fmt.Errorf("process has already exited")
	}
	return h.signal(syscall.SIGCONT)
}

// Terminate stops the process. The graceful path sends an interrupt and
// waits a bounded interval before escalating to SIGKILL on the process
// group; the force path skips the wait, killing after a short grace delay.
// Terminating an already-exited process is a no-op.
func (h *Handle) Terminate(graceful bool) {
	if !h.Alive() {
		return
	}

	h.signal(syscall.SIGINT)

	if graceful {
		deadline := time.Now().Add(gracefulWait)
		for time.Now().Before(deadline) {
			if !h.Alive() {
				return
			}
			time.Sleep(terminatePoll)
		}
	} else {
		time.Sleep(forceGrace)
	}

	if h.Alive() {
		h.kill()
	}
}

// Wait blocks until the process has exited and its output is drained.
func (h *Handle) Wait() {
	<-h.done
}

func (h *Handle) signal(sig syscall.Signal) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exited || h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Signal(sig)
}

// kill sends SIGKILL to the whole process group so trainer children
// (dataloader workers and the like) do not outlive the parent.
func (h *Handle) kill() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exited || h.cmd.Process == nil {
		return
	}
	pid := h.cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		h.cmd.Process.Kill()
	}
}

// MergeEnv overlays each layer onto a base "KEY=VALUE" environment, later
// entries winning, and returns a sorted environment slice.
func MergeEnv(base []string, layers ...map[string]string) []string {
	merged := make(map[string]string, len(base))
	for _, kv := range base {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				merged[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = v
		}
	}

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
