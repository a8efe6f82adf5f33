package spawn

import (
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// KillGrace is how long a terminated process gets to exit before SIGKILL.
const KillGrace = 300 * time.Millisecond

// Handle supervises one started child process.
type Handle struct {
	name string
	cmd  *exec.Cmd

	done     chan struct{}
	waitOnce sync.Once
	waitErr  error

	termOnce sync.Once
}

// NewHandle wraps an already-started command. It owns the cmd.Wait call;
// callers must not call Wait themselves.
func NewHandle(name string, cmd *exec.Cmd) *Handle {
	h := &Handle{name: name, cmd: cmd, done: make(chan struct{})}
	go h.waitOnce.Do(func() {
		h.waitErr = cmd.Wait()
		close(h.done)
	})
	return h
}

// Name returns the registry name of the process.
func (h *Handle) Name() string {
	return h.name
}

// Done is closed once the process has exited and its pipes are drained.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the exit error after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.waitErr
	default:
		return nil
	}
}

// Alive reports whether the process has not yet exited.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// WaitTimeout blocks until exit or the timeout elapses. Returns false on
// timeout.
func (h *Handle) WaitTimeout(d time.Duration) bool {
	select {
	case <-h.done:
		return true
	case <-time.After(d):
		return false
	}
}

// Terminate asks the process to exit (SIGTERM), escalating to SIGKILL after
// the grace period. Idempotent; safe on an already-exited process.
func (h *Handle) Terminate(grace time.Duration) {
	h.termOnce.Do(func() {
		if !h.Alive() || h.cmd.Process == nil {
			return
		}
		if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			_ = h.cmd.Process.Kill()
			return
		}
		go func() {
			select {
			case <-h.done:
			case <-time.After(grace):
				_ = h.cmd.Process.Kill()
			}
		}()
	})
}
