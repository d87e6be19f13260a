package process

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Trigger is the completion callback of a start attempt. It is called at
// most once: with a nil error and the live handle when the daemon reports it
// is ready, or with an *ExitError (or ErrReadyTimeout) and a nil handle when
// it fails first.
type Trigger func(err error, h *Handle)

// StopFunc is called once the daemon stopped by Stop has closed.
type StopFunc func(err error, exitCode int)

// Handle is one live run of the daemon.
type Handle struct {
	PID       int
	RunID     string
	Args      []string
	DataDir   string
	StartedAt time.Time

	cmd    *exec.Cmd
	stdout *registry
	stderr *registry

	trigger func(err error)

	mu          sync.Mutex
	onClose     CloseObserver
	stopWaiters []StopFunc
	closed      bool
	exitCode    int

	done      chan struct{}
	ready     chan struct{}
	readyOnce sync.Once
}

func newHandle(runID string) *Handle {
	return &Handle{
		RunID:    runID,
		stdout:   newRegistry(),
		stderr:   newRegistry(),
		exitCode: NoExitCode,
		done:     make(chan struct{}),
		ready:    make(chan struct{}),
	}
}

// Done is closed after the process exited and its output was delivered.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Ready is closed when the ready marker was seen on stderr.
func (h *Handle) Ready() <-chan struct{} {
	return h.ready
}

// IsReady reports whether the ready marker was seen.
func (h *Handle) IsReady() bool {
	select {
	case <-h.ready:
		return true
	default:
		return false
	}
}

// ExitCode returns the exit code, or NoExitCode while the process is alive.
func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

func (h *Handle) markReady() bool {
	marked := false
	h.readyOnce.Do(func() {
		close(h.ready)
		marked = true
	})
	return marked
}

func (h *Handle) registry(stream Stream) *registry {
	switch stream {
	case Stdout:
		return h.stdout
	case Stderr:
		return h.stderr
	default:
		return nil
	}
}

// signal sends sig to the daemon's process group, which also reaches the
// children of a wrapper command. A group that is already gone reports
// os.ErrProcessDone.
func (h *Handle) signal(sig syscall.Signal) error {
	if h.PID <= 0 {
		return os.ErrProcessDone
	}
	if err := syscall.Kill(-h.PID, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	return nil
}
