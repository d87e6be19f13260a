package process

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
)

// NoExitCode is reported when no process exited.
const NoExitCode = -1

// Exit codes treated as a normal end of the daemon. 2 is what the daemon
// reports after the interrupt sent by Stop.
const (
	exitCodeClean       = 0
	exitCodeInterrupted = 2
)

var (
	// ErrNotConfigured is returned by Start before Configure, or after a Stop.
	ErrNotConfigured = errors.New("node is not configured")
	// ErrAlreadyRunning is returned by Start while a process is live.
	ErrAlreadyRunning = errors.New("node is already running")
	// ErrReadyTimeout is passed to the trigger when the ready marker was not seen in time.
	ErrReadyTimeout = errors.New("timed out waiting for node to become ready")
	// ErrUnknownStream is returned by Listen for a stream other than stdout or stderr.
	ErrUnknownStream = errors.New("unknown output stream")
)

// ExitError reports an unexpected exit of the daemon.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("node closed with code %d", e.Code)
}

// expectedExit reports whether code is a normal end of the daemon.
func expectedExit(code int) bool {
	return code == exitCodeClean || code == exitCodeInterrupted
}

// exitCodeFromError extracts the exit code from a Wait error.
// A process killed by a signal reports the signal number, so a daemon that
// dies from the interrupt reports 2. Other errors map to 1.
func exitCodeFromError(err error) int {
	if err == nil {
		return exitCodeClean
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return int(status.Signal())
		}
		return exitErr.ExitCode()
	}
	return 1
}
