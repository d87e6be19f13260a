package process

import "time"

// State represents where the supervisor is in the daemon lifecycle.
type State string

// Supervisor states.
//
//	unconfigured -> configured -> starting -> running -> stopping -> stopped
//
// stopped means a stop invalidated the configuration; Configure must be
// called again before the next Start. An unexpected exit returns to
// configured (exit code 0 or 2) or error (any other code), both of which can
// be started again directly.
const (
	StateUnconfigured State = "unconfigured" // Configure not called yet
	StateConfigured   State = "configured"   // Ready to start
	StateStarting     State = "starting"     // Building arguments and spawning
	StateRunning      State = "running"      // Daemon process alive
	StateStopping     State = "stopping"     // Interrupt sent, waiting for exit
	StateStopped      State = "stopped"      // Stopped, needs Configure
	StateError        State = "error"        // Exited unexpectedly with a failure code
)

// Info is a snapshot of the supervisor.
type Info struct {
	State     State
	PID       int
	RunID     string
	Ready     bool
	StartedAt time.Time
	Args      []string
	DataDir   string
	ExitCode  int
	LastError error
}
