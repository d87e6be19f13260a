package events

// Event type constants for kelindar/event.
const (
	TypeNodeStateChanged uint32 = iota + 1
	TypeNodeReady
	TypeNodeExited
	TypeNodeStartFailed
	TypeNodeOptionsReloaded
	TypeNodeOutput
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// NodeStateChangedEvent is published on every supervisor state transition.
type NodeStateChangedEvent struct {
	OldState  string `json:"old_state" example:"starting" doc:"Previous supervisor state"`
	NewState  string `json:"new_state" example:"running" doc:"Current supervisor state"`
	Error     string `json:"error,omitempty" example:"node closed with code 1" doc:"Error that caused the transition"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for NodeStateChangedEvent.
func (e NodeStateChangedEvent) Type() uint32 { return TypeNodeStateChanged }

// NodeReadyEvent is published when the node reports its IPC endpoint is open.
type NodeReadyEvent struct {
	PID       int     `json:"pid" example:"4242" doc:"Node process ID"`
	RunID     string  `json:"run_id" example:"5f0c6f1e-8a8e-4f4b-9b8e-2f1d7c9a1b2c" doc:"Run identifier"`
	Seconds   float64 `json:"seconds" example:"3.2" doc:"Seconds from spawn to ready"`
	Timestamp string  `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for NodeReadyEvent.
func (e NodeReadyEvent) Type() uint32 { return TypeNodeReady }

// NodeExitedEvent is published when the node process closes.
type NodeExitedEvent struct {
	PID       int    `json:"pid" example:"4242" doc:"Node process ID"`
	RunID     string `json:"run_id" example:"5f0c6f1e-8a8e-4f4b-9b8e-2f1d7c9a1b2c" doc:"Run identifier"`
	ExitCode  int    `json:"exit_code" example:"0" doc:"Exit code, or signal number when killed"`
	Expected  bool   `json:"expected" example:"true" doc:"Whether the exit was requested or normal"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for NodeExitedEvent.
func (e NodeExitedEvent) Type() uint32 { return TypeNodeExited }

// NodeStartFailedEvent is published when a start attempt fails before the node is ready.
type NodeStartFailedEvent struct {
	RunID     string `json:"run_id,omitempty" doc:"Run identifier, empty when spawning failed"`
	Error     string `json:"error" example:"timed out waiting for node to become ready" doc:"Failure description"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for NodeStartFailedEvent.
func (e NodeStartFailedEvent) Type() uint32 { return TypeNodeStartFailed }

// NodeOptionsReloadedEvent is published after the option file changed on disk.
type NodeOptionsReloadedEvent struct {
	Path      string `json:"path" example:"/etc/gethkeeper/geth.toml" doc:"Option file path"`
	Restarted bool   `json:"restarted" example:"true" doc:"Whether the node was restarted to apply the change"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for NodeOptionsReloadedEvent.
func (e NodeOptionsReloadedEvent) Type() uint32 { return TypeNodeOptionsReloaded }

// NodeOutputEvent carries one line the node wrote to stdout or stderr.
type NodeOutputEvent struct {
	RunID     string `json:"run_id" example:"5f0c6f1e-8a8e-4f4b-9b8e-2f1d7c9a1b2c" doc:"Run identifier"`
	Stream    string `json:"stream" enum:"stdout,stderr" example:"stderr" doc:"Output stream"`
	Line      string `json:"line" example:"INFO [01-27|10:30:00.000] IPC endpoint opened" doc:"Output line without the trailing newline"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00.000Z" doc:"When the line was read"`
}

// Type returns the event type identifier for NodeOutputEvent.
func (e NodeOutputEvent) Type() uint32 { return TypeNodeOutput }

// LogEntryEvent carries one gethkeeper log record.
type LogEntryEvent struct {
	Timestamp  string         `json:"timestamp" example:"2025-01-27T10:30:00.000Z" doc:"Record time"`
	Level      string         `json:"level" enum:"debug,info,warn,error" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"process" doc:"Logging module"`
	Message    string         `json:"message" example:"Node ready" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
