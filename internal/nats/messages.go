package nats

import (
	"encoding/json"
	"fmt"
)

// DefaultPrefix is the subject prefix when none is configured.
const DefaultPrefix = "gethkeeper"

// Control actions.
const (
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionRestart = "restart"
	ActionReload  = "reload"
	ActionStatus  = "status"
)

// SubjectNodeState returns the subject for supervisor state changes.
func SubjectNodeState(prefix string) string {
	return fmt.Sprintf("%s.node.state", prefix)
}

// SubjectNodeReady returns the subject for ready notifications.
func SubjectNodeReady(prefix string) string {
	return fmt.Sprintf("%s.node.ready", prefix)
}

// SubjectNodeExit returns the subject for process exits.
func SubjectNodeExit(prefix string) string {
	return fmt.Sprintf("%s.node.exit", prefix)
}

// SubjectNodeStartFailed returns the subject for failed starts.
func SubjectNodeStartFailed(prefix string) string {
	return fmt.Sprintf("%s.node.start_failed", prefix)
}

// SubjectNodeOptions returns the subject for option file reloads.
func SubjectNodeOptions(prefix string) string {
	return fmt.Sprintf("%s.node.options", prefix)
}

// SubjectNodeOutput returns the subject for node output lines.
func SubjectNodeOutput(prefix string) string {
	return fmt.Sprintf("%s.node.output", prefix)
}

// SubjectControl returns the request subject for control commands.
func SubjectControl(prefix string) string {
	return fmt.Sprintf("%s.control", prefix)
}

// ControlMessage is a control request.
type ControlMessage struct {
	Action    string `json:"action"` // start, stop, restart, reload, status
	Timestamp string `json:"timestamp"`
	Reason    string `json:"reason,omitempty"`
}

// Marshal serializes the message to JSON.
func (m ControlMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// ControlReply answers a ControlMessage.
type ControlReply struct {
	Action    string `json:"action"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	State     string `json:"state"`
	PID       int    `json:"pid,omitempty"`
	RunID     string `json:"run_id,omitempty"`
	ExitCode  *int   `json:"exit_code,omitempty"` // stop only
	Restarted *bool  `json:"restarted,omitempty"` // reload only
}

// Marshal serializes the reply to JSON.
func (r ControlReply) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalControl deserializes a ControlMessage from JSON.
func UnmarshalControl(data []byte) (ControlMessage, error) {
	var m ControlMessage
	err := json.Unmarshal(data, &m)
	return m, err
}

// UnmarshalReply deserializes a ControlReply from JSON.
func UnmarshalReply(data []byte) (ControlReply, error) {
	var r ControlReply
	err := json.Unmarshal(data, &r)
	return r, err
}
