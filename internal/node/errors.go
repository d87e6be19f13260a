package node

import "errors"

var (
	// ErrNotRunning is returned when an operation needs a live node.
	ErrNotRunning = errors.New("node is not running")
	// ErrNoOptions is returned by Reload when the service has no option file.
	ErrNoOptions = errors.New("no option file configured")
)
