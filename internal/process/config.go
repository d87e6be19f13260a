package process

import (
	"io"
	"os"
	"time"

	"github.com/smazurov/gethkeeper/internal/geth"
	"github.com/smazurov/gethkeeper/internal/logging"
)

// Defaults applied by Configure.
const (
	DefaultBinaryPath  = "geth"
	DefaultReadyMarker = "IPC endpoint opened"
)

// OutputHandler receives every output line of the daemon, whichever
// observers are installed. Implementations can count lines, keep a tail, etc.
type OutputHandler interface {
	HandleLine(stream Stream, line string)
}

// StateChangeCallback is called after the supervisor changes state.
// err is set when the transition was caused by a failure.
type StateChangeCallback func(oldState, newState State, err error)

// Config holds the static settings of a supervisor.
type Config struct {
	// BinaryPath is the daemon executable. It may carry leading arguments,
	// quoted like a shell word list ("nice -n 10 geth"). Default: "geth".
	BinaryPath string

	// PersistOnExit leaves the daemon running when the host exits.
	// When false, the host exit hook interrupts it.
	PersistOnExit bool

	// Debug echoes raw daemon output to Echo.
	Debug bool

	// Echo receives daemon output when Debug is set. Default: os.Stdout.
	Echo io.Writer

	// ReadyMarker is the stderr text that signals the daemon is ready.
	ReadyMarker string

	// ReadyTimeout fails the start trigger when the marker has not been seen
	// in time. Zero waits forever.
	ReadyTimeout time.Duration

	// StopTimeout force-kills the daemon when it has not exited this long
	// after the interrupt. Zero relies on the daemon honoring the interrupt.
	StopTimeout time.Duration

	// Builder derives the argument vector. Default: geth.NewBuilder().
	Builder *geth.Builder

	// OutputHandler sees every output line (optional).
	OutputHandler OutputHandler

	// OnStateChange is called on state transitions (optional).
	OnStateChange StateChangeCallback

	// Logger for supervisor operations. Default: the "process" module logger.
	Logger logging.Logger
}

// withDefaults returns cfg with zero values replaced by defaults.
func (cfg Config) withDefaults() Config {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = DefaultBinaryPath
	}
	if cfg.Echo == nil {
		cfg.Echo = os.Stdout
	}
	if cfg.ReadyMarker == "" {
		cfg.ReadyMarker = DefaultReadyMarker
	}
	if cfg.Builder == nil {
		cfg.Builder = geth.NewBuilder()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetLogger("process")
	}
	return cfg
}
