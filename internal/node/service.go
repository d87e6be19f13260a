// Package node runs the supervised geth daemon as a service: it loads the
// option file, drives the supervisor and reports what happens on the event
// bus and in metrics.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/gethkeeper/internal/events"
	"github.com/smazurov/gethkeeper/internal/geth"
	"github.com/smazurov/gethkeeper/internal/logging"
	"github.com/smazurov/gethkeeper/internal/metrics"
	"github.com/smazurov/gethkeeper/internal/process"
)

// ServiceOptions configures a Service.
type ServiceOptions struct {
	// Process holds the supervisor settings. Its OnStateChange and
	// OutputHandler are owned by the service and get replaced.
	Process process.Config

	// OptionsFile is a TOML or YAML option file, read on every start.
	OptionsFile string

	// Options is used when OptionsFile is empty.
	Options *geth.Options

	// OutputHistory is how many node output lines Output can return.
	// Default is DefaultOutputHistory.
	OutputHistory int

	EventBus *events.Bus
	Logger   logging.Logger
}

// DefaultOutputHistory is the default number of node output lines kept.
const DefaultOutputHistory = 500

// Service owns one supervisor and serializes lifecycle requests to it.
type Service struct {
	mu          sync.Mutex
	supervisor  *process.Supervisor
	config      process.Config
	optionsFile string
	options     *geth.Options
	eventBus    *events.Bus
	logger      logging.Logger
	output      *logging.RingBuffer[OutputLine]

	current atomic.Pointer[process.Handle] // last started run, set on entering running
}

// NewService creates a node service. Nothing is started.
func NewService(opts ServiceOptions) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("node")
	}
	history := opts.OutputHistory
	if history <= 0 {
		history = DefaultOutputHistory
	}
	s := &Service{
		supervisor:  process.New(),
		output:      logging.NewRingBuffer[OutputLine](history),
		config:      opts.Process,
		optionsFile: opts.OptionsFile,
		options:     opts.Options.Clone(),
		eventBus:    opts.EventBus,
		logger:      logger,
	}
	s.config.OnStateChange = s.onStateChange
	s.config.OutputHandler = outputRecorder{s: s}
	if s.config.Logger == nil {
		s.config.Logger = logging.GetLogger("process")
	}
	return s
}

// Start loads the options and starts the node. The node is configured anew
// on every start since a stop invalidates the configuration.
func (s *Service) Start(_ context.Context) (process.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked()
}

func (s *Service) startLocked() (process.Info, error) {
	opts, err := s.loadOptions()
	if err != nil {
		s.publishStartFailed("", err)
		return s.supervisor.Info(), err
	}

	s.supervisor.Configure(s.config)
	h, err := s.supervisor.Start(opts, nil, s.onComplete)
	if err != nil {
		if !errors.Is(err, process.ErrAlreadyRunning) {
			s.publishStartFailed("", err)
		}
		return s.supervisor.Info(), err
	}
	metrics.IncNodeStarts()
	s.logger.Info("Node starting", "pid", h.PID, "run_id", h.RunID, "datadir", h.DataDir)
	return s.supervisor.Info(), nil
}

// Stop interrupts the node and waits for it to close.
func (s *Service) Stop(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(ctx)
}

func (s *Service) stopLocked(ctx context.Context) (int, error) {
	if s.supervisor.Handle() == nil {
		return process.NoExitCode, ErrNotRunning
	}
	code, err := s.supervisor.StopWait(ctx)
	if err != nil {
		return code, fmt.Errorf("stopping node: %w", err)
	}
	return code, nil
}

// Restart stops the node if it runs and starts it again.
func (s *Service) Restart(ctx context.Context) (process.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.stopLocked(ctx); err != nil && !errors.Is(err, ErrNotRunning) {
		return s.supervisor.Info(), err
	}
	return s.startLocked()
}

// Reload rereads the option file and restarts a running node when the
// options changed. It reports whether the node was restarted.
func (s *Service) Reload(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.optionsFile == "" {
		return false, ErrNoOptions
	}
	opts, err := geth.LoadOptions(s.optionsFile)
	if err != nil {
		return false, err
	}

	changed := opts.String() != s.options.String()
	s.options = opts
	restart := changed && s.supervisor.Handle() != nil
	if restart {
		s.logger.Info("Node options changed, restarting", "path", s.optionsFile)
		if _, err := s.stopLocked(ctx); err != nil && !errors.Is(err, ErrNotRunning) {
			return false, err
		}
		if _, err := s.startLocked(); err != nil {
			return false, err
		}
	}

	if s.eventBus != nil {
		s.eventBus.Publish(events.NodeOptionsReloadedEvent{
			Path:      s.optionsFile,
			Restarted: restart,
			Timestamp: time.Now().Format(time.RFC3339),
		})
	}
	return restart, nil
}

// Status returns a snapshot of the supervisor.
func (s *Service) Status() process.Info {
	return s.supervisor.Info()
}

// Output returns the newest n node output lines across runs, oldest first.
// n <= 0 returns the whole history.
func (s *Service) Output(n int) []OutputLine {
	return s.output.Tail(n)
}

// Options returns a copy of the options used for the last start.
func (s *Service) Options() *geth.Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.options.Clone()
}

// WaitReady blocks until the running node is ready. It fails when the node
// exits first or ctx ends.
func (s *Service) WaitReady(ctx context.Context) error {
	h := s.supervisor.Handle()
	if h == nil {
		return ErrNotRunning
	}
	select {
	case <-h.Ready():
		return nil
	case <-h.Done():
		if code := h.ExitCode(); code != process.NoExitCode {
			return &process.ExitError{Code: code}
		}
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the node exits and returns its exit code. Restarts made
// through Restart or Reload are waited through.
func (s *Service) Wait(ctx context.Context) (int, error) {
	h := s.supervisor.Handle()
	if h == nil {
		return process.NoExitCode, ErrNotRunning
	}
	for {
		select {
		case <-h.Done():
		case <-ctx.Done():
			return process.NoExitCode, ctx.Err()
		}

		// Restart and Reload hold mu across stop and start.
		s.mu.Lock()
		next := s.supervisor.Handle()
		s.mu.Unlock()
		if next == nil {
			return h.ExitCode(), nil
		}
		h = next
	}
}

// Close releases the supervisor from the host exit hook after stopping the
// node unless it persists on exit.
func (s *Service) Close(ctx context.Context) error {
	defer s.supervisor.Release()
	if s.config.PersistOnExit {
		return nil
	}
	if _, err := s.Stop(ctx); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	return nil
}

// loadOptions reads the option file, or falls back to the inline options.
func (s *Service) loadOptions() (*geth.Options, error) {
	if s.optionsFile == "" {
		return s.options.Clone(), nil
	}
	opts, err := geth.LoadOptions(s.optionsFile)
	if err != nil {
		return nil, err
	}
	s.options = opts
	return opts.Clone(), nil
}
