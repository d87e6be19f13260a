package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/smazurov/gethkeeper/internal/geth"
	"github.com/smazurov/gethkeeper/internal/logging"
)

const (
	scanBufferSize   = 64 * 1024
	maxScanTokenSize = 1024 * 1024
	killTimeout      = 5 * time.Second
)

// Supervisor runs one daemon process at a time.
type Supervisor struct {
	mu         sync.Mutex
	cfg        Config
	configured bool
	state      State
	handle     *Handle
	lastExit   int
	lastErr    error
	logger     logging.Logger

	echoMu sync.Mutex
}

// New creates an unconfigured supervisor and registers it with the host
// exit hook.
func New() *Supervisor {
	s := &Supervisor{
		state:    StateUnconfigured,
		lastExit: NoExitCode,
		logger:   logging.GetLogger("process"),
	}
	hostExit.add(s)
	return s
}

// Configure sets the static settings. It may be called repeatedly, the last
// call wins. A running daemon keeps the settings it was started with.
func (s *Supervisor) Configure(cfg Config) {
	cfg = cfg.withDefaults()

	s.mu.Lock()
	s.cfg = cfg
	s.configured = true
	s.logger = cfg.Logger
	old := s.state
	if s.handle == nil && old != StateStarting {
		s.state = StateConfigured
	}
	newState := s.state
	s.mu.Unlock()

	if old != newState {
		s.notifyState(cfg, old, newState, nil)
	}
}

// Start derives the daemon arguments from opts, installs the observers and
// spawns the daemon. It returns as soon as the process runs; readiness and
// failure are reported through onComplete.
//
// listeners may be nil. Each nil observer is replaced by the default one:
// stdout and stderr echo when Debug is set, stderr also watches for the ready
// marker, and close reports an exit code other than 0 or 2 to onComplete.
func (s *Supervisor) Start(opts *geth.Options, listeners *Listeners, onComplete Trigger) (*Handle, error) {
	s.mu.Lock()
	if !s.configured {
		s.mu.Unlock()
		return nil, ErrNotConfigured
	}
	if s.handle != nil || s.state == StateStarting {
		s.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	cfg := s.cfg
	old := s.state
	s.state = StateStarting
	s.mu.Unlock()
	s.notifyState(cfg, old, StateStarting, nil)

	if !cfg.PersistOnExit {
		hostExit.install()
	}

	h, stdout, stderr, err := s.spawn(cfg, opts, listeners, onComplete)
	if err != nil {
		s.mu.Lock()
		s.state = StateConfigured
		s.lastErr = err
		s.mu.Unlock()
		s.notifyState(cfg, StateStarting, StateConfigured, err)
		return nil, err
	}

	s.mu.Lock()
	s.handle = h
	s.state = StateRunning
	s.lastErr = nil
	s.lastExit = NoExitCode
	s.mu.Unlock()

	cfg.Logger.Info("Node started", "pid", h.PID, "run_id", h.RunID, "args", strings.Join(h.Args, " "))
	s.notifyState(cfg, StateStarting, StateRunning, nil)

	go s.monitor(cfg, h, stdout, stderr)
	if cfg.ReadyTimeout > 0 {
		go s.watchReady(cfg, h, cfg.ReadyTimeout)
	}
	return h, nil
}

// spawn builds the arguments and starts the process with its observers in place.
func (s *Supervisor) spawn(cfg Config, opts *geth.Options, listeners *Listeners, onComplete Trigger) (*Handle, io.ReadCloser, io.ReadCloser, error) {
	args, err := cfg.Builder.Build(opts)
	if err != nil {
		cfg.Logger.Error("Failed to build node arguments", "error", err)
		return nil, nil, nil, err
	}

	command, err := splitCommand(cfg.BinaryPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(command) == 0 {
		return nil, nil, nil, errors.New("empty binary path")
	}

	argv := append(command[1:len(command):len(command)], args.Argv...)
	cmd := exec.Command(command[0], argv...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	h := newHandle(uuid.NewString())
	h.cmd = cmd
	h.Args = args.Argv
	h.DataDir = args.DataDir
	s.installObservers(cfg, h, listeners, onComplete)

	if err := cmd.Start(); err != nil {
		cfg.Logger.Error("Failed to start node", "error", err, "binary", cfg.BinaryPath)
		return nil, nil, nil, fmt.Errorf("starting %s: %w", command[0], err)
	}
	h.PID = cmd.Process.Pid
	h.StartedAt = time.Now()
	return h, stdout, stderr, nil
}

// installObservers registers the caller's observers, or the defaults, under DefaultLabel.
func (s *Supervisor) installObservers(cfg Config, h *Handle, listeners *Listeners, onComplete Trigger) {
	var once sync.Once
	fire := func(err error) {
		once.Do(func() {
			if onComplete == nil {
				return
			}
			if err != nil {
				onComplete(err, nil)
				return
			}
			onComplete(nil, h)
		})
	}
	h.trigger = fire

	if listeners == nil {
		listeners = &Listeners{}
	}

	stdoutObs := listeners.Stdout
	if stdoutObs == nil {
		stdoutObs = func(line string) {
			if cfg.Debug {
				s.echo(cfg.Echo, line)
			}
		}
	}

	stderrObs := listeners.Stderr
	if stderrObs == nil {
		stderrObs = func(line string) {
			if cfg.Debug {
				s.echo(cfg.Echo, line)
			}
			if strings.Contains(line, cfg.ReadyMarker) && h.markReady() {
				cfg.Logger.Debug("Ready marker seen", "pid", h.PID)
				fire(nil)
			}
		}
	}

	closeObs := listeners.Close
	if closeObs == nil {
		closeObs = func(code int) {
			if !expectedExit(code) {
				fire(&ExitError{Code: code})
			}
		}
	}

	h.stdout.set(DefaultLabel, stdoutObs)
	h.stderr.set(DefaultLabel, stderrObs)
	h.onClose = closeObs
}

func (s *Supervisor) echo(w io.Writer, line string) {
	s.echoMu.Lock()
	defer s.echoMu.Unlock()
	_, _ = io.WriteString(w, line+"\n")
}

// monitor delivers the output of h and then handles its exit.
func (s *Supervisor) monitor(cfg Config, h *Handle, stdout, stderr io.Reader) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.streamOutput(cfg, h, stdout, Stdout)
	}()
	go func() {
		defer wg.Done()
		s.streamOutput(cfg, h, stderr, Stderr)
	}()
	wg.Wait()

	err := h.cmd.Wait()
	code := exitCodeFromError(err)
	if err != nil && code == 1 {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			cfg.Logger.Error("Waiting for node failed", "error", err)
		}
	}
	s.handleExit(cfg, h, code)
}

// streamOutput splits reader into lines and dispatches them to the stream's observers.
func (s *Supervisor) streamOutput(cfg Config, h *Handle, reader io.Reader, stream Stream) {
	reg := h.registry(stream)
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, scanBufferSize), maxScanTokenSize)

	for scanner.Scan() {
		line := scanner.Text()
		if cfg.OutputHandler != nil {
			cfg.OutputHandler.HandleLine(stream, line)
		}
		reg.dispatch(line)
	}

	if err := scanner.Err(); err != nil {
		cfg.Logger.Warn("Error reading node output", "stream", stream, "error", err)
		// Keep the pipe drained so the daemon never blocks on a full buffer.
		_, _ = io.Copy(io.Discard, reader)
	}
}

// handleExit clears the handle and runs either the stop handler or the close observer.
func (s *Supervisor) handleExit(cfg Config, h *Handle, code int) {
	h.mu.Lock()
	h.closed = true
	h.exitCode = code
	waiters := h.stopWaiters
	h.stopWaiters = nil
	onClose := h.onClose
	h.mu.Unlock()

	stopped := len(waiters) > 0

	s.mu.Lock()
	if s.handle == h {
		s.handle = nil
	}
	old := s.state
	s.lastExit = code
	var exitErr error
	switch {
	case stopped:
		s.configured = false
		s.state = StateStopped
	case expectedExit(code):
		s.state = StateConfigured
	default:
		exitErr = &ExitError{Code: code}
		s.lastErr = exitErr
		s.state = StateError
	}
	newState := s.state
	s.mu.Unlock()

	close(h.done)

	if stopped {
		cfg.Logger.Info("Node stopped", "pid", h.PID, "exit_code", code)
	} else if exitErr != nil {
		cfg.Logger.Error("Node exited unexpectedly", "pid", h.PID, "exit_code", code)
	} else {
		cfg.Logger.Info("Node exited", "pid", h.PID, "exit_code", code)
	}
	s.notifyState(cfg, old, newState, exitErr)

	if stopped {
		for _, done := range waiters {
			if done != nil {
				done(nil, code)
			}
		}
		return
	}
	if onClose != nil {
		onClose(code)
	}
}

// watchReady fails the trigger when the ready marker does not show up in time.
func (s *Supervisor) watchReady(cfg Config, h *Handle, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.ready:
	case <-h.done:
	case <-timer.C:
		cfg.Logger.Warn("Node not ready in time", "pid", h.PID, "timeout", timeout.String())
		h.trigger(ErrReadyTimeout)
	}
}

// Stop interrupts the running daemon. done is called once the process has
// closed, after the handle was cleared and the configuration invalidated.
// Without a running daemon done is called right away with NoExitCode.
func (s *Supervisor) Stop(done StopFunc) {
	s.mu.Lock()
	h := s.handle
	cfg := s.cfg
	s.mu.Unlock()

	if h == nil {
		if done != nil {
			done(nil, NoExitCode)
		}
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		<-h.done
		if done != nil {
			done(nil, h.ExitCode())
		}
		return
	}
	first := len(h.stopWaiters) == 0
	if done == nil {
		done = func(error, int) {}
	}
	h.stopWaiters = append(h.stopWaiters, done)
	h.mu.Unlock()

	if !first {
		return
	}

	s.setState(cfg, StateRunning, StateStopping)

	cfg.Logger.Info("Sending SIGINT to node", "pid", h.PID)
	if err := h.signal(syscall.SIGINT); err != nil && !errors.Is(err, os.ErrProcessDone) {
		cfg.Logger.Warn("Failed to send SIGINT", "pid", h.PID, "error", err)
		h.mu.Lock()
		waiters := h.stopWaiters
		h.stopWaiters = nil
		h.mu.Unlock()
		s.setState(cfg, StateStopping, StateRunning)
		for _, w := range waiters {
			w(err, NoExitCode)
		}
		return
	}

	if cfg.StopTimeout > 0 {
		go s.killAfter(cfg, h, cfg.StopTimeout)
	}
}

// StopWait stops the daemon and waits for it to close.
func (s *Supervisor) StopWait(ctx context.Context) (int, error) {
	type result struct {
		code int
		err  error
	}
	ch := make(chan result, 1)
	s.Stop(func(err error, code int) {
		ch <- result{code: code, err: err}
	})

	select {
	case r := <-ch:
		return r.code, r.err
	case <-ctx.Done():
		return NoExitCode, ctx.Err()
	}
}

// killAfter sends SIGKILL when h has not exited within timeout.
func (s *Supervisor) killAfter(cfg Config, h *Handle, timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.done:
		return
	case <-timer.C:
	}

	cfg.Logger.Warn("Node did not stop in time, forcing kill", "pid", h.PID, "timeout", timeout.String())
	if err := h.signal(syscall.SIGKILL); err != nil && !errors.Is(err, os.ErrProcessDone) {
		cfg.Logger.Error("Failed to kill node", "pid", h.PID, "error", err)
	}
}

// Listen registers obs under label for stream on the running daemon,
// replacing any observer with that label. An empty label means DefaultLabel.
// Without a running daemon it does nothing.
func (s *Supervisor) Listen(stream Stream, label string, obs Observer) error {
	if stream != Stdout && stream != Stderr {
		return fmt.Errorf("%w: %q", ErrUnknownStream, stream)
	}
	h := s.Handle()
	if h == nil || obs == nil {
		return nil
	}
	if label == "" {
		label = DefaultLabel
	}
	h.registry(stream).set(label, obs)
	return nil
}

// ListenDefault registers obs under DefaultLabel, replacing the observer Start installed.
func (s *Supervisor) ListenDefault(stream Stream, obs Observer) error {
	return s.Listen(stream, DefaultLabel, obs)
}

// Stdout registers obs for the daemon's standard output.
func (s *Supervisor) Stdout(label string, obs Observer) {
	_ = s.Listen(Stdout, label, obs)
}

// Stderr registers obs for the daemon's standard error.
func (s *Supervisor) Stderr(label string, obs Observer) {
	_ = s.Listen(Stderr, label, obs)
}

// Unlisten removes the observer registered under label.
func (s *Supervisor) Unlisten(stream Stream, label string) {
	h := s.Handle()
	if h == nil {
		return
	}
	if label == "" {
		label = DefaultLabel
	}
	if reg := h.registry(stream); reg != nil {
		reg.remove(label)
	}
}

// Labels returns the observer labels of stream in dispatch order.
func (s *Supervisor) Labels(stream Stream) []string {
	h := s.Handle()
	if h == nil {
		return nil
	}
	if reg := h.registry(stream); reg != nil {
		return reg.labelsSnapshot()
	}
	return nil
}

// Handle returns the live process handle, or nil.
func (s *Supervisor) Handle() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Configured reports whether Start may be called.
func (s *Supervisor) Configured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configured
}

// Info returns a snapshot of the supervisor.
func (s *Supervisor) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		State:     s.state,
		ExitCode:  s.lastExit,
		LastError: s.lastErr,
	}
	if h := s.handle; h != nil {
		info.PID = h.PID
		info.RunID = h.RunID
		info.Ready = h.IsReady()
		info.StartedAt = h.StartedAt
		info.Args = append([]string(nil), h.Args...)
		info.DataDir = h.DataDir
	}
	return info
}

func (s *Supervisor) persistOnExit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.PersistOnExit
}

// setState moves from one state to another if the supervisor is still in from.
func (s *Supervisor) setState(cfg Config, from, to State) {
	s.mu.Lock()
	if s.state != from {
		s.mu.Unlock()
		return
	}
	s.state = to
	s.mu.Unlock()
	s.notifyState(cfg, from, to, nil)
}

func (s *Supervisor) notifyState(cfg Config, oldState, newState State, err error) {
	if cfg.OnStateChange != nil {
		cfg.OnStateChange(oldState, newState, err)
	}
}
