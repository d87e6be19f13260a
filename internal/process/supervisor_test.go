package process

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/smazurov/gethkeeper/internal/geth"
)

const (
	// Prints the ready marker, then idles until interrupted.
	readyScript = `sh -c "echo 'INFO IPC endpoint opened url=/tmp/geth.ipc' >&2; trap 'exit 0' INT TERM; while :; do sleep 0.05; done"`
	// Idles until interrupted, never ready.
	idleScript = `sh -c "trap 'exit 0' INT TERM; while :; do sleep 0.05; done"`
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// lockedBuffer is a bytes.Buffer safe for the two output goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig(t *testing.T, binary string) Config {
	t.Helper()
	return Config{
		BinaryPath: binary,
		Builder:    &geth.Builder{Home: t.TempDir()},
		Logger:     testLogger(),
	}
}

// newTestSupervisor returns a configured supervisor whose daemon is stopped at cleanup.
func newTestSupervisor(t *testing.T, cfg Config) *Supervisor {
	t.Helper()
	s := New()
	s.Configure(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if h := s.Handle(); h != nil {
			_ = h.signal(syscall.SIGKILL)
			<-h.Done()
		}
		_, _ = s.StopWait(ctx)
		s.Release()
	})
	return s
}

type triggerResult struct {
	err    error
	handle *Handle
}

func triggerChan() (chan triggerResult, Trigger) {
	ch := make(chan triggerResult, 4)
	return ch, func(err error, h *Handle) {
		ch <- triggerResult{err: err, handle: h}
	}
}

func waitTrigger(t *testing.T, ch <-chan triggerResult, timeout time.Duration) triggerResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(timeout):
		t.Fatal("timeout waiting for start trigger")
		return triggerResult{}
	}
}

func waitDone(t *testing.T, h *Handle, timeout time.Duration) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(timeout):
		t.Fatal("timeout waiting for node to exit")
	}
}

func TestStartBeforeConfigure(t *testing.T) {
	s := New()
	defer s.Release()

	h, err := s.Start(geth.NewOptions(), nil, nil)
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Start() error = %v, want ErrNotConfigured", err)
	}
	if h != nil || s.Handle() != nil {
		t.Error("no process should have been spawned")
	}
	if s.State() != StateUnconfigured {
		t.Errorf("State() = %s, want %s", s.State(), StateUnconfigured)
	}
}

func TestReadyMarkerFiresTriggerOnce(t *testing.T) {
	s := newTestSupervisor(t, testConfig(t, readyScript))
	ch, trigger := triggerChan()

	h, err := s.Start(geth.NewOptions().Set("networkid", 1), nil, trigger)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	r := waitTrigger(t, ch, 2*time.Second)
	if r.err != nil {
		t.Fatalf("trigger error = %v, want nil", r.err)
	}
	if r.handle != h {
		t.Error("trigger should receive the live handle")
	}
	if !h.IsReady() {
		t.Error("handle should be ready")
	}
	if _, err := uuid.Parse(h.RunID); err != nil {
		t.Errorf("RunID %q is not a uuid: %v", h.RunID, err)
	}

	info := s.Info()
	if info.State != StateRunning || info.PID != h.PID || !info.Ready {
		t.Errorf("Info() = %+v", info)
	}
	if !strings.HasSuffix(info.DataDir, ".ethereum-1") {
		t.Errorf("DataDir = %q", info.DataDir)
	}

	if _, err := s.StopWait(context.Background()); err != nil {
		t.Fatalf("StopWait() error = %v", err)
	}
	select {
	case r := <-ch:
		t.Errorf("trigger fired twice: %+v", r)
	default:
	}
}

func TestReadyMarkerLoggedOnce(t *testing.T) {
	var logs lockedBuffer
	cfg := testConfig(t, readyScript)
	cfg.Logger = slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelInfo}))
	s := newTestSupervisor(t, cfg)
	ch, trigger := triggerChan()

	if _, err := s.Start(nil, nil, trigger); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitTrigger(t, ch, 2*time.Second)

	// Readiness is announced by the trigger's owner, not the supervisor.
	if strings.Contains(logs.String(), "Node ready") {
		t.Errorf("supervisor logged readiness at info: %s", logs.String())
	}
}

func TestUnexpectedExit(t *testing.T) {
	tests := []struct {
		name        string
		script      string
		wantTrigger bool
		wantCode    int
		wantState   State
	}{
		{"exit 1", `sh -c "exit 1"`, true, 1, StateError},
		{"exit 0", `sh -c "exit 0"`, false, 0, StateConfigured},
		{"exit 2", `sh -c "exit 2"`, false, 2, StateConfigured},
		{"killed", `sh -c "kill -9 $$"`, true, 9, StateError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSupervisor(t, testConfig(t, tt.script))
			ch, trigger := triggerChan()

			h, err := s.Start(nil, nil, trigger)
			if err != nil {
				t.Fatalf("Start() error = %v", err)
			}

			if tt.wantTrigger {
				r := waitTrigger(t, ch, 2*time.Second)
				var exitErr *ExitError
				if !errors.As(r.err, &exitErr) || exitErr.Code != tt.wantCode {
					t.Errorf("trigger error = %v, want exit code %d", r.err, tt.wantCode)
				}
				if r.handle != nil {
					t.Error("failed start should pass a nil handle")
				}
			} else {
				waitDone(t, h, 2*time.Second)
				select {
				case r := <-ch:
					t.Errorf("unexpected trigger: %v", r.err)
				case <-time.After(100 * time.Millisecond):
				}
			}

			waitDone(t, h, 2*time.Second)
			if h.ExitCode() != tt.wantCode {
				t.Errorf("ExitCode() = %d, want %d", h.ExitCode(), tt.wantCode)
			}
			if s.Handle() != nil {
				t.Error("handle should be cleared after exit")
			}
			if s.State() != tt.wantState {
				t.Errorf("State() = %s, want %s", s.State(), tt.wantState)
			}
			if !s.Configured() {
				t.Error("unexpected exit should keep the configuration")
			}
		})
	}
}

func TestRestartAfterUnexpectedExit(t *testing.T) {
	s := newTestSupervisor(t, testConfig(t, `sh -c "exit 0"`))

	for i := 0; i < 2; i++ {
		h, err := s.Start(nil, nil, nil)
		if err != nil {
			t.Fatalf("Start() #%d error = %v", i+1, err)
		}
		waitDone(t, h, 2*time.Second)
		if s.State() != StateConfigured {
			t.Fatalf("State() after exit #%d = %s, want %s", i+1, s.State(), StateConfigured)
		}
	}
}

func TestStopWithoutProcess(t *testing.T) {
	s := newTestSupervisor(t, testConfig(t, idleScript))

	called := false
	s.Stop(func(err error, code int) {
		called = true
		if err != nil {
			t.Errorf("Stop callback error = %v", err)
		}
		if code != NoExitCode {
			t.Errorf("Stop callback code = %d, want NoExitCode", code)
		}
	})
	if !called {
		t.Error("Stop callback should run immediately")
	}
	if !s.Configured() {
		t.Error("Stop without a process should keep the configuration")
	}
}

func TestStopRunningProcess(t *testing.T) {
	var mu sync.Mutex
	var transitions []string
	cfg := testConfig(t, readyScript)
	cfg.OnStateChange = func(oldState, newState State, _ error) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, string(oldState)+">"+string(newState))
	}

	s := newTestSupervisor(t, cfg)
	ch, trigger := triggerChan()
	h, err := s.Start(nil, nil, trigger)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitTrigger(t, ch, 2*time.Second)

	type stopResult struct {
		err           error
		code          int
		handleCleared bool
		state         State
	}
	done := make(chan stopResult, 1)
	s.Stop(func(err error, code int) {
		done <- stopResult{err, code, s.Handle() == nil, s.State()}
	})

	select {
	case r := <-done:
		if r.err != nil {
			t.Errorf("Stop callback error = %v", r.err)
		}
		if r.code != 0 {
			t.Errorf("exit code = %d, want 0", r.code)
		}
		if !r.handleCleared {
			t.Error("handle should be cleared before the callback")
		}
		if r.state != StateStopped {
			t.Errorf("state = %s, want %s", r.state, StateStopped)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for stop callback")
	}

	select {
	case <-h.Done():
	default:
		t.Error("handle should be done after the stop callback")
	}

	if _, err := s.Start(nil, nil, nil); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Start() after Stop error = %v, want ErrNotConfigured", err)
	}

	mu.Lock()
	got := strings.Join(transitions, " ")
	mu.Unlock()
	want := "unconfigured>configured configured>starting starting>running running>stopping stopping>stopped"
	if got != want {
		t.Errorf("transitions = %q, want %q", got, want)
	}

	// Reconfiguring makes the supervisor startable again.
	s.Configure(testConfig(t, idleScript))
	h2, err := s.Start(nil, nil, nil)
	if err != nil {
		t.Fatalf("Start() after Configure error = %v", err)
	}
	if h2 == h {
		t.Error("expected a new handle")
	}
	if _, err := s.StopWait(context.Background()); err != nil {
		t.Errorf("StopWait() error = %v", err)
	}
}

func TestStopInterruptedByDefaultSignal(t *testing.T) {
	// sleep dies from SIGINT, reported as code 2.
	s := newTestSupervisor(t, testConfig(t, `sh -c "exec sleep 10"`))
	ch, trigger := triggerChan()
	if _, err := s.Start(nil, nil, trigger); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	code, err := s.StopWait(ctx)
	if err != nil {
		t.Fatalf("StopWait() error = %v", err)
	}
	if code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
	select {
	case r := <-ch:
		t.Errorf("trigger should not fire on a supervised stop: %v", r.err)
	default:
	}
}

func TestStopTimeoutKills(t *testing.T) {
	cfg := testConfig(t, `sh -c "trap '' INT; while :; do sleep 0.05; done"`)
	cfg.StopTimeout = 100 * time.Millisecond
	s := newTestSupervisor(t, cfg)

	if _, err := s.Start(nil, nil, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	code, err := s.StopWait(ctx)
	if err != nil {
		t.Fatalf("StopWait() error = %v", err)
	}
	if code != 9 {
		t.Errorf("exit code = %d, want 9 (SIGKILL)", code)
	}
}

func TestStopReachesWrapperChildren(t *testing.T) {
	tests := []struct {
		name     string
		script   string
		wantCode int
	}{
		// sh waits on sleep without exec'ing it, so only a group signal reaches sleep.
		{"interrupt", `sh -c "sleep 30; echo done"`, int(syscall.SIGINT)},
		{"kill after timeout", `sh -c "trap '' INT; sleep 30; echo done"`, int(syscall.SIGKILL)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, tt.script)
			cfg.StopTimeout = 300 * time.Millisecond
			s := newTestSupervisor(t, cfg)

			h, err := s.Start(nil, nil, nil)
			if err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			time.Sleep(100 * time.Millisecond) // let sh fork sleep

			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			start := time.Now()
			code, err := s.StopWait(ctx)
			if err != nil {
				t.Fatalf("StopWait() error = %v after %s", err, time.Since(start))
			}
			if code != tt.wantCode {
				t.Errorf("exit code = %d, want %d", code, tt.wantCode)
			}

			// No member of the daemon's group may outlive the stop.
			deadline := time.Now().Add(2 * time.Second)
			for syscall.Kill(-h.PID, 0) == nil {
				if time.Now().After(deadline) {
					t.Fatal("process group still alive after stop")
				}
				time.Sleep(20 * time.Millisecond)
			}
		})
	}
}

func TestConcurrentStopCallbacks(t *testing.T) {
	s := newTestSupervisor(t, testConfig(t, idleScript))
	if _, err := s.Start(nil, nil, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		s.Stop(func(err error, code int) {
			defer wg.Done()
			if err != nil || code != 0 {
				t.Errorf("Stop callback = (%v, %d), want (nil, 0)", err, code)
			}
		})
	}

	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for both stop callbacks")
	}
}

func TestAlreadyRunning(t *testing.T) {
	s := newTestSupervisor(t, testConfig(t, idleScript))
	if _, err := s.Start(nil, nil, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := s.Start(nil, nil, nil); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestReadyTimeout(t *testing.T) {
	cfg := testConfig(t, idleScript)
	cfg.ReadyTimeout = 100 * time.Millisecond
	s := newTestSupervisor(t, cfg)
	ch, trigger := triggerChan()

	h, err := s.Start(nil, nil, trigger)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	r := waitTrigger(t, ch, 2*time.Second)
	if !errors.Is(r.err, ErrReadyTimeout) {
		t.Errorf("trigger error = %v, want ErrReadyTimeout", r.err)
	}
	if r.handle != nil {
		t.Error("ready timeout should pass a nil handle")
	}
	if s.Handle() != h {
		t.Error("ready timeout should leave the node running")
	}
}

func TestSpawnFailure(t *testing.T) {
	s := newTestSupervisor(t, testConfig(t, filepath.Join(t.TempDir(), "missing-geth")))

	if _, err := s.Start(nil, nil, nil); err == nil {
		t.Fatal("expected spawn error")
	}
	if s.Handle() != nil {
		t.Error("no handle expected after spawn failure")
	}
	info := s.Info()
	if info.State != StateConfigured || info.LastError == nil {
		t.Errorf("Info() = %+v, want configured with last error", info)
	}
}

func TestBuildFailure(t *testing.T) {
	s := newTestSupervisor(t, testConfig(t, idleScript))
	opts := geth.NewOptions().Set("symlink", filepath.Join(t.TempDir(), "missing", "link"))

	if _, err := s.Start(opts, nil, nil); err == nil {
		t.Fatal("expected build error")
	}
	if s.State() != StateConfigured {
		t.Errorf("State() = %s, want %s", s.State(), StateConfigured)
	}
}

func TestArgumentsPassedToBinary(t *testing.T) {
	out := &lockedBuffer{}
	cfg := testConfig(t, `sh -c 'echo $0 $@'`)
	cfg.Debug = true
	cfg.Echo = out
	s := newTestSupervisor(t, cfg)

	opts := geth.NewOptions().Set("datadir", "/srv/geth").Set("rpcport", 8545)
	h, err := s.Start(opts, nil, nil)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, h, 2*time.Second)

	if got, want := strings.TrimSpace(out.String()), "--datadir /srv/geth --rpcport 8545 --rpc"; got != want {
		t.Errorf("binary received %q, want %q", got, want)
	}
}

func TestDebugEcho(t *testing.T) {
	script := `sh -c "echo to-stdout; echo to-stderr >&2"`
	tests := []struct {
		name  string
		debug bool
		want  []string
	}{
		{"debug", true, []string{"to-stdout", "to-stderr"}},
		{"quiet", false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &lockedBuffer{}
			cfg := testConfig(t, script)
			cfg.Debug = tt.debug
			cfg.Echo = out
			s := newTestSupervisor(t, cfg)

			h, err := s.Start(nil, nil, nil)
			if err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			waitDone(t, h, 2*time.Second)

			got := out.String()
			if len(tt.want) == 0 && got != "" {
				t.Errorf("expected no echo, got %q", got)
			}
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("echo %q missing %q", got, w)
				}
			}
		})
	}
}

type countingHandler struct {
	mu    sync.Mutex
	lines map[Stream]int
}

func (c *countingHandler) HandleLine(stream Stream, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lines == nil {
		c.lines = make(map[Stream]int)
	}
	c.lines[stream]++
}

func TestCallerListeners(t *testing.T) {
	counter := &countingHandler{}
	cfg := testConfig(t, `sh -c "echo one; echo two; echo 'IPC endpoint opened' >&2; exit 3"`)
	cfg.OutputHandler = counter
	s := newTestSupervisor(t, cfg)

	var mu sync.Mutex
	var stdout, stderr []string
	closed := make(chan int, 1)
	listeners := &Listeners{
		Stdout: func(line string) {
			mu.Lock()
			defer mu.Unlock()
			stdout = append(stdout, line)
		},
		Stderr: func(line string) {
			mu.Lock()
			defer mu.Unlock()
			stderr = append(stderr, line)
		},
		Close: func(code int) { closed <- code },
	}
	ch, trigger := triggerChan()

	if _, err := s.Start(nil, listeners, trigger); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case code := <-closed:
		if code != 3 {
			t.Errorf("close code = %d, want 3", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for close observer")
	}

	mu.Lock()
	if strings.Join(stdout, ",") != "one,two" {
		t.Errorf("stdout = %v", stdout)
	}
	if len(stderr) != 1 {
		t.Errorf("stderr = %v", stderr)
	}
	mu.Unlock()

	// The caller replaced the ready and close defaults, so nothing fires.
	select {
	case r := <-ch:
		t.Errorf("trigger fired with caller listeners: %v", r.err)
	default:
	}

	counter.mu.Lock()
	defer counter.mu.Unlock()
	if counter.lines[Stdout] != 2 || counter.lines[Stderr] != 1 {
		t.Errorf("output handler counts = %v", counter.lines)
	}
}

func TestListenOnRunningProcess(t *testing.T) {
	s := newTestSupervisor(t, testConfig(t, `sh -c "trap 'exit 0' INT; while :; do echo tick; sleep 0.05; done"`))

	if err := s.Listen(Stdout, "before", func(string) {}); err != nil {
		t.Errorf("Listen() without process error = %v", err)
	}
	if labels := s.Labels(Stdout); labels != nil {
		t.Errorf("Labels() without process = %v", labels)
	}

	if _, err := s.Start(nil, nil, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	lines := make(chan string, 16)
	s.Stdout("extra", func(line string) {
		select {
		case lines <- line:
		default:
		}
	})

	select {
	case line := <-lines:
		if line != "tick" {
			t.Errorf("line = %q, want tick", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for observer")
	}

	if got := strings.Join(s.Labels(Stdout), ","); got != "data,extra" {
		t.Errorf("Labels() = %s, want data,extra", got)
	}

	s.Unlisten(Stdout, "extra")
	if got := strings.Join(s.Labels(Stdout), ","); got != "data" {
		t.Errorf("Labels() after Unlisten = %s, want data", got)
	}

	if err := s.Listen(Stream("stdin"), "x", func(string) {}); !errors.Is(err, ErrUnknownStream) {
		t.Errorf("Listen(stdin) error = %v, want ErrUnknownStream", err)
	}
}

func TestListenDefaultReplacesReadyDetection(t *testing.T) {
	s := newTestSupervisor(t, testConfig(t, `sh -c "sleep 0.2; echo 'IPC endpoint opened' >&2; trap 'exit 0' INT; while :; do sleep 0.05; done"`))
	ch, trigger := triggerChan()

	if _, err := s.Start(nil, nil, trigger); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	seen := make(chan struct{}, 1)
	if err := s.ListenDefault(Stderr, func(string) {
		select {
		case seen <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Fatalf("ListenDefault() error = %v", err)
	}

	select {
	case <-seen:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for replaced observer")
	}
	select {
	case r := <-ch:
		t.Errorf("trigger fired after default observer was replaced: %v", r.err)
	default:
	}
}
