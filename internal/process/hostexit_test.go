package process

import (
	"syscall"
	"testing"
	"time"
)

func TestRunExitHooksStopsNonPersistent(t *testing.T) {
	stopped := newTestSupervisor(t, testConfig(t, idleScript))

	persistCfg := testConfig(t, idleScript)
	persistCfg.PersistOnExit = true
	persistent := newTestSupervisor(t, persistCfg)

	h1, err := stopped.Start(nil, nil, nil)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	h2, err := persistent.Start(nil, nil, nil)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	RunExitHooks()

	select {
	case <-h1.Done():
	default:
		t.Error("non-persistent node should be stopped when RunExitHooks returns")
	}
	if stopped.State() != StateStopped {
		t.Errorf("State() = %s, want %s", stopped.State(), StateStopped)
	}

	select {
	case <-h2.Done():
		t.Error("persistent node should survive the exit hooks")
	case <-time.After(50 * time.Millisecond):
	}
	if persistent.Handle() != h2 {
		t.Error("persistent node handle should be kept")
	}
}

func TestForceStopKillsAfterGrace(t *testing.T) {
	s := newTestSupervisor(t, testConfig(t, `sh -c "trap '' INT; while :; do sleep 0.05; done"`))
	h, err := s.Start(nil, nil, nil)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	s.forceStop(100 * time.Millisecond)

	select {
	case <-h.Done():
	default:
		t.Fatal("node should be gone after forceStop")
	}
	if h.ExitCode() != 9 {
		t.Errorf("ExitCode() = %d, want 9", h.ExitCode())
	}
}

func TestForceStopKillsWrapperChildren(t *testing.T) {
	s := newTestSupervisor(t, testConfig(t, `sh -c "trap '' INT; sleep 30; echo done"`))
	h, err := s.Start(nil, nil, nil)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	s.forceStop(100 * time.Millisecond)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("forceStop took %s", elapsed)
	}

	select {
	case <-h.Done():
	default:
		t.Fatal("node should be gone after forceStop")
	}
	deadline := time.Now().Add(2 * time.Second)
	for syscall.Kill(-h.PID, 0) == nil {
		if time.Now().After(deadline) {
			t.Fatal("child of the wrapper survived forceStop")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestReleaseRemovesFromExitHook(t *testing.T) {
	s := New()
	hostExit.mu.Lock()
	_, registered := hostExit.supervisors[s]
	hostExit.mu.Unlock()
	if !registered {
		t.Fatal("New should register with the exit hook")
	}

	s.Release()
	hostExit.mu.Lock()
	_, registered = hostExit.supervisors[s]
	hostExit.mu.Unlock()
	if registered {
		t.Error("Release should unregister")
	}
}
