package process

import (
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// exitGrace is how long the host exit hook waits for an interrupted daemon
// before killing it.
const exitGrace = 5 * time.Second

// hostExit is the process-wide exit hook shared by all supervisors.
var hostExit = &exitRegistry{supervisors: make(map[*Supervisor]struct{})}

type exitRegistry struct {
	mu          sync.Mutex
	supervisors map[*Supervisor]struct{}
	installOnce sync.Once
}

func (r *exitRegistry) add(s *Supervisor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.supervisors[s] = struct{}{}
}

func (r *exitRegistry) remove(s *Supervisor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.supervisors, s)
}

// install starts watching the host's termination signals. Only the first
// call has an effect, however many supervisors exist.
func (r *exitRegistry) install() {
	r.installOnce.Do(func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		go r.watchHostSignals(sigChan)
	})
}

// watchHostSignals stops the daemons on the first termination signal, then
// hands the signal back to the runtime so the host ends as it would have.
func (r *exitRegistry) watchHostSignals(sigChan chan os.Signal) {
	sig := <-sigChan
	r.stopAll(exitGrace)
	signal.Stop(sigChan)

	if s, ok := sig.(syscall.Signal); ok {
		_ = syscall.Kill(os.Getpid(), s)
	}
}

// stopAll force-stops every supervisor that does not persist on exit.
func (r *exitRegistry) stopAll(grace time.Duration) {
	r.mu.Lock()
	supervisors := make([]*Supervisor, 0, len(r.supervisors))
	for s := range r.supervisors {
		supervisors = append(supervisors, s)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range supervisors {
		if s.persistOnExit() {
			continue
		}
		wg.Add(1)
		go func(s *Supervisor) {
			defer wg.Done()
			s.forceStop(grace)
		}(s)
	}
	wg.Wait()
}

// RunExitHooks stops every daemon whose supervisor does not persist on exit
// and waits for them to close. Hosts call it before a normal exit.
func RunExitHooks() {
	hostExit.stopAll(exitGrace)
}

// Release removes the supervisor from the host exit hook. A running daemon
// then survives the host whatever PersistOnExit says.
func (s *Supervisor) Release() {
	hostExit.remove(s)
}

// forceStop interrupts the daemon and kills it when it is still alive after grace.
func (s *Supervisor) forceStop(grace time.Duration) {
	h := s.Handle()
	if h == nil {
		return
	}

	s.Stop(nil)

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-h.done:
		return
	case <-timer.C:
	}

	s.mu.Lock()
	logger := s.logger
	s.mu.Unlock()

	logger.Warn("Node did not stop on host exit, forcing kill", "pid", h.PID)
	if err := h.signal(syscall.SIGKILL); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Error("Failed to kill node", "pid", h.PID, "error", err)
	}

	select {
	case <-h.done:
	case <-time.After(killTimeout):
		logger.Error("Node did not exit after kill signal", "pid", h.PID)
	}
}
