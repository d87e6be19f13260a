package node

import (
	"time"

	"github.com/smazurov/gethkeeper/internal/events"
	"github.com/smazurov/gethkeeper/internal/metrics"
	"github.com/smazurov/gethkeeper/internal/process"
)

// OutputLine is one line of node output kept in the service history.
type OutputLine struct {
	Time   time.Time      `json:"time"`
	RunID  string         `json:"run_id"`
	Stream process.Stream `json:"stream"`
	Line   string         `json:"line"`
}

// outputRecorder counts node output, keeps recent lines and publishes them.
type outputRecorder struct {
	s *Service
}

func (r outputRecorder) HandleLine(stream process.Stream, line string) {
	metrics.IncOutputLines(string(stream))

	out := OutputLine{Time: time.Now(), Stream: stream, Line: line}
	if h := r.s.current.Load(); h != nil {
		out.RunID = h.RunID
	}
	r.s.output.Write(out)

	if r.s.eventBus != nil {
		r.s.eventBus.Publish(events.NodeOutputEvent{
			RunID:     out.RunID,
			Stream:    string(stream),
			Line:      line,
			Timestamp: out.Time.Format(time.RFC3339Nano),
		})
	}
}

// onComplete is the start trigger: ready, or failed before becoming ready.
func (s *Service) onComplete(err error, h *process.Handle) {
	if err != nil {
		s.logger.Error("Node failed to start", "error", err)
		runID := ""
		if cur := s.current.Load(); cur != nil {
			runID = cur.RunID
		}
		s.publishStartFailed(runID, err)
		return
	}

	elapsed := time.Since(h.StartedAt)
	metrics.ObserveNodeReady(elapsed)
	s.logger.Info("Node ready", "pid", h.PID, "after", elapsed.String())
	if s.eventBus != nil {
		s.eventBus.Publish(events.NodeReadyEvent{
			PID:       h.PID,
			RunID:     h.RunID,
			Seconds:   elapsed.Seconds(),
			Timestamp: time.Now().Format(time.RFC3339),
		})
	}
}

func (s *Service) onStateChange(oldState, newState process.State, err error) {
	metrics.SetNodeState(string(newState))

	// Runs before the supervisor streams output, so every line of a run
	// carries its run ID.
	if newState == process.StateRunning {
		if h := s.supervisor.Handle(); h != nil {
			s.current.Store(h)
		}
	}

	now := time.Now().Format(time.RFC3339)
	if s.eventBus != nil {
		ev := events.NodeStateChangedEvent{
			OldState:  string(oldState),
			NewState:  string(newState),
			Timestamp: now,
		}
		if err != nil {
			ev.Error = err.Error()
		}
		s.eventBus.Publish(ev)
	}

	// A running or stopping node that leaves those states has exited.
	if oldState != process.StateRunning && oldState != process.StateStopping {
		return
	}
	if newState == process.StateRunning || newState == process.StateStopping {
		return
	}

	info := s.supervisor.Info()
	expected := err == nil
	metrics.RecordNodeExit(info.ExitCode, expected)
	if s.eventBus != nil {
		ev := events.NodeExitedEvent{
			ExitCode:  info.ExitCode,
			Expected:  expected,
			Timestamp: now,
		}
		if h := s.current.Load(); h != nil {
			ev.PID = h.PID
			ev.RunID = h.RunID
		}
		s.eventBus.Publish(ev)
	}
}

func (s *Service) publishStartFailed(runID string, err error) {
	if s.eventBus == nil {
		return
	}
	s.eventBus.Publish(events.NodeStartFailedEvent{
		RunID:     runID,
		Error:     err.Error(),
		Timestamp: time.Now().Format(time.RFC3339),
	})
}
