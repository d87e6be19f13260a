// Package metrics provides Prometheus metrics for the supervised node.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gethkeeper"

var (
	nodeState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "node",
		Name:      "state",
		Help:      "Current supervisor state (1 for the active state)",
	}, []string{"state"})

	nodeStarts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "node",
		Name:      "starts_total",
		Help:      "Total node processes spawned",
	})

	nodeExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "node",
		Name:      "exits_total",
		Help:      "Total node process exits by exit code",
	}, []string{"code", "expected"})

	nodeReadySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "node",
		Name:      "ready_seconds",
		Help:      "Time from spawn until the node opened its IPC endpoint",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})

	nodeOutputLines = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "node",
		Name:      "output_lines_total",
		Help:      "Total output lines read from the node",
	}, []string{"stream"})

	// Local snapshot for the status API.
	snapshot   = NodeMetrics{LastExitCode: -1, OutputLines: map[string]uint64{}}
	snapshotMu sync.RWMutex
)

// NodeMetrics holds current metric values.
type NodeMetrics struct {
	State        string
	Starts       uint64
	Exits        uint64
	LastExitCode int
	LastReady    time.Duration
	OutputLines  map[string]uint64
}

// SetNodeState marks state as the active supervisor state.
func SetNodeState(state string) {
	nodeState.Reset()
	nodeState.WithLabelValues(state).Set(1)
	update(func(m *NodeMetrics) { m.State = state })
}

// IncNodeStarts counts a spawned node process.
func IncNodeStarts() {
	nodeStarts.Inc()
	update(func(m *NodeMetrics) { m.Starts++ })
}

// RecordNodeExit counts a node exit.
func RecordNodeExit(code int, expected bool) {
	nodeExits.WithLabelValues(strconv.Itoa(code), strconv.FormatBool(expected)).Inc()
	update(func(m *NodeMetrics) {
		m.Exits++
		m.LastExitCode = code
	})
}

// ObserveNodeReady records how long the node took to become ready.
func ObserveNodeReady(d time.Duration) {
	nodeReadySeconds.Observe(d.Seconds())
	update(func(m *NodeMetrics) { m.LastReady = d })
}

// IncOutputLines counts one output line on stream.
func IncOutputLines(stream string) {
	nodeOutputLines.WithLabelValues(stream).Inc()
	update(func(m *NodeMetrics) { m.OutputLines[stream]++ })
}

// GetNodeMetrics returns a copy of the current values.
func GetNodeMetrics() NodeMetrics {
	snapshotMu.RLock()
	defer snapshotMu.RUnlock()
	dup := snapshot
	dup.OutputLines = make(map[string]uint64, len(snapshot.OutputLines))
	for k, v := range snapshot.OutputLines {
		dup.OutputLines[k] = v
	}
	return dup
}

// Handler returns the Prometheus metrics HTTP handler.
// This collects all promauto-registered metrics automatically.
func Handler() http.Handler {
	return promhttp.Handler()
}

func update(fn func(*NodeMetrics)) {
	snapshotMu.Lock()
	defer snapshotMu.Unlock()
	fn(&snapshot)
}
