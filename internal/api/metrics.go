package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/gethkeeper/internal/api/models"
	"github.com/smazurov/gethkeeper/internal/metrics"
)

const defaultMetricsInterval = 5 * time.Second

// registerMetricsRoutes registers the metrics SSE endpoint.
func (s *Server) registerMetricsRoutes() {
	interval := s.options.MetricsInterval
	if interval <= 0 {
		interval = defaultMetricsInterval
	}

	sse.Register(s.api, huma.Operation{
		OperationID: "metrics-stream",
		Method:      http.MethodGet,
		Path:        "/api/metrics",
		Summary:     "Metrics Server-Sent Events Stream",
		Description: "Periodic snapshot of the node supervisor metrics. A sample is sent on connect.",
		Tags:        []string{"metrics"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"node-metrics": models.NodeMetricsData{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			if err := send.Data(toNodeMetrics(metrics.GetNodeMetrics())); err != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	})
}

func toNodeMetrics(m metrics.NodeMetrics) models.NodeMetricsData {
	return models.NodeMetricsData{
		State:        m.State,
		Starts:       m.Starts,
		Exits:        m.Exits,
		LastExitCode: m.LastExitCode,
		ReadySeconds: m.LastReady.Seconds(),
		OutputLines:  m.OutputLines,
		Timestamp:    time.Now().Format(time.RFC3339),
	}
}
