package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/gethkeeper/internal/api/models"
	"github.com/smazurov/gethkeeper/internal/geth"
	"github.com/smazurov/gethkeeper/internal/node"
	"github.com/smazurov/gethkeeper/internal/process"
)

// registerNodeRoutes registers node status and lifecycle routes.
func (s *Server) registerNodeRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-node",
		Method:      http.MethodGet,
		Path:        "/api/node",
		Summary:     "Node Status",
		Description: "Get the supervisor state and the current run of the geth node",
		Tags:        []string{"node"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.NodeStatusResponse, error) {
		return &models.NodeStatusResponse{Body: toNodeStatus(s.node.Status())}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "start-node",
		Method:      http.MethodPost,
		Path:        "/api/node/start",
		Summary:     "Start Node",
		Description: "Load the options and start the geth node. Returns once the process is spawned; readiness is reported on /api/events.",
		Tags:        []string{"node"},
		Security:    withAuth(),
		Errors:      []int{401, 409, 422, 500},
	}, func(ctx context.Context, _ *struct{}) (*models.NodeStatusResponse, error) {
		info, err := s.node.Start(ctx)
		if err != nil {
			return nil, nodeError("Failed to start node", err)
		}
		return &models.NodeStatusResponse{Body: toNodeStatus(info)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "stop-node",
		Method:      http.MethodPost,
		Path:        "/api/node/stop",
		Summary:     "Stop Node",
		Description: "Interrupt the geth node and wait for it to exit",
		Tags:        []string{"node"},
		Security:    withAuth(),
		Errors:      []int{401, 409, 500},
	}, func(ctx context.Context, _ *struct{}) (*models.NodeStopResponse, error) {
		code, err := s.node.Stop(ctx)
		if err != nil {
			return nil, nodeError("Failed to stop node", err)
		}
		return &models.NodeStopResponse{Body: models.NodeStopData{ExitCode: code}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "restart-node",
		Method:      http.MethodPost,
		Path:        "/api/node/restart",
		Summary:     "Restart Node",
		Description: "Stop the geth node if it runs and start it again",
		Tags:        []string{"node"},
		Security:    withAuth(),
		Errors:      []int{401, 409, 422, 500},
	}, func(ctx context.Context, _ *struct{}) (*models.NodeStatusResponse, error) {
		info, err := s.node.Restart(ctx)
		if err != nil {
			return nil, nodeError("Failed to restart node", err)
		}
		return &models.NodeStatusResponse{Body: toNodeStatus(info)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "reload-node",
		Method:      http.MethodPost,
		Path:        "/api/node/reload",
		Summary:     "Reload Options",
		Description: "Reread the option file and restart a running node if the options changed",
		Tags:        []string{"node"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 422, 500},
	}, func(ctx context.Context, _ *struct{}) (*models.NodeReloadResponse, error) {
		restarted, err := s.node.Reload(ctx)
		if err != nil {
			return nil, nodeError("Failed to reload options", err)
		}
		return &models.NodeReloadResponse{Body: models.NodeReloadData{Restarted: restarted}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-node-options",
		Method:      http.MethodGet,
		Path:        "/api/node/options",
		Summary:     "Node Options",
		Description: "Get the geth options used for the last start, in flag order",
		Tags:        []string{"node"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.NodeOptionsResponse, error) {
		return &models.NodeOptionsResponse{Body: toNodeOptions(s.node.Options())}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-node-output",
		Method:      http.MethodGet,
		Path:        "/api/node/output",
		Summary:     "Node Output",
		Description: "Get the newest lines the geth node wrote to stdout and stderr",
		Tags:        []string{"node"},
		Security:    withAuth(),
		Errors:      []int{401, 422},
	}, func(_ context.Context, input *models.NodeOutputRequest) (*models.NodeOutputResponse, error) {
		lines := s.node.Output(input.Lines)
		data := models.NodeOutputData{
			Lines: make([]models.NodeOutputLine, 0, len(lines)),
			Count: len(lines),
		}
		for _, l := range lines {
			data.Lines = append(data.Lines, models.NodeOutputLine{
				Time:   l.Time,
				RunID:  l.RunID,
				Stream: string(l.Stream),
				Line:   l.Line,
			})
		}
		return &models.NodeOutputResponse{Body: data}, nil
	})
}

// nodeError maps node service errors to HTTP status codes.
func nodeError(msg string, err error) error {
	switch {
	case errors.Is(err, node.ErrNotRunning),
		errors.Is(err, process.ErrAlreadyRunning),
		errors.Is(err, process.ErrNotConfigured):
		return huma.Error409Conflict(msg, err)
	case errors.Is(err, node.ErrNoOptions):
		return huma.Error400BadRequest(msg, err)
	case errors.Is(err, geth.ErrNestedOptions),
		errors.Is(err, geth.ErrUnsupportedFormat):
		return huma.Error422UnprocessableEntity(msg, err)
	default:
		return huma.Error500InternalServerError(msg, err)
	}
}

func toNodeStatus(info process.Info) models.NodeStatusData {
	data := models.NodeStatusData{
		State:    string(info.State),
		PID:      info.PID,
		RunID:    info.RunID,
		Ready:    info.Ready,
		Args:     info.Args,
		DataDir:  info.DataDir,
		ExitCode: info.ExitCode,
	}
	if !info.StartedAt.IsZero() {
		started := info.StartedAt
		data.StartedAt = &started
		data.UptimeSeconds = time.Since(started).Seconds()
	}
	if info.LastError != nil {
		data.LastError = info.LastError.Error()
	}
	return data
}

func toNodeOptions(opts *geth.Options) models.NodeOptionsData {
	data := models.NodeOptionsData{Options: []models.NodeOption{}}
	if opts == nil {
		return data
	}
	for _, key := range opts.Keys() {
		value, _ := opts.Get(key)
		data.Options = append(data.Options, models.NodeOption{Key: key, Value: value})
	}
	data.Count = len(data.Options)
	return data
}
