package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/gethkeeper/internal/api/models"
)

// registerSystemdRoutes exposes the unit gethkeeper runs in, when configured.
func (s *Server) registerSystemdRoutes() {
	if s.options.SystemdManager == nil || s.options.ServiceUnit == "" {
		return
	}
	manager := s.options.SystemdManager
	unit := s.options.ServiceUnit

	huma.Register(s.api, huma.Operation{
		OperationID: "get-service-status",
		Method:      http.MethodGet,
		Path:        "/api/systemd/status",
		Summary:     "Service Status",
		Description: "Get the systemd status of the gethkeeper unit",
		Tags:        []string{"systemd"},
		Security:    withAuth(),
		Errors:      []int{401, 500},
	}, func(ctx context.Context, _ *struct{}) (*models.SystemdServiceStatusResponse, error) {
		status, err := manager.Status(ctx, unit)
		if err != nil {
			return nil, huma.Error500InternalServerError("Failed to get service status", err)
		}
		return &models.SystemdServiceStatusResponse{
			Body: models.SystemdServiceStatus{
				Service:  unit,
				Status:   status.ActiveState,
				SubState: status.SubState,
			},
		}, nil
	})

	type unitAction func(ctx context.Context, unit string) (string, error)
	register := func(action string, run unitAction) {
		huma.Register(s.api, huma.Operation{
			OperationID: action + "-service",
			Method:      http.MethodPost,
			Path:        "/api/systemd/" + action,
			Summary:     "Service " + action,
			Description: "Ask systemd to " + action + " the gethkeeper unit. The node follows the unit's KillMode.",
			Tags:        []string{"systemd"},
			Security:    withAuth(),
			Errors:      []int{401, 500},
		}, func(ctx context.Context, _ *struct{}) (*models.SystemdServiceActionResponse, error) {
			result, err := run(ctx, unit)
			if err != nil {
				return nil, huma.Error500InternalServerError("Failed to "+action+" service", err)
			}
			return &models.SystemdServiceActionResponse{
				Body: models.SystemdServiceAction{
					Service: unit,
					Action:  action,
					Result:  result,
					Success: result == "done",
				},
			}, nil
		})
	}
	register("restart", manager.Restart)
	register("stop", manager.Stop)
}
