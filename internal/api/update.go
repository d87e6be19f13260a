package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/gethkeeper/internal/api/models"
	"github.com/smazurov/gethkeeper/internal/updater"
)

// unitRestartDelay lets the response reach the client before systemd
// restarts the unit this process runs in.
const unitRestartDelay = time.Second

// Updater replaces the gethkeeper binary with a newer release.
type Updater interface {
	Enabled() bool
	DisabledReason() string
	Check(ctx context.Context) (*updater.UpdateInfo, error)
	Apply(ctx context.Context) (*updater.UpdateInfo, error)
	Rollback(ctx context.Context) error
	Status() *updater.Status
}

func (s *Server) registerUpdateRoutes() {
	u := s.options.Updater
	if u == nil {
		return
	}

	huma.Register(s.api, huma.Operation{
		OperationID: "get-update-status",
		Method:      http.MethodGet,
		Path:        "/api/update/status",
		Summary:     "Update status",
		Tags:        []string{"update"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.UpdateStatusResponse, error) {
		st := u.Status()
		return &models.UpdateStatusResponse{
			Body: models.UpdateStatusData{
				Enabled:         u.Enabled(),
				DisabledReason:  u.DisabledReason(),
				State:           string(st.State),
				CurrentVersion:  st.CurrentVersion,
				TargetVersion:   st.TargetVersion,
				Error:           st.Error,
				LastChecked:     st.LastChecked,
				BackupAvailable: st.BackupAvailable,
				BackupVersion:   st.BackupVersion,
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "check-update",
		Method:      http.MethodGet,
		Path:        "/api/update/check",
		Summary:     "Check for updates",
		Description: "Look up the newest release without downloading it.",
		Tags:        []string{"update"},
		Security:    withAuth(),
		Errors:      []int{401, 409, 500, 503},
	}, func(ctx context.Context, _ *struct{}) (*models.UpdateCheckResponse, error) {
		info, err := u.Check(ctx)
		if err != nil {
			return nil, updateError(err)
		}
		return &models.UpdateCheckResponse{Body: models.UpdateCheckData(*info)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "apply-update",
		Method:      http.MethodPost,
		Path:        "/api/update/apply",
		Summary:     "Apply update",
		Description: "Download the newest release over the running binary. " +
			"When a systemd unit is configured it is restarted to run the new version.",
		Tags:     []string{"update"},
		Security: withAuth(),
		Errors:   []int{400, 401, 409, 500, 503},
	}, func(ctx context.Context, _ *struct{}) (*models.UpdateActionResponse, error) {
		info, err := u.Apply(ctx)
		if err != nil {
			return nil, updateError(err)
		}
		return s.afterUpdate(info.LatestVersion, "Update applied"), nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "rollback-update",
		Method:      http.MethodPost,
		Path:        "/api/update/rollback",
		Summary:     "Roll back update",
		Description: "Restore the binary saved before the last update.",
		Tags:        []string{"update"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 500, 503},
	}, func(ctx context.Context, _ *struct{}) (*models.UpdateActionResponse, error) {
		if err := u.Rollback(ctx); err != nil {
			return nil, updateError(err)
		}
		return s.afterUpdate(u.Status().BackupVersion, "Rollback complete"), nil
	})
}

// afterUpdate schedules a unit restart when systemd manages gethkeeper.
func (s *Server) afterUpdate(ver, msg string) *models.UpdateActionResponse {
	manager, unit := s.options.SystemdManager, s.options.ServiceUnit
	body := models.UpdateActionData{Version: ver}
	if manager == nil || unit == "" {
		body.Message = msg + ", restart gethkeeper to run it"
		return &models.UpdateActionResponse{Body: body}
	}

	body.RestartPending = true
	body.Message = msg + ", restarting " + unit
	time.AfterFunc(unitRestartDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if result, err := manager.Restart(ctx, unit); err != nil || result != "done" {
			s.logger.Error("Failed to restart unit after update", "unit", unit, "result", result, "error", err)
		}
	})
	return &models.UpdateActionResponse{Body: body}
}

func updateError(err error) error {
	var uerr *updater.Error
	if !errors.As(err, &uerr) {
		return huma.Error500InternalServerError(err.Error())
	}
	switch uerr.Code {
	case updater.ErrCodeInvalidState:
		return huma.Error409Conflict(uerr.Message)
	case updater.ErrCodeNoUpdate:
		return huma.Error400BadRequest(uerr.Message)
	case updater.ErrCodeNotFound, updater.ErrCodeNoBackup:
		return huma.Error404NotFound(uerr.Message)
	case updater.ErrCodeDisabled:
		return huma.Error503ServiceUnavailable(uerr.Message)
	default:
		return huma.Error500InternalServerError(uerr.Message)
	}
}
