package models

import "time"

// UpdateCheckData describes the newest release compared to the running binary.
type UpdateCheckData struct {
	CurrentVersion  string    `json:"current_version" example:"1.0.0" doc:"Running version"`
	LatestVersion   string    `json:"latest_version" example:"1.1.0" doc:"Newest release"`
	ReleaseNotes    string    `json:"release_notes,omitempty" doc:"Markdown release notes"`
	ReleaseURL      string    `json:"release_url,omitempty" doc:"Release page"`
	PublishedAt     time.Time `json:"published_at,omitzero" doc:"When the release was published"`
	AssetSize       int       `json:"asset_size,omitempty" example:"5242880" doc:"Download size in bytes"`
	UpdateAvailable bool      `json:"update_available" example:"true" doc:"Whether the release is newer"`
}

// UpdateCheckResponse wraps UpdateCheckData for API responses.
type UpdateCheckResponse struct {
	Body UpdateCheckData
}

// UpdateStatusData is the updater's state.
type UpdateStatusData struct {
	Enabled         bool       `json:"enabled" example:"true" doc:"Whether this binary can update itself"`
	DisabledReason  string     `json:"disabled_reason,omitempty" doc:"Why updates are disabled"`
	State           string     `json:"state" example:"idle" enum:"idle,checking,available,applying,applied,error,rolled_back" doc:"Update state"`
	CurrentVersion  string     `json:"current_version" example:"1.0.0" doc:"Running version"`
	TargetVersion   string     `json:"target_version,omitempty" example:"1.1.0" doc:"Version being installed"`
	Error           string     `json:"error,omitempty" doc:"Last error"`
	LastChecked     *time.Time `json:"last_checked,omitempty" doc:"When releases were last checked"`
	BackupAvailable bool       `json:"backup_available" example:"true" doc:"Whether a rollback copy exists"`
	BackupVersion   string     `json:"backup_version,omitempty" example:"1.0.0" doc:"Version of the rollback copy"`
}

// UpdateStatusResponse wraps UpdateStatusData for API responses.
type UpdateStatusResponse struct {
	Body UpdateStatusData
}

// UpdateActionData reports the outcome of apply or rollback.
type UpdateActionData struct {
	Version        string `json:"version,omitempty" example:"1.1.0" doc:"Version now on disk"`
	RestartPending bool   `json:"restart_pending" example:"true" doc:"Whether the systemd unit is being restarted to run it"`
	Message        string `json:"message" example:"Update applied, restarting gethkeeper.service" doc:"Status message"`
}

// UpdateActionResponse wraps UpdateActionData for API responses.
type UpdateActionResponse struct {
	Body UpdateActionData
}
