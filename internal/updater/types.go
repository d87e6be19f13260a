// Package updater replaces the gethkeeper binary with a newer GitHub release
// and keeps one backup for rollback.
package updater

import "time"

// State represents the current state of the update process.
type State string

// Update states.
const (
	StateIdle       State = "idle"
	StateChecking   State = "checking"
	StateAvailable  State = "available"
	StateApplying   State = "applying"
	StateApplied    State = "applied" // new binary in place, restart pending
	StateError      State = "error"
	StateRolledBack State = "rolled_back"
)

// DefaultRepository is the GitHub slug releases are fetched from.
const DefaultRepository = "smazurov/gethkeeper"

// UpdateInfo contains information about an available update.
type UpdateInfo struct {
	CurrentVersion  string    `json:"current_version"`
	LatestVersion   string    `json:"latest_version"`
	ReleaseNotes    string    `json:"release_notes,omitempty"`
	ReleaseURL      string    `json:"release_url,omitempty"`
	PublishedAt     time.Time `json:"published_at,omitzero"`
	AssetSize       int       `json:"asset_size,omitempty"`
	UpdateAvailable bool      `json:"update_available"`
}

// Status contains the current state of the updater.
type Status struct {
	State           State      `json:"state"`
	CurrentVersion  string     `json:"current_version"`
	TargetVersion   string     `json:"target_version,omitempty"`
	Error           string     `json:"error,omitempty"`
	LastChecked     *time.Time `json:"last_checked,omitempty"`
	BackupAvailable bool       `json:"backup_available"`
	BackupVersion   string     `json:"backup_version,omitempty"`
}

// Options contains configuration for the updater.
type Options struct {
	Repository string // GitHub slug, default DefaultRepository
	Prerelease bool   // include prereleases
	// ExecPath is the binary to replace. Default is the running executable.
	ExecPath string
	// BackupDir holds the rollback copy. Default is ~/.cache/gethkeeper/backup.
	BackupDir string
}
