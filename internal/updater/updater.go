package updater

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/creativeprojects/go-selfupdate"
	"github.com/smazurov/gethkeeper/internal/logging"
	"github.com/smazurov/gethkeeper/internal/version"
)

// Updater checks GitHub for newer gethkeeper releases and swaps the binary.
// It never restarts the process; that is left to the caller.
type Updater struct {
	repository selfupdate.Repository
	slug       string
	updater    *selfupdate.Updater
	execPath   string
	backup     *backupManager

	mu            sync.RWMutex
	state         State
	latestRelease *selfupdate.Release
	lastChecked   *time.Time
	lastError     error

	enabled        bool
	disabledReason string

	logger logging.Logger
}

// New creates an updater. A binary in a directory gethkeeper cannot write
// yields a disabled updater rather than an error.
func New(opts Options) (*Updater, error) {
	logger := logging.GetLogger("updater")

	if opts.Repository == "" {
		opts.Repository = DefaultRepository
	}

	execPath := opts.ExecPath
	if execPath == "" {
		exe, err := selfupdate.ExecutablePath()
		if err != nil {
			return nil, fmt.Errorf("failed to get executable path: %w", err)
		}
		execPath = exe
	}

	u := &Updater{
		repository: selfupdate.ParseSlug(opts.Repository),
		slug:       opts.Repository,
		execPath:   execPath,
		state:      StateIdle,
		logger:     logger,
	}

	if canWrite, reason := checkWritePermission(filepath.Dir(execPath)); !canWrite {
		logger.Warn("Updater disabled", "reason", reason)
		u.disabledReason = reason
		return u, nil
	}

	source, err := selfupdate.NewGitHubSource(selfupdate.GitHubConfig{})
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub source: %w", err)
	}
	updater, err := selfupdate.NewUpdater(selfupdate.Config{
		Source:     source,
		Prerelease: opts.Prerelease,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create updater: %w", err)
	}
	u.updater = updater

	backupDir := opts.BackupDir
	if backupDir == "" {
		if backupDir, err = defaultBackupDir(); err != nil {
			return nil, err
		}
	}
	if u.backup, err = newBackupManager(backupDir, logger); err != nil {
		logger.Warn("Rollback unavailable", "error", err)
	}

	u.enabled = true
	return u, nil
}

// checkWritePermission reports whether dir accepts new files, which
// replacing the binary needs.
func checkWritePermission(dir string) (bool, string) {
	f, err := os.CreateTemp(dir, ".gethkeeper.update.*")
	if err != nil {
		return false, fmt.Sprintf("no write permission to %s: %v", dir, err)
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return true, ""
}

// Enabled reports whether the updater can replace the binary.
func (u *Updater) Enabled() bool {
	return u.enabled
}

// DisabledReason returns why the updater is disabled, empty if enabled.
func (u *Updater) DisabledReason() string {
	return u.disabledReason
}

// Check queries GitHub for the latest release and compares it with the
// running version. Nothing is downloaded.
func (u *Updater) Check(ctx context.Context) (*UpdateInfo, error) {
	if !u.enabled {
		return nil, newError(ErrCodeDisabled, u.disabledReason, nil)
	}

	if !u.transitionTo(StateChecking, StateIdle, StateAvailable, StateError, StateRolledBack) {
		return nil, newError(ErrCodeInvalidState,
			fmt.Sprintf("cannot check for updates in state %s", u.getState()), nil)
	}

	release, found, err := u.updater.DetectLatest(ctx, u.repository)
	if err != nil {
		u.setError(err)
		return nil, newError(ErrCodeCheckFailed, "failed to check for updates", err)
	}

	now := time.Now()
	u.mu.Lock()
	u.lastChecked = &now
	u.mu.Unlock()

	if !found {
		err := fmt.Errorf("no release for %s", u.slug)
		u.setError(err)
		return nil, newError(ErrCodeNotFound, "repository not found or has no releases", err)
	}

	current := version.String()
	// dev builds are always outdated
	if current != "dev" && !release.GreaterThan(current) {
		u.transitionTo(StateIdle)
		return &UpdateInfo{
			CurrentVersion: current,
			LatestVersion:  release.Version(),
		}, nil
	}

	u.mu.Lock()
	u.latestRelease = release
	u.mu.Unlock()
	u.transitionTo(StateAvailable)

	return &UpdateInfo{
		CurrentVersion:  current,
		LatestVersion:   release.Version(),
		ReleaseNotes:    release.ReleaseNotes,
		ReleaseURL:      release.URL,
		PublishedAt:     release.PublishedAt,
		AssetSize:       release.AssetByteSize,
		UpdateAvailable: true,
	}, nil
}

// Apply backs up the current binary and replaces it with the latest
// release, checking first when no release is known yet.
func (u *Updater) Apply(ctx context.Context) (*UpdateInfo, error) {
	if !u.enabled {
		return nil, newError(ErrCodeDisabled, u.disabledReason, nil)
	}

	if u.getState() != StateAvailable {
		info, err := u.Check(ctx)
		if err != nil {
			return nil, err
		}
		if !info.UpdateAvailable {
			return info, newError(ErrCodeNoUpdate, "already at "+info.LatestVersion, nil)
		}
	}

	if !u.transitionTo(StateApplying, StateAvailable) {
		return nil, newError(ErrCodeInvalidState,
			fmt.Sprintf("cannot apply update in state %s", u.getState()), nil)
	}

	if u.backup != nil {
		if err := u.backup.createBackup(u.execPath); err != nil {
			u.setError(err)
			return nil, newError(ErrCodeBackupFailed, "failed to create backup", err)
		}
	}

	u.mu.RLock()
	release := u.latestRelease
	u.mu.RUnlock()

	if err := u.updater.UpdateTo(ctx, release, u.execPath); err != nil {
		u.setError(err)
		u.attemptRollback()
		return nil, newError(ErrCodeApplyFailed, "failed to apply update", err)
	}

	u.transitionTo(StateApplied)
	u.logger.Info("Update applied, restart gethkeeper to run it", "version", release.Version(), "path", u.execPath)

	return &UpdateInfo{
		CurrentVersion:  version.String(),
		LatestVersion:   release.Version(),
		ReleaseURL:      release.URL,
		UpdateAvailable: true,
	}, nil
}

// Rollback restores the backed up binary.
func (u *Updater) Rollback(_ context.Context) error {
	if !u.enabled {
		return newError(ErrCodeDisabled, u.disabledReason, nil)
	}

	if u.backup == nil || !u.backup.hasBackup() {
		return newError(ErrCodeNoBackup, "no backup available for rollback", nil)
	}

	if err := u.backup.restore(); err != nil {
		return newError(ErrCodeRollbackFailed, "failed to restore backup", err)
	}

	u.transitionTo(StateRolledBack)
	return nil
}

// Status returns the current update state.
func (u *Updater) Status() *Status {
	u.mu.RLock()
	defer u.mu.RUnlock()

	status := &Status{
		State:          u.state,
		CurrentVersion: version.String(),
		LastChecked:    u.lastChecked,
	}
	if u.latestRelease != nil {
		status.TargetVersion = u.latestRelease.Version()
	}
	if u.lastError != nil {
		status.Error = u.lastError.Error()
	}
	if u.backup != nil {
		status.BackupAvailable = u.backup.hasBackup()
		status.BackupVersion = u.backup.backupVersion()
	}
	return status
}

func (u *Updater) transitionTo(newState State, validFromStates ...State) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	if len(validFromStates) > 0 && !slices.Contains(validFromStates, u.state) {
		return false
	}

	u.logger.Debug("State transition", "from", u.state, "to", newState)
	u.state = newState
	u.lastError = nil
	return true
}

func (u *Updater) getState() State {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.state
}

func (u *Updater) setError(err error) {
	u.mu.Lock()
	u.lastError = err
	u.state = StateError
	u.mu.Unlock()
}

func (u *Updater) attemptRollback() {
	if u.backup == nil || !u.backup.hasBackup() {
		u.logger.Error("No backup available for automatic rollback")
		return
	}

	if err := u.backup.restore(); err != nil {
		u.logger.Error("Failed to restore backup", "error", err)
		return
	}

	u.transitionTo(StateRolledBack)
	u.logger.Info("Automatic rollback completed")
}
