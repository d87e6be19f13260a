package updater

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func newTestUpdater(t *testing.T) (*Updater, string) {
	t.Helper()
	dir := t.TempDir()
	exe := filepath.Join(dir, "gethkeeper")
	if err := os.WriteFile(exe, []byte("v1"), 0o755); err != nil {
		t.Fatal(err)
	}

	u, err := New(Options{ExecPath: exe, BackupDir: filepath.Join(dir, "backup")})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !u.Enabled() {
		t.Fatalf("updater disabled: %s", u.DisabledReason())
	}
	return u, exe
}

func TestUpdaterDisabledWithoutWritableDir(t *testing.T) {
	u, err := New(Options{ExecPath: filepath.Join(t.TempDir(), "missing", "gethkeeper")})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if u.Enabled() || u.DisabledReason() == "" {
		t.Fatalf("Enabled() = %v, reason %q", u.Enabled(), u.DisabledReason())
	}

	ctx := context.Background()
	if _, err := u.Check(ctx); CodeOf(err) != ErrCodeDisabled {
		t.Errorf("Check() error = %v, want %s", err, ErrCodeDisabled)
	}
	if _, err := u.Apply(ctx); CodeOf(err) != ErrCodeDisabled {
		t.Errorf("Apply() error = %v, want %s", err, ErrCodeDisabled)
	}
	if err := u.Rollback(ctx); CodeOf(err) != ErrCodeDisabled {
		t.Errorf("Rollback() error = %v, want %s", err, ErrCodeDisabled)
	}
}

func TestUpdaterRollbackWithoutBackup(t *testing.T) {
	u, _ := newTestUpdater(t)

	if err := u.Rollback(context.Background()); CodeOf(err) != ErrCodeNoBackup {
		t.Errorf("Rollback() error = %v, want %s", err, ErrCodeNoBackup)
	}
	if status := u.Status(); status.State != StateIdle || status.BackupAvailable {
		t.Errorf("Status() = %+v", status)
	}
}

func TestUpdaterRollbackRestoresBinary(t *testing.T) {
	u, exe := newTestUpdater(t)

	if err := u.backup.createBackup(exe); err != nil {
		t.Fatalf("createBackup() error = %v", err)
	}
	if err := os.WriteFile(exe, []byte("v2"), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := u.Rollback(context.Background()); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	data, err := os.ReadFile(exe)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "v1" {
		t.Errorf("binary = %q, want v1", data)
	}

	status := u.Status()
	if status.State != StateRolledBack || !status.BackupAvailable {
		t.Errorf("Status() = %+v", status)
	}
}

func TestBackupInfoSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "gethkeeper")
	if err := os.WriteFile(exe, []byte("v1"), 0o755); err != nil {
		t.Fatal(err)
	}
	backupDir := filepath.Join(dir, "backup")

	first, err := New(Options{ExecPath: exe, BackupDir: backupDir})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := first.backup.createBackup(exe); err != nil {
		t.Fatalf("createBackup() error = %v", err)
	}

	second, err := New(Options{ExecPath: exe, BackupDir: backupDir})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !second.Status().BackupAvailable {
		t.Error("backup not loaded from disk")
	}

	if err := os.Remove(filepath.Join(backupDir, backupFilename)); err != nil {
		t.Fatal(err)
	}
	third, err := New(Options{ExecPath: exe, BackupDir: backupDir})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if third.Status().BackupAvailable {
		t.Error("backup info loaded without the backup file")
	}
}

func TestErrorFormat(t *testing.T) {
	cause := errors.New("boom")
	err := newError(ErrCodeApplyFailed, "failed to apply update", cause)

	if got, want := err.Error(), "APPLY_FAILED: failed to apply update: boom"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
	if got, want := newError(ErrCodeNoBackup, "none", nil).Error(), "NO_BACKUP: none"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(fmt.Errorf("wrapped: %w", err), &Error{Code: ErrCodeApplyFailed}) {
		t.Error("errors.Is should match by code")
	}
	if errors.Is(err, &Error{Code: ErrCodeNoBackup}) {
		t.Error("errors.Is matched a different code")
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Error("CodeOf(plain error) should be empty")
	}
}

func TestRollbackRejectsTamperedBackup(t *testing.T) {
	u, exe := newTestUpdater(t)

	if err := u.backup.createBackup(exe); err != nil {
		t.Fatalf("createBackup() error = %v", err)
	}
	if err := os.WriteFile(u.backup.binPath(), []byte("evil"), 0o755); err != nil {
		t.Fatal(err)
	}

	err := u.Rollback(context.Background())
	if CodeOf(err) != ErrCodeRollbackFailed {
		t.Fatalf("Rollback() error = %v, want %s", err, ErrCodeRollbackFailed)
	}
	if data, _ := os.ReadFile(exe); string(data) != "v1" {
		t.Errorf("binary = %q, want it left untouched", data)
	}
}
