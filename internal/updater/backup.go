package updater

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/smazurov/gethkeeper/internal/logging"
	"github.com/smazurov/gethkeeper/internal/version"
)

const (
	backupFilename     = "gethkeeper.backup"
	backupInfoFilename = "backup.json"
)

// backupInfo is persisted next to the backup so a later process can roll back.
type backupInfo struct {
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	ExecPath  string    `json:"exec_path"`
	SHA256    string    `json:"sha256"`
}

// backupManager keeps a single copy of the executable from before the last
// update.
type backupManager struct {
	dir    string
	logger logging.Logger

	mu   sync.RWMutex
	info *backupInfo
}

func defaultBackupDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".cache", "gethkeeper", "backup"), nil
}

func newBackupManager(dir string, logger logging.Logger) (*backupManager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	m := &backupManager{dir: dir, logger: logger}
	if info, err := m.readInfo(); err == nil {
		m.info = info
		logger.Debug("Loaded backup info", "version", info.Version)
	} else if !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Ignoring backup", "error", err)
	}
	return m, nil
}

func (m *backupManager) binPath() string  { return filepath.Join(m.dir, backupFilename) }
func (m *backupManager) infoPath() string { return filepath.Join(m.dir, backupInfoFilename) }

// readInfo returns the persisted info when both it and the backup exist.
func (m *backupManager) readInfo() (*backupInfo, error) {
	data, err := os.ReadFile(m.infoPath())
	if err != nil {
		return nil, err
	}
	var info backupInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse %s: %w", backupInfoFilename, err)
	}
	if _, err := os.Stat(m.binPath()); err != nil {
		return nil, fmt.Errorf("backup file missing: %w", err)
	}
	return &info, nil
}

func (m *backupManager) createBackup(execPath string) error {
	sum, err := replaceFile(execPath, m.binPath())
	if err != nil {
		return err
	}

	info := &backupInfo{
		Version:   version.String(),
		CreatedAt: time.Now(),
		ExecPath:  execPath,
		SHA256:    sum,
	}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal backup info: %w", err)
	}
	if err := os.WriteFile(m.infoPath(), data, 0o644); err != nil {
		return fmt.Errorf("failed to write backup info: %w", err)
	}

	m.mu.Lock()
	m.info = info
	m.mu.Unlock()

	m.logger.Info("Backup created", "version", info.Version, "path", m.binPath())
	return nil
}

// restore puts the backup back at the path it was taken from. The backup
// must still match the checksum recorded when it was made.
func (m *backupManager) restore() error {
	m.mu.RLock()
	info := m.info
	m.mu.RUnlock()
	if info == nil {
		return errors.New("no backup available")
	}

	if info.SHA256 != "" {
		sum, err := fileSHA256(m.binPath())
		if err != nil {
			return err
		}
		if sum != info.SHA256 {
			return fmt.Errorf("backup checksum mismatch: got %s, want %s", sum, info.SHA256)
		}
	}
	if _, err := replaceFile(m.binPath(), info.ExecPath); err != nil {
		return err
	}

	m.logger.Info("Backup restored", "version", info.Version, "path", info.ExecPath)
	return nil
}

func (m *backupManager) hasBackup() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.info != nil
}

func (m *backupManager) backupVersion() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.info == nil {
		return ""
	}
	return m.info.Version
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// replaceFile copies src to a temporary file beside dst and renames it into
// place, so a running executable at dst is never truncated. It returns the
// hex SHA-256 of the copied bytes.
func replaceFile(src, dst string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file for %s: %w", dst, err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), in); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := tmp.Chmod(0o755); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("failed to replace %s: %w", dst, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
