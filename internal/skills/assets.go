package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// WriteResult is the asset writer outcome. A failed backup is the one
// fatal case: the write is refused to preserve the original.
type WriteResult struct {
	Success    bool
	BackupPath string
	Error      string
}

// AssetWriter persists file changes atomically (temp file + rename) with
// backup copies under <backupsRoot>/<yyyymmdd_hhmmss>/<relpath>. Writes
// to the same path are serialized.
type AssetWriter struct {
	logger      *zap.Logger
	backupsRoot string
	projectRoot string
	now         func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewAssetWriter(logger *zap.Logger, backupsRoot, projectRoot string) *AssetWriter {
	return &AssetWriter{
		logger:      logger,
		backupsRoot: backupsRoot,
		projectRoot: projectRoot,
		now:         time.Now,
		locks:       make(map[string]*sync.Mutex),
	}
}

// Write persists content to path, backing up any existing file first.
func (w *AssetWriter) Write(path, content string, createBackup bool) WriteResult {
	lock := w.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	backupPath := ""
	if createBackup {
		bp, err := w.backup(path)
		if err != nil {
			return WriteResult{Error: fmt.Sprintf("backup failed: %v", err)}
		}
		backupPath = bp
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return WriteResult{BackupPath: backupPath, Error: fmt.Sprintf("create parent dirs: %v", err)}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return WriteResult{BackupPath: backupPath, Error: fmt.Sprintf("create temp file: %v", err)}
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return WriteResult{BackupPath: backupPath, Error: fmt.Sprintf("write temp file: %v", err)}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return WriteResult{BackupPath: backupPath, Error: fmt.Sprintf("close temp file: %v", err)}
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return WriteResult{BackupPath: backupPath, Error: fmt.Sprintf("publish file: %v", err)}
	}

	w.logger.Debug("Asset written", zap.String("path", path), zap.String("backup", backupPath))
	return WriteResult{Success: true, BackupPath: backupPath}
}

// Delete removes path, backing it up first.
func (w *AssetWriter) Delete(path string, createBackup bool) WriteResult {
	lock := w.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return WriteResult{Error: fmt.Sprintf("delete: %s does not exist", path)}
	}

	backupPath := ""
	if createBackup {
		bp, err := w.backup(path)
		if err != nil {
			return WriteResult{Error: fmt.Sprintf("backup failed: %v", err)}
		}
		backupPath = bp
	}

	if err := os.Remove(path); err != nil {
		return WriteResult{BackupPath: backupPath, Error: fmt.Sprintf("delete file: %v", err)}
	}
	return WriteResult{Success: true, BackupPath: backupPath}
}

// backup copies an existing file under the timestamped backups tree.
// Returns "" when there is nothing to back up.
func (w *AssetWriter) backup(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	rel := w.relpath(path)
	backupPath := filepath.Join(w.backupsRoot, w.now().Format("20060102_150405"), rel)
	if err := os.MkdirAll(filepath.Dir(backupPath), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return "", err
	}
	return backupPath, nil
}

func (w *AssetWriter) relpath(path string) string {
	if w.projectRoot != "" {
		if rel, err := filepath.Rel(w.projectRoot, path); err == nil && !strings.HasPrefix(rel, "..") {
			return rel
		}
	}
	return filepath.Base(path)
}

func (w *AssetWriter) lockFor(path string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	if lock, ok := w.locks[path]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	w.locks[path] = lock
	return lock
}
