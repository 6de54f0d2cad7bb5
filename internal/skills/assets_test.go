package skills

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestWriter(t *testing.T) (*AssetWriter, string, string) {
	t.Helper()
	project := t.TempDir()
	backups := t.TempDir()
	w := NewAssetWriter(zaptest.NewLogger(t), backups, project)
	w.now = func() time.Time { return time.Date(2026, 8, 24, 10, 30, 45, 0, time.UTC) }
	return w, project, backups
}

func TestWriteCreatesFileAndParents(t *testing.T) {
	w, project, _ := newTestWriter(t)
	target := filepath.Join(project, "deep", "nested", "file.go")

	res := w.Write(target, "package nested\n", true)
	require.True(t, res.Success, res.Error)
	assert.Empty(t, res.BackupPath, "no backup for a brand new file")

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "package nested\n", string(data))
}

func TestWriteBacksUpExistingFile(t *testing.T) {
	w, project, backups := newTestWriter(t)
	target := filepath.Join(project, "src", "main.go")
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0o755))
	require.NoError(t, os.WriteFile(target, []byte("old content"), 0o644))

	res := w.Write(target, "new content", true)
	require.True(t, res.Success, res.Error)

	wantBackup := filepath.Join(backups, "20260824_103045", "src", "main.go")
	assert.Equal(t, wantBackup, res.BackupPath)

	backedUp, err := os.ReadFile(res.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, "old content", string(backedUp))

	current, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "new content", string(current))
}

func TestWriteWithoutBackup(t *testing.T) {
	w, project, _ := newTestWriter(t)
	target := filepath.Join(project, "f.txt")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o644))

	res := w.Write(target, "new", false)
	require.True(t, res.Success, res.Error)
	assert.Empty(t, res.BackupPath)
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	w, project, _ := newTestWriter(t)
	res := w.Write(filepath.Join(project, "f.txt"), "x", true)
	require.True(t, res.Success)

	entries, err := os.ReadDir(project)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".tmp"), "leftover temp file %s", e.Name())
	}
}

func TestDeleteBacksUpThenRemoves(t *testing.T) {
	w, project, _ := newTestWriter(t)
	target := filepath.Join(project, "dead.go")
	require.NoError(t, os.WriteFile(target, []byte("bye"), 0o644))

	res := w.Delete(target, true)
	require.True(t, res.Success, res.Error)
	require.NotEmpty(t, res.BackupPath)

	_, err := os.Stat(target)
	assert.True(t, os.IsNotExist(err))

	backedUp, err := os.ReadFile(res.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, "bye", string(backedUp))
}

func TestDeleteMissingFileFails(t *testing.T) {
	w, project, _ := newTestWriter(t)
	res := w.Delete(filepath.Join(project, "ghost.go"), true)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "does not exist")
}

func TestBackupOutsideProjectUsesBasename(t *testing.T) {
	w, _, backups := newTestWriter(t)
	outside := filepath.Join(t.TempDir(), "elsewhere.txt")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))

	res := w.Write(outside, "y", true)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, filepath.Join(backups, "20260824_103045", "elsewhere.txt"), res.BackupPath)
}
