package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	safeDir := filepath.Join(tmpDir, "safe")
	otherDir := filepath.Join(tmpDir, "other")
	require.NoError(t, os.MkdirAll(safeDir, 0o755))
	require.NoError(t, os.MkdirAll(otherDir, 0o755))
	require.NoError(t, os.Symlink(otherDir, filepath.Join(safeDir, "link")))

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"directory itself", safeDir, false},
		{"new file", filepath.Join(safeDir, "backup.db"), false},
		{"new nested dir", filepath.Join(safeDir, "a", "b"), false},
		{"dot dot", filepath.Join(safeDir, "..", "backup.db"), true},
		{"sibling", filepath.Join(otherDir, "backup.db"), true},
		{"through symlink", filepath.Join(safeDir, "link", "backup.db"), true},
		{"through symlink to new dir", filepath.Join(safeDir, "link", "new", "backup.db"), true},
		{"relative escape", "../../../etc/passwd", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, safeDir)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePathWithinDirectory_MissingDir(t *testing.T) {
	err := ValidatePathWithinDirectory("x", filepath.Join(t.TempDir(), "absent"))
	assert.ErrorContains(t, err, "failed to resolve directory")
}

func TestValidatePathWithinAllowedDirs(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()

	assert.NoError(t, ValidatePathWithinAllowedDirs(filepath.Join(b, "out"), []string{a, b}))
	assert.ErrorContains(t, ValidatePathWithinAllowedDirs(filepath.Join(b, "out"), []string{a}), "allowed directories")
	assert.ErrorContains(t, ValidatePathWithinAllowedDirs(a, nil), "no allowed directories")
}

func TestValidateBackupDir(t *testing.T) {
	dbDir := t.TempDir()
	dbPath := filepath.Join(dbDir, "trackscan.db")

	assert.NoError(t, ValidateBackupDir(filepath.Join(os.TempDir(), "trackscan-backups"), ""))
	assert.NoError(t, ValidateBackupDir(filepath.Join(dbDir, "backups"), dbPath))
	assert.NoError(t, ValidateBackupDir("backups", ""))
	assert.Error(t, ValidateBackupDir("/proc/trackscan", dbPath))
}
