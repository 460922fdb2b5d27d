package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLiteBootstrapsTables(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "nested", "debugbridge.db")
	db, err := OpenSQLite(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var name string
	require.NoError(t, db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='runs';").Scan(&name))
	assert.Equal(t, "runs", name)

	// Bootstrapping twice is harmless.
	require.NoError(t, BootstrapSQLite(context.Background(), db))
}

func TestOpenSQLiteEmptyPath(t *testing.T) {
	_, err := OpenSQLite(context.Background(), "")
	assert.Error(t, err)
}

func TestRequireLocalFS(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "a", "b", "state.db")

	tests := []struct {
		name    string
		fsType  string
		wantErr bool
	}{
		{"local", "ext4", false},
		{"hex magic", "0xef53", false},
		{"nfs", "nfs", true},
		{"smb upper case", " SMB2 ", true},
		{"webdav", "webdav", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var inspected string
			err := requireLocalFS(missing, func(p string) (string, error) {
				inspected = p
				return tt.fsType, nil
			})
			assert.Equal(t, dir, inspected, "the nearest existing parent is inspected")
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNetworkFilesystem)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRequireLocalFSDetectorError(t *testing.T) {
	err := requireLocalFS(t.TempDir(), func(string) (string, error) {
		return "", errors.New("statfs failed")
	})
	assert.ErrorContains(t, err, "statfs failed")
}

func TestRequireLocalFSOnTempDir(t *testing.T) {
	assert.NoError(t, RequireLocalFS(filepath.Join(t.TempDir(), "x.db")))
}
