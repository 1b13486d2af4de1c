package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspaceLayout(t *testing.T) {
	ws := Workspace("/srv/agent")
	assert.Equal(t, filepath.Join("/srv/agent", ".herald"), ws.StateDir())
	assert.Equal(t, filepath.Join("/srv/agent", ".herald", "herald.db"), ws.DBPath())
	assert.Equal(t, filepath.Join("/srv/agent", "herald.yml"), ws.ConfigPath())

	var cwd Workspace
	assert.Equal(t, ".", cwd.Root())
	assert.Equal(t, "herald.yml", cwd.ConfigPath())
}

func TestOpenCreatesStateDirAndEnablesForeignKeys(t *testing.T) {
	dir := t.TempDir()
	conn, err := Open(Config{Workspace: dir})
	require.NoError(t, err)
	defer conn.Close()

	_, err = os.Stat(Workspace(dir).DBPath())
	require.NoError(t, err)

	var fk, busy int
	require.NoError(t, conn.QueryRow(`PRAGMA foreign_keys`).Scan(&fk))
	require.NoError(t, conn.QueryRow(`PRAGMA busy_timeout`).Scan(&busy))
	assert.Equal(t, 1, fk)
	assert.Equal(t, 5000, busy)
}

func TestOpenFailsWhenStateDirIsAFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".herald"), []byte("x"), 0o644))
	_, err := Open(Config{Workspace: dir})
	require.Error(t, err)
}
