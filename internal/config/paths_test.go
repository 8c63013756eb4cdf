package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPaths(t *testing.T) {
	base := t.TempDir()

	paths, err := NewPaths(PathsConfig{BaseDir: base, DataDir: "store", LogsDir: "/var/log/returns"})
	require.NoError(t, err)

	assert.Equal(t, base, paths.BaseDir)
	assert.Equal(t, filepath.Join(base, "store"), paths.DataDir)
	assert.Equal(t, filepath.Join(base, "store", "reports"), paths.ReportsDir)
	assert.Equal(t, filepath.Join(base, "store", "cache"), paths.CacheDir)
	assert.Equal(t, "/var/log/returns", paths.LogsDir)
}

func TestNewPaths_Defaults(t *testing.T) {
	paths, err := NewPaths(PathsConfig{})
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(paths.BaseDir))
	assert.Equal(t, filepath.Join(paths.BaseDir, DefaultDataDir), paths.DataDir)
	assert.Equal(t, filepath.Join(paths.BaseDir, DefaultLogsDir), paths.LogsDir)
}

func TestPaths_Resolve(t *testing.T) {
	base := t.TempDir()
	paths, err := NewPaths(PathsConfig{BaseDir: base})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(base, "data/prices.csv"), paths.Resolve("data/prices.csv"))
	assert.Equal(t, "/abs/prices.csv", paths.Resolve("/abs/prices.csv"))
	assert.Equal(t, "", paths.Resolve(""))
	assert.Equal(t, filepath.Join(paths.ReportsDir, "returns.csv"), paths.GetReportPath("returns.csv"))
}

func TestPaths_EnsureDirectories(t *testing.T) {
	paths, err := NewPaths(PathsConfig{BaseDir: t.TempDir()})
	require.NoError(t, err)

	require.NoError(t, paths.EnsureDirectories())
	for _, dir := range []string{paths.DataDir, paths.ReportsDir, paths.CacheDir, paths.LogsDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir())
	}
	assert.True(t, FileExists(paths.CacheDir))
	assert.False(t, FileExists(filepath.Join(paths.CacheDir, "missing")))
}
