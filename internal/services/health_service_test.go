package services

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricereturns/internal/config"
)

func TestHealthService_HealthAndLiveness(t *testing.T) {
	hub := new(MockWebSocketHub)
	hub.On("ClientCount").Return(3)

	hs := NewHealthService("1.2.3", "2024-01-01T00:00:00Z", nil, hub, nil, discardLogger())

	health := hs.HealthCheck(context.Background())
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "1.2.3", health.Version)

	live := hs.LivenessCheck(context.Background())
	assert.Equal(t, "alive", live.Status)
	assert.Equal(t, 3, live.Runtime["websocket_clients"])
	assert.Contains(t, live.Runtime, "goroutines")

	version := hs.Version()
	assert.Equal(t, "1.2.3", version["version"])
	assert.Equal(t, "2024-01-01T00:00:00Z", version["build_time"])
}

func TestHealthService_Readiness(t *testing.T) {
	paths, err := config.NewPaths(config.PathsConfig{BaseDir: t.TempDir()})
	require.NoError(t, err)

	t.Run("missing returns service and data directory", func(t *testing.T) {
		hs := NewHealthService("dev", "", paths, nil, nil, discardLogger())
		status := hs.ReadinessCheck(context.Background())
		assert.Equal(t, "not_ready", status.Status)
		assert.Equal(t, "not_ready", status.Services["returns"].(ServiceHealth).Status)
		assert.Equal(t, "not_ready", status.Services["data"].(ServiceHealth).Status)
	})

	t.Run("ready", func(t *testing.T) {
		require.NoError(t, paths.EnsureDirectories())
		svc := newService(t, newStubSource())
		hs := NewHealthService("dev", "", paths, nil, svc, discardLogger())

		status := hs.ReadinessCheck(context.Background())
		assert.Equal(t, "ready", status.Status)
		assert.Equal(t, "idle", status.Services["returns"].(ServiceHealth).Message)
	})

	t.Run("closed service", func(t *testing.T) {
		svc := newService(t, newStubSource())
		require.NoError(t, svc.Close(context.Background()))
		hs := NewHealthService("dev", "", paths, nil, svc, discardLogger())
		assert.Equal(t, "not_ready", hs.ReadinessCheck(context.Background()).Status)
	})

	t.Run("data path is a file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, writeFile(file))
		hs := NewHealthService("dev", "", &config.Paths{DataDir: file}, nil, newService(t, newStubSource()), discardLogger())
		assert.Equal(t, "not_ready", hs.ReadinessCheck(context.Background()).Status)
	})
}
