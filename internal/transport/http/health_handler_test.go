package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricereturns/internal/config"
	"pricereturns/internal/returns"
	"pricereturns/internal/services"
)

type emptySource struct{}

func (emptySource) Fetch(context.Context, []string) ([]returns.PricePoint, error) { return nil, nil }

type stubHub struct{}

func (stubHub) ClientCount() int { return 2 }

func (stubHub) GetHubMetrics() map[string]interface{} {
	return map[string]interface{}{"active_clients": 2}
}

func healthRouter(h *HealthHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/health", h.HealthCheck)
	r.Get("/api/health/ready", h.ReadinessCheck)
	r.Get("/api/health/live", h.LivenessCheck)
	r.Get("/api/version", h.Version)
	return r
}

func TestHealthHandler(t *testing.T) {
	hs := services.NewHealthService("v1.0.0-test", "", nil, stubHub{}, nil, discardLogger())
	router := healthRouter(NewHealthHandler(hs, discardLogger()))

	rec := do(t, router, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "v1.0.0-test", body["version"])

	rec = do(t, router, http.MethodGet, "/api/health/live", "")
	require.Equal(t, http.StatusOK, rec.Code)
	runtime := decode(t, rec)["runtime"].(map[string]interface{})
	assert.Equal(t, float64(2), runtime["websocket_clients"])

	rec = do(t, router, http.MethodGet, "/api/version", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "v1.0.0-test", decode(t, rec)["version"])

	rec = do(t, router, http.MethodGet, "/api/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "no returns service")
	assert.Equal(t, "not_ready", decode(t, rec)["status"])
}

func TestHealthHandler_Ready(t *testing.T) {
	paths, err := config.NewPaths(config.PathsConfig{BaseDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, paths.EnsureDirectories())

	svc, err := services.NewReturnsService(config.PipelineConfig{ToleranceDays: 28}, emptySource{}, discardLogger())
	require.NoError(t, err)

	hs := services.NewHealthService("dev", "", paths, stubHub{}, svc, discardLogger())
	rec := do(t, healthRouter(NewHealthHandler(hs, discardLogger())), http.MethodGet, "/api/health/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decode(t, rec)["status"])
}

func TestMetricsHandler(t *testing.T) {
	prom := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# HELP up\n"))
	})

	r := chi.NewRouter()
	r.Mount("/api/metrics", NewMetricsHandler(prom, stubHub{}).Routes())

	rec := do(t, r, http.MethodGet, "/api/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["prometheus"])
	assert.Equal(t, float64(2), body["websocket"].(map[string]interface{})["active_clients"])

	rec = do(t, r, http.MethodGet, "/api/metrics/prometheus", "")
	assert.Equal(t, "# HELP up\n", rec.Body.String())

	bare := chi.NewRouter()
	bare.Mount("/api/metrics", NewMetricsHandler(nil, nil).Routes())
	rec = httptest.NewRecorder()
	bare.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/metrics/prometheus", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
