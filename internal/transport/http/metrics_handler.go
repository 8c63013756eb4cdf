package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// HubStats reports WebSocket hub counters
type HubStats interface {
	GetHubMetrics() map[string]interface{}
}

// MetricsHandler exposes the Prometheus registry and hub counters
type MetricsHandler struct {
	prometheus http.Handler
	hub        HubStats
}

// NewMetricsHandler creates a new metrics handler. Either argument may be nil.
func NewMetricsHandler(prometheus http.Handler, hub HubStats) *MetricsHandler {
	return &MetricsHandler{prometheus: prometheus, hub: hub}
}

// Routes sets up the metrics routes
func (h *MetricsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.GetMetrics)
	if h.prometheus != nil {
		r.Handle("/prometheus", h.prometheus)
	}
	return r
}

// GetMetrics returns the WebSocket hub counters
func (h *MetricsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":     "ok",
		"prometheus": h.prometheus != nil,
	}
	if h.hub != nil {
		response["websocket"] = h.hub.GetHubMetrics()
	}
	render.JSON(w, r, response)
}
