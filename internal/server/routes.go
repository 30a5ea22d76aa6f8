package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes mounts the health check, the test page, the metrics endpoint
// and one WebSocket route per endpoint path.
func SetupRoutes(h *Handlers, endpoints map[string]Endpoint) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", HealthHandler)
	r.Get("/test", TestPageHandler)
	r.Handle("/metrics", promhttp.Handler())

	// Any method reaches the handler so that non-GET requests get a 405
	// with an explanation.
	for path, ep := range endpoints {
		r.HandleFunc(path, h.WebSocket(ep))
	}
	return r
}
