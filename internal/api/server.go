package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/kenneth/chart-vault/internal/middleware"
)

// NewRouter returns the full ledgerd HTTP handler: the API routes plus the
// Prometheus endpoint at metricsPath, behind recovery, logging and metrics
// middleware. An empty metricsPath leaves the endpoint out.
func NewRouter(h *Handler, metricsPath string) http.Handler {
	r := mux.NewRouter()
	h.RegisterRoutes(r)
	if metricsPath != "" && h.metrics != nil {
		r.Handle(metricsPath, h.metrics.Handler()).Methods("GET")
	}

	r.Use(middleware.RecoveryMiddleware(h.logger))
	r.Use(middleware.LoggingMiddleware(h.logger))
	if h.metrics != nil {
		r.Use(middleware.MetricsMiddleware(h.metrics))
	}
	return r
}
