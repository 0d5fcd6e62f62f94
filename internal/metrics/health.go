package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthStatus represents the health status of the service.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
	Height    uint64    `json:"height,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

var (
	startTime = time.Now()
	version   = "dev"
)

// SetVersion sets the application version.
func SetVersion(v string) {
	version = v
}

func newStatus(s string) HealthStatus {
	return HealthStatus{
		Status:    s,
		Timestamp: time.Now(),
		Version:   version,
		Uptime:    time.Since(startTime).Round(time.Second).String(),
	}
}

func writeStatus(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

// HealthHandler returns a handler for health check endpoints.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, newStatus("healthy"))
	}
}

// ReadinessHandler returns a handler for readiness checks. heightCheck
// reports the ledger height the service can currently reach; a nil check
// is always ready.
func ReadinessHandler(heightCheck func(context.Context) (uint64, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := newStatus("ready")
		if heightCheck != nil {
			h, err := heightCheck(r.Context())
			if err != nil {
				status.Status = "not_ready"
				status.Reason = err.Error()
				writeStatus(w, http.StatusServiceUnavailable, status)
				return
			}
			status.Height = h
		}
		writeStatus(w, http.StatusOK, status)
	}
}

// LivenessHandler returns a handler for liveness checks.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, newStatus("alive"))
	}
}
