package handler

import (
	"encoding/json"
	"net/http"
)

type healthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Components map[string]string `json:"components"`
}

// Health reports per-dependency state. Degraded responses still carry the
// component map so operators can see which dependency failed.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	components := map[string]string{
		"postgres": "ok",
		"redis":    "ok",
	}
	status := "ok"

	if err := h.db.HealthCheck(ctx); err != nil {
		components["postgres"] = "unavailable"
		status = "degraded"
	}
	if err := h.rdb.HealthCheck(ctx); err != nil {
		components["redis"] = "unavailable"
		status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	if status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(healthResponse{
		Status:     status,
		Version:    Version,
		Components: components,
	})
}

// Ready answers load-balancer probes: 200 only when both stores respond.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.db.HealthCheck(ctx); err != nil {
		http.Error(w, "database not ready", http.StatusServiceUnavailable)
		return
	}
	if err := h.rdb.HealthCheck(ctx); err != nil {
		http.Error(w, "redis not ready", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
