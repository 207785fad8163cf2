package handlers

import (
	"context"
	"net/http"
	"time"
)

const version = "0.1.0"

// Check is the outcome of one dependency check.
type Check struct {
	Status  string `json:"status"` // "pass" or "fail"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string           `json:"status"` // "healthy" or "degraded"
	Version   string           `json:"version"`
	Uptime    string           `json:"uptime"`
	Checks    map[string]Check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

func timedCheck(ctx context.Context, ping func(context.Context) error) Check {
	start := time.Now()
	if err := ping(ctx); err != nil {
		return Check{Status: "fail", Message: "connection failed"}
	}
	return Check{Status: "pass", Latency: time.Since(start).String()}
}

// Health reports 200 while the store answers and 503 otherwise.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Version:   version,
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Checks:    map[string]Check{"store": timedCheck(ctx, h.store.Ping)},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	code := http.StatusOK
	for name, c := range resp.Checks {
		if c.Status != "pass" {
			h.logger.Warn().Str("check", name).Msg("health check failed")
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	h.JSON(w, code, resp)
}

// Root identifies the service.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, map[string]string{
		"name":    "batepapo",
		"version": version,
	})
}
