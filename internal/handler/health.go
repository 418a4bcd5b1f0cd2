package handler

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/Robinemad1/EEETrading/pkg/response"
)

// Pinger checks a backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves health and status endpoints.
type Handler struct {
	service   string
	version   string
	db        Pinger
	startTime time.Time
}

// New creates a new handler.
func New(service, version string, db Pinger) *Handler {
	return &Handler{
		service:   service,
		version:   version,
		db:        db,
		startTime: time.Now(),
	}
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// Health handles GET /api/v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	response.OK(w, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	})
}

// ReadyResponse represents the readiness check response.
type ReadyResponse struct {
	Ready     bool      `json:"ready"`
	Timestamp time.Time `json:"timestamp"`
	Checks    []Check   `json:"checks"`
}

// Check represents an individual readiness check.
type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Ready handles GET /api/v1/ready
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := []Check{{Name: "api", Status: "ok"}, h.checkDatabase(r.Context())}

	allReady := true
	for _, check := range checks {
		if check.Status != "ok" {
			allReady = false
			break
		}
	}

	status := http.StatusOK
	if !allReady {
		status = http.StatusServiceUnavailable
	}

	response.JSON(w, status, ReadyResponse{
		Ready:     allReady,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	})
}

func (h *Handler) checkDatabase(ctx context.Context) Check {
	check := Check{Name: "database", Status: "ok"}
	if h.db == nil {
		return check
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.db.Ping(ctx); err != nil {
		check.Status = "error"
		check.Error = err.Error()
	}
	return check
}

// StatusChecks represents the checks in status response
type StatusChecks struct {
	Database string  `json:"database"`
	MemoryMB float64 `json:"memory_mb"`
}

// StatusResponse represents the unified status response for uptime monitors.
type StatusResponse struct {
	Service       string       `json:"service"`
	Status        string       `json:"status"`
	Timestamp     string       `json:"timestamp"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	PingMS        int64        `json:"ping_ms"`
	Checks        StatusChecks `json:"checks"`
}

// Status handles GET /api/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	requestStart := time.Now()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	memoryMB := float64(memStats.Alloc) / 1024 / 1024

	db := h.checkDatabase(r.Context())
	status := "ok"
	if db.Status != "ok" {
		status = "degraded"
	}

	resp := StatusResponse{
		Service:       h.service,
		Status:        status,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		PingMS:        time.Since(requestStart).Milliseconds(),
		Checks: StatusChecks{
			Database: db.Status,
			MemoryMB: float64(int(memoryMB*100)) / 100,
		},
	}

	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	response.OK(w, resp)
}
