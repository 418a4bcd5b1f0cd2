package handler

import (
	"net/http"
	"runtime"
	"time"

	"github.com/Robinemad1/EEETrading/pkg/response"
)

// SuppressionReporter reports items skipped by scheduled passes.
type SuppressionReporter interface {
	SuppressedItems() int
}

// AdminHandler handles operator statistics requests.
type AdminHandler struct {
	inventory  InventoryService
	sync       SyncController
	observers  ObserverStats
	suppressed SuppressionReporter
	dbType     string
	cacheType  string
	startTime  time.Time
}

// NewAdminHandler creates a new admin handler. observers and suppressed
// may be nil.
func NewAdminHandler(
	inventory InventoryService,
	sync SyncController,
	observers ObserverStats,
	suppressed SuppressionReporter,
	dbType, cacheType string,
) *AdminHandler {
	return &AdminHandler{
		inventory:  inventory,
		sync:       sync,
		observers:  observers,
		suppressed: suppressed,
		dbType:     dbType,
		cacheType:  cacheType,
		startTime:  time.Now(),
	}
}

// GetStats handles GET /api/v1/admin/stats
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]any)

	// System info
	stats["uptime_seconds"] = int64(time.Since(h.startTime).Seconds())
	stats["uptime_human"] = time.Since(h.startTime).Round(time.Second).String()
	stats["server_time"] = time.Now().UTC().Format(time.RFC3339)
	stats["db_type"] = h.dbType
	stats["cache_type"] = h.cacheType

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats["memory"] = map[string]any{
		"alloc_mb":      float64(memStats.Alloc) / 1024 / 1024,
		"sys_mb":        float64(memStats.Sys) / 1024 / 1024,
		"heap_inuse_mb": float64(memStats.HeapInuse) / 1024 / 1024,
		"num_gc":        memStats.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}

	if syncStats, err := h.inventory.SyncStats(r.Context()); err == nil {
		stats["store"] = map[string]any{
			"status": "connected",
			"sync":   syncStats,
		}
	} else {
		stats["store"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	scheduler := map[string]any{"status": h.sync.Status()}
	if h.suppressed != nil {
		scheduler["suppressed_items"] = h.suppressed.SuppressedItems()
	}
	stats["scheduler"] = scheduler

	if h.observers != nil {
		stats["observers"] = h.observers.Stats()
	} else {
		stats["observers"] = map[string]any{"status": "not_configured"}
	}

	stats["runtime"] = map[string]any{
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"cpus":       runtime.NumCPU(),
	}

	response.OK(w, stats)
}
