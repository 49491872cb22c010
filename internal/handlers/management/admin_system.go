package management

import (
	"net/http"
	goruntime "runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/version"
)

// GetStats summarises pools, persistence and background tasks.
func (h *AdminAPIHandler) GetStats(c *gin.Context) {
	now := time.Now()
	snap := h.Config.Snapshot()

	storageStatus := gin.H{"backend": h.BackendKind, "healthy": true}
	if h.Backend != nil {
		if err := h.Backend.Health(c.Request.Context()); err != nil {
			storageStatus["healthy"] = false
			storageStatus["error"] = err.Error()
		}
	}

	out := gin.H{
		"credentials": h.Credentials.Stats(now),
		"models": gin.H{
			"pool":   h.Models.List(),
			"cursor": h.Models.Cursor(),
		},
		"access_keys": gin.H{
			"count": h.AccessKeys.Count(),
			"max":   h.AccessKeys.Max(),
		},
		"requests": gin.H{
			"persisted": snap.TotalRequests,
			"pending":   h.Config.PendingRequests(),
			"total":     snap.TotalRequests + h.Config.PendingRequests(),
		},
		"shared_config": gin.H{
			"schema_version":    snap.SchemaVersion,
			"version":           h.Config.Version(),
			"flush_interval_ms": snap.FlushIntervalMS,
			"updated_at":        snap.UpdatedAt,
		},
		"storage":    storageStatus,
		"version":    version.Version,
		"go_version": goruntime.Version(),
		"uptime_sec": int64(time.Since(h.startTime).Seconds()),
	}
	if h.Flusher != nil {
		out["last_flush"] = h.Flusher.LastResult()
	}
	if h.Tasks != nil {
		out["tasks"] = h.Tasks.Snapshot()
	}
	c.JSON(http.StatusOK, out)
}

// Flush runs a write-back cycle now.
func (h *AdminAPIHandler) Flush(c *gin.Context) {
	res, err := h.Flusher.FlushNow(c.Request.Context())
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
