package management

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/errors"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/handlers/common"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/state"
)

// GetFlushInterval returns the persisted write-back period.
func (h *AdminAPIHandler) GetFlushInterval(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"flush_interval_ms": h.Config.Snapshot().FlushIntervalMS,
		"min_ms":            state.MinFlushIntervalMS,
	})
}

// PatchFlushInterval persists a new period; the flusher re-arms on change.
func (h *AdminAPIHandler) PatchFlushInterval(c *gin.Context) {
	var req struct {
		FlushIntervalMS *int64 `json:"flush_interval_ms"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.FlushIntervalMS == nil {
		common.AbortWithAPIError(c, apperrors.BadRequest("flush_interval_ms is required"))
		return
	}
	if *req.FlushIntervalMS < state.MinFlushIntervalMS {
		common.AbortWithAPIError(c, apperrors.BadRequest("flush_interval_ms is below the minimum"))
		return
	}
	cfg, err := h.Config.SetFlushInterval(c.Request.Context(), *req.FlushIntervalMS)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"flush_interval_ms": cfg.FlushIntervalMS})
}
