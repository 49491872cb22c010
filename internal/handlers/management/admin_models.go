package management

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/errors"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/handlers/common"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/models"
)

// GetModelPool returns the rotation order and the next index.
func (h *AdminAPIHandler) GetModelPool(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"models": h.Models.List(),
		"cursor": h.Models.Cursor(),
	})
}

// ReplaceModelPool installs a new pool through the shared config CAS path.
func (h *AdminAPIHandler) ReplaceModelPool(c *gin.Context) {
	var req struct {
		Models []string `json:"models"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Models == nil {
		common.AbortWithAPIError(c, apperrors.BadRequest("models array is required"))
		return
	}
	pool, err := h.Models.Replace(c.Request.Context(), req.Models)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": pool, "cursor": 0})
}

// GetCatalog returns the cached upstream model listing, marking which
// entries are in the pool. ?refresh=1 bypasses the TTL.
func (h *AdminAPIHandler) GetCatalog(c *gin.Context) {
	force := c.Query("refresh") == "1" || c.Query("refresh") == "true"
	snap, err := h.Catalog.Get(c.Request.Context(), force)
	if err != nil {
		if stderrors.Is(err, models.ErrNoCatalogCredential) {
			common.AbortWithAPIError(c, apperrors.New(http.StatusServiceUnavailable, "no_credentials",
				"server_error", err.Error()))
			return
		}
		common.AbortWithAPIError(c, apperrors.New(http.StatusBadGateway, "catalog_unavailable",
			"server_error", "Upstream model catalog could not be fetched"))
		return
	}
	inPool := make(map[string]bool)
	for _, m := range h.Models.List() {
		inPool[m] = true
	}
	items := make([]gin.H, 0, len(snap.Models))
	for _, m := range snap.Models {
		items = append(items, gin.H{
			"id":       m.ID,
			"owned_by": m.OwnedBy,
			"in_pool":  inPool[m.ID],
		})
	}
	c.JSON(http.StatusOK, gin.H{"models": items, "fetched_at": snap.FetchedAt})
}
