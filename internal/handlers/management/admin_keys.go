package management

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/errors"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/handlers/common"
)

// ListAccessKeys returns issued proxy keys, masked.
func (h *AdminAPIHandler) ListAccessKeys(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"keys": h.AccessKeys.List(),
		"max":  h.AccessKeys.Max(),
	})
}

// CreateAccessKey issues a key. The full token appears only in this
// response.
func (h *AdminAPIHandler) CreateAccessKey(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			common.AbortWithAPIError(c, apperrors.BadRequest("invalid JSON body"))
			return
		}
	}
	k, err := h.AccessKeys.Create(req.Name, time.Now())
	if err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         k.ID,
		"key":        k.Key,
		"name":       k.Name,
		"created_at": k.CreatedAt,
	})
}

// DeleteAccessKey revokes a key.
func (h *AdminAPIHandler) DeleteAccessKey(c *gin.Context) {
	if err := h.AccessKeys.Delete(c.Param("id")); err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("id")})
}

// TestAccessKey reports whether a token is valid without counting a use.
func (h *AdminAPIHandler) TestAccessKey(c *gin.Context) {
	var req struct {
		Key string `json:"key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.AbortWithAPIError(c, apperrors.BadRequest("key is required"))
		return
	}
	s, ok := h.AccessKeys.Lookup(req.Key)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"valid": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "key": s})
}
