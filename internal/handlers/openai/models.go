package openai

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/errors"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/handlers/common"
)

var modelCreated = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Unix()

func (h *Handler) modelEntry() gin.H {
	return gin.H{
		"id":       h.publicModel(),
		"object":   "model",
		"created":  modelCreated,
		"owned_by": "poolproxy",
	}
}

// ListModels handles GET /v1/models. Only the stable public id is listed;
// the rotating upstream pool stays internal.
func (h *Handler) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   []gin.H{h.modelEntry()},
	})
}

// GetModel handles GET /v1/models/:model.
func (h *Handler) GetModel(c *gin.Context) {
	if c.Param("model") != h.publicModel() {
		common.AbortWithAPIError(c, apperrors.New(http.StatusNotFound, "model_not_found",
			"invalid_request_error", "The model does not exist"))
		return
	}
	c.JSON(http.StatusOK, h.modelEntry())
}
