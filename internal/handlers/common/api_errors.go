package common

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/errors"
)

// AbortWithAPIError writes err in the OpenAI envelope and aborts the chain.
// A nil err becomes a generic 500.
func AbortWithAPIError(c *gin.Context, err *apperrors.APIError) {
	if err == nil {
		err = apperrors.New(http.StatusInternalServerError, "server_error", "server_error", "unknown error")
	}
	if err.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(err.RetryAfter))
	}
	c.AbortWithStatusJSON(err.Status(), err.Envelope())
}
