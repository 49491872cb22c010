package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/logging"
)

const (
	requestIDHeader = "X-Request-ID"
	maxRequestIDLen = 128
)

// RequestID echoes a caller-supplied X-Request-ID of sane length, otherwise
// mints a uuid, and records it for WithReq.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" || len(rid) > maxRequestIDLen {
			rid = uuid.NewString()
		}
		c.Set(logging.CtxRequestID, rid)
		c.Header(requestIDHeader, rid)
		c.Next()
	}
}
