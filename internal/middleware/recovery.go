package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"
	"syscall"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	apperrors "github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/errors"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/handlers/common"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/logging"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/monitoring"
)

// clientGone reports panics raised while writing to a closed connection.
func clientGone(v any) bool {
	err, ok := v.(error)
	if !ok {
		return false
	}
	return errors.Is(err, http.ErrAbortHandler) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}

// Recovery turns a handler panic into a 500 envelope. A response that has
// already started is only aborted.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if clientGone(v) {
				monitoring.HandlerPanicsTotal.WithLabelValues("client_gone").Inc()
				logging.WithReq(c, log.Fields{"panic": v}).Warn("client went away mid-response")
				c.Abort()
				return
			}
			monitoring.HandlerPanicsTotal.WithLabelValues("handler").Inc()
			logging.WithReq(c, log.Fields{"panic": v, "stack": string(debug.Stack())}).Error("panic recovered")
			if c.Writer.Written() {
				c.Abort()
				return
			}
			common.AbortWithAPIError(c, apperrors.Internal(""))
		}()
		c.Next()
	}
}
