package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/logging"
)

// RequestLogger emits one access line per request while enabled reports
// true. Routes in quiet log at debug. Pool selections recorded on the
// context by the handlers ride along via WithReq.
func RequestLogger(enabled func() bool, quiet ...string) gin.HandlerFunc {
	quietRoutes := make(map[string]bool, len(quiet))
	for _, p := range quiet {
		quietRoutes[p] = true
	}
	return func(c *gin.Context) {
		if enabled != nil && !enabled() {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := log.InfoLevel
		switch {
		case status >= 500:
			level = log.WarnLevel
		case quietRoutes[c.FullPath()]:
			level = log.DebugLevel
		}
		logging.WithReq(c, log.Fields{
			"status":     status,
			"latency_ms": logging.DurationMS(time.Since(start)),
			"user_agent": c.Request.UserAgent(),
			"outcome":    logging.Outcome(status, len(c.Errors) > 0),
		}).Log(level, "http_request")
	}
}
