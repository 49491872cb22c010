package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/accesskey"
	apperrors "github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/errors"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/handlers/common"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/logging"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/monitoring"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/netutil"
)

// ExtractToken reads a caller key from Authorization (Bearer or raw),
// x-api-key, or the key query parameter, in that order.
func ExtractToken(c *gin.Context) string {
	if auth := strings.TrimSpace(c.GetHeader("Authorization")); auth != "" {
		if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
			return strings.TrimSpace(auth[7:])
		}
		return auth
	}
	if v := strings.TrimSpace(c.GetHeader("x-api-key")); v != "" {
		return v
	}
	return strings.TrimSpace(c.Query("key"))
}

// KeyVerifier is what AccessKeyAuth needs from the access key manager.
type KeyVerifier interface {
	Count() int
	Verify(token string, now time.Time) bool
	Lookup(token string) (accesskey.Summary, bool)
}

// AccessKeyAuth gates the public API on proxy access keys. With no keys
// issued the route stays open unless required reports true.
func AccessKeyAuth(keys KeyVerifier, required func() bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if keys.Count() == 0 && (required == nil || !required()) {
			c.Next()
			return
		}
		token := ExtractToken(c)
		if token == "" {
			common.AbortWithAPIError(c, apperrors.Unauthorized("API key not provided"))
			return
		}
		if !keys.Verify(token, time.Now()) {
			common.AbortWithAPIError(c, apperrors.Unauthorized("Invalid API key"))
			return
		}
		if s, ok := keys.Lookup(token); ok {
			c.Set(logging.CtxAccessKeyID, s.ID)
		}
		c.Next()
	}
}

// ManagementAuth protects the admin API. enabled is consulted per request
// so a hot-reloaded management key takes effect immediately.
func ManagementAuth(enabled func() bool, validate func(string) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled() {
			monitoring.ManagementAccessTotal.WithLabelValues("disabled").Inc()
			common.AbortWithAPIError(c, apperrors.New(http.StatusForbidden, "management_disabled",
				"permission_error", "Management API is disabled: no management key configured"))
			return
		}
		token := ExtractToken(c)
		if token == "" || !validate(token) {
			monitoring.ManagementAccessTotal.WithLabelValues("denied").Inc()
			logging.WithReq(c, map[string]interface{}{
				"client_source": netutil.Source(netutil.PeerIP(c.Request)),
			}).Warn("management access denied")
			common.AbortWithAPIError(c, apperrors.Unauthorized("Invalid management key"))
			return
		}
		monitoring.ManagementAccessTotal.WithLabelValues("allowed").Inc()
		c.Next()
	}
}
