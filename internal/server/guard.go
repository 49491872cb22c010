package server

import (
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	apperrors "github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/errors"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/handlers/common"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/logging"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/monitoring"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/netutil"
)

// managementIPGuard rejects admin requests from peers outside the allow
// list. An empty list admits every peer. The socket address is used, not
// forwarding headers.
func managementIPGuard(allowed func() []*net.IPNet) gin.HandlerFunc {
	return func(c *gin.Context) {
		nets := allowed()
		if len(nets) == 0 {
			c.Next()
			return
		}
		ip := net.ParseIP(c.RemoteIP())
		if !netutil.ContainsIP(nets, ip) {
			monitoring.ManagementAccessTotal.WithLabelValues("ip_denied").Inc()
			logging.WithReq(c, log.Fields{"client_source": netutil.Source(ip)}).Warn("management access from disallowed address")
			common.AbortWithAPIError(c, apperrors.New(http.StatusForbidden, "address_not_allowed",
				"permission_error", "Management API is not reachable from this address"))
			return
		}
		c.Next()
	}
}
