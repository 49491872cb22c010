package logging

import (
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Keys stored on the gin context during a request. WithReq copies any that
// are present onto the entry.
const (
	CtxRequestID     = "request_id"
	CtxAccessKeyID   = "access_key_id"
	CtxCredentialID  = "credential_id"
	CtxUpstreamModel = "upstream_model"
	CtxAttempts      = "model_attempts"
)

var requestKeys = []string{CtxRequestID, CtxAccessKeyID, CtxCredentialID, CtxUpstreamModel, CtxAttempts}

// WithReq returns an entry carrying the route, client address and whatever
// pool selection the request has made so far. extras win on conflicts.
func WithReq(c *gin.Context, extras log.Fields) *log.Entry {
	fields := make(log.Fields, len(extras)+8)
	if c != nil && c.Request != nil {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		fields["method"] = c.Request.Method
		fields["path"] = route
		fields["ip"] = c.ClientIP()
		for _, k := range requestKeys {
			if v, ok := c.Get(k); ok {
				fields[k] = v
			}
		}
	}
	for k, v := range extras {
		fields[k] = v
	}
	return log.WithFields(fields)
}

func Component(name string) *log.Entry {
	return log.WithField("component", name)
}

// MaskSecret renders a credential or access key as abcd…wxyz.
func MaskSecret(secret string) string {
	if len(secret) <= 10 {
		return "****"
	}
	return secret[:4] + "…" + secret[len(secret)-4:]
}

func DurationMS(d time.Duration) int64 { return d.Milliseconds() }
