package management

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/credential"
	apperrors "github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/errors"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/handlers/common"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/logging"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/upstream"
)

// ListCredentials returns every credential with its secret masked.
func (h *AdminAPIHandler) ListCredentials(c *gin.Context) {
	now := time.Now()
	c.JSON(http.StatusOK, gin.H{
		"credentials": h.Credentials.List(now),
		"stats":       h.Credentials.Stats(now),
	})
}

type addCredentialsRequest struct {
	Secret  string   `json:"secret"`
	Secrets []string `json:"secrets"`
}

// AddCredentials accepts one secret or a batch. Per-secret failures are
// reported without aborting the batch.
func (h *AdminAPIHandler) AddCredentials(c *gin.Context) {
	var req addCredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.AbortWithAPIError(c, apperrors.BadRequest("invalid JSON body"))
		return
	}
	secrets := req.Secrets
	if strings.TrimSpace(req.Secret) != "" {
		secrets = append([]string{req.Secret}, secrets...)
	}
	if len(secrets) == 0 {
		common.AbortWithAPIError(c, apperrors.BadRequest("secret is required"))
		return
	}

	now := time.Now()
	added := make([]credential.Summary, 0, len(secrets))
	failed := make([]gin.H, 0)
	var lastErr error
	for _, s := range secrets {
		cred, err := h.Credentials.Add(s, now)
		if err != nil {
			lastErr = err
			failed = append(failed, gin.H{"secret": logging.MaskSecret(s), "error": err.Error()})
			continue
		}
		added = append(added, credential.Summary{
			ID:           cred.ID,
			MaskedSecret: logging.MaskSecret(cred.Secret),
			Status:       cred.Status,
			CreatedAt:    cred.CreatedAt,
		})
	}
	if len(secrets) == 1 && lastErr != nil {
		respondDomainError(c, lastErr)
		return
	}
	logging.WithReq(c, log.Fields{"added": len(added), "failed": len(failed)}).Info("credentials added")
	c.JSON(http.StatusCreated, gin.H{"added": added, "failed": failed})
}

// DeleteCredential removes a credential and its cooldown.
func (h *AdminAPIHandler) DeleteCredential(c *gin.Context) {
	if err := h.Credentials.Delete(c.Param("id")); err != nil {
		respondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("id")})
}

// TestCredential probes the upstream model listing with one credential
// and moves its status accordingly: 2xx reactivates, 401/403 invalidates,
// any other status marks it inactive. Transport failures change nothing.
func (h *AdminAPIHandler) TestCredential(c *gin.Context) {
	id := c.Param("id")
	cred, err := h.Credentials.Get(id)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.ProbeTimeout)
	defer cancel()
	start := time.Now()
	list, err := h.Prober.ListModels(ctx, cred.Secret)
	latency := time.Since(start)

	result := gin.H{"id": id, "latency_ms": logging.DurationMS(latency)}
	var statusErr *upstream.StatusError
	switch {
	case err == nil:
		h.Credentials.Reactivate(id)
		result["ok"] = true
		result["upstream_status"] = http.StatusOK
		result["models"] = len(list)
	case stderrors.As(err, &statusErr):
		if statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden {
			h.Credentials.Invalidate(id)
		} else {
			h.Credentials.MarkInactive(id)
		}
		result["ok"] = false
		result["upstream_status"] = statusErr.StatusCode
		result["error"] = statusErr.Body
	default:
		apiErr := apperrors.MapNetworkError(err).WithDetail("cause", err.Error())
		logging.WithReq(c, log.Fields{"credential_id": id, "error": err}).Warn("credential probe transport failure")
		common.AbortWithAPIError(c, apiErr)
		return
	}

	if after, err := h.Credentials.Get(id); err == nil {
		result["status"] = after.Status
	}
	logging.WithReq(c, log.Fields{"credential_id": id, "ok": result["ok"], "status": result["status"]}).Info("credential probed")
	c.JSON(http.StatusOK, result)
}
