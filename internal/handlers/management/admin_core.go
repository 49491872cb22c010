package management

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/accesskey"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/credential"
	apperrors "github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/errors"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/events"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/handlers/common"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/logging"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/models"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/runtime"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/state"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/storage"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/upstream"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/writeback"
)

// Prober checks a single credential against the upstream.
type Prober interface {
	ListModels(ctx context.Context, secret string) ([]upstream.Model, error)
}

// Deps lists what the admin API operates on. Hub, LogStream and Tasks are
// optional.
type Deps struct {
	Credentials *credential.Pool
	AccessKeys  *accesskey.Manager
	Models      *models.Pool
	Catalog     *models.Catalog
	Config      *state.ConfigStore
	Flusher     *writeback.Flusher
	Prober      Prober
	Backend     storage.Backend
	BackendKind string
	Hub         *events.Hub
	LogStream   *logging.LogStream
	Tasks       *runtime.Supervisor
	// ProbeTimeout bounds one credential test.
	ProbeTimeout time.Duration
}

// AdminAPIHandler serves /admin/api.
type AdminAPIHandler struct {
	Deps
	startTime time.Time
}

// NewAdminAPIHandler builds the admin handler set.
func NewAdminAPIHandler(d Deps) *AdminAPIHandler {
	if d.ProbeTimeout <= 0 {
		d.ProbeTimeout = 15 * time.Second
	}
	return &AdminAPIHandler{Deps: d, startTime: time.Now()}
}

// RegisterRoutes registers all management routes on group.
func (h *AdminAPIHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("/credentials", h.ListCredentials)
	group.POST("/credentials", h.AddCredentials)
	group.DELETE("/credentials/:id", h.DeleteCredential)
	group.POST("/credentials/:id/test", h.TestCredential)

	group.GET("/access-keys", h.ListAccessKeys)
	group.POST("/access-keys", h.CreateAccessKey)
	group.DELETE("/access-keys/:id", h.DeleteAccessKey)
	group.POST("/access-keys/test", h.TestAccessKey)

	group.GET("/models/pool", h.GetModelPool)
	group.PUT("/models/pool", h.ReplaceModelPool)
	group.GET("/models/catalog", h.GetCatalog)

	group.GET("/settings/flush-interval", h.GetFlushInterval)
	group.PATCH("/settings/flush-interval", h.PatchFlushInterval)

	group.GET("/stats", h.GetStats)
	group.POST("/flush", h.Flush)

	group.GET("/events", h.StreamEvents)
	group.GET("/logs", h.GetLogs)
	group.GET("/logs/ws", h.StreamLogs)
}

// respondDomainError maps pool and storage errors onto API errors.
func respondDomainError(c *gin.Context, err error) {
	var apiErr *apperrors.APIError
	switch {
	case stderrors.As(err, &apiErr):
	case stderrors.Is(err, credential.ErrNotFound), stderrors.Is(err, accesskey.ErrNotFound):
		apiErr = apperrors.New(http.StatusNotFound, "not_found", "invalid_request_error", err.Error())
	case stderrors.Is(err, credential.ErrDuplicateSecret):
		apiErr = apperrors.New(http.StatusConflict, "duplicate_secret", "invalid_request_error", err.Error())
	case stderrors.Is(err, credential.ErrEmptySecret):
		apiErr = apperrors.BadRequest(err.Error())
	case stderrors.Is(err, accesskey.ErrLimitReached):
		apiErr = apperrors.New(http.StatusConflict, "limit_reached", "invalid_request_error", err.Error())
	case stderrors.Is(err, writeback.ErrFlushInProgress):
		apiErr = apperrors.New(http.StatusConflict, "flush_in_progress", "invalid_request_error", err.Error())
	default:
		logging.WithReq(c, nil).WithError(err).Error("admin operation failed")
		apiErr = apperrors.Internal("")
	}
	common.AbortWithAPIError(c, apiErr)
}
