package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	mw "github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/middleware"
	"github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/version"
)

const adminPrefix = "/admin/api"

// BuildEngine assembles the gin engine for a: public OpenAI routes, health,
// metrics and the admin API, all under the configured base path.
func BuildEngine(a *App) *gin.Engine {
	cfg := a.Config()
	if !cfg.Debug && gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	_ = engine.SetTrustedProxies(nil)
	engine.Use(mw.RequestID(), mw.Recovery())
	engine.Use(mw.RequestLogger(
		func() bool { return a.Config().RequestLog },
		joinBasePath(cfg.BasePath, "/healthz"),
		joinBasePath(cfg.BasePath, "/metrics"),
	))
	if cfg.MetricsEnabled {
		engine.Use(mw.Metrics("proxy"))
	}
	engine.Use(mw.CORS(cfg.CORSAllowedOrigins, joinBasePath(cfg.BasePath, adminPrefix)))
	if a.Limiter != nil {
		engine.Use(a.Limiter.Middleware())
	}

	root := engine.Group(cfg.BasePath)
	root.GET("/healthz", a.health)
	if cfg.MetricsEnabled {
		root.GET("/metrics", mw.MetricsHandler())
	}
	registerOpenAIRoutes(root, a)
	registerManagementRoutes(root, a)
	return engine
}

// health reports storage reachability and pool sizes. It answers 503 when
// the backend is unreachable.
func (a *App) health(c *gin.Context) {
	status, code := "ok", http.StatusOK
	var storageErr string
	if err := a.Backend.Health(c.Request.Context()); err != nil {
		status, code, storageErr = "degraded", http.StatusServiceUnavailable, err.Error()
	}
	stats := a.Credentials.Stats(time.Now())
	body := gin.H{
		"status":      status,
		"version":     version.Version,
		"storage":     a.BackendKind,
		"credentials": stats.Total,
		"models":      len(a.Models.List()),
	}
	if storageErr != "" {
		body["storage_error"] = storageErr
	}
	c.JSON(code, body)
}

func joinBasePath(base, p string) string {
	base = strings.TrimRight(base, "/")
	if base == "" {
		return p
	}
	return base + p
}
