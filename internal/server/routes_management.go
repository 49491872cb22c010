package server

import (
	"time"

	"github.com/gin-gonic/gin"

	mgmt "github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/handlers/management"
	mw "github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/middleware"
)

// registerManagementRoutes mounts the admin API. Address filtering runs
// before key checks so disallowed peers never reach the key comparison.
func registerManagementRoutes(root *gin.RouterGroup, a *App) *mgmt.AdminAPIHandler {
	h := mgmt.NewAdminAPIHandler(mgmt.Deps{
		Credentials:  a.Credentials,
		AccessKeys:   a.AccessKeys,
		Models:       a.Models,
		Catalog:      a.Catalog,
		Config:       a.Shared,
		Flusher:      a.Flusher,
		Prober:       a.Upstream,
		Backend:      a.Backend,
		BackendKind:  a.BackendKind,
		Hub:          a.Hub,
		LogStream:    a.LogStream,
		Tasks:        a.Tasks,
		ProbeTimeout: time.Duration(a.Config().UpstreamTimeoutSec) * time.Second,
	})

	g := root.Group(adminPrefix)
	g.Use(managementIPGuard(a.managementNets))
	g.Use(mw.ManagementAuth(
		func() bool { return a.Config().ManagementEnabled() },
		func(key string) bool { return a.Config().CheckManagementKey(key) },
	))
	h.RegisterRoutes(g)
	return h
}
