package server

import (
	"github.com/gin-gonic/gin"

	oh "github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/handlers/openai"
	mw "github.com/zhu-jl18/thanks-to-cerebras-sub000/internal/middleware"
)

// registerOpenAIRoutes mounts the OpenAI-compatible surface under /v1.
// The whole group is gated by proxy access keys.
func registerOpenAIRoutes(root *gin.RouterGroup, a *App) *oh.Handler {
	h := oh.New(a.Dispatcher, func() string { return a.Config().PublicModel }, a.Config().MaxBodyBytes)

	v1 := root.Group("/v1")
	v1.Use(mw.AccessKeyAuth(a.AccessKeys, func() bool { return a.Config().AccessKeysRequired }))
	v1.GET("/models", h.ListModels)
	v1.GET("/models/:model", h.GetModel)
	v1.POST("/chat/completions", h.ChatCompletions)
	return h
}
