package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes mounts the public surface. Everything except /ping and
// the CORS preflight requires the edge bearer token.
func RegisterRoutes(r *gin.Engine, h *Handler, authToken string, allowedHosts []string, logger *slog.Logger) {
	r.Use(HostCheckMiddleware(allowedHosts))
	r.Use(TimingMiddleware(logger))

	r.GET("/ping", h.Ping)
	r.OPTIONS("/v1/chat/completions", h.CompletionsOptions)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := r.Group("/", AuthMiddleware(authToken))
	authed.POST("/v1/chat/completions", h.Completions)
	authed.POST("/v1/chat/prompt", h.Prompt)
	authed.POST("/admin/add_bot", h.AddBot)
}
