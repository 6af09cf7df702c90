package api

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	errs "github.com/chatmux/chatmux/internal/errors"
	"github.com/chatmux/chatmux/internal/logger"
)

// AuthMiddleware enforces the edge bearer token. A malformed scheme is a
// 401; a wrong token is a 403.
func AuthMiddleware(authToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		scheme, token, found := strings.Cut(header, " ")
		if !found || scheme != "Bearer" {
			errs.AbortWithUnauthorized(c, "Invalid authentication scheme.")
			return
		}
		if authToken == "" || token != authToken {
			errs.AbortWithForbidden(c, "Invalid access token.")
			return
		}
		c.Next()
	}
}

// HostCheckMiddleware rejects requests whose Host header is not in the
// allow list. An empty list allows everything.
func HostCheckMiddleware(allowedHosts []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedHosts))
	for _, h := range allowedHosts {
		allowed[h] = true
	}
	return func(c *gin.Context) {
		if len(allowed) == 0 {
			c.Next()
			return
		}
		if !allowed[c.Request.Host] {
			errs.AbortWithForbidden(c, "Host not allowed.")
			return
		}
		c.Next()
	}
}

// TimingMiddleware logs every request with its trace id and duration. A
// request without a trace_id header gets a generated one, carried on the
// request context for downstream log correlation.
func TimingMiddleware(log *slog.Logger) gin.HandlerFunc {
	log = log.With("component", "api")
	return func(c *gin.Context) {
		start := time.Now()
		traceID := c.GetHeader("trace_id")
		if traceID == "" {
			traceID = logger.GenerateRequestID()
		}
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), traceID))

		c.Next()

		log.Info("request processed",
			"trace_id", traceID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
