package middleware

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chachabrian/mooveit-ridesync/internal/observability"
)

const requestIDKey = "requestId"

// RequestID propagates X-Request-ID or assigns a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// RequestLogger logs one line per request and records HTTP metrics by
// route template. Long-lived realtime streams are logged when they end.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)

		observability.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		observability.HTTPRequestDuration.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())

		args := []any{
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"remote_addr", c.ClientIP(),
		}
		if rid := c.GetString(requestIDKey); rid != "" {
			args = append(args, "request_id", rid)
		}
		if uid := UserID(c); uid != 0 {
			args = append(args, "user_id", uid)
		}
		if len(c.Errors) > 0 {
			args = append(args, "error", c.Errors.String())
		}
		logger.Info("http_request", args...)
	}
}
