package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/corwinhq/taskforge/internal/platform/logger"
)

// RequestLogger mirrors the teacher's internal/http/middleware/request_log.go:
// one structured log line per request, severity derived from status code.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		fields := []interface{}{
			"method", strings.ToUpper(c.Request.Method),
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if principalID, ok := PrincipalID(c); ok {
			fields = append(fields, "principal_id", principalID.String())
		}

		switch {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}
