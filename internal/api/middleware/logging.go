package middleware

import (
	"time"

	"visaconnect-relay/pkg/logger"

	"github.com/gin-gonic/gin"
)

// LogApi writes one structured entry per request.
func LogApi(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []any{
			"status", c.Writer.Status(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"clientIP", c.ClientIP(),
			"userAgent", c.Request.UserAgent(),
			"latency", time.Since(start),
			"proto", c.Request.Proto,
		}
		if userID := UserID(c); userID != "" {
			fields = append(fields, "userID", userID)
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate).String(); errs != "" {
			fields = append(fields, "error", errs)
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			log.Error("API request", fields...)
		case status >= 400:
			log.Warn("API request", fields...)
		default:
			log.Info("API request", fields...)
		}
	}
}
