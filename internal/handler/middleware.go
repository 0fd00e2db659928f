package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/liveplay/engine/apperrors"
	"github.com/liveplay/engine/internal/ratelimit"
	"github.com/liveplay/engine/logger"
)

// SourceRateLimit is the outermost admission tier: a fixed window per source
// IP, consumed before any request body is read.
func SourceRateLimit(gate *ratelimit.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := gate.AdmitSource(c.Request.Context(), c.ClientIP())
		if !d.Allowed {
			writeError(c, apperrors.New(apperrors.CodeRateLimited, "too many requests from this source").
				WithContext("retry_after_ms", d.RetryAfter.Milliseconds()))
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequestLogger logs one line per request in the structured format the rest
// of the engine uses.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("Request handled",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
