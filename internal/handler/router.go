package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/liveplay/engine/internal/ratelimit"
	"github.com/liveplay/engine/logger"
)

// HealthCheck pings one dependency; the health endpoint aggregates them.
type HealthCheck func(ctx context.Context) error

func NewRouter(
	h *EngineHandler,
	gate *ratelimit.Gate,
	checks map[string]HealthCheck,
	log *logger.Logger,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(log))

	router.GET("/healthz", healthHandler(checks))

	api := router.Group("/api/v1")
	api.Use(SourceRateLimit(gate))
	{
		api.POST("/sessions", h.CreateSession)
		api.POST("/sessions/:sessionId/phase", h.Transition)
		api.POST("/sessions/:sessionId/participants", h.Register)
		api.POST("/sessions/:sessionId/participants/:participantId/start", h.Start)
		api.GET("/sessions/:sessionId/participants/:participantId", h.Status)
		api.POST("/sessions/:sessionId/submissions", h.Submit)
		api.GET("/sessions/:sessionId/leaderboard", h.Leaderboard)
	}

	return router
}

func healthHandler(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		deps := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				deps[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			deps[name] = "ok"
		}

		c.JSON(status, gin.H{"status": http.StatusText(status), "dependencies": deps})
	}
}
