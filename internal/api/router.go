package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kicet3/AIMEX-back-sub002/internal/eventbus"
	"github.com/kicet3/AIMEX-back-sub002/internal/health"
	"github.com/kicet3/AIMEX-back-sub002/internal/session"
)

func NewRouter(manager *session.Manager, probe *health.Probe, bus eventbus.EventBus) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())
	r.Use(RequestIDMiddleware())

	sessionHandler := NewSessionHandler(manager)
	healthHandler := NewHealthHandler(probe)
	eventsHandler := NewEventsHandler(bus)

	// Liveness of this process, not of the worker pools.
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{
			Status:    "ok",
			Timestamp: formatTime(time.Now()),
		})
	})
	r.GET("/health/services", healthHandler.CheckAllServices)
	r.GET("/health/services/:service", healthHandler.CheckService)

	v1 := r.Group("/api/v1")
	{
		sessions := v1.Group("/sessions")
		{
			sessions.POST("/acquire", sessionHandler.AcquireSession)
			sessions.GET("", sessionHandler.GetSession)

			sessions.POST("/:id/begin", sessionHandler.BeginWork)
			sessions.POST("/:id/extend", sessionHandler.ExtendProcessing)
			sessions.POST("/:id/complete", sessionHandler.CompleteWork)
			sessions.DELETE("/:id", sessionHandler.TerminateSession)

			sessions.GET("/:id/events", eventsHandler.StreamSessionEvents)
		}
	}

	return r
}
