package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"fieldpulse/internal/config"
	"fieldpulse/internal/handlers"
	"fieldpulse/internal/logging"
	"fieldpulse/internal/middleware"
)

func NewRouter(cfg config.Config, log *logging.Logger, h *handlers.AttendanceHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(log))
	r.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Worker-ID"},
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	v1.Use(middleware.Auth(cfg))
	{
		v1.POST("/pulse", h.PostPulse)
		v1.GET("/status", h.GetStatus)
		v1.POST("/clock", h.PostClock)
		v1.GET("/audit", h.ListAudit)
	}
	return r
}
