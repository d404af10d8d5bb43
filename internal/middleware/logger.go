package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"fieldpulse/internal/logging"
)

func RequestLogger(log *logging.Logger) gin.HandlerFunc {
	l := log.Component("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		l.Infof("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}
