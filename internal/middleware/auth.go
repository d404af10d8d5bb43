package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"fieldpulse/internal/config"
)

const workerIDKey = "workerID"

func WorkerIDFromContext(c *gin.Context) string {
	if v, ok := c.Get(workerIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

type Claims struct {
	WorkerID string `json:"worker_id"`
	jwt.RegisteredClaims
}

// Auth resolves the authenticated worker identity. With a JWT secret
// configured it requires a bearer token signed with HS256; without one it
// falls back to the X-Worker-ID header for local development.
func Auth(cfg config.Config) gin.HandlerFunc {
	secret := []byte(cfg.JWTSecret)
	return func(c *gin.Context) {
		if len(secret) == 0 {
			workerID := strings.TrimSpace(c.GetHeader("X-Worker-ID"))
			if workerID == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "x-worker-id required"})
				return
			}
			c.Set(workerIDKey, workerID)
			c.Next()
			return
		}

		h := strings.TrimSpace(c.GetHeader("Authorization"))
		if !strings.HasPrefix(strings.ToLower(h), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tok := strings.TrimSpace(h[7:])

		claims := &Claims{}
		parsed, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !parsed.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		workerID := strings.TrimSpace(claims.WorkerID)
		if workerID == "" {
			workerID = strings.TrimSpace(claims.Subject)
		}
		if workerID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token carries no worker identity"})
			return
		}
		c.Set(workerIDKey, workerID)
		c.Next()
	}
}
