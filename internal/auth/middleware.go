package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/meshchat/meshchat-service/internal/logger"
)

// unauthorized aborts the request with a 401 and the given message. This
// middleware is the only place in the module that returns 401, so it owns
// its response shape directly rather than sharing a generic status-response
// package with the rest of the HTTP surface.
func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}

type contextKey string

const UserIDKey contextKey = "user_id"

// Middleware validates bearer tokens and attaches the caller's user id to
// the request context.
type Middleware struct {
	validator TokenValidator
}

func NewMiddleware(validator TokenValidator) *Middleware {
	return &Middleware{validator: validator}
}

func (m *Middleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			unauthorized(c, "Authorization header is required")
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			unauthorized(c, "Authorization header must be a Bearer token")
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == "" {
			unauthorized(c, "Bearer token is empty")
			return
		}

		userID, err := m.validator.ValidateToken(token)
		if err != nil {
			unauthorized(c, "Invalid or expired token")
			return
		}

		ctx := logger.WithUserID(c.Request.Context(), userID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(string(UserIDKey), userID)
		c.Next()
	}
}

func GetUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(string(UserIDKey))
	if !exists {
		return "", false
	}
	id, ok := userID.(string)
	return id, ok
}
