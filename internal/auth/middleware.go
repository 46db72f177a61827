package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"pickofgods/internal/apperr"
	"pickofgods/internal/models"
)

const sessionContextKey = "auth_session"

// Middleware validates bearer tokens or the session cookie and stores the
// session in the context.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := s.ExtractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "authorization required"})
			return
		}
		session, err := s.ValidateSession(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(apperr.Status(err), gin.H{"success": false, "error": "session invalid"})
			return
		}
		c.Set(sessionContextKey, session)
		c.Next()
	}
}

// SessionFromContext retrieves the session captured by the middleware.
func SessionFromContext(c *gin.Context) (*models.Session, bool) {
	val, ok := c.Get(sessionContextKey)
	if !ok {
		return nil, false
	}
	session, ok := val.(*models.Session)
	return session, ok
}

// ExtractToken reads the bearer header, falling back to the session cookie.
func (s *Service) ExtractToken(c *gin.Context) string {
	if token, ok := s.bearerToken(c); ok {
		return token
	}
	if token, err := c.Cookie(s.cookieName); err == nil && token != "" {
		return token
	}
	return ""
}

func (s *Service) bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader(s.headerName)
	if !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return "", false
	}
	return strings.TrimSpace(authHeader[len("bearer "):]), true
}
