package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// contextKeyUserID carries the authenticated admin's user id.
const contextKeyUserID = "user_id"

// requireSession authenticates the admin session cookie and, for mutating
// requests, checks the CSRF header against the session's token.
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, err := c.Cookie(sessionCookie)
		if err != nil || sessionID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		session, err := s.users.GetSession(c.Request.Context(), sessionID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session invalid or expired"})
			return
		}
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			if c.GetHeader("X-CSRF-Token") != session.CSRFToken {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "csrf token mismatch"})
				return
			}
		}
		c.Set(contextKeyUserID, session.UserID)
		c.Next()
	}
}
