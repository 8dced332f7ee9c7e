package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/dreamforge/internal/logger"
)

// HeaderUserID carries the caller's user ID. Authentication happens upstream.
const HeaderUserID = "X-User-ID"

const userIDKey = "user_id"

// RequireUser rejects requests without a user ID. Browsers cannot set
// headers on a websocket handshake, so the user_id query parameter is
// accepted as well.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if userID == "" {
			userID = strings.TrimSpace(c.Query("user_id"))
		}
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + HeaderUserID + " header"})
			return
		}

		c.Set(userIDKey, userID)
		c.Request = c.Request.WithContext(logger.WithField(c.Request.Context(), logger.FieldUserID, userID))
		c.Next()
	}
}

// UserID returns the user ID stored by RequireUser.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
