package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderUserID carries the operator identity set by the upstream auth proxy.
	HeaderUserID = "X-User-ID"

	// ctxKeyUserID is where an upstream middleware may already have put the id.
	ctxKeyUserID = "userID"

	maxUserIDLength = 64
)

// UserID returns the authenticated operator id, or "" when the request is
// anonymous. The Gin context value wins over the header.
func UserID(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyUserID); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return strings.TrimSpace(c.GetHeader(HeaderUserID))
}

// RequireUser rejects requests without an operator identity with 401. The
// resolved id is stored under "userID" so later middleware (rate limiting,
// idempotency) keys on it.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := UserID(c)
		if uid == "" || len(uid) > maxUserIDLength {
			c.Header("WWW-Authenticate", `Bearer realm="admin"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": RequestIDFrom(c),
				"code":       "unauthorized",
				"message":    "authentication required",
			})
			return
		}
		c.Set(ctxKeyUserID, uid)
		c.Next()
	}
}
