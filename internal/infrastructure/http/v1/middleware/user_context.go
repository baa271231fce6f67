package middleware

import (
	"github.com/gin-gonic/gin"

	appctx "lotledger/internal/core/context"
)

const (
	HeaderUserID    = "X-User-ID"
	HeaderUserEmail = "X-User-Email"
)

// UserContext extracts the acting user from request headers and adds it to
// the request context. The gateway in front of this service authenticates
// requests and forwards the caller identity in these headers; the domain
// layer reads it via appcontext.GetUser for audit and alert attribution.
func UserContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(HeaderUserID)
		if userID != "" {
			ctx := appctx.WithUser(c.Request.Context(), &appctx.UserContext{
				UserID: userID,
				Email:  c.GetHeader(HeaderUserEmail),
			})
			c.Request = c.Request.WithContext(ctx)
			c.Set("user_id", userID)
		}
		c.Next()
	}
}
