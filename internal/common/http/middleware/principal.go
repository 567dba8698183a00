package middleware

import (
	"context"
	"strings"

	pkgerrors "ojbackend/pkg/errors"
	"ojbackend/pkg/utils/contextkey"
	"ojbackend/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

const (
	usernameHeader = "X-Username"
	userRoleHeader = "X-User-Role"

	usernameContextKey = "username"
	userRoleContextKey = "user_role"
)

// PrincipalMiddleware reads the authenticated identity the gateway
// injected into the request headers. Requests without a username are
// rejected; role is optional and defaults to "user".
func PrincipalMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		username := strings.TrimSpace(c.GetHeader(usernameHeader))
		if username == "" {
			response.AbortWithErrorCode(c, pkgerrors.PrincipalMissing, "")
			return
		}
		role := strings.TrimSpace(c.GetHeader(userRoleHeader))
		if role == "" {
			role = "user"
		}

		c.Set(usernameContextKey, username)
		c.Set(userRoleContextKey, role)
		ctx := context.WithValue(c.Request.Context(), contextkey.Username, username)
		ctx = context.WithValue(ctx, contextkey.UserRole, role)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// RequireRole guards operator-only routes.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(userRoleContextKey)
		for _, allowed := range roles {
			if strings.EqualFold(role, allowed) {
				c.Next()
				return
			}
		}
		response.AbortWithErrorCode(c, pkgerrors.Forbidden, "insufficient role")
	}
}

// Username returns the authenticated username from the gin context.
func Username(c *gin.Context) string {
	return c.GetString(usernameContextKey)
}
