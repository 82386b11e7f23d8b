package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/shinypull/backend/internal/auth"
	"github.com/shinypull/backend/pkg/response"
)

// roleRank orders roles; a caller passes a check for any role at or below its own.
var roleRank = map[string]int{
	auth.RoleReader:   1,
	auth.RoleOperator: 2,
}

// RequireRole returns a middleware that admits callers whose role is at least minimum.
// It must run after JWT.
func RequireRole(minimum string) gin.HandlerFunc {
	need, ok := roleRank[minimum]
	if !ok {
		panic("middleware: unknown role " + minimum)
	}
	return func(c *gin.Context) {
		role := c.GetString(ContextRole)
		if role == "" {
			response.Unauthorized(c, "missing caller context")
			c.Abort()
			return
		}
		if roleRank[role] < need {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}
