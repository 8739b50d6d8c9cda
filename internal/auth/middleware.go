package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// RequireCRMToken extracts the tenant CRM token from "Authorization: Bearer <token>".
// The token is opaque here; the CRM API validates it on every downstream call.
func RequireCRMToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(authorizationHeader)
		if strings.TrimSpace(raw) == "" {
			unauthorized(c, "Unauthorized - Authorization header not found")
			return
		}
		if !strings.HasPrefix(raw, bearerPrefix) {
			unauthorized(c, "Unauthorized - Bearer token not found")
			return
		}
		tok := strings.TrimSpace(strings.TrimPrefix(raw, bearerPrefix))
		if tok == "" {
			unauthorized(c, "Unauthorized - Token not found")
			return
		}

		c.Request = c.Request.WithContext(WithCRMToken(c.Request.Context(), tok))
		c.Set(ginCRMTokenKey, tok)
		c.Next()
	}
}

// TokenFromGin returns the token set by RequireCRMToken.
func TokenFromGin(c *gin.Context) string {
	return c.GetString(ginCRMTokenKey)
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": msg})
}
