// Package httpapi holds the response envelope shared by all JSON handlers:
// {"success": bool, "message": string, ...}.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"crm-dialer/pkg/logger"
)

// OK writes a success envelope. data is attached under "data" when non-nil.
func OK(c *gin.Context, status int, message string, data any) {
	body := gin.H{"success": true, "message": message}
	if data != nil {
		body["data"] = data
	}
	c.JSON(status, body)
}

// With writes a success envelope with extra top-level fields.
func With(c *gin.Context, status int, message string, fields gin.H) {
	body := gin.H{"success": true}
	if message != "" {
		body["message"] = message
	}
	for k, v := range fields {
		body[k] = v
	}
	c.JSON(status, body)
}

// Fail aborts with a client error envelope.
func Fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "message": message})
}

// ServerError logs err and aborts with a 500. Internal details stay in the log.
func ServerError(c *gin.Context, op string, err error) {
	logger.FromGin(c).Error(op+" failed", "error", err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal server error"})
}

// Bind decodes a JSON or form body into dst, answering 400 on failure.
func Bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBind(dst); err != nil {
		Fail(c, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
