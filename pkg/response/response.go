package response

import (
	"visaconnect-relay/internal/models"

	"github.com/gin-gonic/gin"
)

// Error aborts the request with a models.ErrorResponse body.
func Error(c *gin.Context, status, code int, details string) {
	c.AbortWithStatusJSON(status, models.ErrorResponse{
		Code:    code,
		Message: Message(code),
		Details: details,
	})
}
