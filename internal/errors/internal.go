package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Internal sends a 500 Internal Server Error response.
func Internal(c *gin.Context, message string, details map[string]interface{}) {
	c.JSON(http.StatusInternalServerError, NewAPIError(message, details))
}
