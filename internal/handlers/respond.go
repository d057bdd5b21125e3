package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"comms-service/internal/apperr"
)

// respondError maps a taxonomy error to its HTTP shape. Unexpected errors
// are logged server-side and surfaced generically.
func respondError(c *gin.Context, err error) {
	status, msg := apperr.Status(err)
	if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		log.Printf("request failed %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": msg})
}

func orgIDFromContext(c *gin.Context) *int {
	if val, ok := c.Get("orgID"); ok {
		if id, ok := val.(int); ok {
			return &id
		}
	}
	return nil
}
