package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestContextMiddleware stamps the request context with the request
// and device identifiers the context-aware logger picks up.
func RequestContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := context.WithValue(c.Request.Context(), "request_id", uuid.NewString())
		if id := c.Param("id"); id != "" {
			ctx = context.WithValue(ctx, "device_id", id)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
