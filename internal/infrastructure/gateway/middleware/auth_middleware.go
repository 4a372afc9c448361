package middleware

import (
	"net/http"
	"strings"

	"guardlink/internal/core/domain"
	"guardlink/internal/infrastructure/gateway/auth"

	"github.com/gin-gonic/gin"
)

const (
	ContextRequesterID = "requester_id"
	ContextClaims      = "auth_claims"
)

func AuthMiddleware(tokens auth.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}

		claims, err := tokens.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Set(ContextRequesterID, claims.RequesterID)
		c.Set(ContextClaims, claims)
		c.Next()
	}
}

// DevicePermissionMiddleware checks that the token's pairing covers the
// device named in the route. Must run after AuthMiddleware.
func DevicePermissionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		claimsVal, exists := c.Get(ContextClaims)
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			c.Abort()
			return
		}
		claims, ok := claimsVal.(*auth.Claims)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid auth context"})
			c.Abort()
			return
		}

		deviceID := domain.DeviceID(c.Param("id"))
		if deviceID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "device id required"})
			c.Abort()
			return
		}
		if !claims.AllowsDevice(deviceID) {
			c.JSON(http.StatusForbidden, gin.H{"error": "device not paired with this account"})
			c.Abort()
			return
		}

		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.Split(header, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}
	// Browsers cannot set headers on websocket upgrades.
	return c.Query("token")
}
