package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ProxyPool/internal/access"
	log "github.com/sirupsen/logrus"
)

// AccessAuthMiddleware rejects requests that do not carry the configured access token.
func AccessAuthMiddleware(auth *access.TokenAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth == nil || !auth.Enabled() {
			c.Next()
			return
		}

		authErr := auth.Authenticate(c.Request)
		if authErr == nil {
			c.Next()
			return
		}

		switch {
		case errors.Is(authErr, access.ErrNoCredentials):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing access token"})
		case errors.Is(authErr, access.ErrInvalidCredential):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid access token"})
		default:
			log.WithError(authErr).Error("access auth middleware error")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Authentication service error"})
		}
	}
}
