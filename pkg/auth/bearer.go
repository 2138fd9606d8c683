package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

var (
	ErrMissingToken  = errors.New("bearer token not provided")
	ErrInvalidToken  = errors.New("invalid bearer token")
	ErrNotConfigured = errors.New("expected secret not configured")
)

// ValidateBearerToken compares a presented token against the configured secret.
// An empty secret never authorizes anything.
func ValidateBearerToken(token, expected string) error {
	if expected == "" {
		return ErrNotConfigured
	}
	if token == "" {
		return ErrMissingToken
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		return ErrInvalidToken
	}
	return nil
}

// ExtractBearerToken returns the token from an "Authorization: Bearer <token>" header.
func ExtractBearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// BearerSecretMiddleware rejects requests whose bearer token does not match secret.
// Every failure returns the same 401 body so callers cannot tell which check failed.
func BearerSecretMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractBearerToken(c.GetHeader("Authorization"))
		if err := ValidateBearerToken(token, secret); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}
