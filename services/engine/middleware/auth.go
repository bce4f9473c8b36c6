// Package middleware provides HTTP middleware for the engine service.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// userIDKey is the context key under which the authenticated user
// identifier is stored.
const userIDKey = "engine_user_id"

// SetUserID stores the authenticated user identifier in the Gin context.
func SetUserID(c *gin.Context, userID string) {
	c.Set(userIDKey, userID)
}

// GetUserID retrieves the authenticated user identifier from the Gin
// context. Returns "" if AuthMiddleware has not run or rejected the
// request.
func GetUserID(c *gin.Context) string {
	if v, exists := c.Get(userIDKey); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// Authenticator validates a bearer token and returns the owning user's
// identifier. The engine's facade depends only on this interface; how a
// token maps to a user identity is common infrastructure out of scope
// here.
type Authenticator interface {
	Validate(token string) (userID string, err error)
}

// AuthMiddleware extracts the bearer token from the Authorization header,
// validates it via auth, and stores the resulting user identifier in the
// context for downstream handlers.
func AuthMiddleware(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		userID, err := auth.Validate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		SetUserID(c, userID)
		c.Next()
	}
}

// TokenIdentityAuthenticator is the trivial stand-in Authenticator: it
// treats the bearer token itself as the user identifier, with no lookup
// against an external identity provider. Real authentication is out of
// scope for the engine; a production deployment supplies its own
// Authenticator in front of a real identity provider.
type TokenIdentityAuthenticator struct{}

// Validate rejects only the empty token; any non-empty token is its own
// user identifier.
func (TokenIdentityAuthenticator) Validate(token string) (string, error) {
	if token == "" {
		return "", errEmptyToken
	}
	return token, nil
}

var errEmptyToken = errors.New("middleware: missing bearer token")

// extractBearerToken parses "Authorization: Bearer <token>", case
// insensitively, returning "" if the header is missing or malformed.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
