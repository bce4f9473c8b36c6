package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type stubAuthenticator struct {
	userID string
	err    error
}

func (s stubAuthenticator) Validate(token string) (string, error) {
	return s.userID, s.err
}

func TestAuthMiddlewareSetsUserID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware(stubAuthenticator{userID: "u1"}))
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, GetUserID(c))
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Authorization", "Bearer abc123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "u1", w.Body.String())
}

func TestAuthMiddlewareRejectsInvalidToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware(stubAuthenticator{err: http.ErrNoCookie}))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTokenIdentityAuthenticatorUsesTokenAsUserID(t *testing.T) {
	var auth TokenIdentityAuthenticator
	userID, err := auth.Validate("abc123")
	require.NoError(t, err)
	require.Equal(t, "abc123", userID)

	_, err = auth.Validate("")
	require.Error(t, err)
}

func TestExtractBearerTokenCaseInsensitive(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	var got string
	r.Use(func(c *gin.Context) {
		got = extractBearerToken(c)
		c.Next()
	})
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Authorization", "bearer XYZ")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, "XYZ", got)
}
