package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bhandras/delight/relay/internal/crypto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.GET("/", func(c *gin.Context) {
		id, _ := GetPrincipalID(c)
		c.String(http.StatusOK, id)
	})
	return r
}

func serve(r http.Handler, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimit_PerIP(t *testing.T) {
	r := newRouter(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 2}))

	require.Equal(t, http.StatusOK, serve(r, nil).Code)
	require.Equal(t, http.StatusOK, serve(r, nil).Code)
	require.Equal(t, http.StatusTooManyRequests, serve(r, nil).Code)
}

func TestRateLimit_Disabled(t *testing.T) {
	r := newRouter(RateLimit(RateLimitConfig{}))
	for i := 0; i < 10; i++ {
		require.Equal(t, http.StatusOK, serve(r, nil).Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	tokens, err := crypto.NewJWTManager("secret")
	require.NoError(t, err)
	r := newRouter(AuthMiddleware(tokens))

	require.Equal(t, http.StatusUnauthorized, serve(r, nil).Code)
	require.Equal(t, http.StatusUnauthorized, serve(r, http.Header{"Authorization": []string{"Token x"}}).Code)
	require.Equal(t, http.StatusUnauthorized, serve(r, http.Header{"Authorization": []string{"Bearer x"}}).Code)

	token, err := tokens.CreateToken("user-1", time.Hour, nil)
	require.NoError(t, err)
	w := serve(r, http.Header{"Authorization": []string{"Bearer " + token}})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "user-1", w.Body.String())
}

func TestLoggingMiddleware_PassesThrough(t *testing.T) {
	r := newRouter(LoggingMiddleware())
	require.Equal(t, http.StatusOK, serve(r, nil).Code)
}

func TestCORS_Preflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS([]string{"https://app.example"}))
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)
}
