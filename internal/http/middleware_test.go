package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "unit-test-signing-key"

func init() {
	gin.SetMode(gin.TestMode)
}

// authProbe mounts one middleware in front of a trivial handler that echoes
// the extracted userID.
func authProbe(mw gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw)
	r.GET("/probe", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetString("userID")})
	})
	return r
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

func TestJWTAuth_ValidToken(t *testing.T) {
	t.Parallel()

	r := authProbe(JWTAuthMiddleware(testJWTSecret))

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{
		"uid": "user-7",
		"exp": time.Now().Add(time.Hour).Unix(),
	}))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_id":"user-7"`)
}

func TestJWTAuth_SubFallback(t *testing.T) {
	t.Parallel()

	r := authProbe(JWTAuthMiddleware(testJWTSecret))

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{
		"sub": "user-9",
		"exp": time.Now().Add(time.Hour).Unix(),
	}))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_id":"user-9"`)
}

func TestJWTAuth_Rejections(t *testing.T) {
	t.Parallel()

	expired := signToken(t, jwt.MapClaims{
		"uid": "user-7",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc123"},
		{"garbage token", "Bearer not.a.jwt"},
		{"expired token", "Bearer " + expired},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := authProbe(JWTAuthMiddleware(testJWTSecret))

			req := httptest.NewRequest(http.MethodGet, "/probe", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestJWTAuth_WrongKeySignature(t *testing.T) {
	t.Parallel()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"uid": "user-7",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("some-other-key"))
	require.NoError(t, err)

	r := authProbe(JWTAuthMiddleware(testJWTSecret))
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestInternalAuth(t *testing.T) {
	t.Parallel()

	r := authProbe(InternalAuthMiddleware("internal-secret-value"))

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("X-Internal-Secret", "internal-secret-value")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("X-Internal-Secret", "wrong")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Missing header entirely.
	req = httptest.NewRequest(http.MethodGet, "/probe", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminAuth(t *testing.T) {
	t.Parallel()

	r := authProbe(AdminAuthMiddleware("admin-key-value"))

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("X-Admin-API-Key", "admin-key-value")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("X-Admin-API-Key", "nope")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRateLimiter_Allow(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("user-7"), "request %d within limit", i+1)
	}
	assert.False(t, rl.Allow("user-7"), "fourth request exceeds the window")

	// Another key has its own budget.
	assert.True(t, rl.Allow("user-8"))
}

func TestRateLimiter_WindowExpiry(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1, 50*time.Millisecond)

	require.True(t, rl.Allow("user-7"))
	require.False(t, rl.Allow("user-7"))

	time.Sleep(60 * time.Millisecond)
	assert.True(t, rl.Allow("user-7"), "budget refills once the window slides past")
}

func TestRateLimitMiddleware_FallsBackToClientIP(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1, time.Minute)
	r := authProbe(RateLimitMiddleware(rl))

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Same anonymous client hits the limit.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
