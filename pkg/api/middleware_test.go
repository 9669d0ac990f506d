package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequestID_MintsWhenAbsent(t *testing.T) {
	handler := RequestID(okHandler())

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	id := w.Header().Get(RequestIDHeader)
	require.NotEmpty(t, id)
	_, err := uuid.Parse(id)
	assert.NoError(t, err, "generated id should be a UUID")
}

func TestRequestID_EchoesClientID(t *testing.T) {
	handler := RequestID(okHandler())

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set(RequestIDHeader, "req-abc123")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, "req-abc123", w.Header().Get(RequestIDHeader))
}

func TestRateLimiter_Burst(t *testing.T) {
	// 1 req/sec, burst 2: two immediate requests pass, the third is shed.
	limiter := NewRateLimiter(1, 2)
	t.Cleanup(limiter.Close)
	handler := limiter.Middleware(okHandler())

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/events/auth", nil)
		req.RemoteAddr = "10.0.0.1:4242"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, do().Code, "within burst")
	assert.Equal(t, http.StatusOK, do().Code, "within burst")

	w := do()
	assert.Equal(t, http.StatusTooManyRequests, w.Code, "exceeded burst")
	assert.Equal(t, "5", w.Header().Get("Retry-After"))
}

func TestRateLimiter_IsolatesClients(t *testing.T) {
	limiter := NewRateLimiter(1, 1)
	t.Cleanup(limiter.Close)
	handler := limiter.Middleware(okHandler())

	do := func(addr string) int {
		req := httptest.NewRequest("GET", "/events/auth", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1:1000"))
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1:1001"), "same IP, new port shares the bucket")
	assert.Equal(t, http.StatusOK, do("10.0.0.2:1000"), "different IP gets its own bucket")
}

func TestClientIP(t *testing.T) {
	cases := []struct {
		remote string
		want   string
	}{
		{"10.0.0.1:1234", "10.0.0.1"},
		{"10.0.0.1", "10.0.0.1"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"[2001:db8::1]", "2001:db8::1"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = tc.remote
		assert.Equal(t, tc.want, clientIP(req), "remote %q", tc.remote)
	}
}

// mintToken signs an HS256 bearer token for middleware tests.
func mintToken(t *testing.T, secret string, expiry time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": "ops@authguard",
		"iat": jwt.NewNumericDate(time.Now()),
		"exp": jwt.NewNumericDate(expiry),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

// callAdmin runs one request through AdminAuth with the given header.
func callAdmin(secret, authHeader string) *httptest.ResponseRecorder {
	handler := AdminAuth(secret)(okHandler())
	req := httptest.NewRequest("GET", "/rules", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestAdminAuth_EmptySecretDisablesCheck(t *testing.T) {
	assert.Equal(t, http.StatusOK, callAdmin("", "").Code)
}

func TestAdminAuth_ValidToken(t *testing.T) {
	token := mintToken(t, "s3cret", time.Now().Add(time.Hour))
	assert.Equal(t, http.StatusOK, callAdmin("s3cret", "Bearer "+token).Code)
}

func TestAdminAuth_Rejections(t *testing.T) {
	expired := mintToken(t, "s3cret", time.Now().Add(-time.Hour))
	wrongKey := mintToken(t, "other-secret", time.Now().Add(time.Hour))

	// Token without exp must fail the required-expiration check.
	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256,
		jwt.MapClaims{"sub": "ops@authguard"}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	// alg=none must never be accepted even with a well-formed payload.
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "ops@authguard",
		"exp": jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"garbage token", "Bearer not.a.jwt"},
		{"expired token", "Bearer " + expired},
		{"wrong secret", "Bearer " + wrongKey},
		{"missing expiry", "Bearer " + noExp},
		{"none algorithm", "Bearer " + none},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, callAdmin("s3cret", tc.header).Code)
		})
	}
}
