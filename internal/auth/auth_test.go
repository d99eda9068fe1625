package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func request(token, guest string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	if guest != "" {
		req.Header.Set("X-Guest-Id", guest)
	}
	return req
}

func TestOwnerFromToken(t *testing.T) {
	r := NewResolver(secret, "X-Guest-Id")

	sub := sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{"sub": "user-1", "email": "a@b.c"})
	require.Equal(t, "user-1", r.Owner(request(sub, "guest-9")))

	email := sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{"email": "a@b.c"})
	require.Equal(t, "a@b.c", r.Owner(request(email, "")))
}

func TestOwnerIgnoresBadTokens(t *testing.T) {
	r := NewResolver(secret, "X-Guest-Id")

	wrongKey := sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "mallory"})
	require.Equal(t, "guest-9", r.Owner(request(wrongKey, "guest-9")))

	expired := sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{
		"sub": "late",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	require.Equal(t, Anonymous, r.Owner(request(expired, "")))

	wrongAlg := sign(t, jwt.SigningMethodHS512, []byte(secret), jwt.MapClaims{"sub": "hs512"})
	require.Equal(t, Anonymous, r.Owner(request(wrongAlg, "")))

	require.Equal(t, Anonymous, r.Owner(request("not-a-jwt", "")))
}

func TestOwnerWithoutSecretUsesGuest(t *testing.T) {
	r := NewResolver("", "X-Guest-Id")
	token := sign(t, jwt.SigningMethodHS256, []byte(secret), jwt.MapClaims{"sub": "user-1"})

	require.Equal(t, "guest-1", r.Owner(request(token, "guest-1")))
	require.Equal(t, Anonymous, r.Owner(request("", "  ")))
}

func TestMiddlewareStoresOwner(t *testing.T) {
	e := echo.New()
	r := NewResolver(secret, "X-Guest-Id")
	var seen string
	e.GET("/", func(c echo.Context) error {
		seen = OwnerFrom(c)
		return c.NoContent(http.StatusNoContent)
	}, r.Middleware())

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, request("", "guest-42"))

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "guest-42", seen)
}
