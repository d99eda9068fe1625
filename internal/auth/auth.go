// Package auth derives the owner of a request.
package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt"
	"github.com/labstack/echo/v4"
)

// Anonymous owns requests that carry neither a valid token nor a guest id.
const Anonymous = "anonymous"

const ownerContextKey = "owner"

// Resolver maps a request to an owner id: the sub or email claim of a valid
// HS256 bearer token, else the guest header, else Anonymous. Invalid tokens
// are ignored.
type Resolver struct {
	secret      []byte
	guestHeader string
}

// NewResolver creates a Resolver. An empty secret disables token checks.
func NewResolver(secret, guestHeader string) *Resolver {
	return &Resolver{
		secret:      []byte(strings.TrimSpace(secret)),
		guestHeader: guestHeader,
	}
}

// Owner resolves the owner of req.
func (r *Resolver) Owner(req *http.Request) string {
	if owner := r.tokenOwner(req); owner != "" {
		return owner
	}
	if r.guestHeader != "" {
		if guest := strings.TrimSpace(req.Header.Get(r.guestHeader)); guest != "" {
			return guest
		}
	}
	return Anonymous
}

func (r *Resolver) tokenOwner(req *http.Request) string {
	if len(r.secret) == 0 {
		return ""
	}
	header := req.Header.Get(echo.HeaderAuthorization)
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return ""
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil || !token.Valid {
		return ""
	}

	for _, claim := range []string{"sub", "email"} {
		if v, ok := claims[claim].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Middleware stores the resolved owner in the echo context.
func (r *Resolver) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(ownerContextKey, r.Owner(c.Request()))
			return next(c)
		}
	}
}

// OwnerFrom returns the owner stored by Middleware, or Anonymous.
func OwnerFrom(c echo.Context) string {
	if owner, ok := c.Get(ownerContextKey).(string); ok && owner != "" {
		return owner
	}
	return Anonymous
}
