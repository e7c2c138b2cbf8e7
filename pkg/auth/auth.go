// Package auth implements the HTTP bearer JWT middleware guarding every
// pkg/api endpoint except /health. A request without a valid, unexpired
// token backed by the configured signing key is rejected before it reaches
// any handler; no endpoint is reachable unauthenticated by omission.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims this service expects on an inbound bearer
// token: the registered claims plus the caller-identifying subject already
// covers everything a single-tenant verification service needs.
type Claims struct {
	jwt.RegisteredClaims
}

// Validator verifies a bearer token string against the configured signing
// key and returns its claims.
type Validator struct {
	publicKey interface{}
}

// NewValidator builds a Validator from the key material used to verify
// inbound tokens (an HMAC secret []byte, or an RSA/ECDSA/Ed25519 public key,
// depending on the signing method the issuer uses).
func NewValidator(key interface{}) *Validator {
	return &Validator{publicKey: key}
}

// Validate parses and verifies tokenStr, returning its claims on success.
func (v *Validator) Validate(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return v.publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("auth: validate token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("auth: token invalid")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("auth: token subject is required")
	}
	return claims, nil
}

// publicPaths never require a bearer token.
var publicPaths = map[string]bool{
	"/health": true,
}

// UnauthorizedWriter is called when a request fails authentication, so
// pkg/api can supply its own RFC 7807 Problem Detail writer without this
// package importing pkg/api (which would create an import cycle, since
// pkg/api imports pkg/auth for the middleware itself).
type UnauthorizedWriter func(w http.ResponseWriter, r *http.Request, detail string)

// Middleware builds the bearer-auth http.Handler wrapper. A nil validator
// fails closed: every non-public request is rejected, never silently let
// through.
func Middleware(validator *Validator, writeUnauthorized UnauthorizedWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeUnauthorized(w, r, "missing Authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeUnauthorized(w, r, "expected 'Bearer <token>' Authorization header")
				return
			}

			if validator == nil {
				writeUnauthorized(w, r, "authentication not configured")
				return
			}

			claims, err := validator.Validate(parts[1])
			if err != nil {
				writeUnauthorized(w, r, "invalid or expired token")
				return
			}

			ctx := WithSubject(r.Context(), claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type contextKey string

const subjectKey contextKey = "auth_subject"

// WithSubject attaches the authenticated caller's subject to ctx.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// Subject retrieves the authenticated caller's subject from ctx.
func Subject(ctx context.Context) (string, error) {
	s, ok := ctx.Value(subjectKey).(string)
	if !ok || s == "" {
		return "", errors.New("auth: no subject in context")
	}
	return s, nil
}
