package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bhagyabanghadai/dhi/pkg/auth"
)

var testSecret = []byte("test-secret-key")

func signToken(t *testing.T, subject string, expiry time.Time) string {
	t.Helper()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func captureUnauthorized(t *testing.T) (auth.UnauthorizedWriter, *int) {
	t.Helper()
	calls := 0
	return func(w http.ResponseWriter, r *http.Request, detail string) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}, &calls
}

func TestMiddleware_ValidTokenReachesHandler(t *testing.T) {
	validator := auth.NewValidator(testSecret)
	writeUnauthorized, calls := captureUnauthorized(t)

	var capturedSubject string
	handler := auth.Middleware(validator, writeUnauthorized)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, err := auth.Subject(r.Context())
		if err != nil {
			t.Errorf("expected subject in context: %v", err)
		}
		capturedSubject = subject
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/verify", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "caller-1", time.Now().Add(time.Hour)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if capturedSubject != "caller-1" {
		t.Fatalf("expected subject caller-1, got %q", capturedSubject)
	}
	if *calls != 0 {
		t.Fatalf("expected no unauthorized calls, got %d", *calls)
	}
}

func TestMiddleware_HealthIsPublic(t *testing.T) {
	writeUnauthorized, calls := captureUnauthorized(t)
	handler := auth.Middleware(nil, writeUnauthorized)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if *calls != 0 {
		t.Fatal("expected /health to bypass auth entirely")
	}
}

func TestMiddleware_MissingHeaderRejected(t *testing.T) {
	validator := auth.NewValidator(testSecret)
	writeUnauthorized, calls := captureUnauthorized(t)
	handler := auth.Middleware(validator, writeUnauthorized)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodPost, "/verify", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if *calls != 1 {
		t.Fatalf("expected one unauthorized call, got %d", *calls)
	}
}

func TestMiddleware_ExpiredTokenRejected(t *testing.T) {
	validator := auth.NewValidator(testSecret)
	writeUnauthorized, calls := captureUnauthorized(t)
	handler := auth.Middleware(validator, writeUnauthorized)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodPost, "/verify", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "caller-1", time.Now().Add(-time.Hour)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if *calls != 1 {
		t.Fatalf("expected one unauthorized call, got %d", *calls)
	}
}

func TestMiddleware_NilValidatorFailsClosed(t *testing.T) {
	writeUnauthorized, calls := captureUnauthorized(t)
	handler := auth.Middleware(nil, writeUnauthorized)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodPost, "/verify", nil)
	req.Header.Set("Authorization", "Bearer sometoken")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if *calls != 1 {
		t.Fatalf("expected one unauthorized call, got %d", *calls)
	}
}
