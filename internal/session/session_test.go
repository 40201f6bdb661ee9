package session

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil { t.Fatalf("sign: %v", err) }
	return s
}

func TestVerifyMissingToken(t *testing.T) {
	if _, err := Verify(Credentials{UserID: "u1"}, time.Now()); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
}

func TestVerifyOpaqueTokenNeedsUser(t *testing.T) {
	if _, err := Verify(Credentials{Token: "opaque"}, time.Now()); !errors.Is(err, ErrNoUser) {
		t.Fatalf("expected ErrNoUser, got %v", err)
	}
	id, err := Verify(Credentials{Token: "opaque", UserID: " u1 "}, time.Now())
	if err != nil { t.Fatalf("Verify: %v", err) }
	if id.UserID != "u1" { t.Fatalf("user id = %q", id.UserID) }
}

func TestVerifyJWTSubjectAndExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tok := signed(t, jwt.MapClaims{"sub": "u7", "username": "neo", "exp": now.Add(time.Hour).Unix()})

	id, err := Verify(Credentials{Token: tok}, now)
	if err != nil { t.Fatalf("Verify: %v", err) }
	if id.UserID != "u7" || id.Username != "neo" { t.Fatalf("unexpected identity: %+v", id) }
	if !id.ExpiresAt.Equal(now.Add(time.Hour)) { t.Fatalf("expiry = %v", id.ExpiresAt) }

	if _, err := Verify(Credentials{Token: tok}, now.Add(2*time.Hour)); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if _, err := Verify(Credentials{Token: tok, UserID: "other"}, now); !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected ErrMismatch, got %v", err)
	}
}

func TestHeaders(t *testing.T) {
	h := Headers(Credentials{Token: "abc", UserID: "u1"})
	if h["Authorization"] != "Bearer abc" || h["X-User-Id"] != "u1" { t.Fatalf("headers = %v", h) }
	if len(Headers(Credentials{})) != 0 { t.Fatalf("expected no headers") }
}
