// Package session checks that a usable local identity exists before connecting.
package session

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoToken  = errors.New("session token is missing")
	ErrNoUser   = errors.New("session user id is missing")
	ErrExpired  = errors.New("session token expired")
	ErrMismatch = errors.New("session token subject does not match user id")
)

// Credentials identify the local user to the remote authority.
type Credentials struct {
	Token    string
	UserID   string
	Username string
	Avatar   string
}

// Identity is what the rest of the client needs to know about the local user.
type Identity struct {
	UserID    string
	Username  string
	Avatar    string
	ExpiresAt time.Time
}

// Verify validates creds locally. JWT tokens are parsed without signature
// verification (the server owns the key) to read expiry and subject; opaque
// tokens are accepted as-is and require an explicit user id.
func Verify(creds Credentials, now time.Time) (Identity, error) {
	token := strings.TrimSpace(creds.Token)
	if token == "" {
		return Identity{}, ErrNoToken
	}
	id := Identity{
		UserID:   strings.TrimSpace(creds.UserID),
		Username: strings.TrimSpace(creds.Username),
		Avatar:   strings.TrimSpace(creds.Avatar),
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			id.ExpiresAt = exp.Time
			if !now.Before(exp.Time) {
				return Identity{}, ErrExpired
			}
		}
		sub, _ := claims.GetSubject()
		if sub == "" {
			if v, ok := claims["userId"].(string); ok {
				sub = v
			}
		}
		switch {
		case id.UserID == "":
			id.UserID = sub
		case sub != "" && sub != id.UserID:
			return Identity{}, ErrMismatch
		}
		if id.Username == "" {
			if v, ok := claims["username"].(string); ok {
				id.Username = v
			}
		}
	}

	if id.UserID == "" {
		return Identity{}, ErrNoUser
	}
	return id, nil
}

// Headers returns the handshake headers for creds.
func Headers(creds Credentials) map[string]string {
	h := map[string]string{}
	if t := strings.TrimSpace(creds.Token); t != "" {
		h["Authorization"] = "Bearer " + t
	}
	if u := strings.TrimSpace(creds.UserID); u != "" {
		h["X-User-Id"] = u
	}
	return h
}
