package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenInfo is what can be read from a credential without asking the server
type TokenInfo struct {
	Subject   string
	ExpiresAt *time.Time
}

// Inspect reads the claims of a JWT credential without verifying the
// signature. The result is for display only: the server decides whether a
// credential is valid. ok is false for opaque (non-JWT) credentials.
func Inspect(token string) (info TokenInfo, ok bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return TokenInfo{}, false
	}

	if sub, err := claims.GetSubject(); err == nil {
		info.Subject = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		t := exp.Time
		info.ExpiresAt = &t
	}
	return info, true
}

// Expired reports whether the credential carries an expiry that has passed
func (i TokenInfo) Expired(now time.Time) bool {
	return i.ExpiresAt != nil && now.After(*i.ExpiresAt)
}
