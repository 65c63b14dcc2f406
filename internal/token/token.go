// Package token provides the bearer tokens the upstream connector presents to
// the broker on every connection attempt.
package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoToken      = errors.New("no broker token available")
	ErrNotJWT       = errors.New("token is not a JWT")
	ErrTokenExpired = errors.New("token expired")
)

// Static hands out the same token every time.
type Static string

func (s Static) Token(ctx context.Context) (string, error) {
	tok := strings.TrimSpace(string(s))
	if tok == "" {
		return "", ErrNoToken
	}
	return tok, nil
}

// Info is what can be read from a token without verifying it.
type Info struct {
	Subject   string
	ExpiresAt time.Time // zero when the token carries no exp claim
}

// Expired reports whether the token's expiry is at or before now.
func (i Info) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// Inspect parses tok as a JWT without checking the signature. The broker signs
// its tokens, so only the claims are of interest here.
func Inspect(tok string) (Info, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrNotJWT, err)
	}

	info := Info{Subject: claims.Subject}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	return info, nil
}

// checkExpiry returns ErrTokenExpired for a JWT whose exp has passed. Opaque
// tokens pass through.
func checkExpiry(tok string, now time.Time) error {
	info, err := Inspect(tok)
	if err != nil {
		return nil
	}
	if info.Expired(now) {
		return fmt.Errorf("%w at %s", ErrTokenExpired, info.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}
