// Package auth confirms the identity a client claims when it opens a stream.
// Tokens are HS256 JWTs whose subject is the decimal user id.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrAuthDisabled = errors.New("token verification is disabled")
	ErrInvalidToken = errors.New("invalid token")
)

type Verifier struct {
	secret []byte
	expiry time.Duration
}

// NewVerifier returns nil for an empty secret, which leaves identities trusted
func NewVerifier(secret string, expiry time.Duration) *Verifier {
	if secret == "" {
		return nil
	}
	return &Verifier{secret: []byte(secret), expiry: expiry}
}

// Issue signs a token for userID. A non-positive expiry issues a token that never expires.
func (v *Verifier) Issue(userID int64) (string, error) {
	if v == nil {
		return "", ErrAuthDisabled
	}
	if userID < 1 {
		return "", fmt.Errorf("user id must be greater than zero, got %d", userID)
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:  strconv.FormatInt(userID, 10),
		IssuedAt: jwt.NewNumericDate(now),
	}
	if v.expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(v.expiry))
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify returns the user id a valid token was issued for
func (v *Verifier) Verify(token string) (int64, error) {
	if v == nil {
		return 0, ErrAuthDisabled
	}

	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return 0, ErrInvalidToken
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID < 1 {
		return 0, ErrInvalidToken
	}
	return userID, nil
}
