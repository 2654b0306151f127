// Package auth issues and verifies the gateway's connection tokens: HS256
// JWTs whose subject is the user id.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is stamped into every token and required on verification.
const Issuer = "pairbot"

// DefaultTTL is how long an issued token stays valid.
const DefaultTTL = 24 * time.Hour

// MinSecretLen is the shortest accepted signing secret.
const MinSecretLen = 16

var (
	ErrWeakSecret   = fmt.Errorf("auth: secret must be at least %d bytes", MinSecretLen)
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Signer signs and checks tokens with one shared secret.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner creates a Signer. The secret usually comes from GATEWAY_SECRET.
func NewSigner(secret string) (*Signer, error) {
	if len(secret) < MinSecretLen {
		return nil, ErrWeakSecret
	}
	return &Signer{secret: []byte(secret), now: time.Now}, nil
}

// Issue returns a token binding userID until ttl from now.
func (s *Signer) Issue(userID int64, ttl time.Duration) (string, error) {
	if userID <= 0 {
		return "", fmt.Errorf("auth: issue: invalid user id %d", userID)
	}
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: issue: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, issuer and expiry of token and returns the
// user id it was issued for. Every failure wraps ErrInvalidToken.
func (s *Signer) Verify(token string) (int64, error) {
	if token == "" {
		return 0, fmt.Errorf("%w: missing", ErrInvalidToken)
	}
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{},
		func(*jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad subject %q", ErrInvalidToken, sub)
	}
	return id, nil
}
