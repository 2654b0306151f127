package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef-test"

func TestSigner_RoundTrip(t *testing.T) {
	s, err := NewSigner(testSecret)
	require.NoError(t, err)

	tok, err := s.Issue(100000001, time.Hour)
	require.NoError(t, err)

	id, err := s.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, int64(100000001), id)
}

func TestNewSigner_WeakSecret(t *testing.T) {
	_, err := NewSigner("short")
	assert.ErrorIs(t, err, ErrWeakSecret)
}

func TestSigner_Rejects(t *testing.T) {
	s, err := NewSigner(testSecret)
	require.NoError(t, err)
	other, err := NewSigner("another-secret-of-enough-length")
	require.NoError(t, err)

	expired := &Signer{secret: s.secret, now: func() time.Time { return time.Now().Add(-2 * time.Hour) }}

	forged, err := other.Issue(1, time.Hour)
	require.NoError(t, err)
	old, err := expired.Issue(1, time.Hour)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer: Issuer, Subject: "1",
	}).SignedString(s.secret)
	require.NoError(t, err)

	wrongIssuer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer: "someone-else", Subject: "1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(s.secret)
	require.NoError(t, err)

	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer: Issuer, Subject: "admin", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(s.secret)
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Issuer: Issuer, Subject: "1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt"},
		{"other secret", forged},
		{"expired", old},
		{"no expiry", noExpiry},
		{"wrong issuer", wrongIssuer},
		{"non-numeric subject", badSubject},
		{"alg none", unsigned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Verify(tt.token)
			assert.True(t, errors.Is(err, ErrInvalidToken), "err = %v", err)
		})
	}
}

func TestSigner_IssueInvalidUser(t *testing.T) {
	s, err := NewSigner(testSecret)
	require.NoError(t, err)
	_, err = s.Issue(0, time.Hour)
	assert.Error(t, err)
}
