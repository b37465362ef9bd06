package auth

import (
	"testing"
	"time"

	"taskmanager/internal/domain/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenManagerRoundTrip(t *testing.T) {
	m := NewTokenManager("secret", time.Hour)

	token, err := m.Issue("user-1", "a@example.com")
	require.NoError(t, err)

	claims, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "a@example.com", claims.Email)
	assert.Equal(t, "user-1", claims.Subject)
}

func TestTokenManagerVerify(t *testing.T) {
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	signer := NewTokenManager("secret", DefaultTokenTTL)
	signer.now = func() time.Time { return issued }
	valid, err := signer.Issue("user-1", "a@example.com")
	require.NoError(t, err)

	other := NewTokenManager("other-secret", DefaultTokenTTL)
	other.now = signer.now
	foreign, err := other.Issue("user-1", "a@example.com")
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "user-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		at    time.Time
		want  struct {
			error bool
		}
	}{
		{name: "fresh token", token: valid, at: issued.Add(time.Minute), want: struct{ error bool }{false}},
		{name: "just before expiry", token: valid, at: issued.Add(DefaultTokenTTL - time.Second), want: struct{ error bool }{false}},
		{name: "expired", token: valid, at: issued.Add(DefaultTokenTTL + time.Second), want: struct{ error bool }{true}},
		{name: "wrong secret", token: foreign, at: issued, want: struct{ error bool }{true}},
		{name: "alg none", token: none, at: issued, want: struct{ error bool }{true}},
		{name: "garbage", token: "not.a.jwt", at: issued, want: struct{ error bool }{true}},
		{name: "empty", token: "", at: issued, want: struct{ error bool }{true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier := NewTokenManager("secret", DefaultTokenTTL)
			verifier.now = func() time.Time { return tt.at }

			claims, err := verifier.Verify(tt.token)
			if tt.want.error {
				assert.ErrorIs(t, err, errors.ErrUnauthenticated)
				assert.Nil(t, claims)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, "user-1", claims.UserID)
		})
	}
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("s3cret!", 4)
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret!", hash)
	assert.True(t, CheckPassword(hash, "s3cret!"))
	assert.False(t, CheckPassword(hash, "S3cret!"))
	assert.False(t, CheckPassword("not-a-hash", "s3cret!"))
}
