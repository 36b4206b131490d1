package accounts_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	accounts "github.com/kerliix/go-accounts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return raw
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	raw := signedToken(t, jwt.MapClaims{"sub": "u1", "exp": exp.Unix()})

	got, err := accounts.TokenExpiry(raw)
	require.NoError(t, err)
	assert.True(t, got.Equal(exp))
}

func TestTokenExpiryMissingClaim(t *testing.T) {
	raw := signedToken(t, jwt.MapClaims{"sub": "u1"})
	_, err := accounts.TokenExpiry(raw)
	require.Error(t, err)
}

func TestTokenExpiryGarbage(t *testing.T) {
	_, err := accounts.TokenExpiry("not.a.token")
	require.Error(t, err)
}

func TestTokenExpired(t *testing.T) {
	now := time.Now()
	live := signedToken(t, jwt.MapClaims{"exp": now.Add(time.Hour).Unix()})
	dead := signedToken(t, jwt.MapClaims{"exp": now.Add(-time.Hour).Unix()})

	assert.False(t, accounts.TokenExpired(live, now))
	assert.True(t, accounts.TokenExpired(dead, now))

	// Empty and undecodable tokens count as expired.
	assert.True(t, accounts.TokenExpired("", now))
	assert.True(t, accounts.TokenExpired("garbage", now))
}
