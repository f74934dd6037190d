package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokens_IssueAndVerify(t *testing.T) {
	t.Parallel()

	tokens := NewTokens("super-secret", time.Hour)

	tok, err := tokens.Issue("user-123")
	require.NoError(t, err)

	sub, err := tokens.Subject(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-123", sub)
}

func TestTokens_DistinctPerIssue(t *testing.T) {
	t.Parallel()

	tokens := NewTokens("secret", time.Hour)
	a, err := tokens.Issue("u1")
	require.NoError(t, err)
	b, err := tokens.Issue("u1")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestTokens_Expired(t *testing.T) {
	t.Parallel()

	tokens := NewTokens("secret", -time.Second)
	tok, err := tokens.Issue("u1")
	require.NoError(t, err)

	_, err = tokens.Subject(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestTokens_WrongSecret(t *testing.T) {
	t.Parallel()

	tok, err := NewTokens("right-secret", time.Hour).Issue("u2")
	require.NoError(t, err)

	_, err = NewTokens("wrong-secret", time.Hour).Subject(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokens_Malformed(t *testing.T) {
	t.Parallel()

	_, err := NewTokens("k", time.Hour).Subject("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokens_RejectsOtherAlgorithms(t *testing.T) {
	t.Parallel()

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	tok, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewTokens("k", time.Hour).Subject(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokens_RequiresSubjectAndExpiry(t *testing.T) {
	t.Parallel()

	secret := []byte("k")
	noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(secret)
	require.NoError(t, err)
	_, err = NewTokens("k", time.Hour).Subject(noSub)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "u1",
	}).SignedString(secret)
	require.NoError(t, err)
	_, err = NewTokens("k", time.Hour).Subject(noExp)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
