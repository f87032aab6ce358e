package orchestrator

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveSigningKey(t *testing.T) {
	first, err := DeriveSigningKey("profile-secret")
	require.NoError(t, err)
	second, err := DeriveSigningKey("profile-secret")
	require.NoError(t, err)
	other, err := DeriveSigningKey("another-secret")
	require.NoError(t, err)

	assert.Len(t, first, 32)
	assert.Equal(t, first, second)
	assert.NotEqual(t, first, other)
}

func TestTokenIssuer_IssueAndVerify(t *testing.T) {
	issuer, err := NewTokenIssuer("profile-secret", "machine-123", time.Minute)
	require.NoError(t, err)

	token, err := issuer.Issue()
	require.NoError(t, err)

	claims, err := verifyToken("profile-secret", token)
	require.NoError(t, err)
	assert.Equal(t, "machine-123", claims["sub"])
	assert.Equal(t, "pio", claims["iss"])
	assert.NotEmpty(t, claims["jti"])

	next, err := issuer.Issue()
	require.NoError(t, err)
	assert.NotEqual(t, token, next, "every token carries a fresh jti")
}

func TestTokenIssuer_RejectedTokens(t *testing.T) {
	issuer, err := NewTokenIssuer("profile-secret", "machine-123", time.Minute)
	require.NoError(t, err)
	token, err := issuer.Issue()
	require.NoError(t, err)

	_, err = verifyToken("wrong-secret", token)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	issuer.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expired, err := issuer.Issue()
	require.NoError(t, err)
	_, err = verifyToken("profile-secret", expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestNewTokenIssuer_RequiresSecret(t *testing.T) {
	_, err := NewTokenIssuer("", "machine-123", time.Minute)
	assert.ErrorContains(t, err, "secret")
}

// verifyToken checks a token the way the engine does and returns its claims
func verifyToken(secret, tokenString string) (jwt.MapClaims, error) {
	key, err := DeriveSigningKey(secret)
	if err != nil {
		return nil, err
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return key, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
