package orchestrator

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

const (
	signingKeySize = 32
	tokenIssuer    = "pio"
)

var signingKeyInfo = []byte("pio.orchestrator.token.v1")

// TokenIssuer signs short-lived HS256 bearer tokens with a key derived from
// the profile secret, so the secret itself never leaves the workstation
type TokenIssuer struct {
	key     []byte
	subject string
	ttl     time.Duration
	now     func() time.Time
}

func NewTokenIssuer(secret, subject string, ttl time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, errors.New("profile secret not configured")
	}
	key, err := DeriveSigningKey(secret)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TokenIssuer{key: key, subject: subject, ttl: ttl, now: time.Now}, nil
}

// DeriveSigningKey expands the profile secret with HKDF-SHA256
func DeriveSigningKey(secret string) ([]byte, error) {
	reader := hkdf.New(sha256.New, []byte(secret), nil, signingKeyInfo)
	key := make([]byte, signingKeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	return key, nil
}

func (t *TokenIssuer) Issue() (string, error) {
	issuedAt := t.now()
	claims := jwt.MapClaims{
		"iss": tokenIssuer,
		"sub": t.subject,
		"jti": uuid.NewString(),
		"iat": issuedAt.Unix(),
		"exp": issuedAt.Add(t.ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
