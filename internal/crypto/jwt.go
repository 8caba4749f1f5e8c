// Package crypto holds the principal token manager. Tokens are Ed25519 signed
// JWTs whose key pair is derived from a shared master secret, so any process
// configured with the same secret can mint and verify them.
package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// keyInfo binds derived keys to their use.
const keyInfo = "localhost-relay/principal-token/ed25519"

// Issuer is written into every token minted by CreateToken.
const Issuer = "localhost-relay"

// TokenClaims represents the JWT token payload. The principal id is carried in
// the registered subject claim.
type TokenClaims struct {
	Extras map[string]interface{} `json:"extras,omitempty"`
	jwt.RegisteredClaims
}

// JWTManager handles principal token creation and verification.
type JWTManager struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	now        func() time.Time
}

// NewJWTManager creates a new JWT manager from master secret.
func NewJWTManager(masterSecret string) (*JWTManager, error) {
	if masterSecret == "" {
		return nil, errors.New("jwt master secret is empty")
	}

	// Derive Ed25519 key from master secret
	seed := make([]byte, ed25519.SeedSize)
	kdf := hkdf.New(sha256.New, []byte(masterSecret), nil, []byte(keyInfo))
	if _, err := io.ReadFull(kdf, seed); err != nil {
		return nil, fmt.Errorf("failed to derive signing key: %w", err)
	}
	privateKey := ed25519.NewKeyFromSeed(seed)
	publicKey := privateKey.Public().(ed25519.PublicKey)

	return &JWTManager{
		privateKey: privateKey,
		publicKey:  publicKey,
		now:        time.Now,
	}, nil
}

// CreateToken creates a token for principalID. A ttl of zero mints a token
// without expiry.
func (m *JWTManager) CreateToken(principalID string, ttl time.Duration, extras map[string]interface{}) (string, error) {
	if principalID == "" {
		return "", errors.New("principal id is empty")
	}
	now := m.now()
	claims := TokenClaims{
		Extras: extras,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principalID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    Issuer,
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(m.privateKey)
}

// VerifyToken verifies and parses a token. The subject must be present.
func (m *JWTManager) VerifyToken(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.publicKey, nil
	}, jwt.WithTimeFunc(m.now), jwt.WithIssuer(Issuer))

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}
