// Package auth verifies the session tokens issued by the account service.
// Connections carrying a valid token get an identity; everyone else is
// anonymous.
package auth

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName is the cookie the session token travels in.
const CookieName = "auth_token"

var (
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	// tokenTTL is zero when tokens never expire.
	tokenTTL time.Duration
)

// ErrInvalidToken wraps every verification failure.
var ErrInvalidToken = errors.New("invalid token")

// parseExpire accepts a Go duration, or "never", "0" or "" for no expiry.
func parseExpire(s string) (time.Duration, error) {
	switch s {
	case "", "0", "never":
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("token expire time %q: %w", s, err)
	}
	return d, nil
}

// Init generates a fresh ed25519 key pair. Tokens issued before a restart
// stop verifying, which is fine for local development.
func Init(expire string) error {
	ttl, err := parseExpire(expire)
	if err != nil {
		return err
	}
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return fmt.Errorf("generate ed25519 key pair: %w", err)
	}
	publicKey, privateKey, tokenTTL = pub, priv, ttl
	return nil
}

// InitFromPath loads the key pair shared with the account service.
func InitFromPath(privatePath, publicPath, expire string) error {
	ttl, err := parseExpire(expire)
	if err != nil {
		return err
	}
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return fmt.Errorf("failed to read public key file: %w", err)
	}
	if len(publicKeyData) != ed25519.PublicKeySize {
		return fmt.Errorf("public key has %d bytes, want %d", len(publicKeyData), ed25519.PublicKeySize)
	}
	privateKey = ed25519.PrivateKey(privateKeyData)
	publicKey = ed25519.PublicKey(publicKeyData)
	tokenTTL = ttl
	return nil
}

// CreateJWT signs a token with "sub" = userID.
func CreateJWT(userID string) (string, error) {
	claims := jwt.MapClaims{"sub": userID}
	if tokenTTL > 0 {
		claims["exp"] = time.Now().Add(tokenTTL).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(privateKey)
}

// AuthenticateJWT verifies a token and returns its subject.
func AuthenticateJWT(tokenString string) (string, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return publicKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !t.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("%w: unexpected claims", ErrInvalidToken)
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	return sub, nil
}
