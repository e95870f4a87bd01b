// internal/auth/gateway.go

// Package auth verifies gateway-issued caller tokens. Identity management
// (login, OAuth, refresh) lives in an external service; by the time a token
// reaches this service it only needs its signature and subject checked.
package auth

import (
	"crypto/rand"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
)

var secret []byte

// Init loads the shared HMAC secret from GATEWAY_TOKEN_SECRET. Without one,
// a random per-process secret is generated; tokens then only verify against
// this instance, which is fine for dev and tests.
func Init() {
	if s := os.Getenv("GATEWAY_TOKEN_SECRET"); s != "" {
		secret = []byte(s)
		return
	}
	secret = make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		fmt.Printf("failed to generate ephemeral gateway secret: %v\n", err)
		os.Exit(1)
	}
	log.Warn("GATEWAY_TOKEN_SECRET not set; using an ephemeral per-process secret")
}

// CreateToken signs a token with "sub" = userID. Used by dev tooling and tests.
func CreateToken(userID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": userID})
	return token.SignedString(secret)
}

// Authenticate verifies tokenString and returns its subject.
func Authenticate(tokenString string) (string, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("jwt parse error: %w", err)
	}
	if !t.Valid {
		return "", fmt.Errorf("invalid token")
	}
	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid jwt claims")
	}
	userID, ok := claims["sub"].(string)
	if !ok {
		return "", fmt.Errorf("missing sub in jwt")
	}
	return userID, nil
}
