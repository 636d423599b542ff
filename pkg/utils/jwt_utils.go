package utils

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// jwtSecretKey signs and verifies session tokens. Set from configuration at
// startup; the default only exists so tests can run without wiring config.
var jwtSecretKey = []byte("rutatotal-dev-session-secret")

// SetJWTSecret installs the signing secret from configuration.
func SetJWTSecret(secret string) {
	if secret != "" {
		jwtSecretKey = []byte(secret)
	}
}

// SessionTokenTTL bounds how long an issued session token stays valid.
const SessionTokenTTL = 12 * time.Hour

// Claims is the session-token claim set. Every token is scoped to exactly one
// identity context so admin and delivery sessions never cross-invalidate.
type Claims struct {
	SessionID string `json:"session_id"`
	Context   string `json:"ctx"`
	Role      string `json:"role"`
	Name      string `json:"name"`
	Anonymous bool   `json:"anonymous"`
	jwt.RegisteredClaims
}

// GenerateSessionToken creates a signed token for a resolved principal.
func GenerateSessionToken(sessionID, identityContext, role, name string, anonymous bool) (string, error) {
	now := time.Now()
	claims := &Claims{
		SessionID: sessionID,
		Context:   identityContext,
		Role:      role,
		Name:      name,
		Anonymous: anonymous,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(SessionTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "rutatotal-backend",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(jwtSecretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return tokenString, nil
}

// ValidateToken parses and validates a session token string.
func ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtSecretKey, nil
	})

	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
