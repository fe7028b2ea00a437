package crypto

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims issued for an authenticated player.
type Claims struct {
	// DisplayName is the player's display name at issue time.
	DisplayName string `json:"displayName"`
	jwt.RegisteredClaims
}

// JWTManager issues and verifies HMAC-signed bearer tokens.
type JWTManager struct {
	secret []byte
	ttl    time.Duration
}

// NewJWTManager creates a JWT manager from the server master secret.
func NewJWTManager(masterSecret string, ttl time.Duration) (*JWTManager, error) {
	if masterSecret == "" {
		return nil, fmt.Errorf("master secret is required")
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &JWTManager{secret: []byte(masterSecret), ttl: ttl}, nil
}

// IssueToken signs a token for the given account.
func (m *JWTManager) IssueToken(accountID, displayName string) (string, error) {
	now := time.Now()
	claims := Claims{
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken parses and validates a bearer token.
func (m *JWTManager) VerifyToken(raw string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
