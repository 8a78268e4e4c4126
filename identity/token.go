package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenIssuer mints and verifies the signed bearer tokens that bind a
// caller to an address and role.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer builds an issuer signing with the given HMAC secret.
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}
}

// Issue creates a signed token carrying the address and role claims.
func (t *TokenIssuer) Issue(address string, role Role) (string, error) {
	claims := jwt.MapClaims{
		"address": address,
		"role":    string(role),
		"exp":     time.Now().Add(t.ttl).Unix(),
		"iat":     time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("identity: sign token: %w", err)
	}

	return signed, nil
}

// Verify validates a token and returns the address and role it binds.
func (t *TokenIssuer) Verify(tokenString string) (string, Role, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return "", RoleNone, fmt.Errorf("identity: parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", RoleNone, fmt.Errorf("identity: invalid token")
	}

	address, ok := claims["address"].(string)
	if !ok || address == "" {
		return "", RoleNone, fmt.Errorf("identity: invalid address in token")
	}
	roleStr, ok := claims["role"].(string)
	if !ok {
		return "", RoleNone, fmt.Errorf("identity: invalid role in token")
	}

	return address, Role(roleStr), nil
}
