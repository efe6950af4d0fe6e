// Package auth resolves the calling owner from a bearer JWT.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the owner id issued by the identity provider. Tokens that
// only set the standard subject are accepted too.
type Claims struct {
	OwnerID string `json:"owner_id,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) Owner() string {
	if c.OwnerID != "" {
		return c.OwnerID
	}
	return c.Subject
}

type JWTManager struct {
	secretKey []byte
	issuer    string
}

func NewJWTManager(secret, issuer string) *JWTManager {
	return &JWTManager{secretKey: []byte(secret), issuer: issuer}
}

// GenerateToken signs an HS256 token for owner. Used by the CLI and tests.
func (m *JWTManager) GenerateToken(owner string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		OwnerID: owner,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   owner,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secretKey)
}

func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secretKey, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Owner() == "" {
		return nil, errors.New("token carries no owner")
	}
	return claims, nil
}
