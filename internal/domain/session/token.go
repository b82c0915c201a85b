package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the payload of a session token.
type Claims struct {
	Email string `json:"email"`
	Role  Role   `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 session tokens.
type TokenIssuer struct {
	secretKey []byte
	issuer    string
}

// NewTokenIssuer builds an issuer. An empty secret is replaced by a random
// one, so tokens only verify within the current process.
func NewTokenIssuer(secretKey, issuer string) *TokenIssuer {
	if secretKey == "" {
		secretKey = uuid.NewString() + uuid.NewString()
	}
	return &TokenIssuer{secretKey: []byte(secretKey), issuer: issuer}
}

// Issue signs a token for user that expires at expiry.
func (ti *TokenIssuer) Issue(user User, issuedAt, expiry time.Time) (string, error) {
	if ti == nil {
		return "", errors.New("token issuer is nil")
	}
	claims := Claims{
		Email: user.Email,
		Role:  user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ti.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ti.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify validates the signature and expiry and returns the claims.
func (ti *TokenIssuer) Verify(tokenString string) (*Claims, error) {
	if ti == nil {
		return nil, errors.New("token issuer is nil")
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ti.secretKey, nil
	}, jwt.WithIssuer(ti.issuer))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
