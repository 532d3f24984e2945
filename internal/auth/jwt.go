// Package auth turns bearer tokens into caller identities. Credential
// checks happen in the identity service that issues the tokens.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"comsy.local/booking-service/internal/booking"
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Caller converts the claims to a caller identity. Unknown roles are
// treated as plain users.
func (c *Claims) Caller() booking.Caller {
	role := booking.RoleUser
	if booking.Role(c.Role) == booking.RoleAdmin {
		role = booking.RoleAdmin
	}
	return booking.Caller{ID: c.UserID, Role: role}
}

// Tokens signs and verifies HS256 tokens with a shared secret.
type Tokens struct {
	secret []byte
	ttl    time.Duration
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Tokens{secret: []byte(secret), ttl: ttl}
}

func (t *Tokens) GenerateToken(userID string, role booking.Role) (string, error) {
	expiration := time.Now().Add(t.ttl)
	claims := &Claims{
		UserID: userID,
		Role:   string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiration),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

func (t *Tokens) ParseToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, errors.Wrap(ErrInvalidToken, err.Error())
	}
	if !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
