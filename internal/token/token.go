// Package token issues and verifies the stateless access tokens handed to
// clients after login or OAuth callback.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/healwise/apiserver/internal/apperr"
	"github.com/healwise/apiserver/types"
)

// DefaultTTL is the lifetime of every issued token.
const DefaultTTL = 7 * 24 * time.Hour

var errInvalidToken = apperr.Authentication("unauthorized")

// Claims is the signed payload: {"user":{"id":..,"role":..},"iat":..,"exp":..}.
type Claims struct {
	User types.Identity `json:"user"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 tokens with a shared secret.
type Issuer struct {
	secret []byte
	now    func() time.Time
}

// Option customizes an Issuer.
type Option func(*Issuer)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// NewIssuer constructs an Issuer. The secret must not be empty.
func NewIssuer(secret string, opts ...Option) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	issuer := &Issuer{
		secret: []byte(secret),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(issuer)
	}
	return issuer, nil
}

// Issue signs a token for the given user.
func (i *Issuer) Issue(userID int, role types.Role) (string, error) {
	now := i.now()
	claims := Claims{
		User: types.Identity{ID: userID, Role: role},
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(DefaultTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", apperr.Internal("failed to create token", fmt.Errorf("sign token: %w", err))
	}
	return signed, nil
}

// Verify checks signature and expiry and returns the identity in the token.
// A token is valid strictly before its expiry instant.
func (i *Issuer) Verify(tokenString string) (types.Identity, error) {
	claims := Claims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return i.secret, nil
	},
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil || !token.Valid {
		return types.Identity{}, errInvalidToken
	}
	if claims.User.ID < 1 || !claims.User.Role.Valid() {
		return types.Identity{}, errInvalidToken
	}
	return claims.User, nil
}
