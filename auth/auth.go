// Package auth implements JWT verification for client sockets. A client
// presents a token when it connects; a valid token yields the
// authenticated user name and the capability set ("logs" grants the log
// broadcast channel). Connections without a token are anonymous and hold
// no capabilities.
package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/WRAN-OEVSV/IEEE802.22/errors"
)

// Claims carries the verified identity of a client connection.
type Claims struct {
	User        string
	Permissions []string
}

// HasPermission reports whether the claims include the named capability.
func (c *Claims) HasPermission(permission string) bool {
	for _, p := range c.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// tokenClaims is the wire shape of the JWT payload.
type tokenClaims struct {
	Permissions []string `json:"perms,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HS256-signed tokens against a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for the given shared secret.
func NewVerifier(secret string) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Verifier", "NewVerifier",
			"auth secret must not be empty")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// VerifyToken verifies a token and returns its claims.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, errors.WrapInvalid(errors.New("empty token"), "Verifier", "VerifyToken",
			"read token")
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &tokenClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return v.secret, nil
		})
	if err != nil {
		return nil, errors.WrapInvalid(err, "Verifier", "VerifyToken", "parse token")
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return nil, errors.WrapInvalid(errors.New("invalid token claims"),
			"Verifier", "VerifyToken", "validate claims")
	}

	return &Claims{
		User:        claims.Subject,
		Permissions: claims.Permissions,
	}, nil
}

// MintToken issues an HS256 token for the given user and permissions,
// valid for ttl. Used by operator tooling and tests.
func (v *Verifier) MintToken(user string, permissions []string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})

	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", errors.Wrap(err, "Verifier", "MintToken", "sign token")
	}
	return signed, nil
}
