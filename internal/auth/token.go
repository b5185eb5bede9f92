// Package auth verifies the bearer tokens presented on API requests
// and socket connections. Issuing accounts is someone else's job; we
// only check signatures and unpack claims.
package auth

import (
	"errors"
	"time"

	jwt "github.com/dgrijalva/jwt-go"
)

const (
	RoleRider  = "rider"
	RoleDriver = "driver"
)

// Identity is the authenticated caller extracted from a token.
type Identity struct {
	ID    string
	Name  string
	Phone string
	Role  string
}

var ErrInvalidToken = errors.New("invalid token")

type Tokens struct {
	secret []byte
}

func NewTokens(secret string) *Tokens {
	return &Tokens{secret: []byte(secret)}
}

// Issue signs an identity token. Used by tests and tooling; the
// production issuer lives in the account service.
func (t *Tokens) Issue(id Identity, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":   id.ID,
		"name":  id.Name,
		"phone": id.Phone,
		"role":  id.Role,
		"exp":   time.Now().Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Verify checks the signature and expiry and unpacks the identity.
func (t *Tokens) Verify(tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	id := Identity{
		ID:    stringClaim(claims, "sub"),
		Name:  stringClaim(claims, "name"),
		Phone: stringClaim(claims, "phone"),
		Role:  stringClaim(claims, "role"),
	}
	if id.ID == "" {
		return Identity{}, ErrInvalidToken
	}
	return id, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}
