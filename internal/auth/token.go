package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the verified principal the external auth layer binds to
// every RPC and gateway handshake.
type Identity struct {
	UserID      int
	OrgID       *int
	DisplayName string
}

// Claims is the token shape issued by the auth service.
type Claims struct {
	UserID      int    `json:"uid"`
	OrgID       *int   `json:"org_id,omitempty"`
	DisplayName string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier validates HMAC-signed tokens issued by the auth service.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier constructs a TokenVerifier.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Verify parses and validates the token, returning the identity it binds.
func (v *TokenVerifier) Verify(token string) (Identity, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, err
	}
	if !parsed.Valid || claims.UserID == 0 {
		return Identity{}, errors.New("invalid token")
	}
	return Identity{UserID: claims.UserID, OrgID: claims.OrgID, DisplayName: claims.DisplayName}, nil
}
