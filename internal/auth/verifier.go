package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// TokenVerifier is the contract with the authentication collaborator: it turns
// a bearer token into the opaque identity string used across the chat service.
// Token issuance lives elsewhere.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

var ErrInvalidToken = errors.New("invalid token")

// JWTVerifier validates HMAC-signed tokens issued by the auth collaborator and
// extracts the identity from the subject claim.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier builds a verifier for the shared HMAC secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// Verify parses and validates the token and returns the subject identity.
func (v *JWTVerifier) Verify(_ context.Context, tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return "", ErrInvalidToken
	}
	return subject, nil
}
