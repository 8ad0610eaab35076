package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"

	"github.com/example/order-dispatch/internal/models"
)

// ErrAuthInvalid covers bad, missing and expired tokens. The gateway always
// disconnects on it before admission is attempted.
var ErrAuthInvalid = errors.New("invalid auth token")

// TokenVerifier establishes actor identity once per connection.
type TokenVerifier interface {
	Verify(token string) (models.Claims, error)
}

// BearerToken extracts the token from an Authorization-style header value.
func BearerToken(header string) (string, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", fmt.Errorf("%w: missing bearer token", ErrAuthInvalid)
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", fmt.Errorf("%w: empty bearer token", ErrAuthInvalid)
	}
	return token, nil
}

// JWTVerifier validates HMAC-signed tokens issued by the auth service.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(token string) (models.Claims, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return models.Claims{}, fmt.Errorf("%w: %v", ErrAuthInvalid, err)
	}
	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return models.Claims{}, fmt.Errorf("%w: unreadable claims", ErrAuthInvalid)
	}
	id, _ := mapClaims["id"].(string)
	if id == "" {
		return models.Claims{}, fmt.Errorf("%w: claims carry no actor id", ErrAuthInvalid)
	}
	actorType, _ := mapClaims["actorType"].(string)
	return models.Claims{ID: id, ActorType: models.ActorType(actorType)}, nil
}
