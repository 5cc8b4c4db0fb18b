package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Tyrowin/portalchat/internal/common"
)

// Claims carries the opaque session id inside the signed cookie.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
}

// SignToken returns an HS256 JWT for sid that expires at expiresAt.
func SignToken(sid string, secret []byte, expiresAt time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		SessionID: sid,
	})

	signed, err := token.SignedString(secret)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// ParseToken verifies signed and returns the session id. Any failure is
// reported as common.ErrUnauthorized.
func ParseToken(signed string, secret []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(signed, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %w", common.ErrUnauthorized, err)
	}

	if !token.Valid || claims.SessionID == "" {
		return "", fmt.Errorf("%w: %w", common.ErrUnauthorized, errors.New("invalid session token"))
	}

	return claims.SessionID, nil
}
