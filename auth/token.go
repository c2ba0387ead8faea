//go:generate go run go.uber.org/mock/mockgen -source=token.go -destination=../mocks/mock_token.go -package=mocks
package auth

import (
	"chat-hub/errors"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "chat-hub"

// Identity is what a verified token tells us about the caller.
type Identity struct {
	UserID string
}

// ITokenVerifier checks credentials issued by the account system.
type ITokenVerifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// CustomClaims defines the structure of the data stored inside the JWT.
type CustomClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) JWTVerifier {
	return JWTVerifier{secret: []byte(secret)}
}

// Verify parses and validates the signature and expiration of token. A "Bearer " prefix is accepted.
func (v JWTVerifier) Verify(_ context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return Identity{}, errors.ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &CustomClaims{}, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", errors.ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*CustomClaims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return Identity{}, errors.ErrInvalidToken
	}
	return Identity{UserID: claims.UserID}, nil
}

// GenerateToken creates a signed JWT for userID. Used by tooling and tests; production tokens come from the account system.
func GenerateToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &CustomClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
