package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"visaconnect-relay/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrMissingUser  = errors.New("token carries no user id")
)

// TokenService verifies bearer tokens issued by the identity provider and signs tokens for tooling.
type TokenService struct {
	secret []byte
	issuer string
	expire time.Duration
}

func NewTokenService(cfg config.JWTConfig) *TokenService {
	return &TokenService{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		expire: cfg.ExpirationTime,
	}
}

// VerifyToken validates the signature and expiry of token and returns the user id it names.
// The id is read from "sub", falling back to "user_id".
func (s *TokenService) VerifyToken(ctx context.Context, token string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	switch v := claims["user_id"].(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case float64:
		return fmt.Sprintf("%.0f", v), nil
	}
	return "", ErrMissingUser
}

// IssueToken signs a token for userID valid for the configured expiration.
func (s *TokenService) IssueToken(userID string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"iss": s.issuer,
		"iat": now.Unix(),
		"exp": now.Add(s.expire).Unix(),
	})
	return token.SignedString(s.secret)
}
