package service

import (
	"fmt"
	"time"

	"instant-payout/config"

	"github.com/golang-jwt/jwt/v5"
)

// TokenServiceImpl implements ports.TokenService with HS256 JWTs. The
// only claim the pipeline cares about is the subject: the user id a
// realtime subscription is bound to.
type TokenServiceImpl struct {
	secret []byte
	issuer string
}

// NewTokenService creates a new TokenServiceImpl.
func NewTokenService(cfg config.JWTConfig) *TokenServiceImpl {
	return &TokenServiceImpl{secret: []byte(cfg.Secret), issuer: cfg.Issuer}
}

// Issue mints a subscription token for userID.
func (s *TokenServiceImpl) Issue(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Validate parses and verifies a token, returning its user id.
func (s *TokenServiceImpl) Validate(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return claims.Subject, nil
}
