package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/nfrund/periskope/internal/domain"
)

const tokenIssuer = "periskope"

// linkClaims are carried by a magic link token. Subject is the email and ID
// the login request the link confirms.
type linkClaims struct {
	jwt.RegisteredClaims
}

func issueToken(secret []byte, req *domain.LoginRequest, now time.Time) (string, error) {
	claims := linkClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   req.Email,
			ID:        req.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(req.ExpiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign magic link token: %w", err)
	}
	return signed, nil
}

func parseToken(secret []byte, token string, now time.Time) (*linkClaims, error) {
	claims := &linkClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	if claims.Issuer != tokenIssuer || claims.ID == "" || claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing claims", domain.ErrInvalidToken)
	}
	if claims.ExpiresAt == nil || !now.Before(claims.ExpiresAt.Time) {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidToken, errors.New("token expired"))
	}
	return claims, nil
}
