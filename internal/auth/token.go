package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/shopguard/shopguard/internal/config"
	"github.com/shopguard/shopguard/internal/model"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid or expired session token")
)

// TokenService mints and validates session credentials. A credential is
// only issued once the login flow has fully completed, including any
// required second factor.
type TokenService struct {
	cfg config.TokenConfig
}

// SessionClaims represents the claims in a session credential
type SessionClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Admin bool   `json:"admin,omitempty"`
}

// NewTokenService creates a new TokenService
func NewTokenService(cfg config.TokenConfig) (*TokenService, error) {
	if cfg.SigningSecret == "" {
		return nil, fmt.Errorf("session signing secret is not configured")
	}
	return &TokenService{cfg: cfg}, nil
}

// IssueSession creates a signed session credential for a user
func (s *TokenService) IssueSession(user *model.User) (*model.SessionCredential, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.SessionTTL)

	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.cfg.Issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email: user.Email,
		Admin: user.IsAdmin,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.SigningSecret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	return &model.SessionCredential{
		Token:     signed,
		TokenType: "Bearer",
		ExpiresAt: expiresAt,
	}, nil
}

// ValidateSession parses and validates a session credential
func (s *TokenService) ValidateSession(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.SigningSecret), nil
	}, jwt.WithIssuer(s.cfg.Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
