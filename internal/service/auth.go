package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/Strob0t/feedbacksync/internal/config"
	"github.com/Strob0t/feedbacksync/internal/domain/user"
)

// ErrInvalidToken is returned for tokens that fail verification.
var ErrInvalidToken = errors.New("invalid token")

// TokenClaims are the claims of an access token.
type TokenClaims struct {
	Email    string    `json:"email,omitempty"`
	Role     user.Role `json:"role"`
	TenantID string    `json:"tenant_id"`
	jwt.RegisteredClaims
}

// AuthService issues and verifies HS256 access tokens. Users themselves are
// managed by the host application.
type AuthService struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewAuthService creates an AuthService from the auth config.
func NewAuthService(cfg config.Auth) *AuthService {
	return &AuthService{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.Issuer,
		now:    time.Now,
	}
}

// IssueToken signs an access token for u valid for ttl.
func (s *AuthService) IssueToken(u *user.User, ttl time.Duration) (string, error) {
	if !user.ValidRoles[u.Role] {
		return "", fmt.Errorf("issue token: unknown role %q", u.Role)
	}
	now := s.now()
	claims := TokenClaims{
		Email:    u.Email,
		Role:     u.Role,
		TenantID: u.TenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// ValidateAccessToken verifies a token and returns its principal.
func (s *AuthService) ValidateAccessToken(tokenStr string) (*user.User, error) {
	var claims TokenClaims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" || claims.TenantID == "" || !user.ValidRoles[claims.Role] {
		return nil, fmt.Errorf("%w: incomplete claims", ErrInvalidToken)
	}
	return &user.User{
		ID:       claims.Subject,
		Email:    claims.Email,
		Role:     claims.Role,
		TenantID: claims.TenantID,
	}, nil
}
