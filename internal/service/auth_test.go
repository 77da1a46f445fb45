package service

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Strob0t/feedbacksync/internal/config"
	"github.com/Strob0t/feedbacksync/internal/domain/user"
)

func newTestAuth() *AuthService {
	s := NewAuthService(config.Auth{Enabled: true, JWTSecret: "test-secret", Issuer: "feedbacksync"})
	s.now = func() time.Time { return t0 }
	return s
}

func TestAuthService_IssueAndValidate(t *testing.T) {
	s := newTestAuth()
	token, err := s.IssueToken(&user.User{ID: "u1", Email: "a@example.com", Role: user.RoleAdmin, TenantID: "tenant-1"}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	u, err := s.ValidateAccessToken(token)
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if u.ID != "u1" || u.TenantID != "tenant-1" || u.Role != user.RoleAdmin || u.Email != "a@example.com" {
		t.Fatalf("unexpected principal %+v", u)
	}
}

func TestAuthService_RejectsInvalidTokens(t *testing.T) {
	s := newTestAuth()
	valid, _ := s.IssueToken(&user.User{ID: "u1", Role: user.RoleMember, TenantID: "tenant-1"}, time.Hour)

	expired := newTestAuth()
	expired.now = func() time.Time { return t0.Add(-2 * time.Hour) }
	expiredToken, _ := expired.IssueToken(&user.User{ID: "u1", Role: user.RoleMember, TenantID: "tenant-1"}, time.Hour)

	otherIssuer := NewAuthService(config.Auth{JWTSecret: "test-secret", Issuer: "someone-else"})
	otherIssuer.now = s.now
	foreignToken, _ := otherIssuer.IssueToken(&user.User{ID: "u1", Role: user.RoleMember, TenantID: "tenant-1"}, time.Hour)

	otherSecret := NewAuthService(config.Auth{JWTSecret: "another-secret", Issuer: "feedbacksync"})
	otherSecret.now = s.now
	forgedToken, _ := otherSecret.IssueToken(&user.User{ID: "u1", Role: user.RoleAdmin, TenantID: "tenant-1"}, time.Hour)

	noneToken, _ := jwt.NewWithClaims(jwt.SigningMethodNone, TokenClaims{
		Role: user.RoleAdmin, TenantID: "tenant-1",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1", Issuer: "feedbacksync", ExpiresAt: jwt.NewNumericDate(t0.Add(time.Hour))},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := map[string]string{
		"garbage":      "not.a.token",
		"expired":      expiredToken,
		"wrong issuer": foreignToken,
		"wrong secret": forgedToken,
		"alg none":     noneToken,
		"tampered":     strings.TrimSuffix(valid, valid[len(valid)-2:]) + "xx",
	}
	for name, token := range tests {
		if _, err := s.ValidateAccessToken(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestAuthService_IssueRejectsUnknownRole(t *testing.T) {
	if _, err := newTestAuth().IssueToken(&user.User{ID: "u1", Role: "owner", TenantID: "t"}, time.Hour); err == nil {
		t.Fatal("expected error for unknown role")
	}
}
