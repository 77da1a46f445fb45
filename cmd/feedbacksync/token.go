package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Strob0t/feedbacksync/internal/config"
	"github.com/Strob0t/feedbacksync/internal/domain/user"
	"github.com/Strob0t/feedbacksync/internal/secrets"
	"github.com/Strob0t/feedbacksync/internal/service"
)

// runToken issues an access token for a principal of the host application.
func runToken(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	id := fs.String("user", "", "user id (defaults to the email)")
	email := fs.String("email", "", "user email (required)")
	tenantID := fs.String("tenant", "", "tenant id (required)")
	role := fs.String("role", string(user.RoleMember), "role: admin or member")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *tenantID == "" {
		return fmt.Errorf("--email and --tenant are required")
	}
	if *id == "" {
		*id = *email
	}

	vault, err := secrets.NewVault(secrets.EnvLoader(secrets.KeyJWTSecret))
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	authCfg := authConfig(cfg.Auth, vault)
	if authCfg.JWTSecret == "" {
		return fmt.Errorf("%s is not set", secrets.KeyJWTSecret)
	}

	tok, err := service.NewAuthService(authCfg).IssueToken(&user.User{
		ID:       *id,
		Email:    *email,
		Role:     user.Role(*role),
		TenantID: *tenantID,
	}, *ttl)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Fprintln(os.Stdout, tok)
	return nil
}
