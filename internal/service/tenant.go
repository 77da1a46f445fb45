package service

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"slices"

	"github.com/Strob0t/feedbacksync/internal/domain"
	"github.com/Strob0t/feedbacksync/internal/domain/integration"
	"github.com/Strob0t/feedbacksync/internal/domain/tenant"
	"github.com/Strob0t/feedbacksync/internal/port/database"
	"github.com/Strob0t/feedbacksync/internal/port/remoteprovider"
)

// CredentialSealer encrypts integration credentials for storage.
type CredentialSealer interface {
	Encrypt(creds map[string]string) (string, error)
}

// TenantService provisions tenants, boards and integrations.
type TenantService struct {
	store  database.ProvisioningStore
	sealer CredentialSealer
}

// NewTenantService creates a new TenantService.
func NewTenantService(store database.ProvisioningStore, sealer CredentialSealer) *TenantService {
	return &TenantService{store: store, sealer: sealer}
}

var slugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,62}[a-z0-9]$`)

func validateSlug(slug string) error {
	if !slugRegex.MatchString(slug) {
		return fmt.Errorf("invalid slug %q: must be 3-64 lowercase alphanumeric characters or hyphens: %w", slug, domain.ErrValidation)
	}
	return nil
}

// CreateTenant validates and creates a new tenant. BaseURL is the public
// origin deep links are built on.
func (s *TenantService) CreateTenant(ctx context.Context, req tenant.CreateRequest) (*tenant.Tenant, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("tenant name is required: %w", domain.ErrValidation)
	}
	if err := validateSlug(req.Slug); err != nil {
		return nil, err
	}
	u, err := url.Parse(req.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: %w", req.BaseURL, domain.ErrValidation)
	}
	return s.store.CreateTenant(ctx, req)
}

// CreateBoard validates and creates a board of a tenant.
func (s *TenantService) CreateBoard(ctx context.Context, tenantID, name, slug string) (string, error) {
	if tenantID == "" || name == "" {
		return "", fmt.Errorf("tenant id and board name are required: %w", domain.ErrValidation)
	}
	if err := validateSlug(slug); err != nil {
		return "", err
	}
	return s.store.CreateBoard(ctx, tenantID, name, slug)
}

// CreateIntegration seals creds and stores a new enabled integration. The
// type must name a registered provider.
func (s *TenantService) CreateIntegration(ctx context.Context, in *integration.Integration, creds map[string]string) (*integration.Integration, error) {
	if !slices.Contains(remoteprovider.Available(), in.Type) {
		return nil, fmt.Errorf("unknown integration type %q (available: %v): %w", in.Type, remoteprovider.Available(), domain.ErrValidation)
	}
	if in.SyncDirection == "" {
		in.SyncDirection = integration.DirectionBidirectional
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	sealed, err := s.sealer.Encrypt(creds)
	if err != nil {
		return nil, fmt.Errorf("seal credentials: %w", err)
	}
	in.EncryptedCredentials = sealed
	in.Enabled = true
	return s.store.CreateIntegration(ctx, in)
}
