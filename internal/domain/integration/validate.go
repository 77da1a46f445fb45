package integration

import (
	"fmt"

	"github.com/Strob0t/feedbacksync/internal/domain"
)

// Validate checks that an integration is complete enough to be stored and
// synced. Errors wrap domain.ErrValidation.
func (i *Integration) Validate() error {
	if i.TenantID == "" {
		return fmt.Errorf("tenant_id is required: %w", domain.ErrValidation)
	}
	if i.Type == "" {
		return fmt.Errorf("type is required: %w", domain.ErrValidation)
	}
	if !i.SyncDirection.Valid() {
		return fmt.Errorf("invalid sync direction %q: %w", i.SyncDirection, domain.ErrValidation)
	}
	for idx, m := range i.Config.BoardMappings {
		if m.BoardID == "" {
			return fmt.Errorf("board_mappings[%d]: board_id is required: %w", idx, domain.ErrValidation)
		}
	}
	for idx, m := range i.Config.StatusMappings {
		if m.RemoteStatusID == "" {
			return fmt.Errorf("status_mappings[%d]: remote_status_id is required: %w", idx, domain.ErrValidation)
		}
	}
	return nil
}
