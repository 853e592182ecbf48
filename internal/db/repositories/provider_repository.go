// provider_repository.go implements ProviderRepository, providing database
// queries for infrastructure provider records and their slot accounting.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopconnect/shopconnect/internal/db/models"
)

// ProviderRepository handles database operations for infrastructure providers
type ProviderRepository struct {
	db *sql.DB
}

// NewProviderRepository creates a new provider repository
func NewProviderRepository(db *sql.DB) *ProviderRepository {
	return &ProviderRepository{db: db}
}

const providerColumns = `id, owner_id, name, service_type, host_url,
       api_key_encrypted, webhook_secret_encrypted, lightning_address,
       total_slots, welcome_text, setup_steps, external_links, contact_info,
       is_active, created_at, updated_at`

// Create inserts a new provider record
func (r *ProviderRepository) Create(ctx context.Context, provider *models.InfrastructureProvider) error {
	query := `
		INSERT INTO infrastructure_providers (
			owner_id, name, service_type, host_url, api_key_encrypted,
			webhook_secret_encrypted, lightning_address, total_slots,
			welcome_text, setup_steps, external_links, contact_info, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at
	`

	setupSteps := provider.SetupSteps
	if len(setupSteps) == 0 {
		setupSteps = []byte("[]")
	}
	externalLinks := provider.ExternalLinks
	if len(externalLinks) == 0 {
		externalLinks = []byte("{}")
	}

	err := r.db.QueryRowContext(ctx, query,
		provider.OwnerID,
		provider.Name,
		provider.ServiceType,
		provider.HostURL,
		provider.APIKeyEncrypted,
		provider.WebhookSecretEncrypted,
		provider.LightningAddress,
		provider.TotalSlots,
		provider.WelcomeText,
		setupSteps,
		externalLinks,
		provider.ContactInfo,
		provider.IsActive,
	).Scan(&provider.ID, &provider.CreatedAt, &provider.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}

	return nil
}

// Get retrieves a provider by ID. Returns (nil, nil) when absent.
func (r *ProviderRepository) Get(ctx context.Context, id uuid.UUID) (*models.InfrastructureProvider, error) {
	query := `SELECT ` + providerColumns + ` FROM infrastructure_providers WHERE id = $1`

	provider := &models.InfrastructureProvider{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&provider.ID,
		&provider.OwnerID,
		&provider.Name,
		&provider.ServiceType,
		&provider.HostURL,
		&provider.APIKeyEncrypted,
		&provider.WebhookSecretEncrypted,
		&provider.LightningAddress,
		&provider.TotalSlots,
		&provider.WelcomeText,
		&provider.SetupSteps,
		&provider.ExternalLinks,
		&provider.ContactInfo,
		&provider.IsActive,
		&provider.CreatedAt,
		&provider.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}
	return provider, nil
}

// ListActive retrieves all active providers
func (r *ProviderRepository) ListActive(ctx context.Context) ([]*models.InfrastructureProvider, error) {
	query := `SELECT ` + providerColumns + ` FROM infrastructure_providers WHERE is_active ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	defer rows.Close()

	var providers []*models.InfrastructureProvider
	for rows.Next() {
		provider := &models.InfrastructureProvider{}
		err := rows.Scan(
			&provider.ID,
			&provider.OwnerID,
			&provider.Name,
			&provider.ServiceType,
			&provider.HostURL,
			&provider.APIKeyEncrypted,
			&provider.WebhookSecretEncrypted,
			&provider.LightningAddress,
			&provider.TotalSlots,
			&provider.WelcomeText,
			&provider.SetupSteps,
			&provider.ExternalLinks,
			&provider.ContactInfo,
			&provider.IsActive,
			&provider.CreatedAt,
			&provider.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}
		providers = append(providers, provider)
	}
	return providers, rows.Err()
}

// UpdateOnboarding persists the owner-editable onboarding content shown to
// newly connected shops.
func (r *ProviderRepository) UpdateOnboarding(ctx context.Context, id uuid.UUID, welcomeText *string, setupSteps, externalLinks []byte, contactInfo *string) error {
	if len(setupSteps) == 0 {
		setupSteps = []byte("[]")
	}
	if len(externalLinks) == 0 {
		externalLinks = []byte("{}")
	}
	query := `
		UPDATE infrastructure_providers
		SET welcome_text = $2, setup_steps = $3, external_links = $4,
		    contact_info = $5, updated_at = now()
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id, welcomeText, setupSteps, externalLinks, contactInfo); err != nil {
		return fmt.Errorf("failed to update provider onboarding: %w", err)
	}
	return nil
}

// SetActive toggles whether the provider appears in the marketplace listing
func (r *ProviderRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	query := `UPDATE infrastructure_providers SET is_active = $2, updated_at = now() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, active); err != nil {
		return fmt.Errorf("failed to set provider active flag: %w", err)
	}
	return nil
}

// OccupiedSlots counts the connections currently consuming a slot on the
// provider (anything not FAILED or DISCONNECTED).
func (r *ProviderRepository) OccupiedSlots(ctx context.Context, id uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*) FROM connections
		WHERE provider_id = $1 AND status IN ('PENDING', 'ACTIVE', 'PENDING_SETUP')
	`
	var count int
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count occupied slots: %w", err)
	}
	return count, nil
}
