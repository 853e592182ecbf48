// shop_repository.go implements ShopRepository, providing database queries for
// shop CRUD, public-listing reads, and the provider-credential writes driven by
// the connection lifecycle.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopconnect/shopconnect/internal/db/models"
)

// ShopRepository handles database operations for shops
type ShopRepository struct {
	db *sql.DB
}

// NewShopRepository creates a new shop repository
func NewShopRepository(db *sql.DB) *ShopRepository {
	return &ShopRepository{db: db}
}

const shopColumns = `id, owner_id, name, description, website, contact_email,
       lightning_address, is_public, btcpay_store_id, btcpay_user_id,
       btcpay_username, created_at, updated_at`

// Create inserts a new shop record
func (r *ShopRepository) Create(ctx context.Context, shop *models.Shop) error {
	query := `
		INSERT INTO shops (owner_id, name, description, website, contact_email, lightning_address, is_public)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query,
		shop.OwnerID,
		shop.Name,
		shop.Description,
		shop.Website,
		shop.ContactEmail,
		shop.LightningAddress,
		shop.IsPublic,
	).Scan(&shop.ID, &shop.CreatedAt, &shop.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create shop: %w", err)
	}

	return nil
}

// Get retrieves a shop by ID. Returns (nil, nil) when absent.
func (r *ShopRepository) Get(ctx context.Context, id uuid.UUID) (*models.Shop, error) {
	query := `SELECT ` + shopColumns + ` FROM shops WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetByStoreID retrieves the shop provisioned with the given remote store ID.
// Returns (nil, nil) when no shop matches.
func (r *ShopRepository) GetByStoreID(ctx context.Context, storeID string) (*models.Shop, error) {
	query := `SELECT ` + shopColumns + ` FROM shops WHERE btcpay_store_id = $1 LIMIT 1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, storeID))
}

// ListByOwner retrieves all shops belonging to a user
func (r *ShopRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Shop, error) {
	query := `SELECT ` + shopColumns + ` FROM shops WHERE owner_id = $1 ORDER BY created_at DESC`
	return r.scanMany(ctx, query, ownerID)
}

// ListPublic retrieves publicly visible shops for the marketplace directory
func (r *ShopRepository) ListPublic(ctx context.Context, limit, offset int) ([]*models.Shop, error) {
	if limit < 1 || limit > 100 {
		limit = 50
	}
	query := `SELECT ` + shopColumns + ` FROM shops WHERE is_public ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	return r.scanMany(ctx, query, limit, offset)
}

// Update persists the owner-editable fields of a shop. Provider credential
// fields are written only through SetCredentials and ClearCredentials.
func (r *ShopRepository) Update(ctx context.Context, shop *models.Shop) error {
	query := `
		UPDATE shops
		SET name = $2, description = $3, website = $4, contact_email = $5,
		    lightning_address = $6, is_public = $7, updated_at = now()
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query,
		shop.ID,
		shop.Name,
		shop.Description,
		shop.Website,
		shop.ContactEmail,
		shop.LightningAddress,
		shop.IsPublic,
	); err != nil {
		return fmt.Errorf("failed to update shop: %w", err)
	}
	return nil
}

// SetCredentials stores the remote user/store credentials gained through
// provisioning. Called only by the connection lifecycle manager.
func (r *ShopRepository) SetCredentials(ctx context.Context, id uuid.UUID, storeID, userID, username string) error {
	query := `
		UPDATE shops
		SET btcpay_store_id = $2, btcpay_user_id = $3, btcpay_username = $4, updated_at = now()
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id, storeID, userID, username); err != nil {
		return fmt.Errorf("failed to set shop credentials: %w", err)
	}
	return nil
}

// ClearCredentials nulls the remote credential fields after the provider
// reports the store deleted.
func (r *ShopRepository) ClearCredentials(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE shops
		SET btcpay_store_id = NULL, btcpay_user_id = NULL, btcpay_username = NULL, updated_at = now()
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to clear shop credentials: %w", err)
	}
	return nil
}

func (r *ShopRepository) scanOne(row *sql.Row) (*models.Shop, error) {
	shop := &models.Shop{}
	err := row.Scan(
		&shop.ID,
		&shop.OwnerID,
		&shop.Name,
		&shop.Description,
		&shop.Website,
		&shop.ContactEmail,
		&shop.LightningAddress,
		&shop.IsPublic,
		&shop.BTCPayStoreID,
		&shop.BTCPayUserID,
		&shop.BTCPayUsername,
		&shop.CreatedAt,
		&shop.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get shop: %w", err)
	}
	return shop, nil
}

func (r *ShopRepository) scanMany(ctx context.Context, query string, args ...interface{}) ([]*models.Shop, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list shops: %w", err)
	}
	defer rows.Close()

	var shops []*models.Shop
	for rows.Next() {
		shop := &models.Shop{}
		err := rows.Scan(
			&shop.ID,
			&shop.OwnerID,
			&shop.Name,
			&shop.Description,
			&shop.Website,
			&shop.ContactEmail,
			&shop.LightningAddress,
			&shop.IsPublic,
			&shop.BTCPayStoreID,
			&shop.BTCPayUserID,
			&shop.BTCPayUsername,
			&shop.CreatedAt,
			&shop.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan shop: %w", err)
		}
		shops = append(shops, shop)
	}
	return shops, rows.Err()
}
