package models

import (
	"time"

	"github.com/google/uuid"
)

// Shop represents a merchant storefront listed on the marketplace.
// The btcpay_* credential fields are nil until the shop has been provisioned
// on a managed provider; they are written only by the connection lifecycle
// manager on provisioning success and cleared by the webhook ingestor when the
// provider reports the remote store deleted.
type Shop struct {
	ID               uuid.UUID `db:"id"`
	OwnerID          uuid.UUID `db:"owner_id"`
	Name             string    `db:"name"`
	Description      *string   `db:"description"`
	Website          *string   `db:"website"`
	ContactEmail     *string   `db:"contact_email"`
	LightningAddress *string   `db:"lightning_address"`
	IsPublic         bool      `db:"is_public"`
	BTCPayStoreID    *string   `db:"btcpay_store_id"`
	BTCPayUserID     *string   `db:"btcpay_user_id"`
	BTCPayUsername   *string   `db:"btcpay_username"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// Provisioned reports whether the shop has remote store credentials on file
func (s *Shop) Provisioned() bool {
	return s.BTCPayStoreID != nil && *s.BTCPayStoreID != ""
}
