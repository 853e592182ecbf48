package models

import (
	"time"

	"github.com/google/uuid"
)

// ConnectionType distinguishes free listings from paid subscriptions
type ConnectionType string

const (
	ConnectionFreeListing      ConnectionType = "FREE_LISTING"
	ConnectionPaidSubscription ConnectionType = "PAID_SUBSCRIPTION"
)

// ConnectionStatus is the lifecycle state of a shop-provider connection
type ConnectionStatus string

const (
	// StatusPending is the initial state of every connection.
	StatusPending ConnectionStatus = "PENDING"
	// StatusActive means payment and/or provisioning succeeded.
	StatusActive ConnectionStatus = "ACTIVE"
	// StatusPendingSetup means provisioning exhausted its in-request retry
	// budget; the connection is manually retryable.
	StatusPendingSetup ConnectionStatus = "PENDING_SETUP"
	// StatusFailed means a payment attempt failed; manually retryable.
	StatusFailed ConnectionStatus = "FAILED"
	// StatusDisconnected is terminal. Reached only via an external signal
	// (provider webhook) or an explicit disconnect; never left again.
	StatusDisconnected ConnectionStatus = "DISCONNECTED"
)

// Connection is the join entity between one Shop and one
// InfrastructureProvider and the unit of lifecycle state. Rows are never
// deleted, only marked DISCONNECTED. The version column is an optimistic
// concurrency token: state-mutating writes that race on the same row are
// detected by a compare-and-swap on it.
type Connection struct {
	ID                     uuid.UUID        `db:"id"`
	ShopID                 uuid.UUID        `db:"shop_id"`
	ProviderID             uuid.UUID        `db:"provider_id"`
	ConnectionType         ConnectionType   `db:"connection_type"`
	Status                 ConnectionStatus `db:"status"`
	SetupError             *string          `db:"setup_error"`
	RetryCount             int              `db:"retry_count"`
	SubscriptionAmountSats *int64           `db:"subscription_amount_sats"`
	SubscriptionInterval   *string          `db:"subscription_interval"`
	NWCConnectionEncrypted string           `db:"nwc_connection_encrypted"`
	LastPaymentID          *string          `db:"last_payment_id"`
	Version                int              `db:"version"`
	CreatedAt              time.Time        `db:"created_at"`
	UpdatedAt              time.Time        `db:"updated_at"`
}

// Retryable reports whether the connection is in a state an operator may
// manually retry from. The retry budget is checked separately.
func (c *Connection) Retryable() bool {
	return c.Status == StatusFailed || c.Status == StatusPendingSetup
}

// Terminal reports whether the connection has been soft-closed
func (c *Connection) Terminal() bool {
	return c.Status == StatusDisconnected
}
