// connection_repository.go implements ConnectionRepository, the persistence
// layer under the connection lifecycle manager. Status writes honour the
// one-way DISCONNECTED guard at the SQL level, and the manual-retry write is a
// compare-and-swap on the row's version column so racing retries lose cleanly
// instead of double-dispatching a payment.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopconnect/shopconnect/internal/db/models"
)

// ErrVersionConflict is returned when a compare-and-swap update lost a race:
// the row's version no longer matches the one the caller read.
var ErrVersionConflict = errors.New("repositories: connection was modified concurrently")

// ConnectionRepository handles database operations for connections
type ConnectionRepository struct {
	db *sqlx.DB
}

// NewConnectionRepository creates a new connection repository
func NewConnectionRepository(db *sqlx.DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

// Create inserts a new connection in its initial PENDING state
func (r *ConnectionRepository) Create(ctx context.Context, conn *models.Connection) error {
	query := `
		INSERT INTO connections (
			shop_id, provider_id, connection_type,
			subscription_amount_sats, subscription_interval
		) VALUES ($1, $2, $3, $4, $5)
		RETURNING id, status, retry_count, version, created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query,
		conn.ShopID, conn.ProviderID, conn.ConnectionType,
		conn.SubscriptionAmountSats, conn.SubscriptionInterval,
	).Scan(&conn.ID, &conn.Status, &conn.RetryCount, &conn.Version, &conn.CreatedAt, &conn.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create connection: %w", err)
	}
	return nil
}

// Get retrieves a connection by ID. Returns (nil, nil) when absent.
func (r *ConnectionRepository) Get(ctx context.Context, id uuid.UUID) (*models.Connection, error) {
	var conn models.Connection
	query := `SELECT * FROM connections WHERE id = $1`
	err := r.db.GetContext(ctx, &conn, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return &conn, nil
}

// ListByShop retrieves all connections of a shop
func (r *ConnectionRepository) ListByShop(ctx context.Context, shopID uuid.UUID) ([]*models.Connection, error) {
	var conns []*models.Connection
	query := `SELECT * FROM connections WHERE shop_id = $1 ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &conns, query, shopID); err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	return conns, nil
}

// ListByProvider retrieves all connections of a provider
func (r *ConnectionRepository) ListByProvider(ctx context.Context, providerID uuid.UUID) ([]*models.Connection, error) {
	var conns []*models.Connection
	query := `SELECT * FROM connections WHERE provider_id = $1 ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &conns, query, providerID); err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	return conns, nil
}

// UpdateStatus writes a new lifecycle status and diagnostic. DISCONNECTED rows
// are never touched: the terminal state is enforced here rather than trusted
// to every caller.
func (r *ConnectionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.ConnectionStatus, setupError *string) error {
	query := `
		UPDATE connections
		SET status = $2, setup_error = $3, updated_at = now()
		WHERE id = $1 AND status <> 'DISCONNECTED'
	`
	if _, err := r.db.ExecContext(ctx, query, id, status, setupError); err != nil {
		return fmt.Errorf("failed to update connection status: %w", err)
	}
	return nil
}

// BeginRetry atomically moves a retryable connection back to PENDING and
// increments its persisted retry counter. The version compare-and-swap makes
// concurrent manual retries on the same connection fail with
// ErrVersionConflict instead of both dispatching.
func (r *ConnectionRepository) BeginRetry(ctx context.Context, id uuid.UUID, version int) error {
	query := `
		UPDATE connections
		SET status = 'PENDING', retry_count = retry_count + 1,
		    setup_error = NULL, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2 AND status IN ('FAILED', 'PENDING_SETUP')
	`
	res, err := r.db.ExecContext(ctx, query, id, version)
	if err != nil {
		return fmt.Errorf("failed to begin retry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to begin retry: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// Disconnect forces the terminal DISCONNECTED state. Idempotent: a second
// call finds no eligible row and does nothing.
func (r *ConnectionRepository) Disconnect(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE connections
		SET status = 'DISCONNECTED', setup_error = $2, version = version + 1, updated_at = now()
		WHERE id = $1 AND status <> 'DISCONNECTED'
	`
	if _, err := r.db.ExecContext(ctx, query, id, reason); err != nil {
		return fmt.Errorf("failed to disconnect connection: %w", err)
	}
	return nil
}

// SetWalletSecret stores the encrypted NWC connection string
func (r *ConnectionRepository) SetWalletSecret(ctx context.Context, id uuid.UUID, sealed string) error {
	query := `UPDATE connections SET nwc_connection_encrypted = $2, updated_at = now() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, sealed); err != nil {
		return fmt.Errorf("failed to store wallet secret: %w", err)
	}
	return nil
}

// SetLastPayment records the identifier of the most recent settled payment
func (r *ConnectionRepository) SetLastPayment(ctx context.Context, id uuid.UUID, paymentID string) error {
	query := `UPDATE connections SET last_payment_id = $2, updated_at = now() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, paymentID); err != nil {
		return fmt.Errorf("failed to record payment id: %w", err)
	}
	return nil
}
