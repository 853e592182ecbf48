// payment_history_repository.go implements PaymentHistoryRepository, the
// append-only ledger of payment attempts and webhook audit markers. Rows are
// never updated or deleted; replayed webhook events intentionally produce
// duplicate audit rows.
package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopconnect/shopconnect/internal/db/models"
)

// PaymentHistoryRepository handles database operations for the payment ledger
type PaymentHistoryRepository struct {
	db *sqlx.DB
}

// NewPaymentHistoryRepository creates a new payment history repository
func NewPaymentHistoryRepository(db *sqlx.DB) *PaymentHistoryRepository {
	return &PaymentHistoryRepository{db: db}
}

// Append writes one immutable ledger row
func (r *PaymentHistoryRepository) Append(ctx context.Context, entry *models.PaymentHistory) error {
	query := `
		INSERT INTO payment_history (
			connection_id, amount_sats, status, payment_method, preimage, error_message
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(ctx, query,
		entry.ConnectionID, entry.AmountSats, entry.Status,
		entry.PaymentMethod, entry.Preimage, entry.ErrorMessage,
	).Scan(&entry.ID, &entry.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to append payment history: %w", err)
	}
	return nil
}

// ListByConnection retrieves the ledger of one connection, newest first
func (r *PaymentHistoryRepository) ListByConnection(ctx context.Context, connectionID uuid.UUID) ([]*models.PaymentHistory, error) {
	var entries []*models.PaymentHistory
	query := `SELECT * FROM payment_history WHERE connection_id = $1 ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &entries, query, connectionID); err != nil {
		return nil, fmt.Errorf("failed to list payment history: %w", err)
	}
	return entries, nil
}
