package models

import (
	"time"

	"github.com/google/uuid"
)

// Payment history status tags. The status column is free text by design: it
// carries payment outcomes for monetary rows and event names for the
// zero-amount audit rows the webhook ingestor appends.
const (
	PaymentStatusSuccess = "success"
	PaymentStatusFailed  = "failed"

	AuditStoreModified    = "webhook_store_modified"
	AuditStoreUserRemoved = "webhook_store_user_removed"
	AuditStoreDeleted     = "webhook_store_deleted"
	AuditDisconnected     = "disconnected"
)

// PaymentHistory is one row of the append-only ledger kept per connection.
// Rows are immutable once written; this is the lifecycle's only persisted
// audit trail. Audit rows carry amount 0.
type PaymentHistory struct {
	ID            uuid.UUID `db:"id"`
	ConnectionID  uuid.UUID `db:"connection_id"`
	AmountSats    int64     `db:"amount_sats"`
	Status        string    `db:"status"`
	PaymentMethod string    `db:"payment_method"`
	Preimage      *string   `db:"preimage"`
	ErrorMessage  *string   `db:"error_message"`
	CreatedAt     time.Time `db:"created_at"`
}
