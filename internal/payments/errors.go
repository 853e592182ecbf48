// errors.go defines sentinel error values for the payment initiator and its
// wallet/invoice collaborators.
package payments

import "errors"

var (
	// ErrNotFound is returned when the referenced connection, or its stored
	// wallet secret, does not exist.
	ErrNotFound = errors.New("connection not found")

	// Wallet connection errors
	ErrWalletURIMalformed = errors.New("wallet connection string is malformed")

	// Invoice resolution errors
	ErrInvoiceRequest = errors.New("invoice request failed")

	// Payment settlement errors
	ErrPaymentRejected = errors.New("wallet rejected the payment")
	ErrPaymentTimeout  = errors.New("timed out waiting for payment confirmation")
)

// Exact diagnostic strings surfaced to API callers for configuration
// problems. Dashboard clients match on these.
const (
	MsgNoSubscriptionAmount = "No subscription amount configured"
	MsgNoLightningAddress   = "Provider lightning address not configured"
)
