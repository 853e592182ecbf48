// errors.go defines the sentinel error values the lifecycle manager surfaces
// to its HTTP callers. Handlers map them onto status codes; everything else a
// lifecycle operation absorbs into a status transition plus setupError.
package lifecycle

import "errors"

var (
	ErrNotFound         = errors.New("connection not found")
	ErrShopNotFound     = errors.New("shop not found")
	ErrProviderNotFound = errors.New("provider not found")

	// ErrNotOwner is returned when the acting user does not own the shop
	ErrNotOwner = errors.New("shop is owned by another user")

	// ErrNoCapacity is returned when the provider has no free slots left
	ErrNoCapacity = errors.New("provider has no available slots")

	// ErrNotRetryable is returned for manual retries against a connection
	// that is neither FAILED nor PENDING_SETUP.
	ErrNotRetryable = errors.New("connection is not in a retryable state")

	// ErrRetryLimitExceeded is returned when a manual retry would push
	// retryCount past the configured maximum. No state is changed.
	ErrRetryLimitExceeded = errors.New("retry limit exceeded")

	// ErrConflict is returned when a state-mutating operation lost a
	// compare-and-swap race against a concurrent operation on the same
	// connection.
	ErrConflict = errors.New("connection was modified concurrently")

	// ErrDisconnected is returned for operations against a terminally
	// disconnected connection.
	ErrDisconnected = errors.New("connection is disconnected")
)
