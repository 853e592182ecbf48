// errors.go defines sentinel error values shared by all provider client
// implementations, covering configuration, user, store, and webhook failures.
package greenfield

import "errors"

var (
	// Configuration errors
	ErrMissingBaseURL = errors.New("missing provider base URL")
	ErrMissingAPIKey  = errors.New("missing provider API key")

	// User errors
	ErrUserNotFound      = errors.New("provider user not found")
	ErrUserAlreadyExists = errors.New("provider user already exists")

	// Store errors
	ErrStoreNotFound  = errors.New("provider store not found")
	ErrStoreForbidden = errors.New("access to provider store forbidden")

	// Webhook errors
	ErrWebhookCreationFailed = errors.New("failed to create provider webhook")

	// Rate limiting
	ErrRateLimitExceeded = errors.New("provider API rate limit exceeded")
)

// APIError represents an error returned by the provider's management API
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewAPIError creates a new API error
func NewAPIError(statusCode int, message string, err error) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Message:    message,
		Err:        err,
	}
}
