package greenfield

import (
	"log/slog"
	"time"
)

// Factory builds a Client for one provider instance from its base URL and
// decrypted API key.
type Factory func(baseURL, apiKey string) (Client, error)

// NewFactory returns the live-client factory, or a factory that hands out a
// single shared dry-run client when dryRun is set. Callers never need to know
// which mode is active.
func NewFactory(dryRun bool, timeout time.Duration, logger *slog.Logger) Factory {
	if dryRun {
		shared := NewDryRunClient(logger)
		return func(baseURL, apiKey string) (Client, error) {
			return shared, nil
		}
	}

	return func(baseURL, apiKey string) (Client, error) {
		return NewHTTPClient(ClientSettings{
			BaseURL: baseURL,
			APIKey:  apiKey,
			Timeout: timeout,
		})
	}
}
