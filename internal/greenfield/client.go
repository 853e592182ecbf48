package greenfield

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultRequestTimeout = 15 * time.Second

// HTTPClient is the live implementation of Client against a BTCPay Server
// Greenfield API. All requests authenticate with the instance admin API key.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// ClientSettings configures a live Greenfield client
type ClientSettings struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewHTTPClient creates a live Greenfield client
func NewHTTPClient(settings ClientSettings) (*HTTPClient, error) {
	if settings.BaseURL == "" {
		return nil, ErrMissingBaseURL
	}
	if settings.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(settings.BaseURL, "/"),
		apiKey:  settings.APIKey,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// CreateUser registers a new user account on the instance
func (c *HTTPClient) CreateUser(ctx context.Context, email, password string) (*User, error) {
	payload := map[string]any{
		"email":    email,
		"password": password,
	}

	var user User
	if err := c.doJSON(ctx, "POST", "/api/v1/users", payload, &user); err != nil {
		return nil, fmt.Errorf("greenfield: create user: %w", err)
	}
	return &user, nil
}

// GetUser fetches a user by id
func (c *HTTPClient) GetUser(ctx context.Context, id string) (*User, error) {
	var user User
	err := c.doJSON(ctx, "GET", "/api/v1/users/"+id, nil, &user)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("greenfield: get user: %w", err)
	}
	return &user, nil
}

// DeleteUser removes a user account
func (c *HTTPClient) DeleteUser(ctx context.Context, id string) error {
	if err := c.doJSON(ctx, "DELETE", "/api/v1/users/"+id, nil, nil); err != nil {
		if statusOf(err) == http.StatusNotFound {
			return ErrUserNotFound
		}
		return fmt.Errorf("greenfield: delete user: %w", err)
	}
	return nil
}

// CreateStore creates a merchant store
func (c *HTTPClient) CreateStore(ctx context.Context, name string, website *string) (*Store, error) {
	payload := map[string]any{"name": name}
	if website != nil {
		payload["website"] = *website
	}

	var store Store
	if err := c.doJSON(ctx, "POST", "/api/v1/stores", payload, &store); err != nil {
		return nil, fmt.Errorf("greenfield: create store: %w", err)
	}
	return &store, nil
}

// GetStore fetches a store by id
func (c *HTTPClient) GetStore(ctx context.Context, id string) (*Store, error) {
	var store Store
	err := c.doJSON(ctx, "GET", "/api/v1/stores/"+id, nil, &store)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, ErrStoreNotFound
		}
		return nil, fmt.Errorf("greenfield: get store: %w", err)
	}
	return &store, nil
}

// UpdateStore applies a partial update to a store
func (c *HTTPClient) UpdateStore(ctx context.Context, id string, patch StorePatch) (*Store, error) {
	var store Store
	err := c.doJSON(ctx, "PUT", "/api/v1/stores/"+id, patch, &store)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, ErrStoreNotFound
		}
		return nil, fmt.Errorf("greenfield: update store: %w", err)
	}
	return &store, nil
}

// DeleteStore removes a store
func (c *HTTPClient) DeleteStore(ctx context.Context, id string) error {
	if err := c.doJSON(ctx, "DELETE", "/api/v1/stores/"+id, nil, nil); err != nil {
		if statusOf(err) == http.StatusNotFound {
			return ErrStoreNotFound
		}
		return fmt.Errorf("greenfield: delete store: %w", err)
	}
	return nil
}

// AddStoreMember grants a user a role on a store
func (c *HTTPClient) AddStoreMember(ctx context.Context, storeID, userID string, role StoreRole) error {
	payload := map[string]any{
		"userId": userID,
		"role":   string(role),
	}
	if err := c.doJSON(ctx, "POST", "/api/v1/stores/"+storeID+"/users", payload, nil); err != nil {
		return fmt.Errorf("greenfield: add store member: %w", err)
	}
	return nil
}

// RemoveStoreMember revokes a user's membership on a store
func (c *HTTPClient) RemoveStoreMember(ctx context.Context, storeID, userID string) error {
	if err := c.doJSON(ctx, "DELETE", "/api/v1/stores/"+storeID+"/users/"+userID, nil, nil); err != nil {
		if statusOf(err) == http.StatusNotFound {
			return ErrUserNotFound
		}
		return fmt.Errorf("greenfield: remove store member: %w", err)
	}
	return nil
}

// ListStoreMembers lists a store's memberships
func (c *HTTPClient) ListStoreMembers(ctx context.Context, storeID string) ([]StoreMember, error) {
	var members []StoreMember
	err := c.doJSON(ctx, "GET", "/api/v1/stores/"+storeID+"/users", nil, &members)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, ErrStoreNotFound
		}
		return nil, fmt.Errorf("greenfield: list store members: %w", err)
	}
	return members, nil
}

// CreateWebhook registers a webhook on a store
func (c *HTTPClient) CreateWebhook(ctx context.Context, storeID, url string, events []string, secret string) (*WebhookDescriptor, error) {
	payload := map[string]any{
		"url":     url,
		"enabled": true,
		"secret":  secret,
		"authorizedEvents": map[string]any{
			"everything":     len(events) == 0,
			"specificEvents": events,
		},
	}

	var hook WebhookDescriptor
	if err := c.doJSON(ctx, "POST", "/api/v1/stores/"+storeID+"/webhooks", payload, &hook); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWebhookCreationFailed, err)
	}
	hook.URL = url
	hook.Events = events
	return &hook, nil
}

// ProvisionShop runs the composite provisioning sequence. The order is fixed:
// create the user first, then the store, then grant ownership. Partial results
// are not rolled back on failure.
func (c *HTTPClient) ProvisionShop(ctx context.Context, shopName, email, password string, website *string) (*ProvisionResult, error) {
	user, err := c.CreateUser(ctx, email, password)
	if err != nil {
		return nil, err
	}

	store, err := c.CreateStore(ctx, shopName, website)
	if err != nil {
		return nil, err
	}

	if err := c.AddStoreMember(ctx, store.ID, user.ID, RoleOwner); err != nil {
		return nil, err
	}

	return &ProvisionResult{User: user, Store: store}, nil
}

// HealthCheck pings the instance health endpoint
func (c *HTTPClient) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "token "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return NewAPIError(0, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimitExceeded
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return NewAPIError(resp.StatusCode, "unexpected status "+resp.Status, fmt.Errorf("%s", bytes.TrimSpace(detail)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// statusOf extracts the HTTP status from an APIError chain, 0 otherwise
func statusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
