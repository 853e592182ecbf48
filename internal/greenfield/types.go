// Package greenfield implements the typed client for a provider's remote
// management API (BTCPay Server Greenfield and compatible). The connection
// lifecycle manager talks to providers exclusively through the Client
// interface; the dry-run decorator substitutes deterministic mock responses
// for every operation so test and staging deployments never touch a real
// instance.
package greenfield

import "context"

// StoreRole is the membership level a user holds on a store
type StoreRole string

const (
	RoleOwner   StoreRole = "Owner"
	RoleManager StoreRole = "Manager"
	RoleGuest   StoreRole = "Guest"
)

// User is a management-API user account on the provider instance
type User struct {
	ID             string   `json:"id"`
	Email          string   `json:"email"`
	EmailConfirmed bool     `json:"emailConfirmed"`
	Approved       bool     `json:"approved"`
	Roles          []string `json:"roles"`
}

// Store is a merchant store on the provider instance
type Store struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Website         *string `json:"website,omitempty"`
	SpeedPolicy     string  `json:"speedPolicy,omitempty"`
	DefaultCurrency string  `json:"defaultCurrency,omitempty"`
}

// StorePatch carries the mutable store fields for partial updates
type StorePatch struct {
	Name            *string `json:"name,omitempty"`
	Website         *string `json:"website,omitempty"`
	SpeedPolicy     *string `json:"speedPolicy,omitempty"`
	DefaultCurrency *string `json:"defaultCurrency,omitempty"`
}

// StoreMember is one user's membership on a store
type StoreMember struct {
	UserID string    `json:"userId"`
	Role   StoreRole `json:"role"`
}

// WebhookDescriptor describes a webhook registered on a store
type WebhookDescriptor struct {
	ID      string   `json:"id"`
	URL     string   `json:"url"`
	Events  []string `json:"events"`
	Secret  string   `json:"secret,omitempty"`
	Enabled bool     `json:"enabled"`
}

// ProvisionResult is the outcome of the composite shop provisioning operation
type ProvisionResult struct {
	User  *User
	Store *Store
}

// Client defines the operations available against a provider's management API
type Client interface {
	// CreateUser registers a new user account
	CreateUser(ctx context.Context, email, password string) (*User, error)

	// GetUser fetches a user by id
	GetUser(ctx context.Context, id string) (*User, error)

	// DeleteUser removes a user account
	DeleteUser(ctx context.Context, id string) error

	// CreateStore creates a merchant store
	CreateStore(ctx context.Context, name string, website *string) (*Store, error)

	// GetStore fetches a store by id
	GetStore(ctx context.Context, id string) (*Store, error)

	// UpdateStore applies a partial update to a store
	UpdateStore(ctx context.Context, id string, patch StorePatch) (*Store, error)

	// DeleteStore removes a store
	DeleteStore(ctx context.Context, id string) error

	// AddStoreMember grants a user a role on a store
	AddStoreMember(ctx context.Context, storeID, userID string, role StoreRole) error

	// RemoveStoreMember revokes a user's membership on a store
	RemoveStoreMember(ctx context.Context, storeID, userID string) error

	// ListStoreMembers lists a store's memberships
	ListStoreMembers(ctx context.Context, storeID string) ([]StoreMember, error)

	// CreateWebhook registers a webhook on a store
	CreateWebhook(ctx context.Context, storeID, url string, events []string, secret string) (*WebhookDescriptor, error)

	// ProvisionShop runs the composite provisioning sequence: create user,
	// create store, add the user as Owner, in that fixed order. A failure at
	// any step fails the whole operation; earlier steps are not rolled back.
	ProvisionShop(ctx context.Context, shopName, email, password string, website *string) (*ProvisionResult, error)

	// HealthCheck pings a lightweight endpoint; any error resolves to false
	HealthCheck(ctx context.Context) bool
}
