package greenfield

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DryRunClient implements Client without any network I/O. Every operation
// succeeds and returns deterministic mock data whose ids carry a "dryrun_"
// prefix, so downstream records are recognizable as synthetic. State created
// through the client (users, stores, members, webhooks) is held in memory so
// reads within the same process observe earlier writes.
type DryRunClient struct {
	logger *slog.Logger

	mu       sync.Mutex
	seq      int64
	users    map[string]*User
	stores   map[string]*Store
	members  map[string][]StoreMember
	webhooks map[string][]*WebhookDescriptor
}

// NewDryRunClient creates a dry-run client
func NewDryRunClient(logger *slog.Logger) *DryRunClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRunClient{
		logger:   logger.With("component", "greenfield_dryrun"),
		users:    make(map[string]*User),
		stores:   make(map[string]*Store),
		members:  make(map[string][]StoreMember),
		webhooks: make(map[string][]*WebhookDescriptor),
	}
}

// nextID mints a synthetic id. The timestamp seed keeps ids unique across
// process restarts that share a database.
func (c *DryRunClient) nextID(kind string) string {
	c.seq++
	return fmt.Sprintf("dryrun_%s_%d_%d", kind, time.Now().UnixNano(), c.seq)
}

func (c *DryRunClient) CreateUser(ctx context.Context, email, password string) (*User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	user := &User{
		ID:             c.nextID("user"),
		Email:          email,
		EmailConfirmed: true,
		Approved:       true,
	}
	c.users[user.ID] = user
	c.logger.Info("dry run: created user", "user_id", user.ID, "email", email)
	return user, nil
}

func (c *DryRunClient) GetUser(ctx context.Context, id string) (*User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if user, ok := c.users[id]; ok {
		return user, nil
	}
	return nil, ErrUserNotFound
}

func (c *DryRunClient) DeleteUser(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.users, id)
	c.logger.Info("dry run: deleted user", "user_id", id)
	return nil
}

func (c *DryRunClient) CreateStore(ctx context.Context, name string, website *string) (*Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	store := &Store{
		ID:      c.nextID("store"),
		Name:    name,
		Website: website,
	}
	c.stores[store.ID] = store
	c.logger.Info("dry run: created store", "store_id", store.ID, "name", name)
	return store, nil
}

func (c *DryRunClient) GetStore(ctx context.Context, id string) (*Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if store, ok := c.stores[id]; ok {
		return store, nil
	}
	return nil, ErrStoreNotFound
}

func (c *DryRunClient) UpdateStore(ctx context.Context, id string, patch StorePatch) (*Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	store, ok := c.stores[id]
	if !ok {
		return nil, ErrStoreNotFound
	}
	if patch.Name != nil {
		store.Name = *patch.Name
	}
	if patch.Website != nil {
		store.Website = patch.Website
	}
	if patch.SpeedPolicy != nil {
		store.SpeedPolicy = *patch.SpeedPolicy
	}
	if patch.DefaultCurrency != nil {
		store.DefaultCurrency = *patch.DefaultCurrency
	}
	return store, nil
}

func (c *DryRunClient) DeleteStore(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.stores, id)
	delete(c.members, id)
	delete(c.webhooks, id)
	c.logger.Info("dry run: deleted store", "store_id", id)
	return nil
}

func (c *DryRunClient) AddStoreMember(ctx context.Context, storeID, userID string, role StoreRole) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.members[storeID] = append(c.members[storeID], StoreMember{UserID: userID, Role: role})
	c.logger.Info("dry run: added store member", "store_id", storeID, "user_id", userID, "role", role)
	return nil
}

func (c *DryRunClient) RemoveStoreMember(ctx context.Context, storeID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.members[storeID][:0]
	for _, m := range c.members[storeID] {
		if m.UserID != userID {
			kept = append(kept, m)
		}
	}
	c.members[storeID] = kept
	c.logger.Info("dry run: removed store member", "store_id", storeID, "user_id", userID)
	return nil
}

func (c *DryRunClient) ListStoreMembers(ctx context.Context, storeID string) ([]StoreMember, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	members := make([]StoreMember, len(c.members[storeID]))
	copy(members, c.members[storeID])
	return members, nil
}

func (c *DryRunClient) CreateWebhook(ctx context.Context, storeID, url string, events []string, secret string) (*WebhookDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hook := &WebhookDescriptor{
		ID:      c.nextID("webhook"),
		URL:     url,
		Events:  events,
		Enabled: true,
	}
	c.webhooks[storeID] = append(c.webhooks[storeID], hook)
	c.logger.Info("dry run: created webhook", "store_id", storeID, "webhook_id", hook.ID)
	return hook, nil
}

func (c *DryRunClient) ProvisionShop(ctx context.Context, shopName, email, password string, website *string) (*ProvisionResult, error) {
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

func (c *DryRunClient) HealthCheck(ctx context.Context) bool {
	return true
}
