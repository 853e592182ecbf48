// Package lifecycle implements the connection state machine: creation,
// provisioning, payment, manual retry, and webhook-driven disconnection.
// All provisioning and payment failures are absorbed here into a status
// transition plus a persisted setupError; they never propagate to HTTP
// callers as errors.
package lifecycle

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shopconnect/shopconnect/internal/crypto"
	"github.com/shopconnect/shopconnect/internal/db/models"
	"github.com/shopconnect/shopconnect/internal/db/repositories"
	"github.com/shopconnect/shopconnect/internal/greenfield"
	"github.com/shopconnect/shopconnect/internal/payments"
	"github.com/shopconnect/shopconnect/internal/telemetry"
)

// ConnectionStore is the connection persistence surface the manager needs
type ConnectionStore interface {
	Create(ctx context.Context, conn *models.Connection) error
	Get(ctx context.Context, id uuid.UUID) (*models.Connection, error)
	ListByShop(ctx context.Context, shopID uuid.UUID) ([]*models.Connection, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.ConnectionStatus, setupError *string) error
	BeginRetry(ctx context.Context, id uuid.UUID, version int) error
	Disconnect(ctx context.Context, id uuid.UUID, reason string) error
}

// ShopStore is the shop persistence surface the manager needs
type ShopStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Shop, error)
	GetByStoreID(ctx context.Context, storeID string) (*models.Shop, error)
	SetCredentials(ctx context.Context, id uuid.UUID, storeID, userID, username string) error
	ClearCredentials(ctx context.Context, id uuid.UUID) error
}

// ProviderStore is the provider persistence surface the manager needs
type ProviderStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.InfrastructureProvider, error)
	OccupiedSlots(ctx context.Context, id uuid.UUID) (int, error)
}

// HistoryStore appends ledger rows
type HistoryStore interface {
	Append(ctx context.Context, entry *models.PaymentHistory) error
}

// PaymentService is the payment initiator surface the manager needs
type PaymentService interface {
	InitiatePayment(ctx context.Context, connectionID uuid.UUID, walletSecret string) *payments.Result
	RetryPayment(ctx context.Context, connectionID uuid.UUID) (*payments.Result, error)
}

// Settings carries the lifecycle tuning knobs. The manager reads no ambient
// environment state; everything arrives through here.
type Settings struct {
	// ProvisionAttempts is the in-request provisioning budget per creation
	// or retry, with a fixed delay between attempts.
	ProvisionAttempts   int
	ProvisionRetryDelay time.Duration
	// MaxManualRetries bounds the operator-triggered retry counter.
	MaxManualRetries int
	// WebhookBaseURL, when set, is where provisioned stores get a webhook
	// registered pointing back at this service.
	WebhookBaseURL string
	WebhookEvents  []string
}

// Manager owns the connection state machine
type Manager struct {
	connections ConnectionStore
	shops       ShopStore
	providers   ProviderStore
	history     HistoryStore
	payments    PaymentService
	clients     greenfield.Factory
	box         *crypto.SecretBox
	cfg         Settings
	logger      *slog.Logger

	// sleep is swapped out in tests
	sleep func(ctx context.Context, d time.Duration)
}

// NewManager creates a lifecycle manager
func NewManager(
	connections ConnectionStore,
	shops ShopStore,
	providers ProviderStore,
	history HistoryStore,
	paymentSvc PaymentService,
	clients greenfield.Factory,
	box *crypto.SecretBox,
	cfg Settings,
	logger *slog.Logger,
) *Manager {
	if cfg.ProvisionAttempts < 1 {
		cfg.ProvisionAttempts = 1
	}
	if cfg.MaxManualRetries < 1 {
		cfg.MaxManualRetries = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		connections: connections,
		shops:       shops,
		providers:   providers,
		history:     history,
		payments:    paymentSvc,
		clients:     clients,
		box:         box,
		cfg:         cfg,
		logger:      logger.With("component", "lifecycle"),
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// CreateConnectionInput is a request to open a connection between a shop and
// a provider.
type CreateConnectionInput struct {
	ShopID     uuid.UUID
	ProviderID uuid.UUID
	// ActorID must own the shop; uuid.Nil skips the ownership check (used
	// by trusted internal callers).
	ActorID                uuid.UUID
	ConnectionType         models.ConnectionType
	SubscriptionAmountSats *int64
	SubscriptionInterval   *string
	// WalletSecret is the plaintext wallet-connect URI for paid
	// subscriptions. It is sealed at rest by the payment initiator.
	WalletSecret string
}

// CreateConnection opens a new connection in PENDING and drives it through
// its creation plan. Payment always runs before provisioning so a shop never
// incurs provider-side resource creation for a subscription it cannot pay
// for; when both run, the stored status reflects the last write.
func (m *Manager) CreateConnection(ctx context.Context, input CreateConnectionInput) (*models.Connection, error) {
	shop, err := m.shops.Get(ctx, input.ShopID)
	if err != nil {
		return nil, fmt.Errorf("load shop: %w", err)
	}
	if shop == nil {
		return nil, ErrShopNotFound
	}
	if input.ActorID != uuid.Nil && shop.OwnerID != input.ActorID {
		return nil, ErrNotOwner
	}

	provider, err := m.providers.Get(ctx, input.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("load provider: %w", err)
	}
	if provider == nil || !provider.IsActive {
		return nil, ErrProviderNotFound
	}

	if provider.TotalSlots > 0 {
		occupied, err := m.providers.OccupiedSlots(ctx, provider.ID)
		if err != nil {
			return nil, fmt.Errorf("count occupied slots: %w", err)
		}
		if occupied >= provider.TotalSlots {
			return nil, ErrNoCapacity
		}
	}

	plan, ok := planFor(input.ConnectionType, provider.RequiresProvisioning())
	if !ok {
		return nil, fmt.Errorf("no creation plan for connection type %q", input.ConnectionType)
	}

	conn := &models.Connection{
		ID:                     uuid.New(),
		ShopID:                 shop.ID,
		ProviderID:             provider.ID,
		ConnectionType:         input.ConnectionType,
		Status:                 models.StatusPending,
		SubscriptionAmountSats: input.SubscriptionAmountSats,
		SubscriptionInterval:   input.SubscriptionInterval,
	}
	if err := m.connections.Create(ctx, conn); err != nil {
		return nil, fmt.Errorf("create connection: %w", err)
	}
	m.logger.Info("connection opened",
		"connection_id", conn.ID, "shop_id", shop.ID, "provider_id", provider.ID,
		"type", conn.ConnectionType)

	switch {
	case plan.Charge || plan.Provision:
		if plan.Charge {
			result := m.payments.InitiatePayment(ctx, conn.ID, input.WalletSecret)
			if !result.Success {
				m.logger.Warn("subscription charge failed on creation",
					"connection_id", conn.ID, "error", result.Error)
			}
		}
		if plan.Provision {
			m.runProvisioning(ctx, conn, shop, provider)
		}
	default:
		if err := m.connections.UpdateStatus(ctx, conn.ID, plan.ImmediateStatus, nil); err != nil {
			return nil, fmt.Errorf("activate connection: %w", err)
		}
		telemetry.ConnectionTransitionsTotal.WithLabelValues(string(plan.ImmediateStatus)).Inc()
	}

	return m.reload(ctx, conn.ID)
}

// RetryConnection is the operator-triggered retry. It increments retryCount
// under a compare-and-swap on the connection's version, then dispatches
// exactly one sub-operation chosen by provider and connection type.
func (m *Manager) RetryConnection(ctx context.Context, connectionID, actorID uuid.UUID) (*models.Connection, error) {
	conn, err := m.connections.Get(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("load connection: %w", err)
	}
	if conn == nil {
		return nil, ErrNotFound
	}

	shop, err := m.shops.Get(ctx, conn.ShopID)
	if err != nil {
		return nil, fmt.Errorf("load shop: %w", err)
	}
	if shop == nil {
		return nil, ErrShopNotFound
	}
	if actorID != uuid.Nil && shop.OwnerID != actorID {
		return nil, ErrNotOwner
	}

	if conn.Terminal() {
		return nil, ErrDisconnected
	}
	if !conn.Retryable() {
		return nil, ErrNotRetryable
	}
	if conn.RetryCount >= m.cfg.MaxManualRetries {
		return nil, ErrRetryLimitExceeded
	}

	if err := m.connections.BeginRetry(ctx, conn.ID, conn.Version); err != nil {
		if errors.Is(err, repositories.ErrVersionConflict) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("begin retry: %w", err)
	}
	telemetry.ConnectionTransitionsTotal.WithLabelValues(string(models.StatusPending)).Inc()

	provider, err := m.providers.Get(ctx, conn.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("load provider: %w", err)
	}
	if provider == nil {
		return nil, ErrProviderNotFound
	}

	switch retryPathFor(conn, provider) {
	case retryProvisioning:
		m.runProvisioning(ctx, conn, shop, provider)
	case retryPayment:
		if _, err := m.payments.RetryPayment(ctx, conn.ID); err != nil {
			message := err.Error()
			if statusErr := m.connections.UpdateStatus(ctx, conn.ID, models.StatusFailed, &message); statusErr != nil {
				m.logger.Error("failed to record retry failure",
					"connection_id", conn.ID, "error", statusErr)
			}
		}
	default:
		message := "nothing to retry: provider needs no provisioning and no wallet secret is stored"
		if err := m.connections.UpdateStatus(ctx, conn.ID, models.StatusFailed, &message); err != nil {
			m.logger.Error("failed to record retry failure",
				"connection_id", conn.ID, "error", err)
		}
	}

	return m.reload(ctx, connectionID)
}

// DisconnectConnection is the explicit operator disconnect. Idempotent; the
// DISCONNECTED state is terminal.
func (m *Manager) DisconnectConnection(ctx context.Context, connectionID, actorID uuid.UUID) error {
	conn, err := m.connections.Get(ctx, connectionID)
	if err != nil {
		return fmt.Errorf("load connection: %w", err)
	}
	if conn == nil {
		return ErrNotFound
	}

	if actorID != uuid.Nil {
		shop, err := m.shops.Get(ctx, conn.ShopID)
		if err != nil {
			return fmt.Errorf("load shop: %w", err)
		}
		if shop == nil || shop.OwnerID != actorID {
			return ErrNotOwner
		}
	}

	if conn.Terminal() {
		return nil
	}

	if err := m.connections.Disconnect(ctx, conn.ID, "disconnected by operator"); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	m.appendAudit(ctx, conn.ID, models.AuditDisconnected, "operator", "")
	telemetry.ConnectionTransitionsTotal.WithLabelValues(string(models.StatusDisconnected)).Inc()
	m.logger.Info("connection disconnected", "connection_id", conn.ID)
	return nil
}

// ---------------------------------------------------------------------------
// Webhook-driven transitions
// ---------------------------------------------------------------------------

// HandleStoreDeleted reacts to a verified store-deleted event: force the
// shop's connections to this provider into DISCONNECTED and clear the shop's
// provider credentials. A storeID matching no shop is a successful no-op.
func (m *Manager) HandleStoreDeleted(ctx context.Context, providerID uuid.UUID, storeID string) error {
	shop, err := m.shops.GetByStoreID(ctx, storeID)
	if err != nil {
		return fmt.Errorf("resolve shop by store id: %w", err)
	}
	if shop == nil {
		return nil
	}

	conns, err := m.connectionsFor(ctx, shop.ID, providerID)
	if err != nil {
		return err
	}
	disconnected := 0
	for _, conn := range conns {
		if conn.Terminal() {
			continue
		}
		if err := m.connections.Disconnect(ctx, conn.ID, "remote store deleted"); err != nil {
			return fmt.Errorf("disconnect %s: %w", conn.ID, err)
		}
		m.appendAudit(ctx, conn.ID, models.AuditStoreDeleted, "webhook", storeID)
		telemetry.ConnectionTransitionsTotal.WithLabelValues(string(models.StatusDisconnected)).Inc()
		m.logger.Info("connection disconnected by store deletion",
			"connection_id", conn.ID, "store_id", storeID)
		disconnected++
	}

	// The store id resolves the shop, but only the provider that actually
	// holds a live connection may wipe the shop's credentials. A delivery
	// from an unrelated provider naming this store changes nothing.
	if disconnected == 0 {
		return nil
	}

	if err := m.shops.ClearCredentials(ctx, shop.ID); err != nil {
		return fmt.Errorf("clear shop credentials: %w", err)
	}
	return nil
}

// HandleStoreUserRemoved reacts to the owning user being removed from the
// remote store. Credentials are kept; only the connection state changes.
// Removals of non-owning users are a no-op.
func (m *Manager) HandleStoreUserRemoved(ctx context.Context, providerID uuid.UUID, storeID, userID string) error {
	shop, err := m.shops.GetByStoreID(ctx, storeID)
	if err != nil {
		return fmt.Errorf("resolve shop by store id: %w", err)
	}
	if shop == nil {
		return nil
	}
	if shop.BTCPayUserID == nil || *shop.BTCPayUserID != userID {
		return nil
	}

	conns, err := m.connectionsFor(ctx, shop.ID, providerID)
	if err != nil {
		return err
	}
	for _, conn := range conns {
		if conn.Terminal() {
			continue
		}
		if err := m.connections.Disconnect(ctx, conn.ID, "owning user removed from remote store"); err != nil {
			return fmt.Errorf("disconnect %s: %w", conn.ID, err)
		}
		m.appendAudit(ctx, conn.ID, models.AuditStoreUserRemoved, "webhook", userID)
		telemetry.ConnectionTransitionsTotal.WithLabelValues(string(models.StatusDisconnected)).Inc()
		m.logger.Info("connection disconnected by owner removal",
			"connection_id", conn.ID, "store_id", storeID)
	}
	return nil
}

// HandleStoreModified records a traceability audit row for each affected
// connection. No status transition; replays append again by design.
func (m *Manager) HandleStoreModified(ctx context.Context, providerID uuid.UUID, storeID string) error {
	shop, err := m.shops.GetByStoreID(ctx, storeID)
	if err != nil {
		return fmt.Errorf("resolve shop by store id: %w", err)
	}
	if shop == nil {
		return nil
	}

	conns, err := m.connectionsFor(ctx, shop.ID, providerID)
	if err != nil {
		return err
	}
	for _, conn := range conns {
		m.appendAudit(ctx, conn.ID, models.AuditStoreModified, "webhook", storeID)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Provisioning
// ---------------------------------------------------------------------------

// runProvisioning attempts remote store provisioning up to the configured
// budget with a fixed delay between attempts. Success writes the shop's
// credentials and ACTIVE; exhaustion writes PENDING_SETUP with the last
// error. Partial remote state is never rolled back.
func (m *Manager) runProvisioning(ctx context.Context, conn *models.Connection, shop *models.Shop, provider *models.InfrastructureProvider) {
	if !provider.Configured() {
		m.provisioningFailed(ctx, conn, "provider management API is not configured")
		return
	}

	apiKey, err := m.box.Open(provider.APIKeyEncrypted)
	if err != nil {
		m.provisioningFailed(ctx, conn, "failed to unseal provider API key")
		return
	}

	client, err := m.clients(*provider.HostURL, apiKey)
	if err != nil {
		m.provisioningFailed(ctx, conn, "failed to build provider client: "+err.Error())
		return
	}

	email := provisioningEmail(shop)
	password, err := provisioningPassword()
	if err != nil {
		m.provisioningFailed(ctx, conn, "failed to generate credentials")
		return
	}

	var result *greenfield.ProvisionResult
	var lastErr error
	for attempt := 1; attempt <= m.cfg.ProvisionAttempts; attempt++ {
		result, lastErr = client.ProvisionShop(ctx, shop.Name, email, password, shop.Website)
		if lastErr == nil {
			break
		}
		m.logger.Warn("provisioning attempt failed",
			"connection_id", conn.ID, "attempt", attempt, "error", lastErr)
		if attempt < m.cfg.ProvisionAttempts {
			telemetry.ProvisioningRetriesTotal.Inc()
			m.sleep(ctx, m.cfg.ProvisionRetryDelay)
		}
	}
	if lastErr != nil {
		m.provisioningFailed(ctx, conn, lastErr.Error())
		return
	}

	if err := m.shops.SetCredentials(ctx, shop.ID, result.Store.ID, result.User.ID, email); err != nil {
		m.provisioningFailed(ctx, conn, "failed to store shop credentials: "+err.Error())
		return
	}
	if err := m.connections.UpdateStatus(ctx, conn.ID, models.StatusActive, nil); err != nil {
		m.logger.Error("failed to mark connection active after provisioning",
			"connection_id", conn.ID, "error", err)
		return
	}

	telemetry.ProvisioningAttemptsTotal.WithLabelValues("success").Inc()
	telemetry.ConnectionTransitionsTotal.WithLabelValues(string(models.StatusActive)).Inc()
	m.logger.Info("shop provisioned",
		"connection_id", conn.ID, "shop_id", shop.ID, "store_id", result.Store.ID)

	m.registerWebhook(ctx, client, provider, result.Store.ID)
}

// provisioningFailed writes PENDING_SETUP with the diagnostic. The
// connection stays manually retryable.
func (m *Manager) provisioningFailed(ctx context.Context, conn *models.Connection, message string) {
	telemetry.ProvisioningAttemptsTotal.WithLabelValues("failed").Inc()
	telemetry.ConnectionTransitionsTotal.WithLabelValues(string(models.StatusPendingSetup)).Inc()
	if err := m.connections.UpdateStatus(ctx, conn.ID, models.StatusPendingSetup, &message); err != nil {
		m.logger.Error("failed to record provisioning failure",
			"connection_id", conn.ID, "error", err)
	}
	m.logger.Warn("provisioning exhausted its attempt budget",
		"connection_id", conn.ID, "error", message)
}

// registerWebhook points the freshly provisioned store's webhook at this
// service. Best effort: a failure here never degrades the connection.
func (m *Manager) registerWebhook(ctx context.Context, client greenfield.Client, provider *models.InfrastructureProvider, storeID string) {
	if m.cfg.WebhookBaseURL == "" || provider.WebhookSecretEncrypted == "" {
		return
	}
	secret, err := m.box.Open(provider.WebhookSecretEncrypted)
	if err != nil {
		m.logger.Warn("failed to unseal webhook secret, skipping webhook registration",
			"provider_id", provider.ID)
		return
	}

	url := fmt.Sprintf("%s/api/v1/webhooks/provider/%s", m.cfg.WebhookBaseURL, provider.ID)
	if _, err := client.CreateWebhook(ctx, storeID, url, m.cfg.WebhookEvents, secret); err != nil {
		m.logger.Warn("failed to register store webhook",
			"provider_id", provider.ID, "store_id", storeID, "error", err)
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (m *Manager) connectionsFor(ctx context.Context, shopID, providerID uuid.UUID) ([]*models.Connection, error) {
	all, err := m.connections.ListByShop(ctx, shopID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	matched := all[:0]
	for _, conn := range all {
		if conn.ProviderID == providerID {
			matched = append(matched, conn)
		}
	}
	return matched, nil
}

func (m *Manager) reload(ctx context.Context, id uuid.UUID) (*models.Connection, error) {
	conn, err := m.connections.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload connection: %w", err)
	}
	if conn == nil {
		return nil, ErrNotFound
	}
	return conn, nil
}

// appendAudit writes a zero-amount ledger row. Best effort; connection
// status remains the source of truth.
func (m *Manager) appendAudit(ctx context.Context, connectionID uuid.UUID, event, source, detail string) {
	entry := &models.PaymentHistory{
		ConnectionID:  connectionID,
		AmountSats:    0,
		Status:        event,
		PaymentMethod: source,
	}
	if detail != "" {
		entry.ErrorMessage = &detail
	}
	if err := m.history.Append(ctx, entry); err != nil {
		m.logger.Error("failed to append audit row",
			"connection_id", connectionID, "event", event, "error", err)
	}
}

func provisioningEmail(shop *models.Shop) string {
	if shop.ContactEmail != nil && *shop.ContactEmail != "" {
		return *shop.ContactEmail
	}
	return fmt.Sprintf("shop-%s@shopconnect.local", shop.ID)
}

// provisioningPassword generates a random password for the remote user. The
// shop owner resets it through the provider's own recovery flow.
func provisioningPassword() (string, error) {
	raw, err := crypto.GenerateSalt(24)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}
