// Package webhooks handles inbound events from provider instances (BTCPay
// Server and compatible). Providers notify the marketplace when a provisioned
// store is modified or deleted or when the owning user is removed; verified
// events drive connection lifecycle transitions. Payloads are authenticated
// with an HMAC signature against the provider's stored webhook secret before
// any processing.
package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shopconnect/shopconnect/internal/audit"
	"github.com/shopconnect/shopconnect/internal/crypto"
	"github.com/shopconnect/shopconnect/internal/db/models"
	"github.com/shopconnect/shopconnect/internal/telemetry"
)

const signatureHeader = "provider-signature"

// Provider event types
const (
	EventStoreModified    = "store.modified"
	EventStoreUserRemoved = "store.user.removed"
	EventStoreDeleted     = "store.deleted"
)

// ProviderStore resolves the provider a delivery claims to come from
type ProviderStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.InfrastructureProvider, error)
}

// LifecycleService is the connection-transition surface webhook events drive
type LifecycleService interface {
	HandleStoreDeleted(ctx context.Context, providerID uuid.UUID, storeID string) error
	HandleStoreUserRemoved(ctx context.Context, providerID uuid.UUID, storeID, userID string) error
	HandleStoreModified(ctx context.Context, providerID uuid.UUID, storeID string) error
}

// ProviderWebhookHandler ingests provider webhook deliveries
type ProviderWebhookHandler struct {
	providers ProviderStore
	lifecycle LifecycleService
	box       *crypto.SecretBox
	shipper   audit.Shipper
	logger    *slog.Logger
}

// NewProviderWebhookHandler creates a webhook handler
func NewProviderWebhookHandler(providers ProviderStore, lifecycle LifecycleService, box *crypto.SecretBox, shipper audit.Shipper, logger *slog.Logger) *ProviderWebhookHandler {
	if shipper == nil {
		shipper = audit.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProviderWebhookHandler{
		providers: providers,
		lifecycle: lifecycle,
		box:       box,
		shipper:   shipper,
		logger:    logger.With("component", "provider_webhook"),
	}
}

// delivery is the provider's event payload
type delivery struct {
	Type      string `json:"type"`
	StoreID   string `json:"storeId"`
	UserID    string `json:"userId,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// @Summary      Receive provider webhook
// @Description  Receives store lifecycle events from a provider instance. The raw body is
// @Description  authenticated with HMAC-SHA256 against the provider's stored webhook secret
// @Description  (header "provider-signature: sha256=<hex>", constant-time comparison); a
// @Description  provider with no secret on file skips verification. Events referencing a
// @Description  store id no shop owns are acknowledged without effect.
// @Tags         Webhooks
// @Accept       json
// @Produce      json
// @Param        provider_id  path  string  true  "Provider ID (UUID)"
// @Success      200  {object}  map[string]interface{}  "result: processed|ignored"
// @Failure      400  {object}  map[string]interface{}  "Invalid provider ID or malformed payload"
// @Failure      401  {object}  map[string]interface{}  "Signature missing or invalid"
// @Failure      404  {object}  map[string]interface{}  "Provider not found"
// @Router       /webhooks/provider/{provider_id} [post]
// POST /webhooks/provider/:provider_id
func (h *ProviderWebhookHandler) HandleWebhook(c *gin.Context) {
	providerID, err := uuid.Parse(c.Param("provider_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid provider ID"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read payload"})
		return
	}

	provider, err := h.providers.Get(c.Request.Context(), providerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load provider"})
		return
	}
	if provider == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "provider not found"})
		return
	}

	if !h.verifySignature(c, provider, body) {
		telemetry.WebhookEventsTotal.WithLabelValues("unknown", "signature_invalid").Inc()
		h.logger.Warn("webhook signature rejected",
			"provider_id", providerID, "ip", c.ClientIP())
		if err := h.shipper.Ship(c.Request.Context(), &audit.LogEntry{
			Action:     "webhook.signature_invalid",
			ProviderID: providerID.String(),
			IPAddress:  c.ClientIP(),
		}); err != nil {
			h.logger.Warn("failed to ship webhook audit record", "error", err)
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook signature"})
		return
	}

	var event delivery
	if err := json.Unmarshal(body, &event); err != nil || event.Type == "" {
		telemetry.WebhookEventsTotal.WithLabelValues("unknown", "malformed").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	result, err := h.dispatch(c.Request.Context(), providerID, event)
	if err != nil {
		h.logger.Error("webhook processing failed",
			"provider_id", providerID, "event", event.Type, "error", err)
		telemetry.WebhookEventsTotal.WithLabelValues(event.Type, "error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process event"})
		return
	}

	telemetry.WebhookEventsTotal.WithLabelValues(event.Type, result).Inc()
	h.ship(c, providerID, event, result)
	c.JSON(http.StatusOK, gin.H{"result": result})
}

// verifySignature authenticates the raw body. A provider without a stored
// webhook secret skips verification entirely.
func (h *ProviderWebhookHandler) verifySignature(c *gin.Context, provider *models.InfrastructureProvider, body []byte) bool {
	if provider.WebhookSecretEncrypted == "" {
		return true
	}

	secret, err := h.box.Open(provider.WebhookSecretEncrypted)
	if err != nil {
		h.logger.Error("failed to unseal webhook secret", "provider_id", provider.ID)
		return false
	}

	signature := c.GetHeader(signatureHeader)
	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}
	expected := crypto.SignHMAC(body, secret)
	return crypto.SecureCompare(strings.TrimPrefix(signature, "sha256="), expected)
}

// dispatch routes a verified event. Unrecognized event types are
// acknowledged and ignored so providers do not retry them forever.
func (h *ProviderWebhookHandler) dispatch(ctx context.Context, providerID uuid.UUID, event delivery) (string, error) {
	switch event.Type {
	case EventStoreDeleted:
		return "processed", h.lifecycle.HandleStoreDeleted(ctx, providerID, event.StoreID)
	case EventStoreUserRemoved:
		return "processed", h.lifecycle.HandleStoreUserRemoved(ctx, providerID, event.StoreID, event.UserID)
	case EventStoreModified:
		return "processed", h.lifecycle.HandleStoreModified(ctx, providerID, event.StoreID)
	default:
		return "ignored", nil
	}
}

func (h *ProviderWebhookHandler) ship(c *gin.Context, providerID uuid.UUID, event delivery, result string) {
	err := h.shipper.Ship(c.Request.Context(), &audit.LogEntry{
		Action:     "webhook." + event.Type,
		ProviderID: providerID.String(),
		StoreID:    event.StoreID,
		IPAddress:  c.ClientIP(),
		Metadata:   map[string]any{"result": result, "user_id": event.UserID},
	})
	if err != nil {
		h.logger.Warn("failed to ship webhook audit record", "error", err)
	}
}
