// Package payments implements the subscription payment initiator: it resolves
// a provider's lightning address to an invoice, pays it through the shop's
// wallet-connect relay, and records the outcome on the connection.
package payments

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shopconnect/shopconnect/internal/crypto"
	"github.com/shopconnect/shopconnect/internal/db/models"
	"github.com/shopconnect/shopconnect/internal/telemetry"
)

// ConnectionStore is the connection persistence surface the initiator needs
type ConnectionStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Connection, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.ConnectionStatus, setupError *string) error
	SetWalletSecret(ctx context.Context, id uuid.UUID, sealed string) error
	SetLastPayment(ctx context.Context, id uuid.UUID, paymentID string) error
}

// ShopStore resolves the paying shop
type ShopStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Shop, error)
}

// ProviderStore resolves the receiving provider
type ProviderStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.InfrastructureProvider, error)
}

// HistoryStore appends ledger rows
type HistoryStore interface {
	Append(ctx context.Context, entry *models.PaymentHistory) error
}

// Result is the outcome of one payment attempt. InitiatePayment always
// returns a Result; internal errors are folded into Error rather than
// propagated.
type Result struct {
	Success        bool   `json:"success"`
	Preimage       string `json:"preimage,omitempty"`
	PaymentID      string `json:"paymentId,omitempty"`
	AmountSats     int64  `json:"amount,omitempty"`
	Recipient      string `json:"recipient,omitempty"`
	WalletProvider string `json:"walletProvider,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Initiator orchestrates one subscription charge end to end
type Initiator struct {
	connections ConnectionStore
	shops       ShopStore
	providers   ProviderStore
	history     HistoryStore
	box         *crypto.SecretBox
	resolver    AddressResolver
	wallet      Wallet
	logger      *slog.Logger
}

// NewInitiator creates a payment initiator
func NewInitiator(
	connections ConnectionStore,
	shops ShopStore,
	providers ProviderStore,
	history HistoryStore,
	box *crypto.SecretBox,
	resolver AddressResolver,
	wallet Wallet,
	logger *slog.Logger,
) *Initiator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Initiator{
		connections: connections,
		shops:       shops,
		providers:   providers,
		history:     history,
		box:         box,
		resolver:    resolver,
		wallet:      wallet,
		logger:      logger.With("component", "payments"),
	}
}

// InitiatePayment charges one subscription interval for the connection using
// the supplied wallet connection secret. The secret is sealed and persisted
// for later manual retries; the plaintext is never logged.
func (s *Initiator) InitiatePayment(ctx context.Context, connectionID uuid.UUID, walletSecret string) *Result {
	conn, err := s.connections.Get(ctx, connectionID)
	if err != nil {
		return &Result{Success: false, Error: "failed to load connection: " + err.Error()}
	}
	if conn == nil {
		return &Result{Success: false, Error: ErrNotFound.Error()}
	}

	shop, err := s.shops.Get(ctx, conn.ShopID)
	if err != nil || shop == nil {
		return s.fail(ctx, conn, 0, "failed to load shop")
	}
	provider, err := s.providers.Get(ctx, conn.ProviderID)
	if err != nil || provider == nil {
		return s.fail(ctx, conn, 0, "failed to load provider")
	}

	if conn.SubscriptionAmountSats == nil || *conn.SubscriptionAmountSats <= 0 {
		return s.fail(ctx, conn, 0, MsgNoSubscriptionAmount)
	}
	amount := *conn.SubscriptionAmountSats

	if provider.LightningAddress == nil || *provider.LightningAddress == "" {
		return s.fail(ctx, conn, amount, MsgNoLightningAddress)
	}
	recipient := *provider.LightningAddress

	wallet, err := ParseConnectionString(walletSecret)
	if err != nil {
		return s.fail(ctx, conn, amount, err.Error())
	}
	walletName := WalletProviderName(wallet.RelayURL)

	sealed, err := s.box.Seal(walletSecret)
	if err != nil {
		return s.fail(ctx, conn, amount, "failed to seal wallet secret: "+err.Error())
	}
	if err := s.connections.SetWalletSecret(ctx, conn.ID, sealed); err != nil {
		return s.fail(ctx, conn, amount, "failed to store wallet secret: "+err.Error())
	}

	memo := fmt.Sprintf("Subscription: %s -> %s", shop.Name, provider.Name)
	invoice, err := s.resolver.FetchInvoice(ctx, recipient, amount, memo)
	if err != nil {
		return s.fail(ctx, conn, amount, err.Error())
	}

	proof, err := s.wallet.PayInvoice(ctx, wallet, invoice)
	if err != nil {
		return s.fail(ctx, conn, amount, err.Error())
	}

	s.record(ctx, conn.ID, &models.PaymentHistory{
		ConnectionID:  conn.ID,
		AmountSats:    amount,
		Status:        models.PaymentStatusSuccess,
		PaymentMethod: walletName,
		Preimage:      &proof.Preimage,
	})
	if err := s.connections.UpdateStatus(ctx, conn.ID, models.StatusActive, nil); err != nil {
		s.logger.Error("failed to mark connection active after settled payment",
			"connection_id", conn.ID, "error", err)
	}
	if err := s.connections.SetLastPayment(ctx, conn.ID, proof.PaymentID); err != nil {
		s.logger.Error("failed to store payment id", "connection_id", conn.ID, "error", err)
	}

	telemetry.PaymentAttemptsTotal.WithLabelValues("success").Inc()
	telemetry.PaymentSatsTotal.Add(float64(amount))
	telemetry.ConnectionTransitionsTotal.WithLabelValues(string(models.StatusActive)).Inc()
	s.logger.Info("subscription payment settled",
		"connection_id", conn.ID, "amount_sats", amount, "wallet", walletName)

	return &Result{
		Success:        true,
		Preimage:       proof.Preimage,
		PaymentID:      proof.PaymentID,
		AmountSats:     amount,
		Recipient:      recipient,
		WalletProvider: walletName,
	}
}

// RetryPayment re-runs InitiatePayment with the previously sealed wallet
// secret. Returns ErrNotFound when the connection is missing or no secret was
// ever stored.
func (s *Initiator) RetryPayment(ctx context.Context, connectionID uuid.UUID) (*Result, error) {
	conn, err := s.connections.Get(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, ErrNotFound
	}
	if conn.NWCConnectionEncrypted == "" {
		return nil, fmt.Errorf("%w: no wallet secret stored", ErrNotFound)
	}

	secret, err := s.box.Open(conn.NWCConnectionEncrypted)
	if err != nil {
		return nil, fmt.Errorf("unseal wallet secret: %w", err)
	}

	return s.InitiatePayment(ctx, connectionID, secret), nil
}

// fail records a failed attempt and returns its Result. The history append
// is best effort; connection status is the source of truth.
func (s *Initiator) fail(ctx context.Context, conn *models.Connection, amount int64, message string) *Result {
	s.record(ctx, conn.ID, &models.PaymentHistory{
		ConnectionID:  conn.ID,
		AmountSats:    amount,
		Status:        models.PaymentStatusFailed,
		PaymentMethod: "NWC",
		ErrorMessage:  &message,
	})
	if err := s.connections.UpdateStatus(ctx, conn.ID, models.StatusFailed, &message); err != nil {
		s.logger.Error("failed to mark connection failed",
			"connection_id", conn.ID, "error", err)
	}

	telemetry.PaymentAttemptsTotal.WithLabelValues("failed").Inc()
	telemetry.ConnectionTransitionsTotal.WithLabelValues(string(models.StatusFailed)).Inc()
	s.logger.Warn("subscription payment failed",
		"connection_id", conn.ID, "amount_sats", amount, "error", message)

	return &Result{Success: false, AmountSats: amount, Error: message}
}

func (s *Initiator) record(ctx context.Context, connectionID uuid.UUID, entry *models.PaymentHistory) {
	if err := s.history.Append(ctx, entry); err != nil {
		s.logger.Error("failed to append payment history",
			"connection_id", connectionID, "error", err)
	}
}
