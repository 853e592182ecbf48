package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/shopconnect/shopconnect/internal/crypto"
	"github.com/shopconnect/shopconnect/internal/db/models"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeConnStore struct {
	conn        *models.Connection
	getErr      error
	status      models.ConnectionStatus
	setupError  *string
	sealed      string
	lastPayment string
}

func (f *fakeConnStore) Get(ctx context.Context, id uuid.UUID) (*models.Connection, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.conn == nil || f.conn.ID != id {
		return nil, nil
	}
	return f.conn, nil
}

func (f *fakeConnStore) UpdateStatus(ctx context.Context, id uuid.UUID, status models.ConnectionStatus, setupError *string) error {
	f.status = status
	f.setupError = setupError
	return nil
}

func (f *fakeConnStore) SetWalletSecret(ctx context.Context, id uuid.UUID, sealed string) error {
	f.sealed = sealed
	return nil
}

func (f *fakeConnStore) SetLastPayment(ctx context.Context, id uuid.UUID, paymentID string) error {
	f.lastPayment = paymentID
	return nil
}

type fakeShopStore struct{ shop *models.Shop }

func (f *fakeShopStore) Get(ctx context.Context, id uuid.UUID) (*models.Shop, error) {
	return f.shop, nil
}

type fakeProviderStore struct {
	provider *models.InfrastructureProvider
}

func (f *fakeProviderStore) Get(ctx context.Context, id uuid.UUID) (*models.InfrastructureProvider, error) {
	return f.provider, nil
}

type fakeHistory struct{ rows []*models.PaymentHistory }

func (f *fakeHistory) Append(ctx context.Context, entry *models.PaymentHistory) error {
	f.rows = append(f.rows, entry)
	return nil
}

type fakeResolver struct {
	invoice string
	err     error
	calls   int
}

func (f *fakeResolver) FetchInvoice(ctx context.Context, address string, amountSats int64, memo string) (string, error) {
	f.calls++
	return f.invoice, f.err
}

type fakeWallet struct {
	proof *PaymentProof
	err   error
	calls int
}

func (f *fakeWallet) PayInvoice(ctx context.Context, conn *WalletConnection, invoice string) (*PaymentProof, error) {
	f.calls++
	return f.proof, f.err
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type fixture struct {
	initiator *Initiator
	conns     *fakeConnStore
	history   *fakeHistory
	resolver  *fakeResolver
	wallet    *fakeWallet
	box       *crypto.SecretBox
	connID    uuid.UUID
}

func sats(n int64) *int64  { return &n }
func str(s string) *string { return &s }

func newFixture(t *testing.T, mutate func(conn *models.Connection, provider *models.InfrastructureProvider)) *fixture {
	t.Helper()

	key := make([]byte, 32)
	copy(key, "0123456789abcdef0123456789abcdef")
	box, err := crypto.NewSecretBox(key)
	if err != nil {
		t.Fatalf("NewSecretBox: %v", err)
	}

	connID := uuid.New()
	shopID := uuid.New()
	providerID := uuid.New()

	conn := &models.Connection{
		ID:                     connID,
		ShopID:                 shopID,
		ProviderID:             providerID,
		ConnectionType:         models.ConnectionPaidSubscription,
		Status:                 models.StatusPending,
		SubscriptionAmountSats: sats(500),
		SubscriptionInterval:   str("30d"),
	}
	provider := &models.InfrastructureProvider{
		ID:               providerID,
		Name:             "BTCPay Host",
		ServiceType:      models.ServiceBTCPayServer,
		LightningAddress: str("host@getalby.com"),
	}
	if mutate != nil {
		mutate(conn, provider)
	}

	conns := &fakeConnStore{conn: conn}
	history := &fakeHistory{}
	resolver := &fakeResolver{invoice: "lnbc5u1pinvoice"}
	wallet := &fakeWallet{proof: &PaymentProof{Preimage: "preimage-hex", PaymentID: "event-id-1"}}

	initiator := NewInitiator(
		conns,
		&fakeShopStore{shop: &models.Shop{ID: shopID, Name: "My Shop"}},
		&fakeProviderStore{provider: provider},
		history,
		box,
		resolver,
		wallet,
		nil,
	)

	return &fixture{initiator, conns, history, resolver, wallet, box, connID}
}

// ---------------------------------------------------------------------------
// InitiatePayment
// ---------------------------------------------------------------------------

func TestInitiatePayment_Success(t *testing.T) {
	f := newFixture(t, nil)

	result := f.initiator.InitiatePayment(context.Background(), f.connID, validURI())
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if result.Preimage != "preimage-hex" || result.PaymentID != "event-id-1" {
		t.Errorf("result = %+v", result)
	}
	if result.AmountSats != 500 || result.Recipient != "host@getalby.com" {
		t.Errorf("result = %+v", result)
	}
	if result.WalletProvider != "Alby" {
		t.Errorf("WalletProvider = %q", result.WalletProvider)
	}

	if f.conns.status != models.StatusActive {
		t.Errorf("status = %q, want ACTIVE", f.conns.status)
	}
	if f.conns.lastPayment != "event-id-1" {
		t.Errorf("lastPayment = %q", f.conns.lastPayment)
	}

	if len(f.history.rows) != 1 || f.history.rows[0].Status != models.PaymentStatusSuccess {
		t.Fatalf("history = %+v", f.history.rows)
	}
	if f.history.rows[0].AmountSats != 500 {
		t.Errorf("history amount = %d", f.history.rows[0].AmountSats)
	}

	// The stored secret must be sealed, never the plaintext URI.
	if f.conns.sealed == "" || f.conns.sealed == validURI() {
		t.Errorf("sealed = %q", f.conns.sealed)
	}
	opened, err := f.box.Open(f.conns.sealed)
	if err != nil || opened != validURI() {
		t.Errorf("Open(sealed) = %q, %v", opened, err)
	}
}

func TestInitiatePayment_NoSubscriptionAmount(t *testing.T) {
	f := newFixture(t, func(conn *models.Connection, provider *models.InfrastructureProvider) {
		conn.SubscriptionAmountSats = nil
	})

	result := f.initiator.InitiatePayment(context.Background(), f.connID, validURI())
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Error != "No subscription amount configured" {
		t.Errorf("Error = %q", result.Error)
	}
	if f.resolver.calls != 0 || f.wallet.calls != 0 {
		t.Error("no outbound call may happen without a configured amount")
	}
}

func TestInitiatePayment_NoLightningAddress(t *testing.T) {
	f := newFixture(t, func(conn *models.Connection, provider *models.InfrastructureProvider) {
		provider.LightningAddress = nil
	})

	result := f.initiator.InitiatePayment(context.Background(), f.connID, validURI())
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Error != "Provider lightning address not configured" {
		t.Errorf("Error = %q", result.Error)
	}
	if f.conns.status != models.StatusFailed {
		t.Errorf("status = %q, want FAILED", f.conns.status)
	}
	if len(f.history.rows) != 1 || f.history.rows[0].Status != models.PaymentStatusFailed {
		t.Errorf("history = %+v", f.history.rows)
	}
}

func TestInitiatePayment_UnknownConnection(t *testing.T) {
	f := newFixture(t, nil)

	result := f.initiator.InitiatePayment(context.Background(), uuid.New(), validURI())
	if result.Success {
		t.Fatal("expected failure")
	}
	if f.resolver.calls != 0 || f.wallet.calls != 0 {
		t.Error("no outbound call for an unknown connection")
	}
}

func TestInitiatePayment_MalformedWalletURI(t *testing.T) {
	f := newFixture(t, nil)

	result := f.initiator.InitiatePayment(context.Background(), f.connID, "garbage")
	if result.Success {
		t.Fatal("expected failure")
	}
	if f.conns.status != models.StatusFailed {
		t.Errorf("status = %q, want FAILED", f.conns.status)
	}
	if f.wallet.calls != 0 {
		t.Error("wallet must not be invoked with a malformed URI")
	}
}

func TestInitiatePayment_WalletFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.wallet.proof = nil
	f.wallet.err = errors.New("wallet rejected the payment: INSUFFICIENT_BALANCE")

	result := f.initiator.InitiatePayment(context.Background(), f.connID, validURI())
	if result.Success {
		t.Fatal("expected failure")
	}
	if f.conns.status != models.StatusFailed {
		t.Errorf("status = %q, want FAILED", f.conns.status)
	}
	if f.conns.setupError == nil || *f.conns.setupError == "" {
		t.Error("setupError must carry the failure diagnostic")
	}
	if len(f.history.rows) != 1 || f.history.rows[0].Status != models.PaymentStatusFailed {
		t.Fatalf("history = %+v", f.history.rows)
	}
	if f.history.rows[0].ErrorMessage == nil {
		t.Error("failed history row must carry the error message")
	}
}

func TestInitiatePayment_InvoiceFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.resolver.invoice = ""
	f.resolver.err = errors.New("invoice request failed: recipient refused")

	result := f.initiator.InitiatePayment(context.Background(), f.connID, validURI())
	if result.Success {
		t.Fatal("expected failure")
	}
	if f.wallet.calls != 0 {
		t.Error("wallet must not be invoked without an invoice")
	}
	if f.conns.status != models.StatusFailed {
		t.Errorf("status = %q, want FAILED", f.conns.status)
	}
}

// ---------------------------------------------------------------------------
// RetryPayment
// ---------------------------------------------------------------------------

func TestRetryPayment_NoStoredSecret(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.initiator.RetryPayment(context.Background(), f.connID)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRetryPayment_UnknownConnection(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.initiator.RetryPayment(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRetryPayment_ReplaysStoredSecret(t *testing.T) {
	f := newFixture(t, nil)
	sealed, err := f.box.Seal(validURI())
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	f.conns.conn.NWCConnectionEncrypted = sealed

	result, err := f.initiator.RetryPayment(context.Background(), f.connID)
	if err != nil {
		t.Fatalf("RetryPayment: %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if f.wallet.calls != 1 {
		t.Errorf("wallet calls = %d", f.wallet.calls)
	}
	if f.conns.status != models.StatusActive {
		t.Errorf("status = %q, want ACTIVE", f.conns.status)
	}
}
