package connections

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shopconnect/shopconnect/internal/crypto"
	"github.com/shopconnect/shopconnect/internal/db/models"
	"github.com/shopconnect/shopconnect/internal/db/repositories"
	"github.com/shopconnect/shopconnect/internal/greenfield"
	"github.com/shopconnect/shopconnect/internal/lifecycle"
	"github.com/shopconnect/shopconnect/internal/middleware"
	"github.com/shopconnect/shopconnect/internal/payments"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---------------------------------------------------------------------------
// In-memory stores
// ---------------------------------------------------------------------------

type memConnStore struct {
	mu    sync.Mutex
	conns map[uuid.UUID]*models.Connection
}

func newMemConnStore() *memConnStore {
	return &memConnStore{conns: make(map[uuid.UUID]*models.Connection)}
}

func (s *memConnStore) Create(_ context.Context, conn *models.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn.ID = uuid.New()
	conn.CreatedAt = time.Now()
	conn.UpdatedAt = conn.CreatedAt
	s.conns[conn.ID] = conn
	return nil
}

func (s *memConnStore) Get(_ context.Context, id uuid.UUID) (*models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[id]
	if !ok {
		return nil, nil
	}
	dup := *conn
	return &dup, nil
}

func (s *memConnStore) ListByShop(_ context.Context, shopID uuid.UUID) ([]*models.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Connection
	for _, conn := range s.conns {
		if conn.ShopID == shopID {
			dup := *conn
			out = append(out, &dup)
		}
	}
	return out, nil
}

func (s *memConnStore) UpdateStatus(_ context.Context, id uuid.UUID, status models.ConnectionStatus, setupError *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conn, ok := s.conns[id]; ok {
		conn.Status = status
		conn.SetupError = setupError
		conn.UpdatedAt = time.Now()
	}
	return nil
}

func (s *memConnStore) BeginRetry(_ context.Context, id uuid.UUID, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn := s.conns[id]
	if conn.Version != version {
		return repositories.ErrVersionConflict
	}
	conn.RetryCount++
	conn.Version++
	return nil
}

func (s *memConnStore) Disconnect(_ context.Context, id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conn, ok := s.conns[id]; ok {
		conn.Status = models.StatusDisconnected
		conn.SetupError = &reason
		conn.Version++
	}
	return nil
}

type memShopStore struct {
	shops map[uuid.UUID]*models.Shop
}

func (s *memShopStore) Get(_ context.Context, id uuid.UUID) (*models.Shop, error) {
	return s.shops[id], nil
}
func (s *memShopStore) GetByStoreID(_ context.Context, storeID string) (*models.Shop, error) {
	for _, shop := range s.shops {
		if shop.BTCPayStoreID != nil && *shop.BTCPayStoreID == storeID {
			return shop, nil
		}
	}
	return nil, nil
}
func (s *memShopStore) SetCredentials(_ context.Context, id uuid.UUID, storeID, userID, username string) error {
	shop := s.shops[id]
	shop.BTCPayStoreID = &storeID
	shop.BTCPayUserID = &userID
	shop.BTCPayUsername = &username
	return nil
}
func (s *memShopStore) ClearCredentials(_ context.Context, id uuid.UUID) error {
	shop := s.shops[id]
	shop.BTCPayStoreID = nil
	shop.BTCPayUserID = nil
	shop.BTCPayUsername = nil
	return nil
}

type memProviderStore struct {
	providers map[uuid.UUID]*models.InfrastructureProvider
}

func (s *memProviderStore) Get(_ context.Context, id uuid.UUID) (*models.InfrastructureProvider, error) {
	return s.providers[id], nil
}
func (s *memProviderStore) OccupiedSlots(_ context.Context, _ uuid.UUID) (int, error) {
	return 0, nil
}

type memHistory struct {
	mu   sync.Mutex
	rows []*models.PaymentHistory
}

func (h *memHistory) Append(_ context.Context, entry *models.PaymentHistory) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry.ID = uuid.New()
	entry.CreatedAt = time.Now()
	h.rows = append(h.rows, entry)
	return nil
}

func (h *memHistory) ListByConnection(_ context.Context, connectionID uuid.UUID) ([]*models.PaymentHistory, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*models.PaymentHistory
	for _, row := range h.rows {
		if row.ConnectionID == connectionID {
			out = append(out, row)
		}
	}
	return out, nil
}

type stubPayments struct{}

func (stubPayments) InitiatePayment(_ context.Context, connectionID uuid.UUID, _ string) *payments.Result {
	return &payments.Result{Success: true, PaymentID: "evt-1"}
}
func (stubPayments) RetryPayment(_ context.Context, connectionID uuid.UUID) (*payments.Result, error) {
	return &payments.Result{Success: true, PaymentID: "evt-2"}, nil
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type fixture struct {
	router *gin.Engine
	conns  *memConnStore
	shops  *memShopStore
	shopID uuid.UUID
	provID uuid.UUID
	owner  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	owner := uuid.New()
	shopID := uuid.New()
	provID := uuid.New()
	addr := "shop@wallet.example"

	conns := newMemConnStore()
	shops := &memShopStore{shops: map[uuid.UUID]*models.Shop{
		shopID: {ID: shopID, OwnerID: owner, Name: "Mule Works", LightningAddress: &addr},
	}}
	providers := &memProviderStore{providers: map[uuid.UUID]*models.InfrastructureProvider{
		provID: {
			ID:          provID,
			OwnerID:     uuid.New(),
			Name:        "Listing Host",
			ServiceType: models.ServiceOther,
			TotalSlots:  5,
			IsActive:    true,
		},
	}}
	history := &memHistory{}

	box, err := crypto.NewSecretBox([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewSecretBox() error = %v", err)
	}

	factory := greenfield.NewFactory(true, time.Second, nil)
	manager := lifecycle.NewManager(conns, shops, providers, history, stubPayments{}, factory, box, lifecycle.Settings{
		ProvisionAttempts: 2,
		MaxManualRetries:  5,
	}, nil)

	handler := NewHandler(manager, conns, history, shops, nil)

	router := gin.New()
	group := router.Group("/")
	group.Use(func(c *gin.Context) { c.Set(middleware.UserIDKey, owner.String()) })
	handler.RegisterRoutes(group)

	return &fixture{
		router: router,
		conns:  conns,
		shops:  shops,
		shopID: shopID,
		provID: provID,
		owner:  owner,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) createFreeListing(t *testing.T) connectionResponse {
	t.Helper()

	rec := f.do(t, http.MethodPost, "/connections", gin.H{
		"shopId":         f.shopID.String(),
		"providerId":     f.provID.String(),
		"connectionType": "FREE_LISTING",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, want %d; body: %s", rec.Code, http.StatusCreated, rec.Body.String())
	}

	var out connectionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal create response: %v", err)
	}
	return out
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestCreate_FreeListingGoesActive(t *testing.T) {
	f := newFixture(t)

	out := f.createFreeListing(t)
	if out.Status != "ACTIVE" {
		t.Errorf("status = %q, want %q", out.Status, "ACTIVE")
	}
	if out.ConnectionType != "FREE_LISTING" {
		t.Errorf("connectionType = %q, want %q", out.ConnectionType, "FREE_LISTING")
	}
}

func TestCreate_UnknownShop(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/connections", gin.H{
		"shopId":         uuid.NewString(),
		"providerId":     f.provID.String(),
		"connectionType": "FREE_LISTING",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusNotFound, rec.Body.String())
	}
}

func TestCreate_InvalidType(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/connections", gin.H{
		"shopId":         f.shopID.String(),
		"providerId":     f.provID.String(),
		"connectionType": "TRIAL",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestCreate_BadBody(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/connections", gin.H{"shopId": f.shopID.String()})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

// ---------------------------------------------------------------------------
// Get / History
// ---------------------------------------------------------------------------

func TestGet_NeverSerializesWalletSecret(t *testing.T) {
	f := newFixture(t)
	created := f.createFreeListing(t)

	// Plant a sealed wallet secret directly in the store.
	id := uuid.MustParse(created.ID)
	f.conns.conns[id].NWCConnectionEncrypted = "sealed-wallet-secret"

	rec := f.do(t, http.MethodGet, "/connections/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("sealed-wallet-secret")) ||
		bytes.Contains(rec.Body.Bytes(), []byte("nwc")) {
		t.Errorf("response leaks wallet secret: %s", rec.Body.String())
	}
}

func TestGet_NotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/connections/"+uuid.NewString(), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestGet_BadID(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/connections/not-a-uuid", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	created := f.createFreeListing(t)

	rec := f.do(t, http.MethodGet, "/connections/"+created.ID+"/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var out struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	// Free listings make no payments, so the ledger starts empty.
	if out.Count != 0 {
		t.Errorf("count = %d, want 0", out.Count)
	}
}

// ---------------------------------------------------------------------------
// Retry / Disconnect
// ---------------------------------------------------------------------------

func TestRetry_ActiveConnectionConflicts(t *testing.T) {
	f := newFixture(t)
	created := f.createFreeListing(t)

	rec := f.do(t, http.MethodPost, "/connections/"+created.ID+"/retry", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusConflict, rec.Body.String())
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	f := newFixture(t)
	created := f.createFreeListing(t)

	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodPost, "/connections/"+created.ID+"/disconnect", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("disconnect %d: status = %d, want %d; body: %s", i+1, rec.Code, http.StatusOK, rec.Body.String())
		}
	}

	rec := f.do(t, http.MethodGet, "/connections/"+created.ID, nil)
	var out connectionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if out.Status != "DISCONNECTED" {
		t.Errorf("status = %q, want %q", out.Status, "DISCONNECTED")
	}
}

func TestDisconnect_NotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/connections/"+uuid.NewString()+"/disconnect", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

// ---------------------------------------------------------------------------
// Ownership
// ---------------------------------------------------------------------------

func TestGet_ForeignShopForbidden(t *testing.T) {
	f := newFixture(t)
	created := f.createFreeListing(t)

	// Rebuild the router as a different user.
	stranger := uuid.New()
	router := gin.New()
	group := router.Group("/")
	group.Use(func(c *gin.Context) { c.Set(middleware.UserIDKey, stranger.String()) })
	handler := NewHandler(nil, f.conns, &memHistory{}, f.shops, nil)
	handler.RegisterRoutes(group)

	req := httptest.NewRequest(http.MethodGet, "/connections/"+created.ID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusForbidden, rec.Body.String())
	}
}

func TestListForShop(t *testing.T) {
	f := newFixture(t)
	f.createFreeListing(t)

	rec := f.do(t, http.MethodGet, "/shops/"+f.shopID.String()+"/connections", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var out struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if out.Count != 1 {
		t.Errorf("count = %d, want 1", out.Count)
	}
}
