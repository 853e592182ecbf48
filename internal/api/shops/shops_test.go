package shops

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shopconnect/shopconnect/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var shopCols = []string{
	"id", "owner_id", "name", "description", "website", "contact_email",
	"lightning_address", "is_public", "btcpay_store_id", "btcpay_user_id",
	"btcpay_username", "created_at", "updated_at",
}

func shopRow(id, ownerID uuid.UUID, name string, isPublic bool) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(shopCols).AddRow(
		id, ownerID, name, nil, nil, nil, "owner@ln.example", isPublic,
		nil, nil, nil, now, now,
	)
}

// asUser injects the authenticated identity the way AuthMiddleware would
func asUser(id uuid.UUID) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.UserIDKey, id.String())
	}
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
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
	router.ServeHTTP(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// CreateHandler
// ---------------------------------------------------------------------------

func TestCreate_Success(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	owner := uuid.New()
	shopID := uuid.New()
	mock.ExpectQuery(`INSERT INTO shops`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(shopID, time.Now(), time.Now()))

	router := gin.New()
	router.POST("/shops", asUser(owner), CreateHandler(db))

	rec := doJSON(t, router, http.MethodPost, "/shops", gin.H{
		"name":             "Mule Works",
		"lightningAddress": "mule@wallet.example",
		"isPublic":         true,
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreate_InvalidLightningAddress(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	router := gin.New()
	router.POST("/shops", asUser(uuid.New()), CreateHandler(db))

	rec := doJSON(t, router, http.MethodPost, "/shops", gin.H{
		"name":             "Mule Works",
		"lightningAddress": "not-an-address",
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestCreate_MissingName(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	router := gin.New()
	router.POST("/shops", asUser(uuid.New()), CreateHandler(db))

	rec := doJSON(t, router, http.MethodPost, "/shops", gin.H{"isPublic": true})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

// ---------------------------------------------------------------------------
// GetHandler
// ---------------------------------------------------------------------------

func TestGet_PublicShopVisibleToAnyone(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	shopID := uuid.New()
	mock.ExpectQuery(`SELECT .+ FROM shops WHERE id`).
		WillReturnRows(shopRow(shopID, uuid.New(), "Mule Works", true))

	router := gin.New()
	router.GET("/shops/:id", GetHandler(db))

	rec := doJSON(t, router, http.MethodGet, "/shops/"+shopID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	// Credential fields stay internal.
	if bytes.Contains(rec.Body.Bytes(), []byte("btcpay")) {
		t.Errorf("response leaks credential fields: %s", rec.Body.String())
	}
}

func TestGet_PrivateShopHiddenFromStrangers(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	shopID := uuid.New()
	mock.ExpectQuery(`SELECT .+ FROM shops WHERE id`).
		WillReturnRows(shopRow(shopID, uuid.New(), "Mule Works", false))

	router := gin.New()
	router.GET("/shops/:id", asUser(uuid.New()), GetHandler(db))

	rec := doJSON(t, router, http.MethodGet, "/shops/"+shopID.String(), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestGet_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM shops WHERE id`).
		WillReturnRows(sqlmock.NewRows(shopCols))

	router := gin.New()
	router.GET("/shops/:id", GetHandler(db))

	rec := doJSON(t, router, http.MethodGet, "/shops/"+uuid.NewString(), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

// ---------------------------------------------------------------------------
// UpdateHandler
// ---------------------------------------------------------------------------

func TestUpdate_OwnerOnly(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	shopID := uuid.New()
	mock.ExpectQuery(`SELECT .+ FROM shops WHERE id`).
		WillReturnRows(shopRow(shopID, uuid.New(), "Mule Works", true))

	router := gin.New()
	router.PUT("/shops/:id", asUser(uuid.New()), UpdateHandler(db))

	rec := doJSON(t, router, http.MethodPut, "/shops/"+shopID.String(), gin.H{"name": "Renamed"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestUpdate_Success(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	owner := uuid.New()
	shopID := uuid.New()
	mock.ExpectQuery(`SELECT .+ FROM shops WHERE id`).
		WillReturnRows(shopRow(shopID, owner, "Mule Works", true))
	mock.ExpectExec(`UPDATE shops`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	router := gin.New()
	router.PUT("/shops/:id", asUser(owner), UpdateHandler(db))

	rec := doJSON(t, router, http.MethodPut, "/shops/"+shopID.String(), gin.H{
		"name":     "Renamed",
		"isPublic": false,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// ---------------------------------------------------------------------------
// ListPublicHandler
// ---------------------------------------------------------------------------

func TestListPublic(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	rows := shopRow(uuid.New(), uuid.New(), "Mule Works", true)
	mock.ExpectQuery(`SELECT .+ FROM shops WHERE is_public`).
		WillReturnRows(rows)

	router := gin.New()
	router.GET("/public/shops", ListPublicHandler(db))

	rec := doJSON(t, router, http.MethodGet, "/public/shops?limit=10", nil)
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
