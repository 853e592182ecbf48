package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopconnect/shopconnect/internal/db/models"
)

var shopCols = []string{
	"id", "owner_id", "name", "description", "website", "contact_email",
	"lightning_address", "is_public", "btcpay_store_id", "btcpay_user_id",
	"btcpay_username", "created_at", "updated_at",
}

func sampleShopRow(id uuid.UUID, storeID interface{}) *sqlmock.Rows {
	return sqlmock.NewRows(shopCols).AddRow(
		id, uuid.New(), "CoffeeShop", nil, nil, nil,
		"coffee@getalby.com", true, storeID, nil,
		nil, time.Now(), time.Now(),
	)
}

func newShopRepo(t *testing.T) (*ShopRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewShopRepository(db), mock
}

func TestCreateShop_Success(t *testing.T) {
	repo, mock := newShopRepo(t)
	newID := uuid.New()
	mock.ExpectQuery("INSERT INTO shops").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(newID, time.Now(), time.Now()))

	shop := &models.Shop{OwnerID: uuid.New(), Name: "CoffeeShop", IsPublic: true}
	if err := repo.Create(context.Background(), shop); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if shop.ID != newID {
		t.Errorf("ID = %s, want %s", shop.ID, newID)
	}
}

func TestGetShop_NotFound(t *testing.T) {
	repo, mock := newShopRepo(t)
	mock.ExpectQuery("SELECT.*FROM shops WHERE id").
		WillReturnRows(sqlmock.NewRows(shopCols))

	shop, err := repo.Get(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if shop != nil {
		t.Error("expected nil, got non-nil")
	}
}

func TestGetShopByStoreID_Found(t *testing.T) {
	repo, mock := newShopRepo(t)
	id := uuid.New()
	mock.ExpectQuery("SELECT.*FROM shops WHERE btcpay_store_id").
		WillReturnRows(sampleShopRow(id, "store-xyz"))

	shop, err := repo.GetByStoreID(context.Background(), "store-xyz")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if shop == nil {
		t.Fatal("expected shop, got nil")
	}
	if shop.ID != id {
		t.Errorf("ID = %s, want %s", shop.ID, id)
	}
	if !shop.Provisioned() {
		t.Error("expected provisioned shop")
	}
}

func TestSetAndClearCredentials(t *testing.T) {
	repo, mock := newShopRepo(t)
	mock.ExpectExec("UPDATE shops").
		WithArgs(sqlmock.AnyArg(), "store-1", "user-1", "shop-coffeeshop").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE shops").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	id := uuid.New()
	if err := repo.SetCredentials(context.Background(), id, "store-1", "user-1", "shop-coffeeshop"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := repo.ClearCredentials(context.Background(), id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestListPublic_ClampsLimit(t *testing.T) {
	repo, mock := newShopRepo(t)
	mock.ExpectQuery("SELECT.*FROM shops WHERE is_public").
		WithArgs(50, 0).
		WillReturnRows(sampleShopRow(uuid.New(), nil))

	shops, err := repo.ListPublic(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(shops) != 1 {
		t.Errorf("len = %d, want 1", len(shops))
	}
}
