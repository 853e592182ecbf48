package greenfield

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestDryRun_IDsCarryPrefix(t *testing.T) {
	c := NewDryRunClient(nil)
	ctx := context.Background()

	user, err := c.CreateUser(ctx, "owner@shop.example", "pw")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if !strings.Contains(user.ID, "dryrun_") {
		t.Errorf("user id = %q, want dryrun_ prefix", user.ID)
	}

	store, err := c.CreateStore(ctx, "My Shop", nil)
	if err != nil {
		t.Fatalf("CreateStore: %v", err)
	}
	if !strings.Contains(store.ID, "dryrun_") {
		t.Errorf("store id = %q, want dryrun_ prefix", store.ID)
	}

	hook, err := c.CreateWebhook(ctx, store.ID, "https://api.example/webhooks", nil, "s")
	if err != nil {
		t.Fatalf("CreateWebhook: %v", err)
	}
	if !strings.Contains(hook.ID, "dryrun_") {
		t.Errorf("webhook id = %q, want dryrun_ prefix", hook.ID)
	}
}

func TestDryRun_IDsUnique(t *testing.T) {
	c := NewDryRunClient(nil)
	ctx := context.Background()

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		store, _ := c.CreateStore(ctx, "shop", nil)
		if seen[store.ID] {
			t.Fatalf("duplicate id %q", store.ID)
		}
		seen[store.ID] = true
	}
}

func TestDryRun_ReadsObserveWrites(t *testing.T) {
	c := NewDryRunClient(nil)
	ctx := context.Background()

	store, _ := c.CreateStore(ctx, "My Shop", nil)
	got, err := c.GetStore(ctx, store.ID)
	if err != nil {
		t.Fatalf("GetStore: %v", err)
	}
	if got.Name != "My Shop" {
		t.Errorf("Name = %q", got.Name)
	}

	if err := c.DeleteStore(ctx, store.ID); err != nil {
		t.Fatalf("DeleteStore: %v", err)
	}
	if _, err := c.GetStore(ctx, store.ID); !errors.Is(err, ErrStoreNotFound) {
		t.Errorf("err = %v, want ErrStoreNotFound", err)
	}
}

func TestDryRun_ProvisionShop(t *testing.T) {
	c := NewDryRunClient(nil)

	result, err := c.ProvisionShop(context.Background(), "My Shop", "owner@shop.example", "pw", nil)
	if err != nil {
		t.Fatalf("ProvisionShop: %v", err)
	}
	if !strings.Contains(result.User.ID, "dryrun_") || !strings.Contains(result.Store.ID, "dryrun_") {
		t.Errorf("result = %+v", result)
	}

	members, _ := c.ListStoreMembers(context.Background(), result.Store.ID)
	if len(members) != 1 || members[0].Role != RoleOwner {
		t.Errorf("members = %+v", members)
	}
}

func TestDryRun_FactorySharesClient(t *testing.T) {
	factory := NewFactory(true, 0, nil)

	a, err := factory("http://one.example", "k1")
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	b, _ := factory("http://two.example", "k2")
	if a != b {
		t.Error("dry-run factory should hand out one shared client")
	}

	if !a.HealthCheck(context.Background()) {
		t.Error("dry-run HealthCheck() = false")
	}
}

func TestFactory_LiveValidates(t *testing.T) {
	factory := NewFactory(false, 0, nil)
	if _, err := factory("", "k"); !errors.Is(err, ErrMissingBaseURL) {
		t.Errorf("err = %v, want ErrMissingBaseURL", err)
	}
}
