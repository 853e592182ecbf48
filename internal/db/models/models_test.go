package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShopProvisioned(t *testing.T) {
	s := &Shop{}
	assert.False(t, s.Provisioned())

	empty := ""
	s.BTCPayStoreID = &empty
	assert.False(t, s.Provisioned())

	storeID := "store-abc"
	s.BTCPayStoreID = &storeID
	assert.True(t, s.Provisioned())
}

func TestProviderRequiresProvisioning(t *testing.T) {
	assert.True(t, (&InfrastructureProvider{ServiceType: ServiceBTCPayServer}).RequiresProvisioning())
	assert.False(t, (&InfrastructureProvider{ServiceType: ServiceBLFS}).RequiresProvisioning())
	assert.False(t, (&InfrastructureProvider{ServiceType: ServiceOther}).RequiresProvisioning())
}

func TestProviderConfigured(t *testing.T) {
	p := &InfrastructureProvider{}
	assert.False(t, p.Configured())

	host := "https://btcpay.example.com"
	p.HostURL = &host
	assert.False(t, p.Configured())

	p.APIKeyEncrypted = "sealed"
	assert.True(t, p.Configured())
}

func TestConnectionRetryable(t *testing.T) {
	for status, want := range map[ConnectionStatus]bool{
		StatusPending:      false,
		StatusActive:       false,
		StatusPendingSetup: true,
		StatusFailed:       true,
		StatusDisconnected: false,
	} {
		c := &Connection{Status: status}
		assert.Equal(t, want, c.Retryable(), "status %s", status)
	}
}

func TestConnectionTerminal(t *testing.T) {
	assert.True(t, (&Connection{Status: StatusDisconnected}).Terminal())
	assert.False(t, (&Connection{Status: StatusFailed}).Terminal())
}
