package models

import (
	"time"

	"github.com/google/uuid"
)

// ServiceType identifies the kind of infrastructure a provider offers
type ServiceType string

const (
	// ServiceBTCPayServer is a managed BTCPay Server instance. Shops
	// subscribing to one get a remote user/store pair provisioned through
	// the Greenfield API.
	ServiceBTCPayServer ServiceType = "BTCPAY_SERVER"
	// ServiceBLFS is a bring-your-own lightning funding source listing.
	ServiceBLFS ServiceType = "BLFS"
	// ServiceOther is a plain marketplace listing with no managed surface.
	ServiceOther ServiceType = "OTHER"
)

// InfrastructureProvider represents a service offering operated by one user.
// The API key and webhook secret are stored AES-GCM encrypted; total_slots
// caps the number of shops the operator is willing to host.
type InfrastructureProvider struct {
	ID                     uuid.UUID   `db:"id"`
	OwnerID                uuid.UUID   `db:"owner_id"`
	Name                   string      `db:"name"`
	ServiceType            ServiceType `db:"service_type"`
	HostURL                *string     `db:"host_url"`
	APIKeyEncrypted        string      `db:"api_key_encrypted"`
	WebhookSecretEncrypted string      `db:"webhook_secret_encrypted"`
	LightningAddress       *string     `db:"lightning_address"`
	TotalSlots             int         `db:"total_slots"`
	WelcomeText            *string     `db:"welcome_text"`
	SetupSteps             []byte      `db:"setup_steps"`    // JSON array of ordered onboarding steps
	ExternalLinks          []byte      `db:"external_links"` // JSON object of label → URL
	ContactInfo            *string     `db:"contact_info"`
	IsActive               bool        `db:"is_active"`
	CreatedAt              time.Time   `db:"created_at"`
	UpdatedAt              time.Time   `db:"updated_at"`
}

// RequiresProvisioning reports whether subscribing shops need a remote
// user/store pair created on the provider's instance.
func (p *InfrastructureProvider) RequiresProvisioning() bool {
	return p.ServiceType == ServiceBTCPayServer
}

// Configured reports whether the provider has the management-API
// configuration needed for provisioning calls.
func (p *InfrastructureProvider) Configured() bool {
	return p.HostURL != nil && *p.HostURL != "" && p.APIKeyEncrypted != ""
}
