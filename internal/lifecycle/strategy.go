package lifecycle

import "github.com/shopconnect/shopconnect/internal/db/models"

// planKey indexes the creation dispatch table: what kind of connection is
// being opened, and whether the provider needs a remote store provisioned.
type planKey struct {
	Type         models.ConnectionType
	Provisioning bool
}

// creationPlan names the sub-operations a new connection runs. When a plan
// runs both, payment always goes first; provisioning's outcome is written
// last and may overwrite the payment-driven status.
type creationPlan struct {
	Charge    bool
	Provision bool
	// ImmediateStatus applies when the plan runs no sub-operation at all.
	ImmediateStatus models.ConnectionStatus
}

// creationPlans is the full dispatch table. New connection or provider type
// combinations are rows added here, not branches added elsewhere.
var creationPlans = map[planKey]creationPlan{
	{models.ConnectionFreeListing, false}:      {ImmediateStatus: models.StatusActive},
	{models.ConnectionFreeListing, true}:       {Provision: true},
	{models.ConnectionPaidSubscription, false}: {Charge: true},
	{models.ConnectionPaidSubscription, true}:  {Charge: true, Provision: true},
}

// planFor resolves the creation plan for a connection/provider pairing
func planFor(t models.ConnectionType, requiresProvisioning bool) (creationPlan, bool) {
	plan, ok := creationPlans[planKey{Type: t, Provisioning: requiresProvisioning}]
	return plan, ok
}

// retryPath names which single sub-operation a manual retry dispatches
type retryPath int

const (
	retryNone retryPath = iota
	retryProvisioning
	retryPayment
)

// retryPathFor picks the manual-retry sub-operation. Provisioning providers
// always retry provisioning; otherwise a stored wallet secret selects a
// payment retry. Never both.
func retryPathFor(conn *models.Connection, provider *models.InfrastructureProvider) retryPath {
	if provider.RequiresProvisioning() {
		return retryProvisioning
	}
	if conn.NWCConnectionEncrypted != "" {
		return retryPayment
	}
	return retryNone
}
