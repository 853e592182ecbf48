// Package jobs contains background workers that run on a schedule. The
// provider health monitor polls every active provider's management API so
// operators see an instance going dark before shops do. Jobs are idempotent;
// re-running after a crash produces the same result as a clean run.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shopconnect/shopconnect/internal/audit"
	"github.com/shopconnect/shopconnect/internal/crypto"
	"github.com/shopconnect/shopconnect/internal/db/models"
	"github.com/shopconnect/shopconnect/internal/greenfield"
	"github.com/shopconnect/shopconnect/internal/safego"
	"github.com/shopconnect/shopconnect/internal/telemetry"
)

// ProviderLister is the provider read surface the monitor needs
type ProviderLister interface {
	ListActive(ctx context.Context) ([]*models.InfrastructureProvider, error)
}

// ProviderHealthMonitor periodically health-checks every active provider
// with a management API configured and records the result as a gauge. State
// changes additionally ship an audit entry so an instance flapping overnight
// leaves a trail.
type ProviderHealthMonitor struct {
	providers ProviderLister
	clients   greenfield.Factory
	box       *crypto.SecretBox
	shipper   audit.Shipper
	logger    *slog.Logger

	mu       sync.Mutex
	lastSeen map[uuid.UUID]bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewProviderHealthMonitor creates a health monitor
func NewProviderHealthMonitor(providers ProviderLister, clients greenfield.Factory, box *crypto.SecretBox, shipper audit.Shipper, logger *slog.Logger) *ProviderHealthMonitor {
	if shipper == nil {
		shipper = audit.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProviderHealthMonitor{
		providers: providers,
		clients:   clients,
		box:       box,
		shipper:   shipper,
		logger:    logger.With("component", "provider_health"),
		lastSeen:  make(map[uuid.UUID]bool),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the polling loop. The first sweep runs immediately.
func (m *ProviderHealthMonitor) Start(ctx context.Context, interval time.Duration) {
	m.logger.Info("starting provider health monitor", "interval", interval)

	m.wg.Add(1)
	safego.Go(func() {
		defer m.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		m.sweep(ctx)

		for {
			select {
			case <-ticker.C:
				m.sweep(ctx)
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	})
}

// Stop halts the polling loop and waits for an in-flight sweep to finish
func (m *ProviderHealthMonitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// sweep health-checks every active provider once
func (m *ProviderHealthMonitor) sweep(ctx context.Context) {
	providers, err := m.providers.ListActive(ctx)
	if err != nil {
		m.logger.Error("failed to list providers", "error", err)
		return
	}

	for _, provider := range providers {
		if !provider.Configured() {
			continue
		}
		m.check(ctx, provider)
	}
}

func (m *ProviderHealthMonitor) check(ctx context.Context, provider *models.InfrastructureProvider) {
	apiKey, err := m.box.Open(provider.APIKeyEncrypted)
	if err != nil {
		m.logger.Error("failed to open provider api key", "provider_id", provider.ID, "error", err)
		return
	}

	client, err := m.clients(*provider.HostURL, apiKey)
	if err != nil {
		m.logger.Error("failed to build provider client", "provider_id", provider.ID, "error", err)
		return
	}

	healthy := client.HealthCheck(ctx)
	if healthy {
		telemetry.ProviderHealthy.WithLabelValues(provider.ID.String()).Set(1)
	} else {
		telemetry.ProviderHealthy.WithLabelValues(provider.ID.String()).Set(0)
	}

	m.mu.Lock()
	previous, seen := m.lastSeen[provider.ID]
	m.lastSeen[provider.ID] = healthy
	m.mu.Unlock()

	if seen && previous != healthy {
		state := "unhealthy"
		if healthy {
			state = "healthy"
		}
		m.logger.Warn("provider health changed", "provider_id", provider.ID, "state", state)
		if err := m.shipper.Ship(ctx, &audit.LogEntry{
			Action:     "provider_health_" + state,
			ProviderID: provider.ID.String(),
		}); err != nil {
			m.logger.Error("failed to ship health audit entry", "provider_id", provider.ID, "error", err)
		}
	}
}
