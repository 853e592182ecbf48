// Package audit emits structured records for security-relevant marketplace
// events: webhook deliveries, connection state changes, credential writes,
// and disconnections. Audit records are kept apart from application logs
// because their consumers and retention differ; destinations are pluggable
// through the Shipper interface so records can be routed to a file, a SIEM
// webhook, or both at once.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"
)

// LogEntry is one audit record
type LogEntry struct {
	Timestamp    time.Time      `json:"timestamp"`
	Action       string         `json:"action"`
	ActorID      string         `json:"actor_id,omitempty"`
	ShopID       string         `json:"shop_id,omitempty"`
	ProviderID   string         `json:"provider_id,omitempty"`
	ConnectionID string         `json:"connection_id,omitempty"`
	StoreID      string         `json:"store_id,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Shipper delivers audit records to one destination
type Shipper interface {
	Ship(ctx context.Context, entry *LogEntry) error
	Close() error
}

// Config selects and configures one shipper
type Config struct {
	Enabled bool           `json:"enabled"`
	Type    string         `json:"type"` // "file" or "webhook"
	File    *FileConfig    `json:"file,omitempty"`
	Webhook *WebhookConfig `json:"webhook,omitempty"`
}

// FileConfig configures the append-only file destination
type FileConfig struct {
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// WebhookConfig configures the HTTP destination
type WebhookConfig struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Timeout time.Duration     `json:"timeout"`
}

// NewShipper builds a shipper fan-out from the enabled configs. With no
// enabled destination the returned shipper discards everything.
func NewShipper(configs []Config, logger *slog.Logger) (Shipper, error) {
	if logger == nil {
		logger = slog.Default()
	}

	multi := &MultiShipper{logger: logger}
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		switch cfg.Type {
		case "file":
			if cfg.File == nil {
				return nil, fmt.Errorf("file shipper needs a file config")
			}
			s, err := NewFileShipper(cfg.File)
			if err != nil {
				return nil, fmt.Errorf("build file shipper: %w", err)
			}
			multi.destinations = append(multi.destinations, s)
		case "webhook":
			if cfg.Webhook == nil {
				return nil, fmt.Errorf("webhook shipper needs a webhook config")
			}
			multi.destinations = append(multi.destinations, NewWebhookShipper(cfg.Webhook))
		default:
			return nil, fmt.Errorf("unknown shipper type %q", cfg.Type)
		}
	}
	return multi, nil
}

// MultiShipper fans one record out to every destination. A failing
// destination does not stop delivery to the others.
type MultiShipper struct {
	destinations []Shipper
	logger       *slog.Logger
}

func (m *MultiShipper) Ship(ctx context.Context, entry *LogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	var lastErr error
	for _, dest := range m.destinations {
		if err := dest.Ship(ctx, entry); err != nil {
			lastErr = err
			m.logger.Error("audit shipper delivery failed", "action", entry.Action, "error", err)
		}
	}
	return lastErr
}

func (m *MultiShipper) Close() error {
	var lastErr error
	for _, dest := range m.destinations {
		if err := dest.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// WebhookShipper POSTs each record as JSON to a collector endpoint
type WebhookShipper struct {
	cfg    *WebhookConfig
	client *http.Client
}

// NewWebhookShipper creates a webhook shipper
func NewWebhookShipper(cfg *WebhookConfig) *WebhookShipper {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookShipper{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (w *WebhookShipper) Ship(ctx context.Context, entry *LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", w.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create audit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send audit entry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("audit collector returned status %d", resp.StatusCode)
	}
	return nil
}

func (w *WebhookShipper) Close() error { return nil }

// FileShipper appends JSON-lines records to a local file with simple
// size-based rotation.
type FileShipper struct {
	cfg  *FileConfig
	mu   sync.Mutex
	file *os.File
}

// NewFileShipper creates a file shipper
func NewFileShipper(cfg *FileConfig) (*FileShipper, error) {
	file, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open audit log file: %w", err)
	}
	return &FileShipper{cfg: cfg, file: file}, nil
}

func (f *FileShipper) Ship(ctx context.Context, entry *LogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cfg.MaxSizeMB > 0 {
		if info, err := f.file.Stat(); err == nil && info.Size() > int64(f.cfg.MaxSizeMB)*1024*1024 {
			if err := f.rotate(); err != nil {
				return fmt.Errorf("rotate audit log: %w", err)
			}
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	if _, err := f.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

// rotate renames the current file into the numbered backup chain and opens a
// fresh one. Caller holds the mutex.
func (f *FileShipper) rotate() error {
	if err := f.file.Close(); err != nil {
		return err
	}

	for i := f.cfg.MaxBackups - 1; i >= 1; i-- {
		_ = os.Rename(
			fmt.Sprintf("%s.%d", f.cfg.Path, i),
			fmt.Sprintf("%s.%d", f.cfg.Path, i+1),
		)
	}
	_ = os.Rename(f.cfg.Path, f.cfg.Path+".1")
	if f.cfg.MaxBackups > 0 {
		_ = os.Remove(fmt.Sprintf("%s.%d", f.cfg.Path, f.cfg.MaxBackups+1))
	}

	file, err := os.OpenFile(f.cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	f.file = file
	return nil
}

func (f *FileShipper) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file.Close()
}

// Discard is a no-op shipper for deployments with auditing disabled
type Discard struct{}

func (Discard) Ship(ctx context.Context, entry *LogEntry) error { return nil }
func (Discard) Close() error                                    { return nil }
