// Package config loads and validates the marketplace configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the SHOP_ prefix (e.g., SHOP_DATABASE_HOST
// overrides database.host in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments.
//
// The ENCRYPTION_KEY variable has no SHOP_ prefix because it may be injected by
// infrastructure tooling (e.g., Kubernetes secrets, Vault agent) that does not
// know the application-specific prefix and treats it as a generic secret name.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Payments  PaymentsConfig  `mapstructure:"payments"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Bootstrap BootstrapConfig `mapstructure:"bootstrap"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	PublicURL    string        `mapstructure:"public_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetAddress returns the host:port the HTTP server listens on
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GetPublicURL returns the public-facing URL used to build provider webhook
// callback URLs. When server.public_url is set it is returned as-is; otherwise
// it falls back to server.base_url. The distinction matters in reverse-proxied
// deployments where the internal listen address differs from the URL the
// provider's BTCPay instance can actually reach.
func (s *ServerConfig) GetPublicURL() string {
	if s.PublicURL != "" {
		return s.PublicURL
	}
	return s.BaseURL
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// GetDSN returns the PostgreSQL connection string
func (d *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// RedisConfig holds the optional Redis connection used by the distributed
// rate limiter. When disabled, rate limiting falls back to an in-process
// token bucket.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ProviderConfig holds defaults for talking to infrastructure providers'
// management APIs (BTCPay Server Greenfield and compatible).
type ProviderConfig struct {
	// DryRun short-circuits every outbound provider call with deterministic
	// mock responses. No network I/O is performed while it is set.
	DryRun         bool          `mapstructure:"dry_run"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// WebhookEvents is the event set registered on provider stores at
	// provisioning time.
	WebhookEvents []string `mapstructure:"webhook_events"`
}

// PaymentsConfig holds wallet-relay and invoice resolution settings
type PaymentsConfig struct {
	// NWCTimeout bounds a single pay_invoice round-trip over the wallet relay.
	NWCTimeout time.Duration `mapstructure:"nwc_timeout"`
	// ResolveTimeout bounds each HTTP call of lightning-address resolution.
	ResolveTimeout time.Duration `mapstructure:"resolve_timeout"`
	// MemoTemplate is the human-readable invoice memo; %s is the shop name.
	MemoTemplate string `mapstructure:"memo_template"`
}

// LifecycleConfig holds the retry budgets of the connection lifecycle manager
type LifecycleConfig struct {
	// ProvisionAttempts is the total in-request attempt budget of one
	// provisioning run (first try included).
	ProvisionAttempts int `mapstructure:"provision_attempts"`
	// ProvisionRetryDelay is the fixed pause between provisioning attempts.
	ProvisionRetryDelay time.Duration `mapstructure:"provision_retry_delay"`
	// MaxManualRetries caps the persisted per-connection retry counter.
	MaxManualRetries int `mapstructure:"max_manual_retries"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	BurstSize         int  `mapstructure:"burst_size"`
}

// SecurityConfig holds TLS and security header configuration
type SecurityConfig struct {
	TLS  TLSConfig  `mapstructure:"tls"`
	CORS CORSConfig `mapstructure:"cors"`
	// JWTSecret signs API bearer tokens. Required outside development.
	JWTSecret string `mapstructure:"jwt_secret"`
}

// CORSConfig holds cross-origin access configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// TLSConfig holds TLS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}

// TelemetryConfig holds observability side-channel configuration
type TelemetryConfig struct {
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Profiling ProfilingConfig `mapstructure:"profiling"`
}

// MetricsConfig holds Prometheus exposition configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// ProfilingConfig holds pprof side-channel configuration
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// AuditConfig holds audit shipping configuration
type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// File path for the local audit trail; empty disables the file shipper.
	FilePath string `mapstructure:"file_path"`
	// WebhookURL for forwarding audit entries to a SIEM; empty disables it.
	WebhookURL     string            `mapstructure:"webhook_url"`
	WebhookHeaders map[string]string `mapstructure:"webhook_headers"`
}

// BootstrapConfig seeds the initial operator account on first start
type BootstrapConfig struct {
	AdminEmail    string `mapstructure:"admin_email"`
	AdminPassword string `mapstructure:"admin_password"`
}

// EncryptionKey returns the master key material for the at-rest secret box.
// Read directly from the unprefixed ENCRYPTION_KEY environment variable.
func EncryptionKey() string {
	return os.Getenv("ENCRYPTION_KEY")
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.public_url", "")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "shopconnect")
	v.SetDefault("database.user", "shopconnect")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Provider client defaults
	v.SetDefault("provider.dry_run", false)
	v.SetDefault("provider.request_timeout", "30s")
	v.SetDefault("provider.webhook_events", []string{"store.modified", "store.user.removed", "store.deleted"})

	// Payment defaults
	v.SetDefault("payments.nwc_timeout", "60s")
	v.SetDefault("payments.resolve_timeout", "10s")
	v.SetDefault("payments.memo_template", "Subscription payment for %s")

	// Lifecycle defaults
	v.SetDefault("lifecycle.provision_attempts", 2)
	v.SetDefault("lifecycle.provision_retry_delay", "5s")
	v.SetDefault("lifecycle.max_manual_retries", 5)

	// Rate limiting defaults
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_minute", 200)
	v.SetDefault("rate_limit.burst_size", 50)

	// Security defaults
	v.SetDefault("security.tls.enabled", false)
	v.SetDefault("security.cors.allowed_origins", []string{"*"})

	// Logging defaults
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.level", "info")

	// Telemetry defaults
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
	v.SetDefault("telemetry.profiling.enabled", false)
	v.SetDefault("telemetry.profiling.port", 6060)

	// Audit defaults
	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.file_path", "")
	v.SetDefault("audit.webhook_url", "")
}

// bindEnvVars explicitly binds environment variables for nested config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested
// structs during Unmarshal. viper.BindEnv only errors when called with zero
// keys; every key here is non-empty so errors are propagated for completeness.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		"server.host", "server.port", "server.base_url", "server.public_url",
		"server.read_timeout", "server.write_timeout",
		"database.host", "database.port", "database.name", "database.user",
		"database.password", "database.ssl_mode", "database.max_connections",
		"database.min_idle_connections",
		"redis.enabled", "redis.addr", "redis.password", "redis.db",
		"provider.dry_run", "provider.request_timeout", "provider.webhook_events",
		"payments.nwc_timeout", "payments.resolve_timeout", "payments.memo_template",
		"lifecycle.provision_attempts", "lifecycle.provision_retry_delay",
		"lifecycle.max_manual_retries",
		"rate_limit.enabled", "rate_limit.requests_per_minute", "rate_limit.burst_size",
		"security.tls.enabled", "security.tls.cert_file", "security.tls.key_file",
		"security.cors.allowed_origins", "security.jwt_secret",
		"logging.format", "logging.level",
		"telemetry.metrics.enabled", "telemetry.metrics.prometheus_port",
		"telemetry.profiling.enabled", "telemetry.profiling.port",
		"audit.enabled", "audit.file_path", "audit.webhook_url",
		"bootstrap.admin_email", "bootstrap.admin_password",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var for %s: %w", key, err)
		}
	}
	return nil
}

// Load reads configuration from the given file path (or default locations)
// plus environment variables, and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/shopconnect")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("SHOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields so YAML can hold
	// ${VAR} placeholders instead of raw secrets.
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Security.JWTSecret = expandEnv(cfg.Security.JWTSecret)
	cfg.Bootstrap.AdminPassword = expandEnv(cfg.Bootstrap.AdminPassword)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for inconsistencies that would only
// surface later as runtime failures.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.MaxConnections < 1 {
		return fmt.Errorf("database.max_connections must be at least 1, got %d", c.Database.MaxConnections)
	}
	if c.Lifecycle.ProvisionAttempts < 1 {
		return fmt.Errorf("lifecycle.provision_attempts must be at least 1, got %d", c.Lifecycle.ProvisionAttempts)
	}
	if c.Lifecycle.MaxManualRetries < 1 {
		return fmt.Errorf("lifecycle.max_manual_retries must be at least 1, got %d", c.Lifecycle.MaxManualRetries)
	}
	if c.Lifecycle.ProvisionRetryDelay < 0 {
		return fmt.Errorf("lifecycle.provision_retry_delay must not be negative")
	}
	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" || c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.cert_file and security.tls.key_file are required when TLS is enabled")
		}
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text", "":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}
	return nil
}

// expandEnv expands ${VAR} or $VAR references in config values
func expandEnv(value string) string {
	if strings.Contains(value, "$") {
		return os.ExpandEnv(value)
	}
	return value
}
