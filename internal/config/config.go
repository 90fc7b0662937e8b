package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig
	DB         DBConfig
	Log        LogConfig
	Providers  ProvidersConfig
	Panel      PanelConfig
	NATS       NATSConfig
	Admin      AdminConfig
	Reconciler ReconcilerConfig
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port            string `envconfig:"SERVER_PORT" default:"3000"`
	ShutdownTimeout int    `envconfig:"SHUTDOWN_TIMEOUT" default:"30"` // seconds
}

// DBConfig holds database-related configuration.
// WARNING: Default password is for local development only.
// In production, always set DB_PASSWORD via environment variable.
// In production, set DB_SSLMODE to "require" or "verify-full".
type DBConfig struct {
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"5432"`
	User     string `envconfig:"DB_USER" default:"postgres"`
	Password string `envconfig:"DB_PASSWORD" default:"postgres"` // CHANGE IN PRODUCTION
	Name     string `envconfig:"DB_NAME" default:"shopbot_db"`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"` // Use "require" in production
	MaxConns int    `envconfig:"DB_MAX_CONNS" default:"25"`
	MinConns int    `envconfig:"DB_MIN_CONNS" default:"5"`
}

// DSN returns the PostgreSQL connection string for the pgx pool.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d&pool_min_conns=%d",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode, c.MaxConns, c.MinConns)
}

// MigrateDSN returns the connection string without pool parameters, which
// the migration driver does not understand.
func (c DBConfig) MigrateDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Pretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// ProvidersConfig holds the webhook secrets for each payment provider.
// A provider whose secret is empty has its webhook endpoint disabled.
type ProvidersConfig struct {
	CardlinkSecret   string `envconfig:"CARDLINK_SECRET"`
	CryptopaySecret  string `envconfig:"CRYPTOPAY_SECRET"`
	CoinboxSecret    string `envconfig:"COINBOX_SECRET"`
	WalletgateSecret string `envconfig:"WALLETGATE_SECRET"`
	PointsSecret     string `envconfig:"POINTS_SECRET"`
	BankwireSecret   string `envconfig:"BANKWIRE_SECRET"`
}

// PanelConfig holds the key-provisioning panel API configuration.
type PanelConfig struct {
	BaseURL string        `envconfig:"PANEL_BASE_URL" default:"http://localhost:8080"`
	Token   string        `envconfig:"PANEL_TOKEN"`
	Timeout time.Duration `envconfig:"PANEL_TIMEOUT" default:"15s"`
}

// NATSConfig holds event publishing configuration. An empty URL disables
// NATS and falls back to log-only notification dispatch.
type NATSConfig struct {
	URL  string `envconfig:"NATS_URL"`
	Name string `envconfig:"NATS_CLIENT_NAME" default:"shopbot-payments"`
}

// AdminConfig holds the admin API token.
type AdminConfig struct {
	Token string `envconfig:"ADMIN_TOKEN"`
}

// ReconcilerConfig drives the grant-reconciliation loop.
type ReconcilerConfig struct {
	Interval  time.Duration `envconfig:"RECONCILER_INTERVAL" default:"1m"`
	Grace     time.Duration `envconfig:"RECONCILER_GRACE" default:"2m"`
	BatchSize int           `envconfig:"RECONCILER_BATCH_SIZE" default:"50"`
}

// Load parses environment variables into the Config struct.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
