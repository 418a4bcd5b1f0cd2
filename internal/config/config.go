package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server     ServerConfig
	App        AppConfig
	Cache      CacheConfig
	Database   DatabaseConfig
	QuickBooks QuickBooksConfig
	Sync       SyncConfig
	Log        LogConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"3000"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"120s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string   `envconfig:"APP_NAME" default:"eeetrading-api"`
	Environment string   `envconfig:"APP_ENV" default:"development"`
	Debug       bool     `envconfig:"APP_DEBUG" default:"false"`
	Version     string   `envconfig:"APP_VERSION" default:"1.0.0"`
	APIKeys     []string `envconfig:"API_KEYS"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"http://localhost:3001"`
}

// CacheConfig holds cache and lock backend settings.
type CacheConfig struct {
	Type      string `envconfig:"CACHE_TYPE" default:"memory"` // memory or redis
	KeyPrefix string `envconfig:"CACHE_KEY_PREFIX" default:"eeetrading"`

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
}

// DatabaseConfig holds local database settings.
type DatabaseConfig struct {
	Type string `envconfig:"DB_TYPE" default:"sqlite"` // sqlite or mysql
	Path string `envconfig:"DB_PATH" default:"./data/eeetrading.db"`
	// MySQL settings
	Host            string        `envconfig:"DB_HOST" default:"localhost"`
	Port            int           `envconfig:"DB_PORT" default:"3306"`
	Name            string        `envconfig:"DB_NAME" default:"eeetrading"`
	User            string        `envconfig:"DB_USER" default:"root"`
	Password        string        `envconfig:"DB_PASSWORD" default:""`
	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"5m"`
}

// QuickBooksConfig holds the accounting system OAuth2 app and API settings.
type QuickBooksConfig struct {
	ClientID     string `envconfig:"QUICKBOOKS_CLIENT_ID" default:""`
	ClientSecret string `envconfig:"QUICKBOOKS_CLIENT_SECRET" default:""`
	RedirectURL  string `envconfig:"QUICKBOOKS_REDIRECT_URI" default:"http://localhost:3000/auth/quickbooks/callback"`
	Environment  string `envconfig:"QUICKBOOKS_ENVIRONMENT" default:"sandbox"` // sandbox or production
	MinorVersion int    `envconfig:"QUICKBOOKS_MINOR_VERSION" default:"75"`
	AccountsFile string `envconfig:"QUICKBOOKS_ACCOUNTS_FILE" default:"./quickbooks.toml"`
}

// SyncConfig holds reconciliation and token lifecycle settings.
type SyncConfig struct {
	Enabled          bool          `envconfig:"SYNC_ENABLED" default:"true"`
	Interval         time.Duration `envconfig:"SYNC_INTERVAL" default:"1h"`
	Debounce         time.Duration `envconfig:"SYNC_DEBOUNCE" default:"5m"`
	StaleAfter       time.Duration `envconfig:"SYNC_STALE_AFTER" default:"1h"`
	PassTimeout      time.Duration `envconfig:"SYNC_PASS_TIMEOUT" default:"0s"`
	TokenSkew        time.Duration `envconfig:"SYNC_TOKEN_SKEW" default:"300s"`
	FailureThreshold int           `envconfig:"SYNC_FAILURE_THRESHOLD" default:"3"`
	FailureCooldown  time.Duration `envconfig:"SYNC_FAILURE_COOLDOWN" default:"6h"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `envconfig:"LOG_LEVEL" default:"info"`
	Format     string `envconfig:"LOG_FORMAT" default:"auto"` // auto, text or json
	File       string `envconfig:"LOG_FILE" default:""`
	MaxSizeMB  int    `envconfig:"LOG_MAX_SIZE_MB" default:"50"`
	MaxBackups int    `envconfig:"LOG_MAX_BACKUPS" default:"5"`
	MaxAgeDays int    `envconfig:"LOG_MAX_AGE_DAYS" default:"28"`
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisAddress returns the Redis address in host:port format.
func (c *CacheConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// MySQLDSN returns the MySQL data source name. Times are read and written as UTC.
func (d *DatabaseConfig) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// IsDevelopment returns true if running in development mode.
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// IsSandbox reports whether the sandbox accounting environment is targeted.
func (q *QuickBooksConfig) IsSandbox() bool {
	return q.Environment != "production"
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Database.Type) {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("unsupported DB_TYPE %q (want sqlite or mysql)", c.Database.Type)
	}

	switch strings.ToLower(c.Cache.Type) {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported CACHE_TYPE %q (want memory or redis)", c.Cache.Type)
	}

	switch strings.ToLower(c.QuickBooks.Environment) {
	case "sandbox", "production":
	default:
		return fmt.Errorf("unsupported QUICKBOOKS_ENVIRONMENT %q", c.QuickBooks.Environment)
	}

	if c.Sync.Interval <= 0 || c.Sync.Debounce <= 0 || c.Sync.StaleAfter <= 0 {
		return fmt.Errorf("sync interval, debounce and staleness threshold must be positive")
	}
	if c.Sync.PassTimeout < 0 || c.Sync.TokenSkew < 0 {
		return fmt.Errorf("sync pass timeout and token skew must not be negative")
	}

	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
