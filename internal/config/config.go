package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `env:",prefix=SERVER_"`

	// Database configuration
	Database DatabaseConfig `env:",prefix=DB_"`

	// Application configuration
	App AppConfig `env:",prefix=APP_"`

	// Appointment lifecycle rules
	Lifecycle LifecycleConfig `env:",prefix=LIFECYCLE_"`

	// No-show sweeper schedule
	Sweeper SweeperConfig `env:",prefix=SWEEPER_"`

	// Referral and reward rules
	Referral ReferralConfig `env:",prefix=REFERRAL_"`

	// Session and cron authentication
	Auth AuthConfig `env:",prefix=AUTH_"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port         string `env:"PORT,default=8080"`
	Host         string `env:"HOST,default=0.0.0.0"`
	ReadTimeout  int    `env:"READ_TIMEOUT,default=30"`  // seconds
	WriteTimeout int    `env:"WRITE_TIMEOUT,default=30"` // seconds
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver     string `env:"DRIVER,default=postgres"` // postgres or sqlite3
	SQLitePath string `env:"SQLITE_PATH,default=viewing.db"`
	Host       string `env:"HOST,default=localhost"`
	Port       string `env:"PORT,default=5432"`
	User       string `env:"USER,default=postgres"`
	Password   string `env:"PASSWORD,default=postgres"`
	Name       string `env:"NAME,default=viewing"`
	SSLMode    string `env:"SSL_MODE,default=disable"`
	MaxConns   int    `env:"MAX_CONNS,default=25"`
	MinConns   int    `env:"MIN_CONNS,default=5"`
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	Environment string `env:"ENVIRONMENT,default=development"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
	Debug       bool   `env:"DEBUG,default=false"`
}

// LifecycleConfig controls the appointment state machine.
type LifecycleConfig struct {
	// VisitDuration is the assumed length of a viewing.
	VisitDuration time.Duration `env:"VISIT_DURATION,default=1h"`
	// GracePeriod is allowed on both sides of the visit.
	GracePeriod          time.Duration `env:"GRACE_PERIOD,default=2h"`
	AllowCancelConfirmed bool          `env:"ALLOW_CANCEL_CONFIRMED,default=true"`
	CredentialAttempts   int           `env:"CREDENTIAL_ATTEMPTS,default=5"`
}

// SweeperConfig holds the no-show sweep schedule.
type SweeperConfig struct {
	Enabled  bool          `env:"ENABLED,default=true"`
	Interval time.Duration `env:"INTERVAL,default=5m"`
}

// ReferralConfig holds referral throttling and reward settings.
type ReferralConfig struct {
	RateWindow        time.Duration `env:"RATE_WINDOW,default=60s"`
	RateMax           int           `env:"RATE_MAX,default=10"`
	RateBackend       string        `env:"RATE_BACKEND,default=memory"` // memory or database
	VelocityWindow    time.Duration `env:"VELOCITY_WINDOW,default=24h"`
	VelocityThreshold int           `env:"VELOCITY_THRESHOLD,default=5"`
	CodeLength        int           `env:"CODE_LENGTH,default=8"`
	CodeAttempts      int           `env:"CODE_ATTEMPTS,default=5"`
	VoucherItem       string        `env:"VOUCHER_ITEM,default=Door Gift Voucher"`
	RewardKind        string        `env:"REWARD_KIND,default=POINTS"`
	// Amounts are decimal strings with two places, e.g. 25.00
	RewardAmount decimal.Decimal `env:"REWARD_AMOUNT,default=0.00"`
	VoucherValue decimal.Decimal `env:"VOUCHER_VALUE,default=0.00"`
}

// DevJWTSecret is the signing key used when AUTH_JWT_SECRET is unset.
// Production refuses to start with it.
const DevJWTSecret = "dev-secret-change-me"

// AuthConfig holds secrets for session tokens and the cron endpoint
type AuthConfig struct {
	JWTSecret  string        `env:"JWT_SECRET,default=dev-secret-change-me"`
	TokenTTL   time.Duration `env:"TOKEN_TTL,default=24h"`
	CronSecret string        `env:"CRON_SECRET"`
}

// Load loads configuration from an optional .env file and environment variables
func Load(ctx context.Context) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFrom loads configuration from the given key/value pairs instead of the environment.
func LoadFrom(ctx context.Context, env map[string]string) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: envconfig.MapLookuper(env),
	}); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot run with
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	switch c.Referral.RateBackend {
	case "memory", "database":
	default:
		return fmt.Errorf("unsupported REFERRAL_RATE_BACKEND %q", c.Referral.RateBackend)
	}
	if c.Lifecycle.VisitDuration <= 0 || c.Lifecycle.GracePeriod < 0 {
		return fmt.Errorf("visit duration must be positive and grace period non-negative")
	}
	if c.Referral.RateMax < 1 || c.Referral.RateWindow <= 0 {
		return fmt.Errorf("referral rate limit needs a positive window and max")
	}
	if c.Referral.CodeLength < 4 {
		return fmt.Errorf("referral code length must be at least 4")
	}
	if c.Referral.RewardAmount.IsNegative() || c.Referral.VoucherValue.IsNegative() {
		return fmt.Errorf("reward amounts must not be negative")
	}
	if c.Sweeper.Enabled && c.Sweeper.Interval <= 0 {
		return fmt.Errorf("sweeper interval must be positive")
	}
	if c.Lifecycle.CredentialAttempts < 1 || c.Referral.CodeAttempts < 1 {
		return fmt.Errorf("code generation needs at least one attempt")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("token ttl must be positive")
	}
	if c.App.IsProduction() {
		if c.Auth.JWTSecret == "" || c.Auth.JWTSecret == DevJWTSecret {
			return fmt.Errorf("AUTH_JWT_SECRET must be set in production")
		}
		if c.Auth.CronSecret == "" {
			return fmt.Errorf("AUTH_CRON_SECRET must be set in production")
		}
	}
	return nil
}

// GetDatabaseURL returns the PostgreSQL connection URL
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// IsDevelopment returns true if running in development environment
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production environment
func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}
