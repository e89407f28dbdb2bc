package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config represents runtime configuration for the fund settlement service.
type Config struct {
	Port        string
	Environment string
	Database    DatabaseConfig
	Redis       RedisConfig
	Auth        AuthConfig
	Log         LogConfig
	Events      EventsConfig
	Chain       ChainConfig
	Worker      WorkerConfig
	RateLimit   RateLimitConfig
	CORSOrigins []string

	// RequireVerifiedPayment blocks approvals until the payment reference is verified on chain.
	RequireVerifiedPayment bool
}

// DatabaseConfig selects the GORM dialector and connection parameters.
type DatabaseConfig struct {
	Driver         string
	Host           string
	Port           string
	User           string
	Password       string
	Name           string
	SSLMode        string
	SQLitePath     string
	MigrationsPath string
	AutoMigrate    bool
}

// DSN returns the postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode)
}

// URL returns the postgres URL form used by the migration tool.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// RedisConfig configures the optional distributed lock backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// Enabled reports whether a Redis address was configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// AuthConfig controls bearer token verification.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	MaxSkew   time.Duration
}

// LogConfig controls logrus output.
type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// EventsConfig configures domain event fan-out.
type EventsConfig struct {
	RabbitMQURL   string
	RabbitMQQueue string
	KafkaBrokers  []string
	KafkaTopic    string
}

// ChainConfig configures the settlement network client.
type ChainConfig struct {
	RPCURL        string
	AssetDecimals int32
	TokenDecimals int32
}

// WorkerConfig controls the background jobs.
type WorkerConfig struct {
	OutboxSchedule    string
	OutboxBatchSize   int
	OutboxMaxAttempts int
	OutboxBaseBackoff time.Duration
	ReconcileSchedule string
	ReconcileBatch    int
	ReconcileGrace    time.Duration
}

// RateLimitConfig configures the per-client request limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found")
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:        getEnvDefault("PORT", "8080"),
		Environment: getEnvDefault("APP_ENV", "development"),
		Database: DatabaseConfig{
			Driver:         strings.ToLower(getEnvDefault("DB_DRIVER", "postgres")),
			Host:           getEnvDefault("DB_HOST", "localhost"),
			Port:           getEnvDefault("DB_PORT", "5432"),
			User:           os.Getenv("DB_USER"),
			Password:       os.Getenv("DB_PASSWORD"),
			Name:           getEnvDefault("DB_NAME", "simplefund"),
			SSLMode:        getEnvDefault("DB_SSLMODE", "disable"),
			SQLitePath:     getEnvDefault("DB_SQLITE_PATH", "simplefund.db"),
			MigrationsPath: getEnvDefault("MIGRATIONS_PATH", "migrations"),
			AutoMigrate:    parseBoolEnv("DB_AUTO_MIGRATE", false),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       parseIntEnv("REDIS_DB", 0),
			LockTTL:  parseDurationEnv("REDIS_LOCK_TTL", 10*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("JWT_SECRET"),
			Issuer:    os.Getenv("JWT_ISSUER"),
			MaxSkew:   parseDurationEnv("JWT_MAX_SKEW", 30*time.Second),
		},
		Log: LogConfig{
			Level:      getEnvDefault("LOG_LEVEL", "info"),
			File:       os.Getenv("LOG_FILE"),
			MaxSizeMB:  parseIntEnv("LOG_MAX_SIZE_MB", 100),
			MaxBackups: parseIntEnv("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: parseIntEnv("LOG_MAX_AGE_DAYS", 28),
		},
		Events: EventsConfig{
			RabbitMQURL:   os.Getenv("RABBITMQ_URL"),
			RabbitMQQueue: getEnvDefault("RABBITMQ_QUEUE", "simplefund.events"),
			KafkaBrokers:  parseCSVEnv("KAFKA_BROKERS"),
			KafkaTopic:    getEnvDefault("KAFKA_TOPIC", "simplefund.events"),
		},
		Chain: ChainConfig{
			RPCURL:        os.Getenv("CHAIN_RPC_URL"),
			AssetDecimals: int32(parseIntEnv("CHAIN_ASSET_DECIMALS", 18)),
			TokenDecimals: int32(parseIntEnv("CHAIN_TOKEN_DECIMALS", 0)),
		},
		Worker: WorkerConfig{
			OutboxSchedule:    getEnvDefault("OUTBOX_SCHEDULE", "*/5 * * * * *"),
			OutboxBatchSize:   parseIntEnv("OUTBOX_BATCH_SIZE", 50),
			OutboxMaxAttempts: parseIntEnv("OUTBOX_MAX_ATTEMPTS", 10),
			OutboxBaseBackoff: parseDurationEnv("OUTBOX_BASE_BACKOFF", 5*time.Second),
			ReconcileSchedule: getEnvDefault("RECONCILE_SCHEDULE", "0 * * * * *"),
			ReconcileBatch:    parseIntEnv("RECONCILE_BATCH_SIZE", 25),
			ReconcileGrace:    parseDurationEnv("RECONCILE_NOT_FOUND_GRACE", 30*time.Minute),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: parseFloatEnv("RATE_LIMIT_RPS", 20),
			Burst:             parseIntEnv("RATE_LIMIT_BURST", 40),
		},
		CORSOrigins:            parseCSVEnv("CORS_ALLOWED_ORIGINS"),
		RequireVerifiedPayment: parseBoolEnv("REQUIRE_VERIFIED_PAYMENT", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the cross-field constraints of the configuration.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.User == "" {
			return fmt.Errorf("DB_USER is required for postgres")
		}
	case "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Worker.OutboxMaxAttempts <= 0 {
		return fmt.Errorf("OUTBOX_MAX_ATTEMPTS must be positive")
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate limit settings must be positive")
	}
	return nil
}

func getEnvDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func parseIntEnv(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		logrus.WithField("key", key).Warn("invalid integer in environment, using default")
		return fallback
	}
	return v
}

func parseFloatEnv(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		logrus.WithField("key", key).Warn("invalid number in environment, using default")
		return fallback
	}
	return v
}

func parseBoolEnv(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func parseDurationEnv(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		logrus.WithField("key", key).Warn("invalid duration in environment, using default")
		return fallback
	}
	return v
}

func parseCSVEnv(key string) []string {
	raw := os.Getenv(key)
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
