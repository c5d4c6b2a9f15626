package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

func init() {
	// Load .env file - ignore error if file doesn't exist
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Note: .env file not found or could not be loaded: %v\n", err)
	}
}

type Config struct {
	Primary       PrimaryConfig
	Database      DatabaseConfig
	Server        ServerConfig
	Redis         RedisConfig
	Observability *ObservabilityConfig
	Stripe        StripeConfig
	Kafka         KafkaConfig
	Auth          AuthConfig
	Referral      ReferralConfig
	Sponsorship   SponsorshipConfig
	AWS           AWSConfig
	Presale       PresaleConfig
	Outbox        OutboxConfig
}

type PrimaryConfig struct {
	Env string
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int
	ConnMaxIdleTime int
}

// DSN returns the postgres connection string for the configured database.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	IdleTimeout        int
	CORSAllowedOrigins []string
}

type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	LockTTL      time.Duration
	KeyPrefix    string
}

type ObservabilityConfig struct {
	ServiceName  string
	Environment  string
	Logging      LoggingConfig
	NewRelic     NewRelicConfig
	HealthChecks HealthChecksConfig
}

type LoggingConfig struct {
	Level              string
	Format             string
	SlowQueryThreshold time.Duration
}

type NewRelicConfig struct {
	LicenseKey                string
	AppLogForwardingEnabled   bool
	DistributedTracingEnabled bool
	DebugLogging              bool
}

type HealthChecksConfig struct {
	Enabled  bool
	Interval time.Duration
	Timeout  time.Duration
	Checks   []string
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string
	Currency      string
	Timeout       time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration
	RefreshURL    string
	ReturnURL     string
}

type KafkaConfig struct {
	Brokers []string
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

type ReferralConfig struct {
	BaseURL       string
	LinkLimit     int64
	LinkWindow    time.Duration
	MinPercentage int64
	MaxPercentage int64
}

type SponsorshipConfig struct {
	PlatformFeePercent int64
	IdempotencyTTL     time.Duration
}

type AWSConfig struct {
	Region          string
	CaptureQueueURL string
}

type OutboxConfig struct {
	BatchSize  int
	Interval   time.Duration
	MaxRetries int
}

type PresaleConfig struct {
	SweepInterval time.Duration
	BatchSize     int
}

// Helper functions for parsing env vars
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return fallback
}

func (c *ObservabilityConfig) GetLogLevel() string {
	if c.Logging.Level == "" {
		switch c.Environment {
		case "production":
			return "info"
		case "development":
			return "debug"
		default:
			return "info"
		}
	}
	return c.Logging.Level
}

func (c *ObservabilityConfig) IsProduction() bool {
	return c.Environment == "production"
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		Primary: PrimaryConfig{
			Env: getEnv("PATRON_ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("PATRON_DB_HOST", "localhost"),
			Port:            getEnvInt("PATRON_DB_PORT", 5432),
			User:            getEnv("PATRON_DB_USER", "patron"),
			Password:        getEnv("PATRON_DB_PASSWORD", ""),
			Name:            getEnv("PATRON_DB_NAME", "patron"),
			SSLMode:         getEnv("PATRON_DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("PATRON_DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("PATRON_DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvInt("PATRON_DB_CONN_MAX_LIFETIME", 300),
			ConnMaxIdleTime: getEnvInt("PATRON_DB_CONN_MAX_IDLE_TIME", 60),
		},
		Server: ServerConfig{
			Port:               getEnv("PATRON_SERVER_PORT", "8080"),
			ReadTimeout:        getEnvInt("PATRON_SERVER_READ_TIMEOUT", 30),
			WriteTimeout:       getEnvInt("PATRON_SERVER_WRITE_TIMEOUT", 30),
			IdleTimeout:        getEnvInt("PATRON_SERVER_IDLE_TIMEOUT", 60),
			CORSAllowedOrigins: getEnvSlice("PATRON_SERVER_CORS_ORIGINS", []string{"*"}),
		},
		Redis: RedisConfig{
			Address:      getEnv("PATRON_REDIS_ADDRESS", "localhost:6379"),
			Password:     getEnv("PATRON_REDIS_PASSWORD", ""),
			DB:           getEnvInt("PATRON_REDIS_DB", 0),
			PoolSize:     getEnvInt("PATRON_REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("PATRON_REDIS_MIN_IDLE_CONNS", 5),
			DialTimeout:  getEnvDuration("PATRON_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("PATRON_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("PATRON_REDIS_WRITE_TIMEOUT", 3*time.Second),
			LockTTL:      getEnvDuration("PATRON_REDIS_LOCK_TTL", 30*time.Second),
			KeyPrefix:    getEnv("PATRON_REDIS_KEY_PREFIX", "patron:"),
		},
		Observability: &ObservabilityConfig{
			ServiceName: "Patron",
			Environment: getEnv("PATRON_ENV", "development"),
			Logging: LoggingConfig{
				Level:              getEnv("PATRON_LOG_LEVEL", "debug"),
				Format:             getEnv("PATRON_LOG_FORMAT", "console"),
				SlowQueryThreshold: getEnvDuration("PATRON_LOG_SLOW_QUERY_THRESHOLD", 100*time.Millisecond),
			},
			NewRelic: NewRelicConfig{
				LicenseKey:                getEnv("PATRON_NEWRELIC_LICENSE_KEY", ""),
				AppLogForwardingEnabled:   getEnvBool("PATRON_NEWRELIC_LOG_FORWARDING", true),
				DistributedTracingEnabled: getEnvBool("PATRON_NEWRELIC_DISTRIBUTED_TRACING", true),
				DebugLogging:              getEnvBool("PATRON_NEWRELIC_DEBUG", false),
			},
			HealthChecks: HealthChecksConfig{
				Enabled:  getEnvBool("PATRON_HEALTHCHECK_ENABLED", true),
				Interval: getEnvDuration("PATRON_HEALTHCHECK_INTERVAL", 30*time.Second),
				Timeout:  getEnvDuration("PATRON_HEALTHCHECK_TIMEOUT", 5*time.Second),
				Checks:   getEnvSlice("PATRON_HEALTHCHECK_CHECKS", []string{"database", "redis"}),
			},
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("PATRON_STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("PATRON_STRIPE_WEBHOOK_SECRET", ""),
			BaseURL:       getEnv("PATRON_STRIPE_BASE_URL", "https://api.stripe.com"),
			Currency:      strings.ToLower(getEnv("PATRON_STRIPE_CURRENCY", "usd")),
			Timeout:       getEnvDuration("PATRON_STRIPE_TIMEOUT", 10*time.Second),
			MaxRetries:    getEnvInt("PATRON_STRIPE_MAX_RETRIES", 3),
			RetryBackoff:  getEnvDuration("PATRON_STRIPE_RETRY_BACKOFF", 500*time.Millisecond),
			RefreshURL:    getEnv("PATRON_STRIPE_CONNECT_REFRESH_URL", "http://localhost:3000/wallet/connect/refresh"),
			ReturnURL:     getEnv("PATRON_STRIPE_CONNECT_RETURN_URL", "http://localhost:3000/wallet/connect/return"),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvSlice("PATRON_KAFKA_BROKERS", []string{"localhost:9092"}),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("PATRON_JWT_SECRET", ""),
			Issuer:    getEnv("PATRON_JWT_ISSUER", "patron"),
		},
		Referral: ReferralConfig{
			BaseURL:       getEnv("PATRON_REFERRAL_BASE_URL", "http://localhost:3000/r/"),
			LinkLimit:     getEnvInt64("PATRON_REFERRAL_LINK_LIMIT", 5),
			LinkWindow:    getEnvDuration("PATRON_REFERRAL_LINK_WINDOW", time.Hour),
			MinPercentage: getEnvInt64("PATRON_REFERRAL_MIN_PERCENT", 1),
			MaxPercentage: getEnvInt64("PATRON_REFERRAL_MAX_PERCENT", 15),
		},
		Sponsorship: SponsorshipConfig{
			PlatformFeePercent: getEnvInt64("PATRON_PLATFORM_FEE_PERCENT", 10),
			IdempotencyTTL:     getEnvDuration("PATRON_IDEMPOTENCY_TTL", 24*time.Hour),
		},
		AWS: AWSConfig{
			Region:          getEnv("PATRON_AWS_REGION", "us-east-1"),
			CaptureQueueURL: getEnv("PATRON_CAPTURE_QUEUE_URL", ""),
		},
		Presale: PresaleConfig{
			SweepInterval: getEnvDuration("PATRON_PRESALE_SWEEP_INTERVAL", 5*time.Minute),
			BatchSize:     getEnvInt("PATRON_PRESALE_BATCH_SIZE", 200),
		},
		Outbox: OutboxConfig{
			BatchSize:  getEnvInt("PATRON_OUTBOX_BATCH_SIZE", 100),
			Interval:   getEnvDuration("PATRON_OUTBOX_INTERVAL", time.Second),
			MaxRetries: getEnvInt("PATRON_OUTBOX_MAX_RETRIES", 10),
		},
	}

	// Validate required fields
	if cfg.Database.Host == "" {
		return nil, fmt.Errorf("PATRON_DB_HOST is required")
	}
	if cfg.Database.Name == "" {
		return nil, fmt.Errorf("PATRON_DB_NAME is required")
	}
	if cfg.Sponsorship.PlatformFeePercent < 0 || cfg.Sponsorship.PlatformFeePercent > 100 {
		return nil, fmt.Errorf("PATRON_PLATFORM_FEE_PERCENT must be between 0 and 100")
	}
	if cfg.Referral.MinPercentage > cfg.Referral.MaxPercentage {
		return nil, fmt.Errorf("PATRON_REFERRAL_MIN_PERCENT must not exceed PATRON_REFERRAL_MAX_PERCENT")
	}

	return cfg, nil
}
