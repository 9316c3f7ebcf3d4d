package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// DefaultJWTSecret is the development fallback for JWT_SECRET. Production
// refuses to start with it.
const DefaultJWTSecret = "your-secret-key"

// ErrInsecureJWTSecret is returned by Validate in production when JWT_SECRET
// is unset or left at DefaultJWTSecret.
var ErrInsecureJWTSecret = errors.New("JWT_SECRET must be set to a non-default value in production")

// Config is assembled once at process start and handed to constructors.
type Config struct {
	Port string
	Env  string

	DB    DBConfig
	Redis RedisConfig

	StripeSecretKey     string
	StripeWebhookSecret string
	PayoutCurrency      string

	ProcessorTimeout time.Duration
	StoreTimeout     time.Duration

	RetryAttempts int
	RetryBase     time.Duration
	RetryMax      time.Duration

	BreakerConsecutiveFailures uint32
	BreakerOpenTimeout         time.Duration

	PayoutRateLimit     int
	PayoutRateWindow    time.Duration
	MaxWithdrawalAmount int64

	JWTSecret      string
	DedupTTL       time.Duration
	WalletCacheTTL time.Duration

	LogLevel  string
	LogFormat string

	AllowedOrigins string
}

type DBConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DSN renders the libpq keyword/value connection string.
func (c DBConfig) DSN() string {
	return "host=" + c.Host +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Name +
		" port=" + c.Port +
		" sslmode=" + c.SSLMode
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// LoadEnv loads variables from a .env file if present.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found: %v", err)
	}
}

// Load reads the process environment into a Config.
func Load() Config {
	return Config{
		Port: GetEnv("PORT", "3000"),
		Env:  GetEnv("ENV", "development"),
		DB: DBConfig{
			Host:            GetEnv("DB_HOST", "localhost"),
			Port:            GetEnv("DB_PORT", "5432"),
			User:            GetEnv("DB_USER", "postgres"),
			Password:        GetEnv("DB_PASSWORD", "postgres"),
			Name:            GetEnv("DB_NAME", "walletledger"),
			SSLMode:         GetEnv("DB_SSLMODE", "disable"),
			MaxIdleConns:    GetIntEnv("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    GetIntEnv("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: GetDurationEnv("DB_CONN_MAX_LIFETIME", time.Hour),
			ConnMaxIdleTime: GetDurationEnv("DB_CONN_MAX_IDLE_TIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			Host:     GetEnv("REDIS_HOST", "localhost"),
			Port:     GetEnv("REDIS_PORT", "6379"),
			Password: GetEnv("REDIS_PASSWORD", ""),
			DB:       GetIntEnv("REDIS_DB", 0),
		},
		StripeSecretKey:            GetEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret:        GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		PayoutCurrency:             GetEnv("PAYOUT_CURRENCY", "usd"),
		ProcessorTimeout:           GetDurationEnv("PROCESSOR_TIMEOUT", 10*time.Second),
		StoreTimeout:               GetDurationEnv("STORE_TIMEOUT", 5*time.Second),
		RetryAttempts:              GetIntEnv("RETRY_ATTEMPTS", 5),
		RetryBase:                  GetDurationEnv("RETRY_BASE", 20*time.Millisecond),
		RetryMax:                   GetDurationEnv("RETRY_MAX", time.Second),
		BreakerConsecutiveFailures: uint32(GetIntEnv("BREAKER_CONSECUTIVE_FAILURES", 5)),
		BreakerOpenTimeout:         GetDurationEnv("BREAKER_OPEN_TIMEOUT", 30*time.Second),
		PayoutRateLimit:            GetIntEnv("PAYOUT_RATE_LIMIT", 10),
		PayoutRateWindow:           GetDurationEnv("PAYOUT_RATE_WINDOW", time.Minute),
		MaxWithdrawalAmount:        int64(GetIntEnv("MAX_WITHDRAWAL_AMOUNT", 0)),
		JWTSecret:                  GetEnv("JWT_SECRET", DefaultJWTSecret),
		DedupTTL:                   GetDurationEnv("DEDUP_TTL", 72*time.Hour),
		WalletCacheTTL:             GetDurationEnv("WALLET_CACHE_TTL", 5*time.Minute),
		LogLevel:                   GetEnv("LOG_LEVEL", "info"),
		LogFormat:                  GetEnv("LOG_FORMAT", "json"),
		AllowedOrigins:             GetEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
	}
}

// GetEnv returns an environment variable or a default value.
func GetEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return defaultVal
}

// GetIntEnv returns an int environment variable or a default value.
func GetIntEnv(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// GetDurationEnv parses a time.Duration such as "250ms" or falls back to defaultVal.
func GetDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// IsProduction checks if the app runs in production mode.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate reports settings the process must not start with.
func (c Config) Validate() error {
	if c.IsProduction() && (c.JWTSecret == "" || c.JWTSecret == DefaultJWTSecret) {
		return ErrInsecureJWTSecret
	}
	return nil
}
