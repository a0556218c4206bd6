package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"passgate/internal/cache"
	"passgate/internal/database"
	"passgate/internal/external"
	"passgate/internal/messaging"
)

// Config содержит конфигурацию приложения
type Config struct {
	Port           string
	GinMode        string
	LogLevel       string
	LogFormat      string
	RequestTimeout time.Duration

	// Performance monitoring
	PprofEnabled bool
	PprofPort    string

	// StoreDriver выбирает хранилище: postgres или memory
	StoreDriver string

	JWTSecret string
	QRSecret  string
	QRTTL     time.Duration

	Checkout CheckoutConfig

	Database database.Config
	NATS     messaging.Config
	Redis    cache.Config
	Payment  external.PaymentConfig
	Issuance external.IssuanceConfig
	Events   external.EventsConfig
}

// CheckoutConfig - параметры жизненного цикла checkout-сессий
type CheckoutConfig struct {
	SessionTTL         time.Duration
	SweepInterval      time.Duration
	SweepBatchSize     int
	Retention          time.Duration
	MaxPaymentAttempts int
	SuccessURL         string
	FailURL            string
	NotificationURL    string
}

// Load загружает конфигурацию из переменных окружения
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8081"),
		GinMode:        getEnv("GIN_MODE", "debug"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		RequestTimeout: time.Duration(getEnvInt("REQUEST_TIMEOUT_SEC", 30)) * time.Second,

		PprofEnabled: getEnvBool("PPROF_ENABLED", false),
		PprofPort:    getEnv("PPROF_PORT", "6060"),

		StoreDriver: getEnv("STORE_DRIVER", "postgres"),

		JWTSecret: getEnv("JWT_SECRET", ""),
		QRSecret:  getEnv("QR_SECRET", ""),
		QRTTL:     getEnvDuration("QR_TTL", 5*time.Minute),

		Checkout: CheckoutConfig{
			SessionTTL:         getEnvDuration("SESSION_TTL", 15*time.Minute),
			SweepInterval:      getEnvDuration("SESSION_SWEEP_INTERVAL", 30*time.Second),
			SweepBatchSize:     getEnvInt("SESSION_SWEEP_BATCH", 100),
			Retention:          getEnvDuration("SESSION_RETENTION", 30*24*time.Hour),
			MaxPaymentAttempts: getEnvInt("MAX_PAYMENT_ATTEMPTS", 3),
			SuccessURL:         getEnv("PAYMENT_SUCCESS_URL", "http://localhost:8081/api/payments/success"),
			FailURL:            getEnv("PAYMENT_FAIL_URL", "http://localhost:8081/api/payments/fail"),
			NotificationURL:    getEnv("PAYMENT_NOTIFICATION_URL", "http://localhost:8081/api/payments/notifications"),
		},

		Database: database.Config{
			Host:               getEnv("DB_HOST", "localhost"),
			Port:               getEnvInt("DB_PORT", 5432),
			User:               getEnv("DB_USER", "passgate"),
			Password:           getEnv("DB_PASSWORD", "passgate"),
			DBName:             getEnv("DB_NAME", "passgate"),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 100),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetimeMin: getEnvInt("DB_CONN_MAX_LIFETIME_MIN", 5),
			ConnMaxIdleTimeMin: getEnvInt("DB_CONN_MAX_IDLE_TIME_MIN", 1),
		},

		NATS: messaging.Config{
			URL:       getEnv("NATS_URL", "nats://localhost:4222"),
			ClusterID: getEnv("NATS_CLUSTER_ID", "passgate"),
			ClientID:  getEnv("NATS_CLIENT_ID", "passgate-api"),
		},

		Redis: cache.Config{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},

		Payment: external.PaymentConfig{
			BaseURL:  getEnv("PAYMENT_GATEWAY_URL", "http://localhost:8090"),
			TeamSlug: getEnv("PAYMENT_TEAM_SLUG", ""),
			Password: getEnv("PAYMENT_PASSWORD", ""),
			Currency: getEnv("PAYMENT_CURRENCY", "KZT"),
			Timeout:  time.Duration(getEnvInt("PAYMENT_TIMEOUT_SEC", 30)) * time.Second,
		},

		Issuance: external.IssuanceConfig{
			BaseURL: getEnv("ISSUANCE_SERVICE_URL", "http://localhost:8091"),
			Timeout: time.Duration(getEnvInt("ISSUANCE_TIMEOUT_SEC", 30)) * time.Second,
		},

		Events: external.EventsConfig{
			BaseURL: getEnv("EVENTS_SERVICE_URL", "http://localhost:8092"),
			Timeout: time.Duration(getEnvInt("EVENTS_TIMEOUT_SEC", 10)) * time.Second,
		},
	}
}

// getEnv получает значение переменной окружения или возвращает значение по умолчанию
var (
	ErrMissingJWTSecret = errors.New("JWT_SECRET is required")
	ErrMissingQRSecret  = errors.New("QR_SECRET is required")
)

// Validate проверяет обязательные секреты; пустой ключ HMAC не защищает коды
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	return c.ValidateQRSecret()
}

// ValidateQRSecret нужен инструментам, которые только подписывают коды
func (c *Config) ValidateQRSecret() error {
	if c.QRSecret == "" {
		return ErrMissingQRSecret
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt получает целочисленное значение переменной окружения
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration понимает формат time.ParseDuration ("15m", "30s")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
