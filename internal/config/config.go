package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"ticketgate/internal/cache"
	"ticketgate/internal/database"
	"ticketgate/internal/messaging"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

// LiveConfig настройки рассылки обновлений дашбордам
type LiveConfig struct {
	BufferSize   int
	QueueSize    int
	PingInterval time.Duration
	RelayEnabled bool
	RelayAddr    string
}

// AuditConfig describes the check-in audit log kept in Elasticsearch
type AuditConfig struct {
	Enabled    bool
	Addresses  []string
	Index      string
	Username   string
	Password   string
	MaxRetries int
	// Timeout bounds the index check at startup and every write
	Timeout   time.Duration
	QueueSize int
}

// AuthConfig настройки JWT для операторов
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// Config содержит конфигурацию приложения
type Config struct {
	Port           string
	GinMode        string
	LogLevel       string
	LogFormat      string
	RequestTimeout time.Duration
	CORSOrigins    []string

	StoreBackend string
	StoreTimeout time.Duration
	// Committed changes waiting for cache refresh, live update and NATS
	NotifyQueueSize int

	// Refunds after check-in keep the attendee counted
	RefundRetainAttendance bool

	CacheEnabled bool

	Database database.Config
	NATS     messaging.Config
	Cache    cache.Config
	Live     LiveConfig
	Auth     AuthConfig
	Audit    AuditConfig
}

// Load загружает конфигурацию из .env и переменных окружения
func Load() *Config {
	// .env is optional; real environment wins
	_ = godotenv.Load()

	return &Config{
		Port:           getEnv("PORT", "8081"),
		GinMode:        getEnv("GIN_MODE", "debug"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		RequestTimeout: time.Duration(getEnvInt("REQUEST_TIMEOUT_SEC", 30)) * time.Second,
		CORSOrigins:    getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),

		StoreBackend: getEnv("STORE_BACKEND", StoreBackendPostgres),
		StoreTimeout: time.Duration(getEnvInt("STORE_TIMEOUT_MS", 2000)) * time.Millisecond,

		NotifyQueueSize: getEnvInt("NOTIFY_QUEUE_SIZE", 8192),

		RefundRetainAttendance: getEnvBool("REFUND_RETAIN_ATTENDANCE", false),

		CacheEnabled: getEnvBool("CACHE_ENABLED", false),

		Database: database.Config{
			Host:               getEnv("DB_HOST", "localhost"),
			Port:               getEnvInt("DB_PORT", 5432),
			User:               getEnv("DB_USER", "ticketgate"),
			Password:           getEnv("DB_PASSWORD", "ticketgate"),
			DBName:             getEnv("DB_NAME", "ticketgate"),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 100),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetimeMin: getEnvInt("DB_CONN_MAX_LIFETIME_MIN", 5),
			ConnMaxIdleTimeMin: getEnvInt("DB_CONN_MAX_IDLE_TIME_MIN", 1),
		},

		NATS: messaging.Config{
			URL:       getEnv("NATS_URL", "nats://localhost:4222"),
			ClusterID: getEnv("NATS_CLUSTER_ID", "ticketgate"),
			ClientID:  getEnv("NATS_CLIENT_ID", "ticketgate-api"),
			Enabled:   getEnvBool("NATS_ENABLED", false),
		},

		Cache: cache.Config{
			Addr:     getEnv("VALKEY_ADDR", "localhost:6379"),
			Password: getEnv("VALKEY_PASSWORD", ""),
			TTL:      time.Duration(getEnvInt("SNAPSHOT_CACHE_TTL_SEC", 5)) * time.Second,
		},

		Live: LiveConfig{
			BufferSize:   getEnvInt("LIVE_BUFFER_SIZE", 64),
			QueueSize:    getEnvInt("LIVE_QUEUE_SIZE", 4096),
			PingInterval: time.Duration(getEnvInt("LIVE_PING_SEC", 30)) * time.Second,
			RelayEnabled: getEnvBool("LIVE_RELAY_ENABLED", false),
			RelayAddr:    getEnv("LIVE_RELAY_ADDR", getEnv("VALKEY_ADDR", "localhost:6379")),
		},

		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			Issuer:    getEnv("JWT_ISSUER", "ticketgate"),
		},

		Audit: AuditConfig{
			Enabled:    getEnvBool("AUDIT_ENABLED", false),
			Addresses:  getEnvList("ELASTICSEARCH_ADDRESSES", []string{getEnv("ELASTICSEARCH_URL", "http://localhost:9200")}),
			Index:      getEnv("AUDIT_INDEX", "checkin-attempts"),
			Username:   getEnv("ELASTICSEARCH_USERNAME", ""),
			Password:   getEnv("ELASTICSEARCH_PASSWORD", ""),
			MaxRetries: getEnvInt("ELASTICSEARCH_MAX_RETRIES", 3),
			Timeout:    getEnvDuration("AUDIT_TIMEOUT", 10*time.Second),
			QueueSize:  getEnvInt("AUDIT_QUEUE_SIZE", 1024),
		},
	}
}

// getEnv получает значение переменной окружения или возвращает значение по умолчанию
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration reads Go duration syntax, e.g. "1500ms" or "10s"
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

// getEnvList читает список через запятую
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
