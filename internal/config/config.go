package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	// Payment processor (outbound API + inbound webhooks).
	GatewayBaseURL       string
	GatewayAPIKey        string
	GatewayWebhookSecret string
	GatewayTimeout       time.Duration
	GatewayMaxRetries    int

	// Performance stats collaborator.
	PerformanceBaseURL string
	PerformanceTimeout time.Duration

	// Settlement scheduler.
	SettlementRunInterval  time.Duration
	SettlementBatchSize    int
	SettlementLeaseTimeout time.Duration
	SettlementJobTimeout   time.Duration
	SettlementCurrency     string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "pledgeline"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "pledgeline"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),

		GatewayBaseURL:       strings.TrimRight(getenv("GATEWAY_BASE_URL", "https://api.zaprite.com"), "/"),
		GatewayAPIKey:        strings.TrimSpace(getenv("GATEWAY_API_KEY", "")),
		GatewayWebhookSecret: strings.TrimSpace(getenv("GATEWAY_WEBHOOK_SECRET", "")),
		GatewayTimeout:       getenvDuration("GATEWAY_TIMEOUT", 10*time.Second),
		GatewayMaxRetries:    getenvInt("GATEWAY_MAX_RETRIES", 4),

		PerformanceBaseURL: strings.TrimRight(getenv("PERFORMANCE_BASE_URL", ""), "/"),
		PerformanceTimeout: getenvDuration("PERFORMANCE_TIMEOUT", 5*time.Second),

		SettlementRunInterval:  getenvDuration("SETTLEMENT_RUN_INTERVAL", time.Minute),
		SettlementBatchSize:    getenvInt("SETTLEMENT_BATCH_SIZE", 50),
		SettlementLeaseTimeout: getenvDuration("SETTLEMENT_LEASE_TIMEOUT", 15*time.Minute),
		SettlementJobTimeout:   getenvDuration("SETTLEMENT_JOB_TIMEOUT", 30*time.Second),
		SettlementCurrency:     getenv("SETTLEMENT_CURRENCY", "USD"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
