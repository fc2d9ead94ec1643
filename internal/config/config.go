// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Stock application modes for multi-item orders.
const (
	StockModeAtomic     = "atomic"
	StockModeBestEffort = "best_effort"
)

type Config struct {
	Environment string
	LogLevel    string
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	Redis       RedisConfig
	Orders      OrdersConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Telemetry   TelemetryConfig
	I18n        I18nConfig
	Seed        SeedConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	ReadTimeout  int
	WriteTimeout int
	IdleTimeout  int
}

type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int
	LogLevel     string
}

type JWTConfig struct {
	SecretKey string
	Issuer    string
	// Only used by the seed command to mint development tokens.
	AccessTokenTTL int // in hours
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
	// How long a reserved order number is remembered.
	ReservationTTL int // in hours
}

type OrdersConfig struct {
	StockMode           string
	RetryMaxAttempts    int
	RetryInitialDelayMs int
	RetryMaxDelayMs     int
	CheckoutSpacingMs   int
	MaxItemsPerOrder    int
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	OrdersPerMinute   int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type TelemetryConfig struct {
	Exporter     string // none, stdout, otlp
	OTLPEndpoint string
	ServiceName  string
}

type I18nConfig struct {
	DefaultLocale string
	LocalesPath   string
}

type SeedConfig struct {
	FilePath string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	config := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    strings.ToLower(getEnv("LOG_LEVEL", "info")),
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "localhost"),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 15),
			IdleTimeout:  getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "marketstock"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
			LogLevel:     getEnv("DB_LOG_LEVEL", "warn"),
		},
		JWT: JWTConfig{
			SecretKey:      getEnv("JWT_SECRET", defaultJWTSecret),
			Issuer:         getEnv("JWT_ISSUER", "marketstock"),
			AccessTokenTTL: getEnvAsInt("JWT_ACCESS_TTL", 24),
		},
		Redis: RedisConfig{
			Enabled:        getEnvAsBool("REDIS_ENABLED", false),
			Host:           getEnv("REDIS_HOST", "localhost"),
			Port:           getEnv("REDIS_PORT", "6379"),
			Password:       getEnv("REDIS_PASSWORD", ""),
			DB:             getEnvAsInt("REDIS_DB", 0),
			ReservationTTL: getEnvAsInt("REDIS_ORDER_NUMBER_TTL", 24),
		},
		Orders: OrdersConfig{
			StockMode:           strings.ToLower(getEnv("ORDER_STOCK_MODE", StockModeAtomic)),
			RetryMaxAttempts:    getEnvAsInt("ORDER_RETRY_MAX_ATTEMPTS", 3),
			RetryInitialDelayMs: getEnvAsInt("ORDER_RETRY_INITIAL_DELAY_MS", 20),
			RetryMaxDelayMs:     getEnvAsInt("ORDER_RETRY_MAX_DELAY_MS", 200),
			CheckoutSpacingMs:   getEnvAsInt("ORDER_CHECKOUT_SPACING_MS", 0),
			MaxItemsPerOrder:    getEnvAsInt("ORDER_MAX_ITEMS", 100),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 10),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 20),
			OrdersPerMinute:   getEnvAsInt("RATE_LIMIT_ORDERS_PER_MINUTE", 30),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Telemetry: TelemetryConfig{
			Exporter:     strings.ToLower(getEnv("OTEL_EXPORTER", "none")),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "marketstock"),
		},
		I18n: I18nConfig{
			DefaultLocale: getEnv("DEFAULT_LOCALE", "en"),
			LocalesPath:   getEnv("LOCALES_PATH", "./internal/i18n/locales"),
		},
		Seed: SeedConfig{
			FilePath: getEnv("SEED_FILE", "./internal/database/seeds/catalog.yaml"),
		},
	}

	return config, config.Validate()
}

func (c *Config) Validate() error {
	if c.JWT.SecretKey == defaultJWTSecret && c.Environment == "production" {
		return fmt.Errorf("JWT secret key must be changed in production")
	}

	if c.Database.Password == "" && c.Environment == "production" {
		return fmt.Errorf("database password is required in production")
	}

	switch c.Orders.StockMode {
	case StockModeAtomic, StockModeBestEffort:
	default:
		return fmt.Errorf("unknown ORDER_STOCK_MODE %q (want %s or %s)", c.Orders.StockMode, StockModeAtomic, StockModeBestEffort)
	}

	if c.Orders.RetryMaxAttempts < 1 {
		return fmt.Errorf("ORDER_RETRY_MAX_ATTEMPTS must be at least 1")
	}

	switch c.Telemetry.Exporter {
	case "none", "stdout", "otlp":
	default:
		return fmt.Errorf("unknown OTEL_EXPORTER %q", c.Telemetry.Exporter)
	}

	return nil
}

// RetryInitialDelay and the helpers below convert the millisecond settings.
func (o OrdersConfig) RetryInitialDelay() time.Duration {
	return time.Duration(o.RetryInitialDelayMs) * time.Millisecond
}

func (o OrdersConfig) RetryMaxDelay() time.Duration {
	return time.Duration(o.RetryMaxDelayMs) * time.Millisecond
}

func (o OrdersConfig) CheckoutSpacing() time.Duration {
	return time.Duration(o.CheckoutSpacingMs) * time.Millisecond
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.ToLower(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var items []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
