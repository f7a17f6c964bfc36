package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config captures runtime configuration for the API service.
type Config struct {
	HTTP      HTTPConfig
	Database  DatabaseConfig
	Razorpay  RazorpayConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Telemetry TelemetryConfig
	Service   ServiceConfig
}

type HTTPConfig struct {
	Port          int
	MetricsPath   string
	ShutdownGrace int
}

type DatabaseConfig struct {
	URL            string
	AutoMigrate    bool
	MigrationsPath string
}

// RazorpayConfig carries gateway credentials. KeySecret signs synchronous
// verification payloads; WebhookSecret signs webhook deliveries.
type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
}

type RedisConfig struct {
	Addr string // empty disables the search reindex queue
}

type KafkaConfig struct {
	Brokers []string // empty falls back to the noop event bus
	Topic   string
}

type TelemetryConfig struct {
	LogLevel      string
	OTelEndpoint  string
	EnableTracing bool
	EnableMetrics bool
	SampleRate    float64
}

type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
}

const (
	defaultHTTPPort       = 8080
	defaultMetricsPath    = "/metrics"
	defaultShutdownGrace  = 15
	defaultMigrationsPath = "migrations"
	defaultAutoMigrate    = true
	defaultKafkaTopic     = "order-events"
	defaultServiceName    = "checkout-api"
	defaultServiceVersion = "0.1.0"
	defaultEnvironment    = "development"
	defaultLogLevel       = "info"
	defaultOTelSampleRate = 1.0
)

// Load reads configuration from environment variables, applying defaults when needed.
func Load() (*Config, error) {
	httpCfg, err := loadHTTPConfig()
	if err != nil {
		return nil, fmt.Errorf("loading HTTP config: %w", err)
	}

	razorpayCfg, err := loadRazorpayConfig()
	if err != nil {
		return nil, fmt.Errorf("loading razorpay config: %w", err)
	}

	telCfg, err := loadTelemetryConfig()
	if err != nil {
		return nil, fmt.Errorf("loading telemetry config: %w", err)
	}

	return &Config{
		HTTP:      httpCfg,
		Database:  loadDatabaseConfig(),
		Razorpay:  razorpayCfg,
		Redis:     RedisConfig{Addr: os.Getenv("REDIS_ADDR")},
		Kafka:     loadKafkaConfig(),
		Telemetry: telCfg,
		Service:   loadServiceConfig(),
	}, nil
}

func loadHTTPConfig() (HTTPConfig, error) {
	port := defaultHTTPPort
	if value, ok := os.LookupEnv("API_HTTP_PORT"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return HTTPConfig{}, fmt.Errorf("invalid API_HTTP_PORT: %w", err)
		}
		port = parsed
	}

	shutdownGrace := defaultShutdownGrace
	if value, ok := os.LookupEnv("API_SHUTDOWN_GRACE_SECONDS"); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return HTTPConfig{}, fmt.Errorf("invalid API_SHUTDOWN_GRACE_SECONDS: %w", err)
		}
		shutdownGrace = parsed
	}

	return HTTPConfig{
		Port:          port,
		MetricsPath:   getEnvOrDefault("API_METRICS_PATH", defaultMetricsPath),
		ShutdownGrace: shutdownGrace,
	}, nil
}

func loadDatabaseConfig() DatabaseConfig {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		databaseURL = buildDatabaseURL()
	}

	autoMigrate := defaultAutoMigrate
	if value, ok := os.LookupEnv("AUTO_MIGRATE"); ok {
		autoMigrate = value == "true"
	}

	return DatabaseConfig{
		URL:            databaseURL,
		AutoMigrate:    autoMigrate,
		MigrationsPath: getEnvOrDefault("MIGRATIONS_PATH", defaultMigrationsPath),
	}
}

func loadRazorpayConfig() (RazorpayConfig, error) {
	cfg := RazorpayConfig{
		KeyID:         os.Getenv("RAZORPAY_KEY_ID"),
		KeySecret:     os.Getenv("RAZORPAY_KEY_SECRET"),
		WebhookSecret: os.Getenv("RAZORPAY_WEBHOOK_SECRET"),
	}
	if cfg.KeyID == "" || cfg.KeySecret == "" {
		return RazorpayConfig{}, errors.New("RAZORPAY_KEY_ID and RAZORPAY_KEY_SECRET are required")
	}
	if cfg.WebhookSecret == "" {
		cfg.WebhookSecret = cfg.KeySecret
	}
	return cfg, nil
}

func loadKafkaConfig() KafkaConfig {
	var brokers []string
	if value, ok := os.LookupEnv("KAFKA_BROKERS"); ok && value != "" {
		brokers = strings.Split(value, ",")
	}

	return KafkaConfig{
		Brokers: brokers,
		Topic:   getEnvOrDefault("KAFKA_ORDER_EVENTS_TOPIC", defaultKafkaTopic),
	}
}

func loadTelemetryConfig() (TelemetryConfig, error) {
	sampleRate := defaultOTelSampleRate
	if value, ok := os.LookupEnv("OTEL_SAMPLE_RATE"); ok {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return TelemetryConfig{}, fmt.Errorf("invalid OTEL_SAMPLE_RATE: %w", err)
		}
		sampleRate = parsed
	}

	return TelemetryConfig{
		LogLevel:      getEnvOrDefault("LOG_LEVEL", defaultLogLevel),
		OTelEndpoint:  getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		EnableTracing: getBoolEnv("OTEL_ENABLE_TRACING", true),
		EnableMetrics: getBoolEnv("OTEL_ENABLE_METRICS", true),
		SampleRate:    sampleRate,
	}, nil
}

func loadServiceConfig() ServiceConfig {
	return ServiceConfig{
		Name:        getEnvOrDefault("API_SERVICE_NAME", defaultServiceName),
		Version:     getEnvOrDefault("SERVICE_VERSION", defaultServiceVersion),
		Environment: getEnvOrDefault("ENVIRONMENT", defaultEnvironment),
	}
}

func buildDatabaseURL() string {
	host := getEnvOrDefault("DB_HOST", "localhost")
	port := getEnvOrDefault("DB_PORT", "5432")
	user := getEnvOrDefault("DB_USER", "postgres")
	password := getEnvOrDefault("DB_PASSWORD", "postgres")
	dbName := getEnvOrDefault("DB_NAME", "checkout")
	sslMode := getEnvOrDefault("DB_SSLMODE", "disable")

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, dbName, sslMode,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		return value == "true"
	}
	return defaultValue
}
