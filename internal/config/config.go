package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	pkgconfig "github.com/rakrong1/ladicare-sub000/pkg/config"
	"github.com/rakrong1/ladicare-sub000/pkg/database"
	"github.com/rakrong1/ladicare-sub000/pkg/httpclient"
)

// Cart line store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds all configuration for the cart service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"CART_HTTP_PORT" envDefault:"8003"`

	// Cart line store: postgres or memory.
	Store string `env:"CART_STORE" envDefault:"postgres"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"ecommerce"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"ecommerce_secret"`
	PostgresDB   string `env:"CART_DB_NAME" envDefault:"cart_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Redis
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// Product catalog
	CatalogURL               string `env:"CATALOG_SERVICE_URL" envDefault:"http://localhost:8001"`
	CatalogCacheTTLSeconds   int    `env:"CATALOG_CACHE_TTL_SECONDS" envDefault:"5"`
	CatalogLookupConcurrency int    `env:"CATALOG_LOOKUP_CONCURRENCY" envDefault:"8"`
	CatalogTimeoutSeconds    int    `env:"CATALOG_TIMEOUT_SECONDS" envDefault:"5"`

	// Circuit breaker for the catalog client
	CBMaxRequests     uint32  `env:"CB_MAX_REQUESTS" envDefault:"1"`
	CBIntervalSeconds int     `env:"CB_INTERVAL_SECONDS" envDefault:"60"`
	CBTimeoutSeconds  int     `env:"CB_TIMEOUT_SECONDS" envDefault:"30"`
	CBFailureRatio    float64 `env:"CB_FAILURE_RATIO" envDefault:"0.5"`
	CBMinRequests     uint32  `env:"CB_MIN_REQUESTS" envDefault:"5"`

	// Kafka
	KafkaBrokers       []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaConsumerGroup string   `env:"KAFKA_CONSUMER_GROUP" envDefault:"cart-service"`

	// Bearer token validation. Empty disables it.
	JWTSecret string `env:"JWT_SECRET" envDefault:""`

	// Honor X-User-ID as the cart owner. Only for deployments behind a
	// gateway that strips the header from client traffic.
	TrustGatewayUserHeader bool `env:"TRUST_GATEWAY_USER_HEADER" envDefault:"false"`

	// Per-owner rate limit on cart routes. 0 disables it.
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"40"`

	// CORS
	CORSAllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	CORSAllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS" envDefault:"false"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Pprof debug endpoints (IP allowlist in CIDR notation)
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,127.0.0.0/8,::1/128" envSeparator:","`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load cart config: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	switch c.Store {
	case StorePostgres:
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("CART_STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}
	if !strings.HasPrefix(c.CatalogURL, "http://") && !strings.HasPrefix(c.CatalogURL, "https://") {
		return fmt.Errorf("CATALOG_SERVICE_URL must be an http(s) URL, got %q", c.CatalogURL)
	}
	if c.CatalogCacheTTLSeconds < 0 {
		return fmt.Errorf("CATALOG_CACHE_TTL_SECONDS must not be negative")
	}
	if c.CatalogLookupConcurrency < 1 {
		return fmt.Errorf("CATALOG_LOOKUP_CONCURRENCY must be at least 1")
	}
	if c.CBFailureRatio <= 0 || c.CBFailureRatio > 1.0 {
		return fmt.Errorf("CB_FAILURE_RATIO must be in (0.0, 1.0], got %f", c.CBFailureRatio)
	}
	if c.CORSAllowCredentials && slices.Contains(c.CORSAllowedOrigins, "*") {
		return fmt.Errorf("CORS_ALLOW_CREDENTIALS requires explicit CORS_ALLOWED_ORIGINS")
	}
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}

// PostgresConfig returns the pool configuration for the cart database.
func (c *Config) PostgresConfig() *database.PostgresConfig {
	return &database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.DBMaxConns,
		MinConns:        c.DBMinConns,
		MaxConnLifetime: time.Duration(c.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(c.DBMaxConnIdleTimeMins) * time.Minute,
	}
}

// CatalogClientOptions returns the outbound client settings for the product
// service.
func (c *Config) CatalogClientOptions() httpclient.Options {
	return httpclient.Options{
		Name:       "catalog",
		Timeout:    time.Duration(c.CatalogTimeoutSeconds) * time.Second,
		Retries:    2,
		Backoff:    100 * time.Millisecond,
		MaxBackoff: time.Second,
		Breaker: httpclient.BreakerOptions{
			HalfOpenRequests: c.CBMaxRequests,
			Interval:         time.Duration(c.CBIntervalSeconds) * time.Second,
			OpenFor:          time.Duration(c.CBTimeoutSeconds) * time.Second,
			FailureRatio:     c.CBFailureRatio,
			MinRequests:      c.CBMinRequests,
		},
	}
}

// CatalogCacheTTL returns the product cache TTL.
func (c *Config) CatalogCacheTTL() time.Duration {
	return time.Duration(c.CatalogCacheTTLSeconds) * time.Second
}
