package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/tournevent/shiprouter/internal/eligibility"
	"github.com/tournevent/shiprouter/internal/rates"
	"github.com/tournevent/shiprouter/internal/resilience"
	"github.com/tournevent/shiprouter/internal/retryqueue"
	"github.com/tournevent/shiprouter/internal/routing"
	"github.com/tournevent/shiprouter/pkg/shipper/discount"
	"github.com/tournevent/shiprouter/pkg/shipper/market"
	"go.opentelemetry.io/otel/attribute"
)

// Config holds all configuration for the service.
type Config struct {
	// Server
	Port     int    `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Discount carrier
	DiscountAPIKey       string        `envconfig:"DISCOUNT_API_KEY"`
	DiscountBaseURL      string        `envconfig:"DISCOUNT_BASE_URL" default:"https://api.discount-carrier.example/v1"`
	DiscountUseMock      bool          `envconfig:"DISCOUNT_USE_MOCK" default:"false"`
	DiscountOriginPostal string        `envconfig:"DISCOUNT_ORIGIN_POSTAL_CODE"` // zones by origin distance when set
	DiscountTimeout      time.Duration `envconfig:"DISCOUNT_TIMEOUT" default:"30s"`

	// Market aggregator
	MarketAPIKey       string   `envconfig:"MARKET_API_KEY"`
	MarketAPISecret    string   `envconfig:"MARKET_API_SECRET"`
	MarketBaseURL      string   `envconfig:"MARKET_BASE_URL" default:"https://ssapi.shipstation.com"`
	MarketCarrierCodes []string `envconfig:"MARKET_CARRIER_CODES" default:"usps,ups"`
	MarketUseMock      bool     `envconfig:"MARKET_USE_MOCK" default:"false"`
	MarketTestLabels   bool     `envconfig:"MARKET_TEST_LABELS" default:"false"`

	// Routing
	MarginBufferPercent         float64 `envconfig:"MARGIN_BUFFER_PERCENT" default:"5"`
	MinSavingsThreshold         float64 `envconfig:"MIN_SAVINGS_THRESHOLD" default:"1.00"`
	SpeedAdvantageThresholdDays int     `envconfig:"SPEED_ADVANTAGE_THRESHOLD_DAYS" default:"2"`
	AllowPOBox                  bool    `envconfig:"ALLOW_PO_BOX" default:"false"`

	// Eligibility caps
	MaxWeightLb      float64 `envconfig:"MAX_WEIGHT_LB" default:"20"`
	MaxLengthIn      float64 `envconfig:"MAX_LENGTH_IN" default:"24"`
	MaxWidthIn       float64 `envconfig:"MAX_WIDTH_IN" default:"18"`
	MaxHeightIn      float64 `envconfig:"MAX_HEIGHT_IN" default:"18"`
	MaxZone          int     `envconfig:"MAX_ZONE" default:"6"`
	FallbackWeightOz float64 `envconfig:"FALLBACK_WEIGHT_OZ" default:"8"`

	// Customer rate table override (YAML)
	RateTablePath string `envconfig:"RATE_TABLE_PATH"`

	// Retry queue
	RetryPollInterval time.Duration `envconfig:"RETRY_POLL_INTERVAL" default:"5s"`
	RetryBaseDelay    time.Duration `envconfig:"RETRY_BASE_DELAY" default:"1s"`
	RetryMaxDelay     time.Duration `envconfig:"RETRY_MAX_DELAY" default:"60s"`
	RetryJitter       float64       `envconfig:"RETRY_JITTER" default:"0.10"`
	RetryMaxAttempts  int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"5"`
	RetryBatchSize    int           `envconfig:"RETRY_BATCH_SIZE" default:"20"`
	RetryConcurrency  int           `envconfig:"RETRY_CONCURRENCY" default:"4"`
	RetryStateFile    string        `envconfig:"RETRY_STATE_FILE" default:"data/retry-queue.json"`

	// Inline create retry
	CreateAttempts   int           `envconfig:"CREATE_ATTEMPTS" default:"5"`
	CreateRetryDelay time.Duration `envconfig:"CREATE_RETRY_DELAY" default:"2s"`
	CallTimeout      time.Duration `envconfig:"CARRIER_CALL_TIMEOUT" default:"30s"`

	// Storage
	PostgresDSN string `envconfig:"POSTGRES_DSN"`

	// Kafka
	KafkaBrokers        []string `envconfig:"KAFKA_BROKERS"`
	KafkaDecisionsTopic string   `envconfig:"KAFKA_DECISIONS_TOPIC" default:"shiprouter.routing-decisions"`
	KafkaTrackingTopic  string   `envconfig:"KAFKA_TRACKING_TOPIC" default:"shiprouter.tracking-events"`

	// Telemetry
	OTELEnabled  bool   `envconfig:"OTEL_ENABLED" default:"true"`
	OTELEndpoint string `envconfig:"OTEL_ENDPOINT" default:"http://localhost:4318"`
	ServiceName  string `envconfig:"SERVICE_NAME" default:"shiprouter"`
	Version      string `envconfig:"SERVICE_VERSION" default:"0.0.1"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// Attributes returns OpenTelemetry attributes for this configuration.
func (c *Config) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("service.name", c.ServiceName),
		attribute.String("service.version", c.Version),
		attribute.Bool("discount.mock", c.DiscountUseMock),
		attribute.Bool("market.mock", c.MarketUseMock),
		attribute.StringSlice("market.carrier_codes", c.MarketCarrierCodes),
		attribute.Bool("postgres.enabled", c.PostgresDSN != ""),
		attribute.Bool("kafka.enabled", len(c.KafkaBrokers) > 0),
	}
}

// Discount returns the discount carrier adapter configuration.
func (c *Config) Discount() discount.Config {
	return discount.Config{
		APIKey:  c.DiscountAPIKey,
		BaseURL: c.DiscountBaseURL,
		Timeout: c.DiscountTimeout,
		UseMock: c.DiscountUseMock,
	}
}

// Market returns the market aggregator adapter configuration.
func (c *Config) Market() market.Config {
	return market.Config{
		APIKey:       c.MarketAPIKey,
		APISecret:    c.MarketAPISecret,
		BaseURL:      c.MarketBaseURL,
		CarrierCodes: c.MarketCarrierCodes,
		TestLabels:   c.MarketTestLabels,
		UseMock:      c.MarketUseMock,
	}
}

// Eligibility returns the discount carrier caps.
func (c *Config) Eligibility() eligibility.Config {
	return eligibility.Config{
		MaxWeightLb:       c.MaxWeightLb,
		MaxLengthIn:       c.MaxLengthIn,
		MaxWidthIn:        c.MaxWidthIn,
		MaxHeightIn:       c.MaxHeightIn,
		MaxZone:           c.MaxZone,
		FallbackWeightOz:  c.FallbackWeightOz,
		DefaultOriginPost: c.DiscountOriginPostal,
	}
}

// Rates returns the normalizer configuration.
func (c *Config) Rates() rates.Config {
	return rates.Config{MarginPercent: c.MarginBufferPercent}
}

// Engine returns the routing thresholds.
func (c *Config) Engine() routing.EngineConfig {
	return routing.EngineConfig{
		MinSavings:         c.MinSavingsThreshold,
		SpeedThresholdDays: c.SpeedAdvantageThresholdDays,
	}
}

// Retry returns the retry queue configuration.
func (c *Config) Retry() retryqueue.Config {
	return retryqueue.Config{
		PollInterval: c.RetryPollInterval,
		BaseDelay:    c.RetryBaseDelay,
		MaxDelay:     c.RetryMaxDelay,
		Jitter:       c.RetryJitter,
		MaxAttempts:  c.RetryMaxAttempts,
		BatchSize:    c.RetryBatchSize,
		Concurrency:  c.RetryConcurrency,
	}
}

// Executor returns the resilient executor configuration.
func (c *Config) Executor() resilience.Config {
	return resilience.Config{
		CallTimeout:      c.CallTimeout,
		CreateAttempts:   c.CreateAttempts,
		CreateRetryDelay: c.CreateRetryDelay,
	}
}
