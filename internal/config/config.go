package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port        string `env:"SERVER_PORT" envDefault:"8080"`
	Env         string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"remitops"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	DBSource    string `env:"DB_SOURCE"`
	SeedCatalog bool   `env:"SEED_CATALOG" envDefault:"false"`

	RateLimitBackend string        `env:"RATE_LIMIT_BACKEND" envDefault:"store"`
	RedisAddr        string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RateLimitWindow  time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
	QuoteLimit       int           `env:"RATE_LIMIT_QUOTES" envDefault:"60"`
	RecommendLimit   int           `env:"RATE_LIMIT_RECOMMENDATIONS" envDefault:"60"`
	TransferLimit    int           `env:"RATE_LIMIT_TRANSFERS" envDefault:"10"`
	TransitionLimit  int           `env:"RATE_LIMIT_TRANSITIONS" envDefault:"30"`

	QuoteTTL           time.Duration `env:"QUOTE_TTL" envDefault:"30s"`
	MinSendAmount      float64       `env:"MIN_SEND_AMOUNT" envDefault:"1"`
	DefaultFXMarginPct float64       `env:"DEFAULT_FX_MARGIN_PCT" envDefault:"1.5"`
	DefaultFeeFixed    float64       `env:"DEFAULT_FEE_FIXED" envDefault:"1.0"`
	DefaultFeePct      float64       `env:"DEFAULT_FEE_PCT" envDefault:"2.9"`
	ReferenceAttempts  int           `env:"REFERENCE_ATTEMPTS" envDefault:"6"`

	RateCacheTTL        time.Duration     `env:"RATE_CACHE_TTL" envDefault:"30s"`
	RateUpstreamURL     string            `env:"RATE_UPSTREAM_URL"`
	RateUpstreamTimeout time.Duration     `env:"RATE_UPSTREAM_TIMEOUT" envDefault:"3s"`
	StaticRates         map[string]string `env:"STATIC_RATES" envKeyValSeparator:"=" envDefault:"USD:MXN=17.05,USD:PHP=56.20,USD:KES=129.40,USD:NGN=1530.00,EUR:MXN=18.40,USD:BTC=0.0000105"`
	BreakerFailures     uint32            `env:"RATE_BREAKER_FAILURES" envDefault:"5"`
	BreakerOpenTimeout  time.Duration     `env:"RATE_BREAKER_TIMEOUT" envDefault:"30s"`

	PayoutSuccessPct  int           `env:"PAYOUT_SUCCESS_PCT" envDefault:"90"`
	AutoExecute       bool          `env:"PAYOUT_AUTO_EXECUTE" envDefault:"true"`
	SideEffectTimeout time.Duration `env:"SIDE_EFFECT_TIMEOUT" envDefault:"5s"`

	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"remit.transfers"`

	OTelEndpoint string `env:"OTEL_ENDPOINT"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects combinations the service cannot start with.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("STORE_DRIVER must be postgres or sqlite, got %q", c.StoreDriver)
	}
	if c.DBSource == "" {
		return fmt.Errorf("DB_SOURCE environment variable is required")
	}
	switch c.RateLimitBackend {
	case "store", "redis":
	default:
		return fmt.Errorf("RATE_LIMIT_BACKEND must be store or redis, got %q", c.RateLimitBackend)
	}
	if c.QuoteTTL <= 0 || c.RateCacheTTL <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("QUOTE_TTL, RATE_CACHE_TTL and RATE_LIMIT_WINDOW must be positive")
	}
	if c.ReferenceAttempts < 1 {
		return fmt.Errorf("REFERENCE_ATTEMPTS must be at least 1")
	}
	if c.PayoutSuccessPct < 0 || c.PayoutSuccessPct > 100 {
		return fmt.Errorf("PAYOUT_SUCCESS_PCT must be within 0..100")
	}
	if c.MinSendAmount <= 0 || c.DefaultFXMarginPct < 0 || c.DefaultFeeFixed < 0 || c.DefaultFeePct < 0 {
		return fmt.Errorf("minimum send amount must be positive and default fees non-negative")
	}
	return nil
}
