package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`
	// AppURL is the public base URL used to build webhook verification links.
	AppURL   string `env:"APP_URL,required=true"`
	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`

	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS,default=25"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS,default=5"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME,default=1h"`

	AWSRegion   string `env:"AWS_REGION,default=us-east-1"`
	EmailSender string `env:"EMAIL_SENDER,default=notifications@example.com"`
	PushTopic   string `env:"PUSH_TOPIC_ARN"`

	RetryMaxRetries        int           `env:"RETRY_MAX_RETRIES,default=3"`
	RetryInitialDelay      time.Duration `env:"RETRY_INITIAL_DELAY,default=30s"`
	RetryBackoffMultiplier int           `env:"RETRY_BACKOFF_MULTIPLIER,default=2"`
	DeliveryTimeout        time.Duration `env:"DELIVERY_TIMEOUT,default=30s"`

	RetryScanInterval   time.Duration `env:"RETRY_SCAN_INTERVAL,default=15s"`
	ExpiryScanInterval  time.Duration `env:"EXPIRY_SCAN_INTERVAL,default=1m"`
	WebhookPollInterval time.Duration `env:"WEBHOOK_POLL_INTERVAL,default=5s"`
	StaleClaimAfter     time.Duration `env:"STALE_CLAIM_AFTER,default=5m"`
	ScanBatchSize       int           `env:"SCAN_BATCH_SIZE,default=100"`
	ConsumerPrefetch    int           `env:"CONSUMER_PREFETCH,default=16"`
	ShutdownTimeout     time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`

	// RateLimitBackend is "redis" or "memory". The memory backend only
	// holds for a single instance.
	RateLimitBackend string `env:"RATE_LIMIT_BACKEND,default=redis"`
}

// Load reads an optional .env file, then the process environment.
// Variables already set in the environment win over the file.
func Load() (*Config, error) {
	return LoadFile(".env")
}

func LoadFile(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	parsed, err := url.Parse(c.AppURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("invalid config: APP_URL must be an absolute http(s) url")
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("invalid config: API_PORT out of range: %d", c.APIPort)
	}
	if c.RetryMaxRetries < 0 {
		return fmt.Errorf("invalid config: RETRY_MAX_RETRIES must be >= 0")
	}
	if c.RetryBackoffMultiplier < 1 {
		return fmt.Errorf("invalid config: RETRY_BACKOFF_MULTIPLIER must be >= 1")
	}
	switch c.RateLimitBackend {
	case "redis", "memory":
	default:
		return fmt.Errorf("invalid config: RATE_LIMIT_BACKEND must be redis or memory, got %q", c.RateLimitBackend)
	}

	durations := map[string]time.Duration{
		"RETRY_INITIAL_DELAY":   c.RetryInitialDelay,
		"DELIVERY_TIMEOUT":      c.DeliveryTimeout,
		"RETRY_SCAN_INTERVAL":   c.RetryScanInterval,
		"EXPIRY_SCAN_INTERVAL":  c.ExpiryScanInterval,
		"WEBHOOK_POLL_INTERVAL": c.WebhookPollInterval,
		"STALE_CLAIM_AFTER":     c.StaleClaimAfter,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("invalid config: %s must be positive", name)
		}
	}
	return nil
}
