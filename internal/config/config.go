package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/nimasrn/sponsorship-gateway/pkg/logger"
	"github.com/pkg/errors"
)

var config *Config

// Config holds every configuration value of the api, processor and cli
// binaries. Nothing else reads the environment directly.
type Config struct {
	AppEnv  string `env:"APP_ENV,default=dev"`
	AppName string `env:"APP_NAME,default=sponsorship_gateway"`

	HttpListenAddr     string        `env:"HTTP_LISTEN_ADDR,default=:8080"`
	HttpBaseRequestUrl string        `env:"HTTP_BASE_REQUEST_URI,default=/api/v1"`
	HttpRequestTimeout time.Duration `env:"HTTP_REQUEST_TIMEOUT,default=10s"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`

	RedisAddr               string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX,default=sponsorship:"`

	PromNamespace   string `env:"PROM_NAMESPACE,default=sponsorship"`
	PromListenAddr  string `env:"PROM_LISTEN_ADDR,default=:9090"`
	PromMetricsPath string `env:"PROM_METRICS_PATH,default=/metrics"`

	QueueName              string        `env:"QUEUE_NAME,default=settlement"`
	QueueConsumerGroup     string        `env:"QUEUE_CONSUMER_GROUP,default=settlement-processors"`
	QueueConsumerName      string        `env:"QUEUE_CONSUMER_NAME"`
	QueueMaxRetries        int           `env:"QUEUE_MAX_RETRIES,default=3"`
	QueueVisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT,default=10m"`
	QueuePollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL,default=1s"`
	QueueBatchSize         int64         `env:"QUEUE_BATCH_SIZE,default=10"`
	QueueMaxLen            int64         `env:"QUEUE_MAX_LEN,default=100000"`
	QueueEnableDLQ         bool          `env:"QUEUE_ENABLE_DLQ,default=true"`

	WorkerCount     int `env:"WORKER_COUNT,default=16"`
	WorkerQueueSize int `env:"WORKER_QUEUE_SIZE,default=256"`

	PaypalBaseUrl      string `env:"PAYPAL_BASE_URL,default=http://localhost:8090"`
	PaypalFallbackUrl  string `env:"PAYPAL_FALLBACK_URL"`
	PaypalClientID     string `env:"PAYPAL_CLIENT_ID"`
	PaypalClientSecret string `env:"PAYPAL_CLIENT_SECRET"`
	PaypalReturnUrl    string `env:"PAYPAL_RETURN_URL,default=http://localhost:3000/donations/return"`
	PaypalCancelUrl    string `env:"PAYPAL_CANCEL_URL,default=http://localhost:3000/donations/cancel"`

	MobileMoneyBaseUrl         string `env:"MOMO_BASE_URL,default=http://localhost:8090"`
	MobileMoneyFallbackUrl     string `env:"MOMO_FALLBACK_URL"`
	MobileMoneySubscriptionKey string `env:"MOMO_SUBSCRIPTION_KEY"`
	MobileMoneyApiUser         string `env:"MOMO_API_USER"`
	MobileMoneyApiKey          string `env:"MOMO_API_KEY"`
	MobileMoneyTargetEnv       string `env:"MOMO_TARGET_ENV,default=sandbox"`
	MobileMoneyCurrency        string `env:"MOMO_CURRENCY,default=USD"`

	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT,default=15s"`

	SettlementPollInterval time.Duration `env:"SETTLEMENT_POLL_INTERVAL,default=10s"`
	SettlementMaxAttempts  int           `env:"SETTLEMENT_MAX_ATTEMPTS,default=30"`
	SettlementLockTTL      time.Duration `env:"SETTLEMENT_LOCK_TTL,default=6m"`
	ReconcileCronSpec      string        `env:"RECONCILE_CRON_SPEC,default=@every 5m"`

	PaymentHandleTTL time.Duration `env:"PAYMENT_HANDLE_TTL,default=24h"`
	PublishLockTTL   time.Duration `env:"PUBLISH_LOCK_TTL,default=30s"`

	GuestRateLimitPerSecond float64 `env:"GUEST_RATE_LIMIT_PER_SECOND,default=1"`
	GuestRateLimitBurst     int     `env:"GUEST_RATE_LIMIT_BURST,default=5"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	if path != "" {
		logger.Info("loading env from file", "path", path)
		if err := godotenv.Load(path); err != nil {
			return errors.Wrapf(err, "failed to load configuration file %s", path)
		}
	}

	if _, err := env.UnmarshalFromEnviron(c); err != nil {
		return errors.Wrap(err, "failed to map env variables to Config")
	}

	config = c
	return nil
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}
