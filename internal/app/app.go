// Package app connects the stores and provider clients both binaries share.
package app

import (
	"time"

	"github.com/nimasrn/sponsorship-gateway/internal/config"
	gateway "github.com/nimasrn/sponsorship-gateway/internal/gateways"
	"github.com/nimasrn/sponsorship-gateway/internal/lock"
	"github.com/nimasrn/sponsorship-gateway/internal/queue"
	"github.com/nimasrn/sponsorship-gateway/internal/repository"
	"github.com/nimasrn/sponsorship-gateway/internal/services"
	"github.com/nimasrn/sponsorship-gateway/pkg/logger"
	"github.com/nimasrn/sponsorship-gateway/pkg/pg"
	"github.com/nimasrn/sponsorship-gateway/pkg/redis"
	"github.com/pkg/errors"
)

type Deps struct {
	DB    *pg.DB
	Redis redis.RedisAdapter

	Applications *repository.ApplicationRepository
	Students     *repository.StudentRepository
	Donations    *repository.DonationRepository
	Handles      *repository.HandleStore
	Locker       *lock.RedisLocker

	PayPal      *gateway.PayPalClient
	MobileMoney *gateway.MobileMoneyClient
	Settlements *queue.Queue
}

func Connect(c *config.Config) (*Deps, error) {
	readConf := pg.Config{
		User:     c.PostgresReadUser,
		Host:     c.PostgresReadHost,
		Port:     c.PostgresReadPort,
		Password: c.PostgresReadPassword,
		Database: c.PostgresReadDatabase,
	}
	writeConf := pg.Config{
		User:     c.PostgresWriteUser,
		Host:     c.PostgresWriteHost,
		Port:     c.PostgresWritePort,
		Password: c.PostgresWritePassword,
		Database: c.PostgresWriteDatabase,
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, c.AppEnv == "dev")
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}

	redisAdap, err := redis.NewRedisAdapter("default", c.RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{c.RedisAddr},
		ClientName: c.AppName,
		DB:         c.RedisDatabase,
		Username:   c.RedisUsername,
		Password:   c.RedisPassword,
	})
	if err != nil {
		return nil, errors.Wrap(err, "connect redis")
	}

	settlements, err := queue.NewQueue(redisAdap, QueueConfig(c))
	if err != nil {
		return nil, errors.Wrap(err, "create settlement queue")
	}

	paypal, err := gateway.NewPayPalClient(gateway.PayPalConfig{
		Pool:         poolConfig(c, gateway.ProviderPayPal, c.PaypalBaseUrl, c.PaypalFallbackUrl),
		ClientID:     c.PaypalClientID,
		ClientSecret: c.PaypalClientSecret,
		ReturnURL:    c.PaypalReturnUrl,
		CancelURL:    c.PaypalCancelUrl,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create paypal client")
	}

	mobileMoney, err := gateway.NewMobileMoneyClient(gateway.MobileMoneyConfig{
		Pool:              poolConfig(c, gateway.ProviderMobileMoney, c.MobileMoneyBaseUrl, c.MobileMoneyFallbackUrl),
		SubscriptionKey:   c.MobileMoneySubscriptionKey,
		APIUser:           c.MobileMoneyApiUser,
		APIKey:            c.MobileMoneyApiKey,
		TargetEnvironment: c.MobileMoneyTargetEnv,
	})
	if err != nil {
		_ = paypal.Close()
		return nil, errors.Wrap(err, "create mobile money client")
	}

	students := repository.NewStudentRepository(db)
	return &Deps{
		DB:           db,
		Redis:        redisAdap,
		Applications: repository.NewApplicationRepository(db),
		Students:     students,
		Donations:    repository.NewDonationRepository(db, students),
		Handles:      repository.NewHandleStore(redisAdap, c.PaymentHandleTTL),
		Locker:       lock.NewRedisLocker(redisAdap),
		PayPal:       paypal,
		MobileMoney:  mobileMoney,
		Settlements:  settlements,
	}, nil
}

func (d *Deps) PaymentService(c *config.Config) *services.PaymentService {
	return services.NewPaymentService(
		d.Donations,
		d.Students,
		d.Handles,
		d.PayPal,
		d.MobileMoney,
		d.Settlements,
		services.PaymentConfig{MobileMoneyCurrency: c.MobileMoneyCurrency},
	)
}

func (d *Deps) Close() {
	if err := d.PayPal.Close(); err != nil {
		logger.Warn("closing paypal client", "error", err)
	}
	if err := d.MobileMoney.Close(); err != nil {
		logger.Warn("closing mobile money client", "error", err)
	}
}

func QueueConfig(c *config.Config) queue.QueueConfig {
	return queue.QueueConfig{
		Name:              c.QueueName,
		ConsumerGroup:     c.QueueConsumerGroup,
		ConsumerName:      c.QueueConsumerName,
		MaxRetries:        c.QueueMaxRetries,
		VisibilityTimeout: c.QueueVisibilityTimeout,
		PollInterval:      c.QueuePollInterval,
		BatchSize:         c.QueueBatchSize,
		MaxLen:            c.QueueMaxLen,
		EnableDLQ:         c.QueueEnableDLQ,
	}
}

func poolConfig(c *config.Config, provider, primary, fallback string) gateway.PoolConfig {
	endpoints := []gateway.EndpointConfig{{Name: "primary", URL: primary, Weight: 100}}
	if fallback != "" {
		endpoints = append(endpoints, gateway.EndpointConfig{Name: "fallback", URL: fallback, Weight: 60})
	}
	return gateway.PoolConfig{
		Provider:                provider,
		Endpoints:               endpoints,
		Timeout:                 c.ProviderTimeout,
		MaxRetries:              3,
		RetryDelay:              200 * time.Millisecond,
		MaxConns:                256,
		HealthCheckInterval:     30 * time.Second,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   time.Minute,
	}
}
