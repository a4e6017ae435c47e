package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nimasrn/sponsorship-gateway/internal/app"
	"github.com/nimasrn/sponsorship-gateway/internal/config"
	"github.com/nimasrn/sponsorship-gateway/internal/processor"
	"github.com/nimasrn/sponsorship-gateway/internal/settlement"
	"github.com/nimasrn/sponsorship-gateway/pkg/logger"
	"github.com/nimasrn/sponsorship-gateway/pkg/prom"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	defer logger.Sync()

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	cfg := config.Get()
	logger.Info("starting settlement processor", "version", version, "commit", commit, "date", date)

	deps, err := app.Connect(cfg)
	if err != nil {
		logger.Error("failed to connect dependencies", "error", err)
		return
	}
	defer deps.Close()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if err := prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}
	go prom.ListenAndServer(cfg.PromListenAddr, cfg.PromMetricsPath)

	payments := deps.PaymentService(cfg)
	idempotency := processor.NewIdempotencyService(deps.Redis, processor.DefaultIdempotencyConfig())
	poller := settlement.NewPoller(cfg.SettlementPollInterval, cfg.SettlementMaxAttempts, settlement.RealClock)
	settler := processor.NewSettlementProcessor(
		settlement.NewSupervisor(poller),
		payments.SettlementChecker(),
		idempotency,
		deps.Locker,
		cfg.SettlementLockTTL,
	)

	queueConfig := app.QueueConfig(cfg)
	if queueConfig.ConsumerName == "" {
		queueConfig.ConsumerName = hostname
	}
	service, err := processor.NewProcessorService(deps.Redis, settler, processor.ServiceConfig{
		Queue:           queueConfig,
		Consumers:       2,
		Workers:         cfg.WorkerCount,
		WorkerQueueSize: cfg.WorkerQueueSize,
	})
	if err != nil {
		logger.Error("failed to create processor", "error", err)
		return
	}

	// a full polling run must fit before a donation counts as stale
	staleAfter := 2 * cfg.SettlementPollInterval * time.Duration(cfg.SettlementMaxAttempts)
	reconciler := processor.NewReconciler(deps.Donations, deps.Settlements, idempotency, deps.Locker, processor.ReconcilerConfig{
		Spec:       cfg.ReconcileCronSpec,
		StaleAfter: staleAfter,
	})

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	if err := service.Start(); err != nil {
		logger.Error("failed to start processor", "error", err)
		return
	}
	if err := reconciler.Start(); err != nil {
		logger.Error("failed to schedule reconciler", "error", err)
		service.Stop()
		return
	}

	<-c
	reconciler.Stop()
	service.Stop()
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
