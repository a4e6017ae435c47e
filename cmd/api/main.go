package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nimasrn/sponsorship-gateway/internal/app"
	"github.com/nimasrn/sponsorship-gateway/internal/config"
	"github.com/nimasrn/sponsorship-gateway/internal/handlers"
	"github.com/nimasrn/sponsorship-gateway/internal/services"
	xhttp "github.com/nimasrn/sponsorship-gateway/pkg/http"
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
	logger.Info("starting api", "version", version, "commit", commit, "date", date)

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

	// services
	applicationService := services.NewApplicationService(deps.Applications)
	publicationService := services.NewPublicationService(deps.DB, deps.Applications, deps.Students, deps.Locker, cfg.PublishLockTTL)
	paymentService := deps.PaymentService(cfg)

	// transport
	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Use(xhttp.TimeoutMiddleware(cfg.HttpRequestTimeout))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RequestIDMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.Router = xhttp.CreateDefaultRouter()

	guestLimiter := xhttp.NewRateLimiter(cfg.GuestRateLimitPerSecond, cfg.GuestRateLimitBurst)
	go sweepLimiter(guestLimiter)

	// v1 handlers
	g := s.Router.Group(cfg.HttpBaseRequestUrl)
	handlers.RegisterApplicationRoutes(g, handlers.NewApplicationHandler(applicationService, publicationService))
	handlers.RegisterDonationRoutes(g, handlers.NewDonationHandler(paymentService, guestLimiter))
	handlers.RegisterPaymentRoutes(g, handlers.NewPaymentHandler(paymentService))
	handlers.RegisterHealthRoutes(g, handlers.NewHealthHandler(map[string]handlers.HealthCheck{
		"postgres": deps.DB.Ping,
		"redis":    deps.Redis.Ping,
		"paypal":   providerHealth(deps.PayPal.Pool().Healthy),
		"momo":     providerHealth(deps.MobileMoney.Pool().Healthy),
	}))

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := s.ListenAndServe(cfg.HttpListenAddr); err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	<-c
	s.Shutdown()
}

func providerHealth(healthy func() bool) handlers.HealthCheck {
	return func(context.Context) error {
		if !healthy() {
			return services.ErrProvider
		}
		return nil
	}
}

func sweepLimiter(rl *xhttp.RateLimiter) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		if n := rl.Cleanup(); n > 0 {
			logger.Debug("rate limiter buckets dropped", "count", n)
		}
	}
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
