package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/nimasrn/sponsorship-gateway/internal/app"
	"github.com/nimasrn/sponsorship-gateway/internal/config"
	"github.com/nimasrn/sponsorship-gateway/internal/processor"
	"github.com/nimasrn/sponsorship-gateway/pkg/logger"
	"github.com/nimasrn/sponsorship-gateway/pkg/pg"
)

// usage:
//
//	cli migrate --env=.env --dir=./migrations
//	cli status --env=.env --dir=./migrations
//	cli reconcile --env=.env
func main() {
	os.Exit(run())
}

func run() int {
	defer logger.Sync()

	if err := config.Load(flagValue("--env=", ".env")); err != nil {
		logger.Error("failed to load config", "error", err)
		return 1
	}

	cmd := "migrate"
	if len(os.Args) > 1 && !strings.HasPrefix(os.Args[1], "--") {
		cmd = os.Args[1]
	}

	var err error
	switch cmd {
	case "migrate":
		err = pg.Migrate(writeConfig(), migrationDir())
	case "status":
		err = pg.MigrationStatus(writeConfig(), migrationDir())
	case "reconcile":
		err = reconcile()
	default:
		logger.Error("unknown command", "command", cmd)
		return 2
	}
	if err != nil {
		logger.Error(cmd+" failed", "error", err)
		return 1
	}
	return 0
}

func writeConfig() pg.Config {
	c := config.Get()
	return pg.Config{
		User:     c.PostgresWriteUser,
		Host:     c.PostgresWriteHost,
		Port:     c.PostgresWritePort,
		Password: c.PostgresWritePassword,
		Database: c.PostgresWriteDatabase,
	}
}

func migrationDir() string {
	dir := flagValue("--dir=", "./migrations")
	logger.Info("using migrations", "dir", dir)
	return dir
}

// reconcile re-enqueues stale mobile money donations once and exits.
func reconcile() error {
	c := config.Get()
	deps, err := app.Connect(c)
	if err != nil {
		return err
	}
	defer deps.Close()

	idempotency := processor.NewIdempotencyService(deps.Redis, processor.DefaultIdempotencyConfig())
	r := processor.NewReconciler(deps.Donations, deps.Settlements, idempotency, deps.Locker, processor.ReconcilerConfig{
		StaleAfter: 2 * c.SettlementPollInterval * time.Duration(c.SettlementMaxAttempts),
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := r.RunOnce(ctx)
	if err != nil {
		return err
	}
	logger.Info("reconcile finished", "enqueued", n)
	return nil
}

func flagValue(prefix, def string) string {
	for _, v := range os.Args[1:] {
		if strings.HasPrefix(v, prefix) {
			return strings.TrimPrefix(v, prefix)
		}
	}
	if _, err := os.Stat(def); err != nil {
		return ""
	}
	return def
}
