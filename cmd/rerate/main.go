// Command rerate rebuilds every provider's rating aggregate from the review
// set. Run it after restoring a backup or repairing reviews by hand.
package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"handyhub/internal/adapters/observability"
	"handyhub/internal/app"
	"handyhub/internal/shared"
	mysqlrepo "handyhub/internal/storage/mysql"
)

func main() {
	cfg := shared.Load()

	// initialize global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.StorageDriver != "mysql" {
		log.Fatal().Str("driver", cfg.StorageDriver).Msg("rerate needs the mysql store")
	}

	log.Info().Int("workers", cfg.RerateWorkers).Msg("rerate starting")

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("db ping ok")

	ratings := app.NewRatingService(app.Deps{
		Store:        mysqlrepo.New(db),
		Log:          log.Logger,
		WriteTimeout: cfg.WriteTimeout,
	})

	start := time.Now()
	rep, err := ratings.RecomputeAll(ctx, cfg.RerateWorkers)
	ev := log.Info()
	if err != nil || rep.Failed > 0 {
		ev = log.Warn().Err(err)
	}
	ev.Int("providers", rep.Providers).Int("failed", rep.Failed).Dur("took", time.Since(start)).Msg("rerate completed")
	if err != nil || rep.Failed > 0 {
		os.Exit(1)
	}
}
