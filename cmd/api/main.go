package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	server "handyhub/internal/adapters/http_server"
	kafkaad "handyhub/internal/adapters/kafka"
	"handyhub/internal/adapters/observability"
	"handyhub/internal/adapters/profiles"
	redisad "handyhub/internal/adapters/redis"
	"handyhub/internal/app"
	"handyhub/internal/domain"
	"handyhub/internal/fanout"
	"handyhub/internal/shared"
	"handyhub/internal/storage/memory"
	mysqlrepo "handyhub/internal/storage/mysql"
)

func main() {
	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, cfg.OTelEnabled, cfg.OTelEndpoint, cfg.AppEnv)
	if err != nil {
		log.Fatal().Err(err).Msg("tracer init failed")
	}

	// store
	var (
		store    domain.Store
		profileS domain.ProfileStore
	)
	switch cfg.StorageDriver {
	case "memory":
		mem := memory.New()
		if err := mem.Seed(cfg.SeedAccounts); err != nil {
			log.Fatal().Err(err).Msg("seed accounts failed")
		}
		store, profileS = mem, mem
		log.Warn().Msg("using in-memory store; data is lost on exit")
	default:
		db := openDB(ctx, cfg.MySQLDSN)
		defer db.Close()
		repo := mysqlrepo.New(db)
		store, profileS = repo, repo
	}

	// cache + cross-instance fan-out
	var (
		cache domain.Cache
		rc    *redis.Client
	)
	if cfg.RedisAddr != "" {
		rc = redisad.NewClient(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis ping failed")
		}
		cache = redisad.New(rc)
		log.Info().Msg("redis connection ok")
	}

	if cfg.ProfilesBase != "" {
		pc, err := profiles.New(cfg.ProfilesBase, cfg.ProfilesKey, cfg.ProfilesRPS, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize profile client")
		}
		profileS = pc
	}

	hub := fanout.NewHub(cfg.FanoutBuffer, log.Logger)
	var (
		pub   domain.Publisher = hub
		relay *redisad.Relay
	)
	if rc != nil {
		relay = redisad.NewRelay(rc, hub, log.Logger)
		pub = relay
	}

	var events domain.EventSink
	if len(cfg.KafkaBrokers) > 0 {
		producer := kafkaad.NewProducer(cfg.KafkaBrokers, log.Logger)
		defer producer.Close()
		events = producer
	}

	// services
	deps := app.Deps{
		Store:        store,
		Cache:        cache,
		Events:       events,
		Log:          log.Logger,
		WriteTimeout: cfg.WriteTimeout,
	}
	resolver := app.NewProfileResolver(profileS, cache, cfg.CacheTTL, log.Logger)

	// http
	srv := server.New(log.Logger)
	reg := observability.InitRegistry()
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{
		Lifecycle: app.NewLifecycleService(deps),
		Messages:  app.NewMessageService(deps, pub, hub, resolver),
		Ratings:   app.NewRatingService(deps),
		Queries:   app.NewQueryService(store, cache, cfg.CacheTTL),
		Auth:      server.NewAuthenticator(cfg.JWTSecret),
		Log:       log.Logger,
	}, cfg.RequestTimeout)

	observability.Serve(cfg.MetricsAddr, reg)

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Str("storage", cfg.StorageDriver).Msg("API listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		// open streams see HubClosed and end without resubscribing
		hub.Close()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(sctx); err != nil {
			log.Error().Err(err).Msg("http shutdown failed")
		}
		return shutdownTracer(sctx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("api exited with error")
		os.Exit(1)
	}
	log.Info().Msg("api stopped")
}

func openDB(ctx context.Context, dsn string) *sql.DB {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("database connection ok")
	return db
}
