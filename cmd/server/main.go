// Command server runs the newsletter HTTP API and the background delivery
// workers in one process.
//
// @title       Newsletter API
// @version     1.0
// @description Idempotent newsletter publishing with a transactional outbox and double opt-in subscriptions.
// @BasePath    /
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/config"
	"github.com/tbourn/go-newsletter-backend/internal/email"
	httpapi "github.com/tbourn/go-newsletter-backend/internal/http"
	"github.com/tbourn/go-newsletter-backend/internal/idempotency"
	"github.com/tbourn/go-newsletter-backend/internal/observability"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
	"github.com/tbourn/go-newsletter-backend/internal/services"
	"github.com/tbourn/go-newsletter-backend/internal/sysutil"
	"github.com/tbourn/go-newsletter-backend/internal/worker"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	instance := sysutil.InstanceName()
	observability.InitLogging(cfg, instance)
	appVersion := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, appVersion, instance); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg config.Config, version, instance string) error {
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version, instance)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := openDatabase(cfg.DB)
	if err != nil {
		return err
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()

	mailer := email.NewClient(cfg.Email.BaseURL, cfg.Email.Sender, cfg.Email.AuthToken, cfg.Email.Timeout)
	store := idempotency.NewStore(db,
		idempotency.WithConflictRetries(cfg.Idempotency.ConflictRetries),
		idempotency.WithConflictBackoff(cfg.Idempotency.ConflictBackoff),
		idempotency.WithConflictMaxWait(cfg.Idempotency.ConflictMaxWait),
	)

	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, httpapi.Deps{
		DB:            db,
		Newsletters:   services.NewNewsletterService(db, store),
		Subscriptions: services.NewSubscriptionService(db, mailer, cfg.BaseURL),
	}, cfg)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.ShutdownTimeout)
		defer cancel()
		log.Info().Msg("shutting down http server")
		return srv.Shutdown(sctx)
	})

	if cfg.Worker.Enabled {
		for i := 0; i < cfg.Worker.Instances; i++ {
			w := worker.New(db, mailer,
				worker.WithPollInterval(cfg.Worker.PollInterval),
				worker.WithErrorBackoff(cfg.Worker.ErrorBackoff),
				worker.WithMaxAttempts(cfg.Worker.MaxAttempts),
				worker.WithTaskTimeout(cfg.Worker.TaskTimeout),
				worker.WithLogger(log.With().
					Str("component", "delivery_worker").
					Int("worker", i).
					Logger()),
			)
			g.Go(func() error { return w.Run(gctx) })
		}
		log.Info().Int("instances", cfg.Worker.Instances).Msg("delivery workers started")
	}

	return g.Wait()
}

func openDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := repo.Open(cfg.Driver, cfg.DSN())
	if err != nil {
		return nil, err
	}
	if err := repo.Instrument(db); err != nil {
		return nil, err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return nil, err
	}
	log.Info().Str("driver", cfg.Driver).Msg("database ready")
	return db, nil
}
