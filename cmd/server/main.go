// Command server runs the earnloop reward backend.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	app "github.com/earnloop/earnloop/internal/app"
	"github.com/earnloop/earnloop/internal/app/httpapi"
	"github.com/earnloop/earnloop/internal/app/storage/postgres"
	"github.com/earnloop/earnloop/internal/app/storage/rediscache"
	"github.com/earnloop/earnloop/internal/config"
	"github.com/earnloop/earnloop/internal/platform/database"
	"github.com/earnloop/earnloop/internal/platform/migrations"
	"github.com/earnloop/earnloop/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load() // allow .env for local runs

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.NewDefault("server")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores := app.Stores{}
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = database.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		if err := migrations.Apply(ctx, db); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}

		store := postgres.New(db)
		stores = app.Stores{Users: store, Tasks: store, Withdrawals: store}
		log.Info("using postgres storage")
	} else {
		log.Warn("DATABASE_URL not set; using in-memory storage")
	}

	appCfg := app.Config{
		BotToken:       cfg.TelegramBotToken,
		BotUsername:    cfg.BotUsername,
		AdminUsername:  cfg.AdminUsername,
		AdminPassword:  cfg.AdminPassword,
		JWTSecret:      cfg.JWTSecret,
		InitDataMaxAge: cfg.InitDataMaxAge,
		CommissionRate: cfg.CommissionRate,
		SignupBonus:    cfg.SignupBonus,
		MinWithdrawal:  cfg.MinWithdrawal,
	}

	if cfg.RedisURL != "" {
		cache, err := rediscache.New(ctx, cfg.RedisURL, log)
		if err != nil {
			log.WithError(err).Warn("redis unavailable; task cache disabled")
		} else {
			defer cache.Close()
			appCfg.TaskCache = cache
			log.Info("task cache enabled")
		}
	}

	application := app.New(stores, appCfg, log)

	if cfg.SeedDemoTasks {
		if err := application.Tasks.SeedDemo(ctx); err != nil {
			return fmt.Errorf("seed demo tasks: %w", err)
		}
	}

	handler := httpapi.NewHandler(application, httpapi.Options{
		AllowAnonymous: cfg.AllowAnonymous,
		CORSOrigins:    cfg.Origins(),
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	}, log)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}
