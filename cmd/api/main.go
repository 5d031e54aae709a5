package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/homenavi/auth-service/internal/app"
	"github.com/homenavi/auth-service/internal/config"
	"github.com/homenavi/auth-service/internal/db"
	"github.com/homenavi/auth-service/internal/logging"
	"github.com/homenavi/auth-service/internal/repo/memrepo"
)

func main() {
	// Env vars override .env
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.DevMode)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("auth service stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	var stores app.Stores
	switch cfg.Store {
	case config.StorePostgres:
		logger.Info("store backend", zap.String("backend", "postgres"), zap.String("db", cfg.DBSummary()))
		database, err := db.Open(ctx, cfg.DatabaseURL, db.DefaultPool, logger)
		if err != nil {
			return err
		}
		defer closeDB(database, logger)

		if err := db.Migrate(database); err != nil {
			return err
		}
		stores = app.PostgresStores(database)
	default:
		logger.Warn("store backend is in-memory; all state is lost on restart")
		store := memrepo.NewStore(nil)
		janitorCtx, stopJanitor := context.WithCancel(ctx)
		defer stopJanitor()
		go store.RunJanitor(janitorCtx, 10*time.Minute, time.Hour)
		stores = app.MemoryStores(store)
	}

	a, err := app.New(cfg, stores, logger, app.Options{})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("failed to release resources", zap.Error(err))
		}
	}()

	if err := a.SeedAdmin(ctx, cfg); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.Router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port), zap.Bool("dev_mode", cfg.DevMode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server exited")
	return nil
}

func closeDB(database *sql.DB, logger *zap.Logger) {
	if err := database.Close(); err != nil {
		logger.Warn("failed to close database", zap.Error(err))
	}
}
