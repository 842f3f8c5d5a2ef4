package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"etfdiscovery/internal/app"
	"etfdiscovery/internal/config"
	"etfdiscovery/internal/database"
	"etfdiscovery/internal/logger"
	"etfdiscovery/internal/scheduler"
	"etfdiscovery/internal/validator"
)

// @title           ETF Discovery API
// @version         1.0
// @description     Discovers, screens and ranks exchange-traded funds an investor may hold in a given jurisdiction and account type.

// @host      localhost:8080
// @BasePath  /api/v1

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
// @description Admin API key.

const shutdownTimeout = 15 * time.Second

func main() {
	// Initialize logger (use ENV var if available, default to development)
	logger.Init(os.Getenv("ENV"))
	defer logger.Sync()

	if err := run(); err != nil {
		logger.Get().Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	log := logger.Get()

	// Load configuration
	appConfig, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize database configuration
	dbConfig, err := database.NewConfig()
	if err != nil {
		return fmt.Errorf("failed to load database configuration: %w", err)
	}

	// Create database manager
	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return fmt.Errorf("failed to create database manager: %w", err)
	}

	// Run migrations
	if err := dbManager.Migrate(); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}

	validator.Register()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := app.New(ctx, appConfig, dbManager.DB())
	if err != nil {
		return err
	}

	// Background refresh
	sched := scheduler.New()
	if err := sched.AddJob(appConfig.RefreshSchedule, scheduler.NewRefreshJob(engine.Maintenance, appConfig.RequestTimeout)); err != nil {
		return fmt.Errorf("invalid REFRESH_SCHEDULE %q: %w", appConfig.RefreshSchedule, err)
	}
	sched.Start()
	defer sched.Stop()

	srv := &http.Server{
		Addr:              ":" + appConfig.Port,
		Handler:           engine.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Starting ETF discovery server on port %s", appConfig.Port)
		log.Infof("Swagger documentation available at http://localhost:%s/swagger/index.html", appConfig.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("Server stopped")
	return nil
}
