package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"etfdiscovery/internal/catalog"
	"etfdiscovery/internal/database"
	"etfdiscovery/internal/logger"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	logger.Init(os.Getenv("ENV"))
	defer logger.Sync()

	if err := run(); err != nil {
		logger.Get().Fatalf("Migration error: %v", err)
	}
}

func run() error {
	if len(os.Args) < 2 {
		return fmt.Errorf("usage: migrate <up|down|version|seed> [N|file]")
	}

	cfg, err := database.NewConfig()
	if err != nil {
		return fmt.Errorf("failed to load database configuration: %w", err)
	}

	command := os.Args[1]
	if command == "seed" {
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: migrate seed <instruments.json>")
		}
		return seed(cfg, os.Args[2])
	}
	if cfg.Driver != database.DriverPostgres {
		return fmt.Errorf("versioned migrations require DB_DRIVER=%s; SQLite is auto-migrated at startup", database.DriverPostgres)
	}

	m, err := migrate.New(cfg.Migrations, cfg.MigrateURL())
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			logger.Get().Warnf("migrate source close error: %v", srcErr)
		}
		if dbErr != nil {
			logger.Get().Warnf("migrate database close error: %v", dbErr)
		}
	}()

	switch command {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migration up failed: %w", err)
		}
		logger.Get().Info("Migrations applied successfully")

	case "down":
		steps := 1
		if len(os.Args) > 2 {
			steps, err = strconv.Atoi(os.Args[2])
			if err != nil {
				return fmt.Errorf("invalid step count: %w", err)
			}
		}
		if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migration down failed: %w", err)
		}
		logger.Get().Infof("Rolled back %d migration(s)", steps)

	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return fmt.Errorf("failed to get version: %w", err)
		}
		logger.Get().Infof("Version: %d, Dirty: %v", version, dirty)

	default:
		return fmt.Errorf("unknown command: %s (use up, down, version or seed)", command)
	}

	return nil
}

// seed upserts the instruments in a JSON file into the funds tables.
func seed(cfg *database.Config, path string) error {
	manager, err := database.NewManager(cfg)
	if err != nil {
		return fmt.Errorf("failed to create database manager: %w", err)
	}
	if err := manager.Migrate(); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}

	ctx := context.Background()
	instruments, err := catalog.NewFileSource(path).Load(ctx)
	if err != nil {
		return err
	}
	if err := catalog.NewGormSource(manager.DB()).Upsert(ctx, instruments); err != nil {
		return fmt.Errorf("failed to seed funds: %w", err)
	}
	logger.Get().Infof("Seeded %d instrument(s) from %s", len(instruments), path)
	return nil
}
