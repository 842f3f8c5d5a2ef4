// Package app assembles the discovery engine: catalog, rule registry,
// services and the HTTP router.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"etfdiscovery/internal/catalog"
	"etfdiscovery/internal/config"
	"etfdiscovery/internal/eligibility"
	"etfdiscovery/internal/logger"
	"etfdiscovery/internal/services"
)

// feedTimeout bounds each provider feed request.
const feedTimeout = 30 * time.Second

// App holds the assembled engine.
type App struct {
	Router      *gin.Engine
	Catalog     *catalog.Catalog
	Registry    *eligibility.Registry
	Maintenance services.MaintenanceServicer
}

// New builds the engine from cfg. The catalog is warmed and the rule
// registry loaded before New returns.
func New(ctx context.Context, cfg *config.Config, db *gorm.DB) (*App, error) {
	log := logger.Get()

	source, err := catalogSource(cfg, db)
	if err != nil {
		return nil, err
	}
	cat := catalog.New(source,
		catalog.WithSnapshotStore(catalog.NewSnapshotStore(cfg.SnapshotFile)),
		catalog.WithStaleAfter(cfg.StaleAfter),
	)
	if err := cat.Warm(ctx); err != nil {
		return nil, fmt.Errorf("failed to warm catalog: %w", err)
	}

	registry := eligibility.NewRegistry(eligibility.NewGormStore(db))
	if err := loadRuleSets(ctx, registry, cfg.RuleSetDir); err != nil {
		return nil, err
	}
	log.Infow("engine ready",
		"catalog_source", source.Name(),
		"instruments", cat.Status().Instruments,
		"rule_sets", registry.Len(),
	)

	auditService := services.NewAuditService(db)
	svc := Services{
		Discovery: services.NewDiscoveryService(cat, eligibility.NewEngine(registry), auditService, services.DiscoveryConfig{
			EvalBudget:         cfg.EvalBudget,
			Workers:            cfg.EvalWorkers,
			CacheTTL:           cfg.ResponseCacheTTL,
			MaxAlternatives:    cfg.MaxAlternatives,
			DataSourcesQueried: cfg.DataSourcesQueried,
		}),
		Instruments: services.NewInstrumentService(cat),
		RuleSets:    services.NewRuleSetService(registry),
		Maintenance: services.NewMaintenanceService(cat, registry, services.MaintenanceConfig{
			RuleSetDir: cfg.RuleSetDir,
			StaleAfter: cfg.StaleAfter,
		}),
		Audit: auditService,
	}

	return &App{
		Router:      NewRouter(svc, cfg),
		Catalog:     cat,
		Registry:    registry,
		Maintenance: svc.Maintenance,
	}, nil
}

// catalogSource combines the configured instrument sources. The database
// takes precedence, then the seed file, then provider feeds.
func catalogSource(cfg *config.Config, db *gorm.DB) (catalog.Source, error) {
	var sources []catalog.Source
	if !cfg.SkipCatalogDatabase {
		sources = append(sources, catalog.NewGormSource(db))
	}
	if cfg.CatalogSeedFile != "" {
		sources = append(sources, catalog.NewFileSource(cfg.CatalogSeedFile))
	}
	if len(cfg.CatalogFeeds) > 0 {
		client := &http.Client{Timeout: feedTimeout}
		for _, feed := range cfg.CatalogFeeds {
			sources = append(sources, catalog.NewHTTPSource(client, feed.Provider, feed.URL))
		}
	}

	switch len(sources) {
	case 0:
		return nil, errors.New("no catalog source configured")
	case 1:
		return sources[0], nil
	default:
		return catalog.NewMultiSource(sources...), nil
	}
}

// loadRuleSets publishes stored rule sets, the built-in defaults and any
// files in dir. Versions already present are skipped.
func loadRuleSets(ctx context.Context, registry *eligibility.Registry, dir string) error {
	if _, err := registry.Reload(ctx); err != nil {
		return fmt.Errorf("failed to load stored rule sets: %w", err)
	}

	defaults, err := eligibility.Defaults()
	if err != nil {
		return fmt.Errorf("failed to parse built-in rule sets: %w", err)
	}
	_, err = registry.Load(ctx, defaults)
	if err := eligibility.IgnoreConflicts(err); err != nil {
		return fmt.Errorf("failed to publish built-in rule sets: %w", err)
	}

	if dir != "" {
		sets, err := eligibility.LoadDir(dir)
		if err != nil {
			return fmt.Errorf("failed to read rule sets from %s: %w", dir, err)
		}
		_, err = registry.Load(ctx, sets)
		if err := eligibility.IgnoreConflicts(err); err != nil {
			return fmt.Errorf("failed to publish rule sets from %s: %w", dir, err)
		}
	}

	if registry.Len() == 0 {
		return errors.New("no eligibility rule sets available")
	}
	return nil
}
