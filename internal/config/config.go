package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	// Server
	Port        string
	Environment string

	// Catalog
	CatalogSeedFile     string
	CatalogFeeds        []Feed
	SnapshotFile        string
	StaleAfter          time.Duration
	RefreshSchedule     string
	RuleSetDir          string
	AllowedOrigins      string
	AdminAPIKey         string
	DataSourcesQueried  []string
	EvalBudget          time.Duration
	RequestTimeout      time.Duration
	EvalWorkers         int
	ResponseCacheTTL    time.Duration
	RateLimitPerSecond  float64
	RateLimitBurst      int
	MaxAlternatives     int
	SkipCatalogDatabase bool
}

// Feed is a provider instrument feed, configured as "Provider=URL".
type Feed struct {
	Provider string
	URL      string
}

var appConfig *Config

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if not already loaded
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}

	config := &Config{
		Port:            getEnv("PORT", "8080"),
		Environment:     getEnv("ENV", "development"),
		CatalogSeedFile: getEnv("CATALOG_SEED_FILE", ""),
		SnapshotFile:    getEnv("SNAPSHOT_FILE", "data/catalog.snapshot"),
		RefreshSchedule: getEnv("REFRESH_SCHEDULE", "@every 15m"),
		RuleSetDir:      getEnv("RULESET_DIR", ""),
		AllowedOrigins:  getEnv("ALLOWED_ORIGINS", "*"),
		AdminAPIKey:     getEnv("ADMIN_API_KEY", ""),
		DataSourcesQueried: splitList(getEnv("DATA_SOURCES_QUERIED",
			"catalog,exchange-listings,fact-sheets")),
	}

	var err error
	if config.StaleAfter, err = parseDuration("STALE_AFTER", "1h"); err != nil {
		return nil, err
	}
	if config.EvalBudget, err = parseDuration("EVAL_BUDGET", "2s"); err != nil {
		return nil, err
	}
	if config.RequestTimeout, err = parseDuration("REQUEST_TIMEOUT", "30s"); err != nil {
		return nil, err
	}
	if config.ResponseCacheTTL, err = parseDuration("RESPONSE_CACHE_TTL", "5m"); err != nil {
		return nil, err
	}
	if config.EvalWorkers, err = parseInt("EVAL_WORKERS", 0); err != nil {
		return nil, err
	}
	if config.RateLimitBurst, err = parseInt("RATE_LIMIT_BURST", 30); err != nil {
		return nil, err
	}
	if config.MaxAlternatives, err = parseInt("MAX_ALTERNATIVES", 5); err != nil {
		return nil, err
	}
	rate, err := strconv.ParseFloat(getEnv("RATE_LIMIT_PER_SECOND", "10"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_PER_SECOND: %w", err)
	}
	config.RateLimitPerSecond = rate
	config.SkipCatalogDatabase = getEnv("CATALOG_DATABASE", "true") == "false"
	if config.CatalogFeeds, err = parseFeeds(getEnv("CATALOG_FEEDS", "")); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	appConfig = config
	return config, nil
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.EvalBudget <= 0 {
		return fmt.Errorf("EVAL_BUDGET must be positive, got %v", c.EvalBudget)
	}
	if c.RequestTimeout < c.EvalBudget {
		return fmt.Errorf("REQUEST_TIMEOUT (%v) must not be shorter than EVAL_BUDGET (%v)", c.RequestTimeout, c.EvalBudget)
	}
	if c.EvalWorkers < 0 {
		return fmt.Errorf("EVAL_WORKERS must not be negative")
	}
	if c.SkipCatalogDatabase && c.CatalogSeedFile == "" && len(c.CatalogFeeds) == 0 {
		return fmt.Errorf("CATALOG_SEED_FILE or CATALOG_FEEDS is required when CATALOG_DATABASE=false")
	}
	return nil
}

// Get returns the application configuration
func Get() *Config {
	if appConfig == nil {
		var err error
		appConfig, err = Load()
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	}
	return appConfig
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDuration(key, defaultValue string) (time.Duration, error) {
	s := getEnv(key, defaultValue)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return d, nil
}

func parseInt(key string, defaultValue int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseFeeds(s string) ([]Feed, error) {
	var feeds []Feed
	for _, entry := range splitList(s) {
		provider, url, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(provider) == "" || strings.TrimSpace(url) == "" {
			return nil, fmt.Errorf("invalid CATALOG_FEEDS entry %q: want Provider=URL", entry)
		}
		feeds = append(feeds, Feed{Provider: strings.TrimSpace(provider), URL: strings.TrimSpace(url)})
	}
	return feeds, nil
}
