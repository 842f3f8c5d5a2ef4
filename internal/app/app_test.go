package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"etfdiscovery/internal/catalog"
	"etfdiscovery/internal/config"
	"etfdiscovery/internal/eligibility"
	"etfdiscovery/internal/logger"
	"etfdiscovery/internal/testutil"
	"etfdiscovery/internal/validator"
)

const adminKey = "test-admin-key"

func init() {
	gin.SetMode(gin.TestMode)
	logger.Init("test")
	validator.Register()
}

// testApp holds the assembled engine and its database for a test.
type testApp struct {
	*App
	DB *gorm.DB
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port:               "0",
		Environment:        "test",
		SnapshotFile:       filepath.Join(t.TempDir(), "catalog.snapshot"),
		StaleAfter:         time.Hour,
		RefreshSchedule:    "@every 15m",
		AllowedOrigins:     "*",
		AdminAPIKey:        adminKey,
		DataSourcesQueried: []string{"catalog"},
		EvalBudget:         2 * time.Second,
		RequestTimeout:     5 * time.Second,
		ResponseCacheTTL:   time.Minute,
		MaxAlternatives:    5,
	}
}

// setupApp seeds the sample universe and assembles the engine over it.
func setupApp(t *testing.T, mutate func(*config.Config)) *testApp {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.TeardownTestDB(t, db) })
	testutil.SeedFunds(t, db, testutil.SampleInstruments())

	cfg := testConfig(t)
	if mutate != nil {
		mutate(cfg)
	}
	a, err := New(context.Background(), cfg, db)
	if err != nil {
		t.Fatalf("failed to assemble app: %v", err)
	}
	return &testApp{App: a, DB: db}
}

func (a *testApp) request(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, _ := json.Marshal(b)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.Router.ServeHTTP(rec, req)
	return rec
}

func parseJSON(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d: %s", rec.Code, want, rec.Body.String())
	}
}

type discoverResponse struct {
	RequestID string `json:"requestId"`
	Results   []struct {
		Rank        int    `json:"rank"`
		Ticker      string `json:"ticker"`
		Eligibility struct {
			Status     string `json:"status"`
			Confidence string `json:"confidence"`
		} `json:"eligibility"`
		RankingScore float64 `json:"rankingScore"`
	} `json:"results"`
	Summary struct {
		TotalSearched    int `json:"totalSearched"`
		TotalEligible    int `json:"totalEligible"`
		TotalIneligible  int `json:"totalIneligible"`
		TotalConditional int `json:"totalConditional"`
	} `json:"summary"`
	Warnings []struct {
		Code string `json:"code"`
	} `json:"warnings"`
	CacheHit        bool   `json:"cacheHit"`
	SnapshotVersion string `json:"snapshotVersion"`
	RuleVersion     string `json:"ruleVersion"`
}

var tfsaQuery = map[string]any{
	"investorProfile": map[string]any{"country": "ZA", "accountType": "TFSA"},
}

func TestDiscoverFlow(t *testing.T) {
	a := setupApp(t, nil)

	t.Run("ranks_eligible_funds", func(t *testing.T) {
		rec := a.request(http.MethodPost, "/api/v1/discover", tfsaQuery, nil)
		assertStatus(t, rec, http.StatusOK)

		var resp discoverResponse
		parseJSON(t, rec, &resp)

		want := []string{"STX40", "STXSWX", "STXGOV"}
		if len(resp.Results) != len(want) {
			t.Fatalf("expected %d results, got %+v", len(want), resp.Results)
		}
		for i, ticker := range want {
			r := resp.Results[i]
			if r.Ticker != ticker || r.Rank != i+1 {
				t.Errorf("result %d = %s (rank %d), want %s (rank %d)", i, r.Ticker, r.Rank, ticker, i+1)
			}
			if r.Eligibility.Status != "eligible" {
				t.Errorf("%s status = %s, want eligible", r.Ticker, r.Eligibility.Status)
			}
		}
		if resp.Summary.TotalSearched != 7 {
			t.Errorf("totalSearched = %d, want 7", resp.Summary.TotalSearched)
		}
		if resp.Summary.TotalIneligible != 2 || resp.Summary.TotalConditional != 1 {
			t.Errorf("unexpected summary %+v", resp.Summary)
		}
		if resp.RuleVersion != "2025.1" || resp.SnapshotVersion == "" {
			t.Errorf("unexpected versions rule=%q snapshot=%q", resp.RuleVersion, resp.SnapshotVersion)
		}
		if resp.RequestID == "" || resp.RequestID != rec.Header().Get("X-Request-ID") {
			t.Errorf("requestId %q does not match header %q", resp.RequestID, rec.Header().Get("X-Request-ID"))
		}
	})

	t.Run("repeat_query_served_from_cache", func(t *testing.T) {
		rec := a.request(http.MethodPost, "/api/v1/discover", tfsaQuery, nil)
		assertStatus(t, rec, http.StatusOK)

		var resp discoverResponse
		parseJSON(t, rec, &resp)
		if !resp.CacheHit {
			t.Error("expected the repeated query to hit the cache")
		}
	})

	t.Run("audits_each_answer", func(t *testing.T) {
		rec := a.request(http.MethodPost, "/api/v1/discover", tfsaQuery, map[string]string{"X-Request-ID": "trace-7"})
		assertStatus(t, rec, http.StatusOK)

		var count int64
		a.DB.Table("audit_logs").Where("request_id = ? AND action = ?", "trace-7", "DISCOVER").Count(&count)
		if count != 1 {
			t.Errorf("expected 1 audit entry for trace-7, got %d", count)
		}
	})

	t.Run("unknown_jurisdiction_degrades", func(t *testing.T) {
		rec := a.request(http.MethodPost, "/api/v1/discover", map[string]any{
			"investorProfile": map[string]any{"country": "FR", "accountType": "PEA"},
		}, nil)
		assertStatus(t, rec, http.StatusOK)

		var resp discoverResponse
		parseJSON(t, rec, &resp)
		found := false
		for _, w := range resp.Warnings {
			if w.Code == "RULESET_NOT_FOUND" {
				found = true
			}
		}
		if !found {
			t.Errorf("expected RULESET_NOT_FOUND warning, got %+v", resp.Warnings)
		}
	})

	t.Run("malformed_query", func(t *testing.T) {
		rec := a.request(http.MethodPost, "/api/v1/discover", `{"investorProfile": {"country": "ZAF"}}`, nil)
		assertStatus(t, rec, http.StatusBadRequest)

		var body map[string]any
		parseJSON(t, rec, &body)
		if body["code"] != "MALFORMED_QUERY" || body["requestId"] == "" {
			t.Errorf("unexpected error body %v", body)
		}
	})
}

func TestInstrumentFlow(t *testing.T) {
	a := setupApp(t, nil)

	t.Run("list_with_search", func(t *testing.T) {
		rec := a.request(http.MethodGet, "/api/v1/instruments?search=STX&page_size=2", nil, nil)
		assertStatus(t, rec, http.StatusOK)

		var page struct {
			Data []struct {
				Ticker string `json:"ticker"`
			} `json:"data"`
			TotalItems int64 `json:"total_items"`
		}
		parseJSON(t, rec, &page)
		if page.TotalItems != 3 || len(page.Data) != 2 {
			t.Errorf("expected 2 of 3 STX funds, got %d of %d", len(page.Data), page.TotalItems)
		}
	})

	t.Run("get_by_ticker", func(t *testing.T) {
		rec := a.request(http.MethodGet, "/api/v1/instruments/stx40", nil, nil)
		assertStatus(t, rec, http.StatusOK)

		var body struct {
			Instrument struct {
				Ticker string `json:"ticker"`
			} `json:"instrument"`
		}
		parseJSON(t, rec, &body)
		if body.Instrument.Ticker != "STX40" {
			t.Errorf("expected STX40, got %q", body.Instrument.Ticker)
		}
	})

	t.Run("unknown_ticker", func(t *testing.T) {
		rec := a.request(http.MethodGet, "/api/v1/instruments/NOPE", nil, nil)
		assertStatus(t, rec, http.StatusNotFound)
	})
}

const tfsaV2 = `jurisdiction: ZA
accountType: tfsa
version: "2026.1"
description: JSE listing only
rules:
  - name: jse_listing
    kind: exchange_in
    severity: hard
    description: Listed on the Johannesburg Stock Exchange
    values: [JSE]
`

func TestRuleSetFlow(t *testing.T) {
	a := setupApp(t, nil)
	admin := map[string]string{"X-API-Key": adminKey, "Content-Type": "application/yaml"}

	t.Run("publish_requires_key", func(t *testing.T) {
		rec := a.request(http.MethodPost, "/api/v1/admin/rulesets", tfsaV2, map[string]string{"X-API-Key": "wrong"})
		assertStatus(t, rec, http.StatusUnauthorized)
	})

	t.Run("publish_new_version", func(t *testing.T) {
		rec := a.request(http.MethodPost, "/api/v1/admin/rulesets", tfsaV2, admin)
		assertStatus(t, rec, http.StatusCreated)

		rec = a.request(http.MethodGet, "/api/v1/rulesets/ZA/tfsa", nil, nil)
		assertStatus(t, rec, http.StatusOK)
		var body struct {
			RuleSet struct {
				Version string `json:"version"`
			} `json:"ruleSet"`
		}
		parseJSON(t, rec, &body)
		if body.RuleSet.Version != "2026.1" {
			t.Errorf("latest version = %q, want 2026.1", body.RuleSet.Version)
		}
	})

	t.Run("previous_version_still_served", func(t *testing.T) {
		rec := a.request(http.MethodGet, "/api/v1/rulesets/ZA/tfsa?version=2025.1", nil, nil)
		assertStatus(t, rec, http.StatusOK)
	})

	t.Run("republish_conflicts", func(t *testing.T) {
		rec := a.request(http.MethodPost, "/api/v1/admin/rulesets", tfsaV2, admin)
		assertStatus(t, rec, http.StatusConflict)
	})

	t.Run("published_version_survives_restart", func(t *testing.T) {
		reopened, err := New(context.Background(), testConfig(t), a.DB)
		if err != nil {
			t.Fatalf("failed to reassemble app: %v", err)
		}
		rs, err := reopened.Registry.Resolve(eligibility.Profile{Country: "ZA", AccountType: "tfsa"}, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rs.Version != "2026.1" {
			t.Errorf("latest version after restart = %q, want 2026.1", rs.Version)
		}
	})
}

func TestAdminFlow(t *testing.T) {
	a := setupApp(t, nil)
	admin := map[string]string{"X-API-Key": adminKey}

	t.Run("health", func(t *testing.T) {
		for _, path := range []string{"/api/health", "/api/v1/health"} {
			rec := a.request(http.MethodGet, path, nil, nil)
			assertStatus(t, rec, http.StatusOK)

			var body map[string]any
			parseJSON(t, rec, &body)
			if body["status"] != "ok" || body["instruments"] != float64(7) {
				t.Errorf("%s: unexpected health %v", path, body)
			}
		}
	})

	t.Run("refresh_picks_up_new_funds", func(t *testing.T) {
		testutil.SeedFunds(t, a.DB, []catalog.Instrument{testutil.NewInstrument("STXNDQ")})

		rec := a.request(http.MethodPost, "/api/v1/admin/refresh", nil, admin)
		assertStatus(t, rec, http.StatusOK)

		var report map[string]any
		parseJSON(t, rec, &report)
		if report["instruments"] != float64(8) {
			t.Errorf("expected 8 instruments after refresh, got %v", report["instruments"])
		}
	})

	t.Run("audit_logs_list_admin_actions", func(t *testing.T) {
		rec := a.request(http.MethodGet, "/api/v1/admin/audit-logs", nil, admin)
		assertStatus(t, rec, http.StatusOK)

		var page struct {
			Data []struct {
				Action string `json:"action"`
			} `json:"data"`
		}
		parseJSON(t, rec, &page)
		if len(page.Data) == 0 || page.Data[0].Action != "REFRESH_CATALOG" {
			t.Errorf("expected REFRESH_CATALOG first, got %+v", page.Data)
		}
	})

	t.Run("admin_disabled_without_key", func(t *testing.T) {
		closed := setupApp(t, func(c *config.Config) { c.AdminAPIKey = "" })
		rec := closed.request(http.MethodPost, "/api/v1/admin/refresh", nil, admin)
		assertStatus(t, rec, http.StatusServiceUnavailable)
	})
}

func TestRateLimitFlow(t *testing.T) {
	a := setupApp(t, func(c *config.Config) {
		c.RateLimitPerSecond = 0.001
		c.RateLimitBurst = 2
	})

	for i := 0; i < 2; i++ {
		assertStatus(t, a.request(http.MethodGet, "/api/v1/rulesets", nil, nil), http.StatusOK)
	}
	rec := a.request(http.MethodGet, "/api/v1/rulesets", nil, nil)
	assertStatus(t, rec, http.StatusTooManyRequests)
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	// Probes are outside the limited group.
	assertStatus(t, a.request(http.MethodGet, "/api/health", nil, nil), http.StatusOK)
}

func TestCatalogSources(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	t.Run("seed_file_only", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.SkipCatalogDatabase = true
		cfg.CatalogSeedFile = filepath.Join("..", "..", "data", "instruments.json")

		a, err := New(context.Background(), cfg, db)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if a.Catalog.Status().Instruments != 6 {
			t.Errorf("expected 6 instruments from the seed file, got %d", a.Catalog.Status().Instruments)
		}
	})

	t.Run("unreachable_file_falls_back_to_snapshot", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.SkipCatalogDatabase = true
		cfg.CatalogSeedFile = filepath.Join("..", "..", "data", "instruments.json")
		if _, err := New(context.Background(), cfg, db); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		cfg.CatalogSeedFile = filepath.Join(t.TempDir(), "missing.json")
		a, err := New(context.Background(), cfg, db)
		if err != nil {
			t.Fatalf("expected the persisted snapshot to be served, got %v", err)
		}
		if a.Catalog.Status().Instruments != 6 || a.Catalog.Status().LastError == nil {
			t.Errorf("unexpected status %+v", a.Catalog.Status())
		}
	})

	t.Run("no_source_and_no_snapshot", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.SkipCatalogDatabase = true
		cfg.CatalogSeedFile = filepath.Join(t.TempDir(), "missing.json")
		if _, err := New(context.Background(), cfg, db); err == nil {
			t.Error("expected an error when neither the source nor a snapshot is available")
		}
	})

	t.Run("no_source_configured", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.SkipCatalogDatabase = true
		if _, err := New(context.Background(), cfg, db); err == nil {
			t.Error("expected an error without any catalog source")
		}
	})
}
