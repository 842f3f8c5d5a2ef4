package testutil

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"etfdiscovery/internal/catalog"

	"gorm.io/gorm"
)

// counter provides unique values across fixtures within a test run.
var counter atomic.Int64

func nextID() int64 {
	return counter.Add(1)
}

// AsOf is the provenance date stamped on fixture data sources.
var AsOf = time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)

// NewInstrument returns a physically replicated, liquid, cheap equity ETF
// listed on the JSE. Callers override fields as needed.
func NewInstrument(ticker string) catalog.Instrument {
	return catalog.Instrument{
		Ticker:             ticker,
		ISIN:               fmt.Sprintf("ZAE%09d", nextID()),
		Name:               ticker + " Index Fund",
		Provider:           "Satrix",
		Exchange:           "JSE",
		ExchangeCountry:    "ZA",
		Domicile:           "ZA",
		LegalStructure:     "CIS",
		Currency:           "ZAR",
		AssetClass:         "equity",
		TrackingIndex:      "FTSE/JSE Top 40",
		GeographicFocus:    "south africa",
		MarketTags:         []string{"emerging"},
		TER:                catalog.Float(0.10),
		AUM:                catalog.Float(5e9),
		AverageDailyVolume: catalog.Float(2e7),
		TrackingDifference: catalog.Float(0.001),
		Replication:        catalog.ReplicationPhysical,
		Leveraged:          catalog.Bool(false),
		Inverse:            catalog.Bool(false),
		AssetBreakdown:     catalog.AssetBreakdown{Equities: 99, Cash: 1},
		GeographicWeights:  map[string]float64{"south africa": 100},
		SectorWeights:      map[string]float64{"financials": 35, "materials": 30, "technology": 20},
		TopHoldings: []catalog.Holding{
			{Name: "Naspers", Ticker: "NPN", Weight: 12.5},
			{Name: "FirstRand", Ticker: "FSR", Weight: 6.2},
		},
		DataSources: []catalog.DataSource{
			{Type: "factsheet", Provider: "Satrix", URL: "https://example.com/" + ticker + ".pdf", AsOfDate: AsOf},
		},
	}
}

// SampleInstruments returns a small mixed universe: JSE equity and bond
// funds, a US-listed global fund, a synthetic fund, a leveraged fund and a
// fund with missing cost data.
func SampleInstruments() []catalog.Instrument {
	top40 := NewInstrument("STX40")

	swix := NewInstrument("STXSWX")
	swix.TER = catalog.Float(0.20)
	swix.AUM = catalog.Float(1.2e9)

	bond := NewInstrument("STXGOV")
	bond.AssetClass = "bond"
	bond.TrackingIndex = "FTSE/JSE All Bond"
	bond.AssetBreakdown = catalog.AssetBreakdown{Bonds: 98, Cash: 2}
	bond.SectorWeights = nil
	bond.TER = catalog.Float(0.25)

	world := NewInstrument("VT")
	world.Provider = "Vanguard"
	world.Exchange = "NYSE"
	world.ExchangeCountry = "US"
	world.Domicile = "US"
	world.LegalStructure = "ETF"
	world.Currency = "USD"
	world.TrackingIndex = "FTSE Global All Cap"
	world.GeographicFocus = "global"
	world.MarketTags = []string{"developed", "emerging"}
	world.GeographicWeights = map[string]float64{"north america": 62, "europe": 16, "asia pacific": 14, "emerging": 8}
	world.TER = catalog.Float(0.07)
	world.AUM = catalog.Float(3e10)
	world.AverageDailyVolume = catalog.Float(2e8)

	synth := NewInstrument("SYGWD")
	synth.Replication = catalog.ReplicationSynthetic
	synth.GeographicFocus = "global"
	synth.MarketTags = []string{"developed"}

	lev := NewInstrument("LEV2X")
	lev.Leveraged = catalog.Bool(true)

	sparse := NewInstrument("NEWETF")
	sparse.TER = nil
	sparse.AUM = nil
	sparse.AverageDailyVolume = nil
	sparse.TrackingDifference = nil
	sparse.Replication = ""

	return []catalog.Instrument{top40, swix, bond, world, synth, lev, sparse}
}

// StaticSource is a catalog.Source whose results are supplied by the test.
type StaticSource struct {
	// Label overrides the source name.
	Label       string
	Instruments []catalog.Instrument
	LoadFn      func(ctx context.Context) ([]catalog.Instrument, error)
	calls       atomic.Int64
}

var _ catalog.Source = (*StaticSource)(nil)

// Name returns the source label.
func (s *StaticSource) Name() string {
	if s.Label != "" {
		return s.Label
	}
	return "static"
}

// Load returns LoadFn's result if set, otherwise Instruments.
func (s *StaticSource) Load(ctx context.Context) ([]catalog.Instrument, error) {
	s.calls.Add(1)
	if s.LoadFn != nil {
		return s.LoadFn(ctx)
	}
	return s.Instruments, nil
}

// Calls returns how many times Load has been invoked.
func (s *StaticSource) Calls() int64 { return s.calls.Load() }

// NewTestCatalog returns a warmed catalog over instruments.
func NewTestCatalog(t *testing.T, instruments []catalog.Instrument, opts ...catalog.Option) *catalog.Catalog {
	t.Helper()

	cat := catalog.New(&StaticSource{Instruments: instruments}, opts...)
	if err := cat.Warm(context.Background()); err != nil {
		t.Fatalf("failed to warm test catalog: %v", err)
	}
	return cat
}

// SeedFunds writes instruments into the funds tables.
func SeedFunds(t *testing.T, db *gorm.DB, instruments []catalog.Instrument) {
	t.Helper()

	if err := catalog.NewGormSource(db).Upsert(context.Background(), instruments); err != nil {
		t.Fatalf("failed to seed funds: %v", err)
	}
}
