package catalog_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"etfdiscovery/internal/catalog"
	"etfdiscovery/internal/logger"
	"etfdiscovery/internal/testutil"
)

func init() {
	logger.Init("test")
}

func TestNewSnapshot(t *testing.T) {
	good := testutil.NewInstrument("stx40")
	dup := testutil.NewInstrument("STX40")
	noTicker := testutil.NewInstrument("")
	overweight := testutil.NewInstrument("BAD")
	overweight.AssetBreakdown = catalog.AssetBreakdown{Equities: 90, Bonds: 20}
	badTER := testutil.NewInstrument("TER")
	badTER.TER = catalog.Float(150)
	other := testutil.NewInstrument("ABC")

	snap, rejected := catalog.NewSnapshot("v1", time.Now(), []catalog.Instrument{good, dup, noTicker, overweight, badTER, other})

	if snap.Len() != 2 {
		t.Fatalf("expected 2 instruments, got %d", snap.Len())
	}
	if len(rejected) != 4 {
		t.Errorf("expected 4 rejections, got %d: %v", len(rejected), rejected)
	}
	if snap.Instruments[0].Ticker != "ABC" || snap.Instruments[1].Ticker != "STX40" {
		t.Errorf("expected ticker order [ABC STX40], got [%s %s]", snap.Instruments[0].Ticker, snap.Instruments[1].Ticker)
	}
}

func TestSnapshotLookup(t *testing.T) {
	inst := testutil.NewInstrument("STX40")
	snap, _ := catalog.NewSnapshot("v1", time.Now(), []catalog.Instrument{inst})

	t.Run("by_ticker_case_insensitive", func(t *testing.T) {
		got, ok := snap.Lookup(" stx40 ")
		if !ok || got.Ticker != "STX40" {
			t.Errorf("expected STX40, got %q (found=%v)", got.Ticker, ok)
		}
	})

	t.Run("by_isin", func(t *testing.T) {
		got, ok := snap.Lookup(inst.ISIN)
		if !ok || got.Ticker != "STX40" {
			t.Errorf("expected STX40 by ISIN, got %q (found=%v)", got.Ticker, ok)
		}
	})

	t.Run("missing", func(t *testing.T) {
		if _, ok := snap.Lookup("NOPE"); ok {
			t.Error("expected lookup of unknown ticker to fail")
		}
	})
}

func TestSnapshotSearch(t *testing.T) {
	snap, _ := catalog.NewSnapshot("v1", time.Now(), testutil.SampleInstruments())

	if got := snap.Search(""); len(got) != snap.Len() {
		t.Errorf("expected empty search to return all %d, got %d", snap.Len(), len(got))
	}
	got := snap.Search("stx")
	if len(got) != 3 {
		t.Errorf("expected 3 STX funds, got %d", len(got))
	}
}

func TestExposureSpecMatches(t *testing.T) {
	instruments := testutil.SampleInstruments()
	byTicker := make(map[string]*catalog.Instrument)
	for i := range instruments {
		byTicker[instruments[i].Ticker] = &instruments[i]
	}

	tests := []struct {
		name   string
		spec   catalog.ExposureSpec
		ticker string
		want   bool
	}{
		{"empty spec matches everything", catalog.ExposureSpec{}, "STXGOV", true},
		{"asset class alias", catalog.ExposureSpec{AssetClasses: []string{"Equities"}}, "STX40", true},
		{"asset class mismatch", catalog.ExposureSpec{AssetClasses: []string{"equity"}}, "STXGOV", false},
		{"market by focus", catalog.ExposureSpec{Markets: []string{"South Africa"}}, "STX40", true},
		{"market mismatch", catalog.ExposureSpec{Markets: []string{"japan"}}, "STX40", false},
		{"global fund covers any market", catalog.ExposureSpec{Markets: []string{"japan"}}, "VT", true},
		{"emerging toggle", catalog.ExposureSpec{EmergingMarkets: true}, "STX40", true},
		{"developed toggle", catalog.ExposureSpec{DevelopedMarkets: true}, "STX40", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.spec.Matches(byTicker[tt.ticker]); got != tt.want {
				t.Errorf("Matches(%s) = %v, want %v", tt.ticker, got, tt.want)
			}
		})
	}
}

func TestCatalogFindCandidates(t *testing.T) {
	t.Run("fresh", func(t *testing.T) {
		cat := testutil.NewTestCatalog(t, testutil.SampleInstruments())

		set, err := cat.FindCandidates(context.Background(), catalog.ExposureSpec{AssetClasses: []string{"bond"}})
		testutil.AssertNoError(t, err)

		if set.Stale {
			t.Error("expected fresh candidate set")
		}
		if len(set.Instruments) != 1 || set.Instruments[0].Ticker != "STXGOV" {
			t.Errorf("expected only STXGOV, got %d instruments", len(set.Instruments))
		}
		if set.SnapshotVersion == "" {
			t.Error("expected snapshot version to be set")
		}
	})

	t.Run("unavailable_without_snapshot", func(t *testing.T) {
		src := &testutil.StaticSource{LoadFn: func(ctx context.Context) ([]catalog.Instrument, error) {
			return nil, errors.New("connection refused")
		}}
		cat := catalog.New(src)
		if err := cat.Warm(context.Background()); err == nil {
			t.Fatal("expected warm to fail without a source or snapshot")
		}

		_, err := cat.FindCandidates(context.Background(), catalog.ExposureSpec{})
		if !errors.Is(err, catalog.ErrUnavailable) {
			t.Errorf("expected ErrUnavailable, got %v", err)
		}
	})

	t.Run("failed_refresh_serves_previous_as_stale", func(t *testing.T) {
		fail := false
		src := &testutil.StaticSource{LoadFn: func(ctx context.Context) ([]catalog.Instrument, error) {
			if fail {
				return nil, errors.New("timeout")
			}
			return testutil.SampleInstruments(), nil
		}}
		cat := catalog.New(src)
		testutil.AssertNoError(t, cat.Warm(context.Background()))
		before := cat.Snapshot().Version

		fail = true
		if _, err := cat.Refresh(context.Background()); !errors.Is(err, catalog.ErrUnavailable) {
			t.Fatalf("expected ErrUnavailable from refresh, got %v", err)
		}

		set, err := cat.FindCandidates(context.Background(), catalog.ExposureSpec{})
		testutil.AssertNoError(t, err)
		if !set.Stale || set.Cause == nil {
			t.Error("expected stale candidate set with a cause")
		}
		if set.SnapshotVersion != before {
			t.Errorf("expected previous version %s, got %s", before, set.SnapshotVersion)
		}
		if len(set.Instruments) != len(testutil.SampleInstruments()) {
			t.Errorf("expected previous instruments to be served, got %d", len(set.Instruments))
		}
	})

	t.Run("old_snapshot_is_stale", func(t *testing.T) {
		now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		clock := func() time.Time { return now }
		cat := testutil.NewTestCatalog(t, testutil.SampleInstruments(), catalog.WithClock(clock), catalog.WithStaleAfter(time.Hour))

		now = now.Add(2 * time.Hour)
		set, err := cat.FindCandidates(context.Background(), catalog.ExposureSpec{})
		testutil.AssertNoError(t, err)
		if !set.Stale {
			t.Error("expected snapshot older than the window to be stale")
		}
		if set.SnapshotAge != 2*time.Hour {
			t.Errorf("expected age 2h, got %s", set.SnapshotAge)
		}
	})

	t.Run("cancelled_context", func(t *testing.T) {
		cat := testutil.NewTestCatalog(t, testutil.SampleInstruments())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := cat.FindCandidates(ctx, catalog.ExposureSpec{}); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestCatalogRefreshSwap(t *testing.T) {
	round := 0
	src := &testutil.StaticSource{LoadFn: func(ctx context.Context) ([]catalog.Instrument, error) {
		round++
		if round == 1 {
			return []catalog.Instrument{testutil.NewInstrument("OLD")}, nil
		}
		return []catalog.Instrument{testutil.NewInstrument("NEW1"), testutil.NewInstrument("NEW2")}, nil
	}}
	cat := catalog.New(src)
	testutil.AssertNoError(t, cat.Warm(context.Background()))

	captured := cat.Snapshot()
	_, err := cat.Refresh(context.Background())
	testutil.AssertNoError(t, err)

	if captured.Len() != 1 || captured.Instruments[0].Ticker != "OLD" {
		t.Error("captured snapshot must not change after a refresh")
	}
	if cat.Snapshot().Len() != 2 {
		t.Errorf("expected new snapshot with 2 instruments, got %d", cat.Snapshot().Len())
	}
	if captured.Version == cat.Snapshot().Version {
		t.Error("expected a new snapshot version after refresh")
	}
}

func TestCatalogWarmFallsBackToPersistedSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.snapshot")
	store := catalog.NewSnapshotStore(path)

	first := testutil.NewTestCatalog(t, testutil.SampleInstruments(), catalog.WithSnapshotStore(store))
	persisted := first.Snapshot().Version

	down := &testutil.StaticSource{LoadFn: func(ctx context.Context) ([]catalog.Instrument, error) {
		return nil, errors.New("database down")
	}}
	second := catalog.New(down, catalog.WithSnapshotStore(store))
	testutil.AssertNoError(t, second.Warm(context.Background()))

	set, err := second.FindCandidates(context.Background(), catalog.ExposureSpec{})
	testutil.AssertNoError(t, err)
	if !set.Stale {
		t.Error("expected persisted snapshot to be served as stale")
	}
	if set.SnapshotVersion != persisted {
		t.Errorf("expected version %s, got %s", persisted, set.SnapshotVersion)
	}

	got, ok := second.Snapshot().Lookup("VT")
	if !ok {
		t.Fatal("expected VT to be found in restored snapshot")
	}
	if got.TER == nil || *got.TER != 0.07 {
		t.Errorf("expected restored TER 0.07, got %v", got.TER)
	}
	if len(got.DataSources) != 1 || !got.DataSources[0].AsOfDate.Equal(testutil.AsOf) {
		t.Error("expected data source provenance to survive persistence")
	}
}

func TestMultiSource(t *testing.T) {
	t.Run("merges_by_ticker", func(t *testing.T) {
		primary := testutil.NewInstrument("STX40")
		primary.TER = nil
		secondary := testutil.NewInstrument("stx40")
		secondary.TER = catalog.Float(0.12)
		secondary.Name = "Other Name"
		secondary.DataSources = []catalog.DataSource{{Type: "exchange", Provider: "JSE", AsOfDate: testutil.AsOf}}

		m := catalog.NewMultiSource(
			&testutil.StaticSource{Instruments: []catalog.Instrument{primary}},
			&testutil.StaticSource{Instruments: []catalog.Instrument{secondary, testutil.NewInstrument("ABC")}},
		)
		got, err := m.Load(context.Background())
		testutil.AssertNoError(t, err)

		if len(got) != 2 {
			t.Fatalf("expected 2 merged instruments, got %d", len(got))
		}
		if got[0].Name != primary.Name {
			t.Errorf("expected primary name to win, got %s", got[0].Name)
		}
		if got[0].TER == nil || *got[0].TER != 0.12 {
			t.Error("expected missing TER to be filled from secondary source")
		}
		if len(got[0].DataSources) != 2 {
			t.Errorf("expected provenance from both sources, got %d", len(got[0].DataSources))
		}
	})

	t.Run("reports_partial_failure", func(t *testing.T) {
		m := catalog.NewMultiSource(
			&testutil.StaticSource{Label: "feed:down", LoadFn: func(ctx context.Context) ([]catalog.Instrument, error) {
				return nil, errors.New("down")
			}},
			&testutil.StaticSource{Label: "file", Instruments: []catalog.Instrument{testutil.NewInstrument("ABC")}},
		)
		got, err := m.Load(context.Background())
		var partial *catalog.PartialError
		if !errors.As(err, &partial) {
			t.Fatalf("expected a PartialError, got %v", err)
		}
		if len(got) != 1 {
			t.Errorf("expected 1 instrument, got %d", len(got))
		}
		if len(partial.Answered) != 1 || partial.Answered[0] != "file" {
			t.Errorf("unexpected answered sources %v", partial.Answered)
		}
		if failed := partial.FailedSources(); len(failed) != 1 || failed[0] != "feed:down" {
			t.Errorf("unexpected failed sources %v", failed)
		}
	})

	t.Run("fails_when_all_fail", func(t *testing.T) {
		fail := func(ctx context.Context) ([]catalog.Instrument, error) { return nil, errors.New("down") }
		m := catalog.NewMultiSource(&testutil.StaticSource{LoadFn: fail}, &testutil.StaticSource{LoadFn: fail})
		if _, err := m.Load(context.Background()); err == nil {
			t.Error("expected error when every source fails")
		}
	})
}

func TestCatalogDegradedSource(t *testing.T) {
	down := &testutil.StaticSource{Label: "feed:down", LoadFn: func(ctx context.Context) ([]catalog.Instrument, error) {
		return nil, errors.New("connection refused")
	}}
	up := &testutil.StaticSource{Label: "file", Instruments: []catalog.Instrument{
		testutil.NewInstrument("STX40"), testutil.NewInstrument("STXSWX"),
	}}
	cat := catalog.New(catalog.NewMultiSource(up, down))
	testutil.AssertNoError(t, cat.Warm(context.Background()))

	status := cat.Status()
	if status.LastError != nil {
		t.Errorf("expected no refresh error, got %v", status.LastError)
	}
	if len(status.Degraded) != 1 || status.Degraded[0] != "feed:down" {
		t.Errorf("expected the failed source in status, got %v", status.Degraded)
	}

	set, err := cat.FindCandidates(context.Background(), catalog.ExposureSpec{})
	testutil.AssertNoError(t, err)
	if len(set.Instruments) != 2 {
		t.Errorf("expected 2 instruments, got %d", len(set.Instruments))
	}
	if len(set.DegradedSources) != 1 || set.DegradedSources[0] != "feed:down" {
		t.Errorf("expected degraded source on the candidate set, got %v", set.DegradedSources)
	}
	if len(set.Sources) != 1 || set.Sources[0] != "file" {
		t.Errorf("expected only the answering source, got %v", set.Sources)
	}

	// A full recovery clears the degradation.
	down.LoadFn = nil
	_, err = cat.Refresh(context.Background())
	testutil.AssertNoError(t, err)
	set, err = cat.FindCandidates(context.Background(), catalog.ExposureSpec{})
	testutil.AssertNoError(t, err)
	if len(set.DegradedSources) != 0 || len(set.Sources) != 2 {
		t.Errorf("expected a clean refresh, got sources %v degraded %v", set.Sources, set.DegradedSources)
	}
}

func TestGormSource(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)

	src := catalog.NewGormSource(db)
	testutil.SeedFunds(t, db, testutil.SampleInstruments())

	// Re-seeding replaces holdings instead of duplicating them.
	testutil.SeedFunds(t, db, testutil.SampleInstruments()[:1])

	got, err := src.Load(context.Background())
	testutil.AssertNoError(t, err)
	if len(got) != len(testutil.SampleInstruments()) {
		t.Fatalf("expected %d instruments, got %d", len(testutil.SampleInstruments()), len(got))
	}

	snap, _ := catalog.NewSnapshot("db", time.Now(), got)
	top40, ok := snap.Lookup("STX40")
	if !ok {
		t.Fatal("expected STX40")
	}
	if len(top40.TopHoldings) != 2 || top40.TopHoldings[0].Name != "Naspers" {
		t.Errorf("expected ordered holdings, got %+v", top40.TopHoldings)
	}
	if top40.SectorWeights["financials"] != 35 {
		t.Errorf("expected sector weights to decode, got %v", top40.SectorWeights)
	}
	if len(top40.MarketTags) != 1 || top40.MarketTags[0] != "emerging" {
		t.Errorf("expected market tags [emerging], got %v", top40.MarketTags)
	}

	sparse, _ := snap.Lookup("NEWETF")
	if sparse.TER != nil || sparse.AUM != nil {
		t.Error("expected missing attributes to stay nil")
	}
}
