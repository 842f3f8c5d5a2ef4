package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"etfdiscovery/internal/logger"
)

// Source loads the full instrument universe from a backing store.
type Source interface {
	// Name returns a short label used in logs and provenance.
	Name() string
	// Load returns every instrument the source knows about.
	Load(ctx context.Context) ([]Instrument, error)
}

// FileSource reads instruments from a JSON array on disk.
type FileSource struct {
	path string
}

// NewFileSource creates a FileSource for the given path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Name returns the source label.
func (s *FileSource) Name() string { return "file:" + s.path }

// Load reads and decodes the file.
func (s *FileSource) Load(ctx context.Context) ([]Instrument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	var instruments []Instrument
	if err := json.Unmarshal(data, &instruments); err != nil {
		return nil, fmt.Errorf("decode catalog file: %w", err)
	}
	return instruments, nil
}

// PartialError is returned by MultiSource when some sources failed while
// at least one answered. The merged instruments of the answering sources are
// returned alongside it.
type PartialError struct {
	Answered []string
	Failed   map[string]error
}

// FailedSources returns the names of the failed sources, sorted.
func (e *PartialError) FailedSources() []string {
	names := make([]string, 0, len(e.Failed))
	for name := range e.Failed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *PartialError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, name := range e.FailedSources() {
		parts = append(parts, fmt.Sprintf("%s: %v", name, e.Failed[name]))
	}
	return fmt.Sprintf("%d of %d catalog sources failed (%s)",
		len(e.Failed), len(e.Failed)+len(e.Answered), strings.Join(parts, "; "))
}

// MultiSource queries several sources concurrently and merges their results
// by ticker. Earlier sources take precedence for attributes; later sources
// fill attributes the earlier ones left empty and contribute provenance.
// The load fails only if every source fails; if some fail, the merged set is
// returned with a *PartialError.
type MultiSource struct {
	sources []Source
}

// NewMultiSource combines sources in precedence order.
func NewMultiSource(sources ...Source) *MultiSource {
	return &MultiSource{sources: sources}
}

// Name returns the combined source label.
func (m *MultiSource) Name() string {
	return "multi(" + strings.Join(m.Names(), ",") + ")"
}

// Names returns the names of the combined sources in precedence order.
func (m *MultiSource) Names() []string {
	names := make([]string, len(m.sources))
	for i, s := range m.sources {
		names[i] = s.Name()
	}
	return names
}

// Load fans out to every source and merges the results.
func (m *MultiSource) Load(ctx context.Context) ([]Instrument, error) {
	results := make([][]Instrument, len(m.sources))
	errs := make([]error, len(m.sources))

	var g errgroup.Group
	for i, src := range m.sources {
		g.Go(func() error {
			results[i], errs[i] = src.Load(ctx)
			return nil
		})
	}
	_ = g.Wait()

	partial := &PartialError{Failed: map[string]error{}}
	for i, err := range errs {
		name := m.sources[i].Name()
		if err != nil {
			partial.Failed[name] = err
			logger.Get().Warnw("catalog source failed", "source", name, "error", err)
			continue
		}
		partial.Answered = append(partial.Answered, name)
	}
	if len(partial.Answered) == 0 {
		return nil, errors.Join(errs...)
	}

	byTicker := make(map[string]int)
	var merged []Instrument
	for i, instruments := range results {
		if errs[i] != nil {
			continue
		}
		for _, inst := range instruments {
			key := strings.ToUpper(strings.TrimSpace(inst.Ticker))
			if idx, ok := byTicker[key]; ok {
				merged[idx] = mergeInstrument(merged[idx], inst)
				continue
			}
			byTicker[key] = len(merged)
			merged = append(merged, inst)
		}
	}
	if len(partial.Failed) > 0 {
		return merged, partial
	}
	return merged, nil
}

// mergeInstrument fills attributes missing from primary with values from
// secondary and unions their data sources.
func mergeInstrument(primary, secondary Instrument) Instrument {
	fillString := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	fillString(&primary.ISIN, secondary.ISIN)
	fillString(&primary.Name, secondary.Name)
	fillString(&primary.Provider, secondary.Provider)
	fillString(&primary.Exchange, secondary.Exchange)
	fillString(&primary.ExchangeCountry, secondary.ExchangeCountry)
	fillString(&primary.Domicile, secondary.Domicile)
	fillString(&primary.LegalStructure, secondary.LegalStructure)
	fillString(&primary.Currency, secondary.Currency)
	fillString(&primary.AssetClass, secondary.AssetClass)
	fillString(&primary.TrackingIndex, secondary.TrackingIndex)
	fillString(&primary.GeographicFocus, secondary.GeographicFocus)
	fillString(&primary.Replication, secondary.Replication)

	if primary.TER == nil {
		primary.TER = secondary.TER
	}
	if primary.AUM == nil {
		primary.AUM = secondary.AUM
	}
	if primary.AverageDailyVolume == nil {
		primary.AverageDailyVolume = secondary.AverageDailyVolume
	}
	if primary.TrackingDifference == nil {
		primary.TrackingDifference = secondary.TrackingDifference
	}
	if primary.Leveraged == nil {
		primary.Leveraged = secondary.Leveraged
	}
	if primary.Inverse == nil {
		primary.Inverse = secondary.Inverse
	}
	if primary.AssetBreakdown.Total() == 0 {
		primary.AssetBreakdown = secondary.AssetBreakdown
	}
	if len(primary.GeographicWeights) == 0 {
		primary.GeographicWeights = secondary.GeographicWeights
	}
	if len(primary.SectorWeights) == 0 {
		primary.SectorWeights = secondary.SectorWeights
	}
	if len(primary.TopHoldings) == 0 {
		primary.TopHoldings = secondary.TopHoldings
	}
	if len(primary.MarketTags) == 0 {
		primary.MarketTags = secondary.MarketTags
	}

	seen := make(map[string]bool)
	var sources []DataSource
	for _, ds := range append(append([]DataSource{}, primary.DataSources...), secondary.DataSources...) {
		key := ds.Type + "|" + ds.Provider + "|" + ds.URL
		if !seen[key] {
			seen[key] = true
			sources = append(sources, ds)
		}
	}
	primary.DataSources = sources
	return primary
}
