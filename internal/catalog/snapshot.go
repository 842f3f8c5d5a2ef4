package catalog

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Snapshot is an immutable view of the catalog taken at one refresh.
// Nothing may modify a Snapshot or the instruments it holds once it has been
// published; a refresh builds a new one.
type Snapshot struct {
	Version     string       `msgpack:"version"`
	LoadedAt    time.Time    `msgpack:"loaded_at"`
	Instruments []Instrument `msgpack:"instruments"`

	byTicker map[string]int
	byISIN   map[string]int
}

// NewSnapshot validates, de-duplicates and indexes instruments. Instruments
// without a ticker or with an asset breakdown above 100% are dropped and
// reported in the returned slice of rejections.
func NewSnapshot(version string, loadedAt time.Time, instruments []Instrument) (*Snapshot, []string) {
	var rejected []string
	seen := make(map[string]bool, len(instruments))
	kept := make([]Instrument, 0, len(instruments))

	for _, inst := range instruments {
		ticker := strings.ToUpper(strings.TrimSpace(inst.Ticker))
		switch {
		case ticker == "":
			rejected = append(rejected, fmt.Sprintf("instrument %q has no ticker", inst.Name))
			continue
		case seen[ticker]:
			rejected = append(rejected, fmt.Sprintf("duplicate ticker %s", ticker))
			continue
		case inst.AssetBreakdown.Total() > 100.0001:
			rejected = append(rejected, fmt.Sprintf("%s asset breakdown sums to %.2f%%", ticker, inst.AssetBreakdown.Total()))
			continue
		case inst.TER != nil && (*inst.TER < 0 || *inst.TER > 100):
			rejected = append(rejected, fmt.Sprintf("%s TER %.4f outside [0,100]", ticker, *inst.TER))
			continue
		}
		seen[ticker] = true
		inst.Ticker = ticker
		kept = append(kept, inst)
	}

	sort.Slice(kept, func(a, b int) bool { return kept[a].Ticker < kept[b].Ticker })

	s := &Snapshot{Version: version, LoadedAt: loadedAt, Instruments: kept}
	s.index()
	return s, rejected
}

func (s *Snapshot) index() {
	s.byTicker = make(map[string]int, len(s.Instruments))
	s.byISIN = make(map[string]int, len(s.Instruments))
	for i, inst := range s.Instruments {
		s.byTicker[inst.Ticker] = i
		if inst.ISIN != "" {
			s.byISIN[strings.ToUpper(inst.ISIN)] = i
		}
	}
}

// Len returns the number of instruments in the snapshot.
func (s *Snapshot) Len() int { return len(s.Instruments) }

// Age returns how old the snapshot is at now.
func (s *Snapshot) Age(now time.Time) time.Duration { return now.Sub(s.LoadedAt) }

// Lookup finds an instrument by ticker or, failing that, by ISIN.
func (s *Snapshot) Lookup(key string) (Instrument, bool) {
	key = strings.ToUpper(strings.TrimSpace(key))
	if i, ok := s.byTicker[key]; ok {
		return s.Instruments[i], true
	}
	if i, ok := s.byISIN[key]; ok {
		return s.Instruments[i], true
	}
	return Instrument{}, false
}

// Search returns instruments whose ticker, ISIN or name contains term
// (case-insensitive), in ticker order. An empty term returns everything.
func (s *Snapshot) Search(term string) []Instrument {
	term = Normalize(term)
	if term == "" {
		return s.Instruments
	}
	var out []Instrument
	for _, inst := range s.Instruments {
		if strings.Contains(strings.ToLower(inst.Ticker), term) ||
			strings.Contains(strings.ToLower(inst.ISIN), term) ||
			strings.Contains(strings.ToLower(inst.Name), term) {
			out = append(out, inst)
		}
	}
	return out
}
