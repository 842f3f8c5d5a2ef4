// Package catalog holds the read-only universe of fund instruments that
// discovery searches. Instruments live in immutable snapshots which are
// replaced atomically on refresh.
package catalog

import (
	"strings"
	"time"
)

// Replication methods.
const (
	ReplicationPhysical  = "physical"
	ReplicationSynthetic = "synthetic"
)

// Market tags attached to an instrument's geography.
const (
	MarketDeveloped = "developed"
	MarketEmerging  = "emerging"
)

// AssetBreakdown is the percentage split of a fund by asset type.
type AssetBreakdown struct {
	Equities    float64 `json:"equities" msgpack:"equities"`
	Bonds       float64 `json:"bonds" msgpack:"bonds"`
	Cash        float64 `json:"cash" msgpack:"cash"`
	Commodities float64 `json:"commodities" msgpack:"commodities"`
	Other       float64 `json:"other" msgpack:"other"`
}

// Total returns the sum of all categories.
func (b AssetBreakdown) Total() float64 {
	return b.Equities + b.Bonds + b.Cash + b.Commodities + b.Other
}

// Holding is a top position. Only the top N are kept, so weights need not sum to 100.
type Holding struct {
	Name   string  `json:"name" msgpack:"name"`
	Ticker string  `json:"ticker,omitempty" msgpack:"ticker"`
	Weight float64 `json:"weight" msgpack:"weight"`
}

// DataSource records the provenance of instrument attributes.
type DataSource struct {
	Type     string    `json:"type" msgpack:"type"`
	Provider string    `json:"provider" msgpack:"provider"`
	URL      string    `json:"url,omitempty" msgpack:"url"`
	AsOfDate time.Time `json:"asOfDate" msgpack:"as_of_date"`
}

// Instrument is a fund as seen by the discovery engine. Pointer fields are
// optional: nil means the data source did not provide the attribute, which
// is different from a zero value.
type Instrument struct {
	Ticker             string             `json:"ticker" msgpack:"ticker"`
	ISIN               string             `json:"isin" msgpack:"isin"`
	Name               string             `json:"name" msgpack:"name"`
	Provider           string             `json:"provider" msgpack:"provider"`
	Exchange           string             `json:"exchange" msgpack:"exchange"`
	ExchangeCountry    string             `json:"exchangeCountry" msgpack:"exchange_country"`
	Domicile           string             `json:"domicile" msgpack:"domicile"`
	LegalStructure     string             `json:"legalStructure" msgpack:"legal_structure"`
	Currency           string             `json:"currency" msgpack:"currency"`
	AssetClass         string             `json:"assetClass" msgpack:"asset_class"`
	TrackingIndex      string             `json:"trackingIndex" msgpack:"tracking_index"`
	GeographicFocus    string             `json:"geographicFocus" msgpack:"geographic_focus"`
	MarketTags         []string           `json:"marketTags,omitempty" msgpack:"market_tags"`
	TER                *float64           `json:"ter,omitempty" msgpack:"ter"`
	AUM                *float64           `json:"aum,omitempty" msgpack:"aum"`
	AverageDailyVolume *float64           `json:"averageDailyVolume,omitempty" msgpack:"average_daily_volume"`
	TrackingDifference *float64           `json:"trackingDifference,omitempty" msgpack:"tracking_difference"`
	Replication        string             `json:"replicationMethod,omitempty" msgpack:"replication"`
	Leveraged          *bool              `json:"leveraged,omitempty" msgpack:"leveraged"`
	Inverse            *bool              `json:"inverse,omitempty" msgpack:"inverse"`
	AssetBreakdown     AssetBreakdown     `json:"assetBreakdown" msgpack:"asset_breakdown"`
	GeographicWeights  map[string]float64 `json:"geographicBreakdown,omitempty" msgpack:"geographic_weights"`
	SectorWeights      map[string]float64 `json:"sectorBreakdown,omitempty" msgpack:"sector_weights"`
	TopHoldings        []Holding          `json:"topHoldings,omitempty" msgpack:"top_holdings"`
	DataSources        []DataSource       `json:"dataSources,omitempty" msgpack:"data_sources"`
}

// Synthetic reports whether the instrument is known to use synthetic replication.
func (i *Instrument) Synthetic() bool { return i.Replication == ReplicationSynthetic }

// Physical reports whether the instrument is known to use physical replication.
func (i *Instrument) Physical() bool { return i.Replication == ReplicationPhysical }

// Vehicle returns the investment vehicle type derived from the legal
// structure: "etn" or "etc" for notes and commodity certificates, "etf"
// otherwise.
func (i *Instrument) Vehicle() string {
	switch Normalize(i.LegalStructure) {
	case "etn", "exchange traded note":
		return "etn"
	case "etc", "exchange traded commodity":
		return "etc"
	}
	return "etf"
}

// Markets returns the lower-cased geography tags of the instrument: its
// focus, every region in its geographic breakdown, and its market tags.
func (i *Instrument) Markets() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		s = Normalize(s)
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	add(i.GeographicFocus)
	for region, weight := range i.GeographicWeights {
		if weight > 0 {
			add(region)
		}
	}
	for _, tag := range i.MarketTags {
		add(tag)
	}
	return out
}

// Sectors returns the lower-cased sectors with positive weight.
func (i *Instrument) Sectors() []string {
	var out []string
	for sector, weight := range i.SectorWeights {
		if weight > 0 {
			out = append(out, Normalize(sector))
		}
	}
	return out
}

// Normalize lower-cases and trims a tag so that "Equity " and "equity" match.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Float returns a pointer to v, for building optional attributes.
func Float(v float64) *float64 { return &v }

// Bool returns a pointer to v, for building optional attributes.
func Bool(v bool) *bool { return &v }
