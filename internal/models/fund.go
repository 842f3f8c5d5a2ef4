package models

import (
	"time"

	"gorm.io/datatypes"
)

// ReplicationMethod describes how a fund obtains its index exposure.
type ReplicationMethod string

const (
	ReplicationPhysical  ReplicationMethod = "physical"
	ReplicationSynthetic ReplicationMethod = "synthetic"
)

// Fund is the catalog row for an exchange-traded fund. Nullable columns map
// to attributes a data source may not provide.
type Fund struct {
	Base
	Ticker             string            `gorm:"not null;uniqueIndex" json:"ticker"`
	ISIN               string            `gorm:"index" json:"isin"`
	Name               string            `gorm:"not null" json:"name"`
	Provider           string            `json:"provider"`
	Exchange           string            `json:"exchange"`
	ExchangeCountry    string            `json:"exchange_country"`
	Domicile           string            `json:"domicile"`
	LegalStructure     string            `json:"legal_structure"`
	Currency           string            `json:"currency"`
	AssetClass         string            `gorm:"index" json:"asset_class"`
	TrackingIndex      string            `json:"tracking_index"`
	GeographicFocus    string            `json:"geographic_focus"`
	MarketTags         datatypes.JSON    `json:"market_tags"`
	TER                *float64          `json:"ter"`
	AUM                *float64          `json:"aum"`
	AverageDailyVolume *float64          `json:"average_daily_volume"`
	TrackingDifference *float64          `json:"tracking_difference"`
	Replication        ReplicationMethod `json:"replication"`
	Leveraged          *bool             `json:"leveraged"`
	Inverse            *bool             `json:"inverse"`
	AssetBreakdown     datatypes.JSON    `json:"asset_breakdown"`
	GeographicWeights  datatypes.JSON    `json:"geographic_weights"`
	SectorWeights      datatypes.JSON    `json:"sector_weights"`
	Holdings           []FundHolding     `gorm:"foreignKey:FundID" json:"holdings,omitempty"`
	Sources            []FundSource      `gorm:"foreignKey:FundID" json:"sources,omitempty"`
}

// FundHolding is one of a fund's top positions. Position keeps the order the
// provider reported.
type FundHolding struct {
	Base
	FundID   string  `gorm:"type:uuid;not null;index" json:"fund_id"`
	Position int     `gorm:"not null" json:"position"`
	Name     string  `gorm:"not null" json:"name"`
	Ticker   string  `json:"ticker,omitempty"`
	Weight   float64 `json:"weight"`
}

// FundSource records where a fund's attributes came from.
type FundSource struct {
	Base
	FundID   string    `gorm:"type:uuid;not null;index" json:"fund_id"`
	Position int       `gorm:"not null" json:"position"`
	Type     string    `gorm:"not null" json:"type"`
	Provider string    `json:"provider"`
	URL      string    `json:"url,omitempty"`
	AsOfDate time.Time `json:"as_of_date"`
}
