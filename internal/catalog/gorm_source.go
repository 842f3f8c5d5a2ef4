package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"etfdiscovery/internal/models"
)

// GormSource loads instruments from the funds tables.
type GormSource struct {
	db *gorm.DB
}

// NewGormSource creates a GormSource backed by db.
func NewGormSource(db *gorm.DB) *GormSource {
	return &GormSource{db: db}
}

// Name returns the source label.
func (s *GormSource) Name() string { return "database" }

// Load reads every fund with its holdings and sources.
func (s *GormSource) Load(ctx context.Context) ([]Instrument, error) {
	var funds []models.Fund
	err := s.db.WithContext(ctx).
		Preload("Holdings", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Sources", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Order("ticker ASC").
		Find(&funds).Error
	if err != nil {
		return nil, fmt.Errorf("query funds: %w", err)
	}

	out := make([]Instrument, 0, len(funds))
	for i := range funds {
		inst, err := fundToInstrument(&funds[i])
		if err != nil {
			return nil, fmt.Errorf("fund %s: %w", funds[i].Ticker, err)
		}
		out = append(out, inst)
	}
	return out, nil
}

// Upsert writes instruments into the funds tables, replacing the holdings and
// sources of funds that already exist. Used to seed the database.
func (s *GormSource) Upsert(ctx context.Context, instruments []Instrument) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, inst := range instruments {
			fund, err := instrumentToFund(inst)
			if err != nil {
				return fmt.Errorf("instrument %s: %w", inst.Ticker, err)
			}

			var existing models.Fund
			err = tx.Where("ticker = ?", fund.Ticker).First(&existing).Error
			switch {
			case err == nil:
				fund.ID = existing.ID
				fund.CreatedAt = existing.CreatedAt
				if err := tx.Where("fund_id = ?", existing.ID).Delete(&models.FundHolding{}).Error; err != nil {
					return err
				}
				if err := tx.Where("fund_id = ?", existing.ID).Delete(&models.FundSource{}).Error; err != nil {
					return err
				}
			case err != gorm.ErrRecordNotFound:
				return err
			}

			if err := tx.Omit(clause.Associations).Save(fund).Error; err != nil {
				return fmt.Errorf("save fund %s: %w", fund.Ticker, err)
			}
			for i := range fund.Holdings {
				fund.Holdings[i].FundID = fund.ID
			}
			for i := range fund.Sources {
				fund.Sources[i].FundID = fund.ID
			}
			if len(fund.Holdings) > 0 {
				if err := tx.Create(&fund.Holdings).Error; err != nil {
					return err
				}
			}
			if len(fund.Sources) > 0 {
				if err := tx.Create(&fund.Sources).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func fundToInstrument(f *models.Fund) (Instrument, error) {
	inst := Instrument{
		Ticker:             strings.ToUpper(f.Ticker),
		ISIN:               f.ISIN,
		Name:               f.Name,
		Provider:           f.Provider,
		Exchange:           f.Exchange,
		ExchangeCountry:    f.ExchangeCountry,
		Domicile:           f.Domicile,
		LegalStructure:     f.LegalStructure,
		Currency:           f.Currency,
		AssetClass:         f.AssetClass,
		TrackingIndex:      f.TrackingIndex,
		GeographicFocus:    f.GeographicFocus,
		TER:                f.TER,
		AUM:                f.AUM,
		AverageDailyVolume: f.AverageDailyVolume,
		TrackingDifference: f.TrackingDifference,
		Replication:        string(f.Replication),
		Leveraged:          f.Leveraged,
		Inverse:            f.Inverse,
	}
	if err := decodeJSON(f.MarketTags, &inst.MarketTags); err != nil {
		return inst, fmt.Errorf("market_tags: %w", err)
	}
	if err := decodeJSON(f.AssetBreakdown, &inst.AssetBreakdown); err != nil {
		return inst, fmt.Errorf("asset_breakdown: %w", err)
	}
	if err := decodeJSON(f.GeographicWeights, &inst.GeographicWeights); err != nil {
		return inst, fmt.Errorf("geographic_weights: %w", err)
	}
	if err := decodeJSON(f.SectorWeights, &inst.SectorWeights); err != nil {
		return inst, fmt.Errorf("sector_weights: %w", err)
	}
	for _, h := range f.Holdings {
		inst.TopHoldings = append(inst.TopHoldings, Holding{Name: h.Name, Ticker: h.Ticker, Weight: h.Weight})
	}
	for _, src := range f.Sources {
		inst.DataSources = append(inst.DataSources, DataSource{
			Type:     src.Type,
			Provider: src.Provider,
			URL:      src.URL,
			AsOfDate: src.AsOfDate,
		})
	}
	return inst, nil
}

func instrumentToFund(inst Instrument) (*models.Fund, error) {
	f := &models.Fund{
		Ticker:             strings.ToUpper(strings.TrimSpace(inst.Ticker)),
		ISIN:               inst.ISIN,
		Name:               inst.Name,
		Provider:           inst.Provider,
		Exchange:           inst.Exchange,
		ExchangeCountry:    inst.ExchangeCountry,
		Domicile:           inst.Domicile,
		LegalStructure:     inst.LegalStructure,
		Currency:           inst.Currency,
		AssetClass:         inst.AssetClass,
		TrackingIndex:      inst.TrackingIndex,
		GeographicFocus:    inst.GeographicFocus,
		TER:                inst.TER,
		AUM:                inst.AUM,
		AverageDailyVolume: inst.AverageDailyVolume,
		TrackingDifference: inst.TrackingDifference,
		Replication:        models.ReplicationMethod(inst.Replication),
		Leveraged:          inst.Leveraged,
		Inverse:            inst.Inverse,
	}
	var err error
	if f.MarketTags, err = encodeJSON(inst.MarketTags); err != nil {
		return nil, err
	}
	if f.AssetBreakdown, err = encodeJSON(inst.AssetBreakdown); err != nil {
		return nil, err
	}
	if f.GeographicWeights, err = encodeJSON(inst.GeographicWeights); err != nil {
		return nil, err
	}
	if f.SectorWeights, err = encodeJSON(inst.SectorWeights); err != nil {
		return nil, err
	}
	for i, h := range inst.TopHoldings {
		f.Holdings = append(f.Holdings, models.FundHolding{Position: i, Name: h.Name, Ticker: h.Ticker, Weight: h.Weight})
	}
	for i, src := range inst.DataSources {
		f.Sources = append(f.Sources, models.FundSource{
			Position: i,
			Type:     src.Type,
			Provider: src.Provider,
			URL:      src.URL,
			AsOfDate: src.AsOfDate,
		})
	}
	return f, nil
}

func decodeJSON(raw datatypes.JSON, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func encodeJSON(v any) (datatypes.JSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}
