package services

import (
	"etfdiscovery/internal/catalog"
	apperrors "etfdiscovery/internal/errors"
	"etfdiscovery/internal/pagination"
)

// instrumentService serves catalog lookups from the current snapshot.
type instrumentService struct {
	catalog *catalog.Catalog
}

// NewInstrumentService creates a new InstrumentServicer.
func NewInstrumentService(c *catalog.Catalog) InstrumentServicer {
	return &instrumentService{catalog: c}
}

// ListInstruments pages through instruments whose ticker, ISIN or name
// contains search.
func (s *instrumentService) ListInstruments(search string, page pagination.PageRequest) (*pagination.PageResponse[catalog.Instrument], error) {
	snap := s.catalog.Snapshot()
	if snap == nil {
		return nil, apperrors.ErrCatalogUnavailable
	}
	resp := pagination.Slice(snap.Search(search), page)
	return &resp, nil
}

// GetInstrument finds an instrument by ticker or ISIN.
func (s *instrumentService) GetInstrument(key string) (*catalog.Instrument, error) {
	snap := s.catalog.Snapshot()
	if snap == nil {
		return nil, apperrors.ErrCatalogUnavailable
	}
	inst, ok := snap.Lookup(key)
	if !ok {
		return nil, apperrors.ErrInstrumentNotFound
	}
	return &inst, nil
}
