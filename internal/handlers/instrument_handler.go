package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "etfdiscovery/internal/errors"
	"etfdiscovery/internal/pagination"
	"etfdiscovery/internal/services"
)

// InstrumentHandler handles catalog browsing requests.
type InstrumentHandler struct {
	instrumentService services.InstrumentServicer
}

// NewInstrumentHandler creates a new InstrumentHandler.
func NewInstrumentHandler(instrumentService services.InstrumentServicer) *InstrumentHandler {
	return &InstrumentHandler{instrumentService: instrumentService}
}

// ListInstruments handles listing catalog instruments.
// @Summary     List instruments
// @Description Get a paginated list of instruments in the current catalog snapshot, optionally filtered by search term
// @Tags        instruments
// @Produce     json
// @Param       search    query string false "Search by ticker, ISIN or name (case-insensitive)"
// @Param       page      query int    false "Page number (default 1)"
// @Param       page_size query int    false "Items per page (default 20, max 100)"
// @Success     200 {object} pagination.PageResponse[catalog.Instrument] "Paginated instruments"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     503 {object} ErrorResponse "Catalog unavailable"
// @Router      /instruments [get]
func (h *InstrumentHandler) ListInstruments(c *gin.Context) {
	var page pagination.PageRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	result, err := h.instrumentService.ListInstruments(c.Query("search"), page)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetInstrument handles retrieving one instrument.
// @Summary     Get instrument
// @Description Get an instrument by ticker or ISIN
// @Tags        instruments
// @Produce     json
// @Param       ticker path string true "Ticker or ISIN"
// @Success     200 {object} map[string]catalog.Instrument "Instrument details"
// @Failure     404 {object} ErrorResponse "Instrument not found"
// @Failure     503 {object} ErrorResponse "Catalog unavailable"
// @Router      /instruments/{ticker} [get]
func (h *InstrumentHandler) GetInstrument(c *gin.Context) {
	inst, err := h.instrumentService.GetInstrument(c.Param("ticker"))
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"instrument": inst})
}
