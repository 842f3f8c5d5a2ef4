package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"etfdiscovery/internal/catalog"
	"etfdiscovery/internal/constraints"
	"etfdiscovery/internal/eligibility"
	apperrors "etfdiscovery/internal/errors"
	"etfdiscovery/internal/ranking"
	"etfdiscovery/internal/services"
)

// DiscoveryHandler handles discovery requests.
type DiscoveryHandler struct {
	discoveryService services.DiscoveryServicer
	timeout          time.Duration
}

// NewDiscoveryHandler creates a new DiscoveryHandler. A positive timeout
// bounds every discovery request.
func NewDiscoveryHandler(discoveryService services.DiscoveryServicer, timeout time.Duration) *DiscoveryHandler {
	return &DiscoveryHandler{discoveryService: discoveryService, timeout: timeout}
}

// InvestorProfileRequest identifies the investor's jurisdiction and account.
type InvestorProfileRequest struct {
	Country     string `json:"country" binding:"required,iso3166_1_alpha2"`
	AccountType string `json:"accountType" binding:"required,account_type"`
	Currency    string `json:"currency" binding:"omitempty,iso4217"`
}

// AssetExposureRequest lists the wanted asset classes and sectors.
type AssetExposureRequest struct {
	AssetClasses []string `json:"assetClasses" binding:"omitempty,max=20"`
	Sectors      []string `json:"sectors" binding:"omitempty,max=50"`
}

// GeographyExposureRequest lists the wanted markets and excluded domiciles.
type GeographyExposureRequest struct {
	Markets          []string `json:"markets" binding:"omitempty,max=50"`
	EmergingMarkets  bool     `json:"emergingMarkets"`
	DevelopedMarkets bool     `json:"developedMarkets"`
	ExcludeCountries []string `json:"excludeCountries" binding:"omitempty,dive,iso3166_1_alpha2"`
}

// ExposureRequest describes the desired exposure.
type ExposureRequest struct {
	Assets    AssetExposureRequest     `json:"assets"`
	Geography GeographyExposureRequest `json:"geography"`
}

// ConstraintsRequest holds the hard screening limits. Omitted fields take
// their defaults.
type ConstraintsRequest struct {
	MaxTER                  *float64 `json:"maxTER" binding:"omitempty,min=0,max=100"`
	MinAUM                  *float64 `json:"minAUM" binding:"omitempty,min=0"`
	LiquidityThreshold      *float64 `json:"liquidityThreshold" binding:"omitempty,min=0,max=100"`
	ExcludeSynthetic        *bool    `json:"excludeSynthetic"`
	ExcludeLeveraged        *bool    `json:"excludeLeveraged"`
	ExcludeInverse          *bool    `json:"excludeInverse"`
	PhysicalReplicationOnly *bool    `json:"physicalReplicationOnly"`
	AllowedExchanges        []string `json:"allowedExchanges"`
	EligibleOnly            *bool    `json:"eligibleOnly"`
	TFSAEligibleOnly        *bool    `json:"tfsaEligibleOnly"`
}

// RankingPreferenceRequest is one weighted ranking factor.
type RankingPreferenceRequest struct {
	ID       string   `json:"id" binding:"required,max=64"`
	Name     string   `json:"name,omitempty"`
	Weight   *float64 `json:"weight" binding:"omitempty,min=0"`
	Priority int      `json:"priority" binding:"omitempty,min=0"`
}

// OutputOptionsRequest shapes the response. Omitted fields take their defaults.
type OutputOptionsRequest struct {
	MaxResults          *int  `json:"maxResults" binding:"omitempty,min=1,max=100"`
	IncludeAlternatives *bool `json:"includeAlternatives"`
	IncludeSourceLinks  *bool `json:"includeSourceLinks"`
	ExplainEligibility  *bool `json:"explainEligibility"`
	IncludeWarnings     *bool `json:"includeWarnings"`
}

// DiscoveryRequest represents the request payload for a discovery query.
type DiscoveryRequest struct {
	InvestorProfile    InvestorProfileRequest     `json:"investorProfile" binding:"required"`
	Exposure           ExposureRequest            `json:"exposure"`
	InvestmentVehicles []string                   `json:"investmentVehicles" binding:"omitempty,dive,investment_vehicle"`
	Constraints        ConstraintsRequest         `json:"constraints"`
	RankingPreferences []RankingPreferenceRequest `json:"rankingPreferences" binding:"omitempty,max=10,dive"`
	OutputOptions      OutputOptionsRequest       `json:"outputOptions"`
	RuleVersion        string                     `json:"ruleVersion,omitempty" binding:"omitempty,max=32"`
}

// EligibilityInfo is the eligibility block of a result.
type EligibilityInfo struct {
	Status        string                 `json:"status"`
	IsEligible    bool                   `json:"isEligible"`
	Confidence    string                 `json:"confidence"`
	Justification string                 `json:"justification,omitempty"`
	RuleVersion   string                 `json:"ruleVersion,omitempty"`
	RulesPassed   []string               `json:"rulesPassed"`
	RulesFailed   []string               `json:"rulesFailed"`
	RulesSkipped  []string               `json:"rulesSkipped,omitempty"`
	Warnings      []string               `json:"warnings,omitempty"`
	Evidence      []eligibility.Evidence `json:"evidence,omitempty"`
}

// GeographicBreakdown is the regional split of a result.
type GeographicBreakdown struct {
	Regions map[string]float64 `json:"regions"`
}

// SourceReference attributes result data to its provider.
type SourceReference struct {
	Type     string `json:"type"`
	Provider string `json:"provider"`
	URL      string `json:"url,omitempty"`
	Date     string `json:"date"`
}

// ETFResult is one ranked instrument.
type ETFResult struct {
	Rank                int                        `json:"rank"`
	Ticker              string                     `json:"ticker"`
	Name                string                     `json:"name"`
	ISIN                string                     `json:"isin"`
	Exchange            string                     `json:"exchange"`
	Provider            string                     `json:"provider"`
	AssetClass          string                     `json:"assetClass"`
	TrackingIndex       string                     `json:"trackingIndex"`
	GeographicFocus     string                     `json:"geographicFocus"`
	TER                 *float64                   `json:"ter"`
	AUM                 *float64                   `json:"aum"`
	Currency            string                     `json:"currency"`
	AverageDailyVolume  *float64                   `json:"averageDailyVolume"`
	LiquidityScore      *float64                   `json:"liquidityScore,omitempty"`
	ReplicationMethod   string                     `json:"replicationMethod,omitempty"`
	Eligibility         EligibilityInfo            `json:"eligibility"`
	MatchScore          float64                    `json:"matchScore"`
	RankingScore        float64                    `json:"rankingScore"`
	FactorScores        map[ranking.Factor]float64 `json:"factorScores,omitempty"`
	AssetBreakdown      catalog.AssetBreakdown     `json:"assetBreakdown"`
	GeographicBreakdown GeographicBreakdown        `json:"geographicBreakdown"`
	SectorBreakdown     map[string]float64         `json:"sectorBreakdown,omitempty"`
	TopHoldings         []catalog.Holding          `json:"topHoldings"`
	DataSources         []SourceReference          `json:"dataSources"`
	Alternative         bool                       `json:"alternative,omitempty"`
}

// DiscoveryResponse is the response payload of a discovery query.
type DiscoveryResponse struct {
	RequestID       string             `json:"requestId"`
	Results         []ETFResult        `json:"results"`
	Alternatives    []ETFResult        `json:"alternatives,omitempty"`
	Summary         services.Summary   `json:"summary"`
	Warnings        []services.Warning `json:"warnings"`
	GeneratedAt     string             `json:"generatedAt"`
	CacheHit        bool               `json:"cacheHit"`
	SnapshotVersion string             `json:"snapshotVersion"`
	RuleVersion     string             `json:"ruleVersion,omitempty"`
	Weights         ranking.Weights    `json:"weights"`
}

// Discover handles a discovery query.
// @Summary     Discover ETFs
// @Description Search the catalog, evaluate eligibility for the investor's account, screen against constraints and rank the survivors
// @Tags        discovery
// @Accept      json
// @Produce     json
// @Param       request body DiscoveryRequest true "Discovery query"
// @Success     200 {object} DiscoveryResponse "Ranked results"
// @Failure     400 {object} ErrorResponse "Malformed query"
// @Failure     429 {object} ErrorResponse "Rate limited"
// @Failure     500 {object} ErrorResponse "Server error"
// @Failure     503 {object} ErrorResponse "Catalog or eligibility engine unavailable"
// @Failure     504 {object} ErrorResponse "Discovery timed out"
// @Router      /discover [post]
func (h *DiscoveryHandler) Discover(c *gin.Context) {
	var req DiscoveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithDetails(apperrors.ErrMalformedQuery, map[string]any{"reason": err.Error()}))
		return
	}

	q := req.toQuery()
	q.RequestID = requestID(c)
	q.ClientIP = c.ClientIP()

	ctx := c.Request.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	result, err := h.discoveryService.Discover(ctx, q)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, newDiscoveryResponse(result, q.Output))
}

// toQuery applies defaults to omitted fields and converts the request into
// a service query.
func (r *DiscoveryRequest) toQuery() services.DiscoveryQuery {
	p := r.InvestorProfile
	q := services.DiscoveryQuery{
		Profile: eligibility.Profile{
			Country:     strings.ToUpper(p.Country),
			AccountType: p.AccountType,
			Currency:    strings.ToUpper(p.Currency),
		},
		Exposure: catalog.ExposureSpec{
			AssetClasses:     r.Exposure.Assets.AssetClasses,
			Sectors:          r.Exposure.Assets.Sectors,
			Markets:          r.Exposure.Geography.Markets,
			EmergingMarkets:  r.Exposure.Geography.EmergingMarkets,
			DevelopedMarkets: r.Exposure.Geography.DevelopedMarkets,
			Vehicles:         r.InvestmentVehicles,
		},
		Constraints: r.Constraints.apply(constraints.Default()),
		Output:      r.OutputOptions.apply(services.DefaultOutputOptions()),
		RuleVersion: r.RuleVersion,
	}
	q.Constraints.ExcludedCountries = r.Exposure.Geography.ExcludeCountries
	q.Output.EligibleOnly = boolOr(r.Constraints.EligibleOnly, false) || boolOr(r.Constraints.TFSAEligibleOnly, false)

	for _, pref := range r.RankingPreferences {
		q.Preferences = append(q.Preferences, ranking.Preference{
			Factor:   pref.ID,
			Weight:   pref.Weight,
			Priority: pref.Priority,
		})
	}
	return q
}

func (r ConstraintsRequest) apply(c constraints.Constraints) constraints.Constraints {
	if r.MaxTER != nil {
		c.MaxTER = r.MaxTER
	}
	if r.MinAUM != nil {
		c.MinAUM = r.MinAUM
	}
	if r.LiquidityThreshold != nil {
		c.LiquidityThreshold = r.LiquidityThreshold
	}
	c.ExcludeSynthetic = boolOr(r.ExcludeSynthetic, c.ExcludeSynthetic)
	c.ExcludeLeveraged = boolOr(r.ExcludeLeveraged, c.ExcludeLeveraged)
	c.ExcludeInverse = boolOr(r.ExcludeInverse, c.ExcludeInverse)
	c.PhysicalReplicationOnly = boolOr(r.PhysicalReplicationOnly, c.PhysicalReplicationOnly)
	if len(r.AllowedExchanges) > 0 {
		c.AllowedExchanges = r.AllowedExchanges
	}
	return c
}

func (r OutputOptionsRequest) apply(o services.OutputOptions) services.OutputOptions {
	if r.MaxResults != nil {
		o.MaxResults = *r.MaxResults
	}
	o.IncludeAlternatives = boolOr(r.IncludeAlternatives, o.IncludeAlternatives)
	o.IncludeSourceLinks = boolOr(r.IncludeSourceLinks, o.IncludeSourceLinks)
	o.ExplainEligibility = boolOr(r.ExplainEligibility, o.ExplainEligibility)
	o.IncludeWarnings = boolOr(r.IncludeWarnings, o.IncludeWarnings)
	return o
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func newDiscoveryResponse(res *services.DiscoveryResult, opts services.OutputOptions) DiscoveryResponse {
	resp := DiscoveryResponse{
		RequestID:       res.RequestID,
		Results:         make([]ETFResult, 0, len(res.Results)),
		Summary:         res.Summary,
		Warnings:        res.Warnings,
		GeneratedAt:     res.GeneratedAt.UTC().Format(time.RFC3339),
		CacheHit:        res.CacheHit,
		SnapshotVersion: res.SnapshotVersion,
		RuleVersion:     res.RuleVersion,
		Weights:         res.Weights,
	}
	if resp.Warnings == nil {
		resp.Warnings = []services.Warning{}
	}
	if resp.Summary.DataSourcesQueried == nil {
		resp.Summary.DataSourcesQueried = []string{}
	}
	for i := range res.Results {
		resp.Results = append(resp.Results, newETFResult(&res.Results[i], opts))
	}
	for i := range res.Alternatives {
		resp.Alternatives = append(resp.Alternatives, newETFResult(&res.Alternatives[i], opts))
	}
	return resp
}

func newETFResult(s *ranking.Scored, opts services.OutputOptions) ETFResult {
	inst := &s.Instrument
	a := s.Assessment

	out := ETFResult{
		Rank:               s.Rank,
		Ticker:             inst.Ticker,
		Name:               inst.Name,
		ISIN:               inst.ISIN,
		Exchange:           inst.Exchange,
		Provider:           inst.Provider,
		AssetClass:         inst.AssetClass,
		TrackingIndex:      inst.TrackingIndex,
		GeographicFocus:    inst.GeographicFocus,
		TER:                inst.TER,
		AUM:                inst.AUM,
		Currency:           inst.Currency,
		AverageDailyVolume: inst.AverageDailyVolume,
		ReplicationMethod:  inst.Replication,
		Eligibility: EligibilityInfo{
			Status:       string(a.Status),
			IsEligible:   a.IsEligible(),
			Confidence:   string(a.Confidence),
			RuleVersion:  a.RuleVersion,
			RulesPassed:  nonNil(a.RulesPassed),
			RulesFailed:  nonNil(a.RulesFailed),
			RulesSkipped: a.RulesSkipped,
			Warnings:     a.Caveats,
		},
		MatchScore:          s.MatchScore,
		RankingScore:        s.RankingScore,
		FactorScores:        s.FactorScores,
		AssetBreakdown:      inst.AssetBreakdown,
		GeographicBreakdown: GeographicBreakdown{Regions: inst.GeographicWeights},
		SectorBreakdown:     inst.SectorWeights,
		TopHoldings:         inst.TopHoldings,
		DataSources:         make([]SourceReference, 0, len(inst.DataSources)),
		Alternative:         s.Alternative,
	}
	if opts.ExplainEligibility {
		out.Eligibility.Justification = a.Justification
		out.Eligibility.Evidence = a.Evidence
	}
	if score, ok := constraints.LiquidityScore(inst); ok {
		v := decimal.NewFromFloat(score).Round(2).InexactFloat64()
		out.LiquidityScore = &v
	}
	if out.TopHoldings == nil {
		out.TopHoldings = []catalog.Holding{}
	}
	for _, src := range inst.DataSources {
		ref := SourceReference{
			Type:     src.Type,
			Provider: src.Provider,
			Date:     src.AsOfDate.Format(time.DateOnly),
		}
		if opts.IncludeSourceLinks {
			ref.URL = src.URL
		}
		out.DataSources = append(out.DataSources, ref)
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
