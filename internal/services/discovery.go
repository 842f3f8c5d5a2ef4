package services

import (
	"fmt"
	"strings"
	"time"

	"etfdiscovery/internal/catalog"
	"etfdiscovery/internal/constraints"
	"etfdiscovery/internal/eligibility"
	apperrors "etfdiscovery/internal/errors"
	"etfdiscovery/internal/ranking"
)

// Output defaults.
const (
	DefaultMaxResults = 10
	MaxResultsLimit   = 100
)

// OutputOptions control the shape of a discovery result.
type OutputOptions struct {
	MaxResults          int
	IncludeAlternatives bool
	IncludeSourceLinks  bool
	ExplainEligibility  bool
	IncludeWarnings     bool
	// EligibleOnly keeps unknown-status candidates out of the primary results.
	EligibleOnly bool
}

// DefaultOutputOptions mirrors the client's defaults.
func DefaultOutputOptions() OutputOptions {
	return OutputOptions{
		MaxResults:         DefaultMaxResults,
		IncludeSourceLinks: true,
		ExplainEligibility: true,
		IncludeWarnings:    true,
	}
}

// DiscoveryQuery is one discovery request after transport decoding.
type DiscoveryQuery struct {
	RequestID   string
	Profile     eligibility.Profile
	Exposure    catalog.ExposureSpec
	Constraints constraints.Constraints
	Preferences []ranking.Preference
	Output      OutputOptions
	// RuleVersion pins a rule-set version. Empty selects the latest.
	RuleVersion string
	ClientIP    string
}

// Validate rejects queries that cannot be answered. It runs before any
// stage so a malformed query never touches the catalog.
func (q *DiscoveryQuery) Validate() error {
	details := map[string]any{}
	if len(strings.TrimSpace(q.Profile.Country)) != 2 {
		details["investorProfile.country"] = "must be an ISO 3166-1 alpha-2 code"
	}
	if strings.TrimSpace(q.Profile.AccountType) == "" {
		details["investorProfile.accountType"] = "is required"
	}
	if q.Output.MaxResults < 1 || q.Output.MaxResults > MaxResultsLimit {
		details["outputOptions.maxResults"] = fmt.Sprintf("must be between 1 and %d", MaxResultsLimit)
	}
	c := q.Constraints
	if c.MaxTER != nil && (*c.MaxTER < 0 || *c.MaxTER > 100) {
		details["constraints.maxTER"] = "must be a percentage between 0 and 100"
	}
	if c.MinAUM != nil && *c.MinAUM < 0 {
		details["constraints.minAUM"] = "must not be negative"
	}
	if c.LiquidityThreshold != nil && (*c.LiquidityThreshold < 0 || *c.LiquidityThreshold > 100) {
		details["constraints.liquidityThreshold"] = "must be between 0 and 100"
	}
	if len(details) > 0 {
		return apperrors.WithDetails(apperrors.ErrMalformedQuery, details)
	}
	return nil
}

// Warning severities.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Warning codes.
const (
	WarnStaleData            = "STALE_DATA"
	WarnDegradedSource       = "DEGRADED_SOURCE"
	WarnPartialTimeout       = "PARTIAL_TIMEOUT"
	WarnEvaluationFailed     = "EVALUATION_FAILED"
	WarnRuleSetNotFound      = "RULESET_NOT_FOUND"
	WarnConstraintExclusions = "CONSTRAINT_EXCLUSIONS"
	WarnWeightsRenormalized  = "WEIGHTS_RENORMALIZED"
	WarnPreferencesIgnored   = "PREFERENCES_IGNORED"
	WarnNoEligibleResults    = "NO_ELIGIBLE_RESULTS"
	WarnLowConfidence        = "LOW_CONFIDENCE_RESULTS"
)

// Warning is a response-level notice.
type Warning struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// Summary carries the aggregate counts of one discovery. Conditional
// candidates have their own bucket, so eligible+ineligible+unknown never
// exceeds TotalSearched and equals it when nothing is conditional.
type Summary struct {
	TotalSearched      int      `json:"totalSearched"`
	TotalEligible      int      `json:"totalEligible"`
	TotalIneligible    int      `json:"totalIneligible"`
	TotalUnknown       int      `json:"totalUnknown"`
	TotalConditional   int      `json:"totalConditional"`
	TotalExcluded      int      `json:"totalExcluded"`
	SearchDurationMs   int64    `json:"searchDurationMs"`
	DataSourcesQueried []string `json:"dataSourcesQueried"`
}

// DiscoveryResult is the assembled answer to a DiscoveryQuery.
type DiscoveryResult struct {
	RequestID       string
	Results         []ranking.Scored
	Alternatives    []ranking.Scored
	Summary         Summary
	Warnings        []Warning
	GeneratedAt     time.Time
	CacheHit        bool
	SnapshotVersion string
	RuleVersion     string
	Weights         ranking.Weights
}
