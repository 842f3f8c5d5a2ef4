// Package constraints screens candidate instruments against hard limits
// before ranking. Every active constraint must hold; an instrument missing
// an attribute that an active constraint needs is excluded.
package constraints

import (
	"sort"
	"strconv"
	"strings"

	"etfdiscovery/internal/catalog"
)

// Defaults applied to constraints a client leaves out.
const (
	DefaultMaxTER             = 0.50
	DefaultMinAUM             = 1e8
	DefaultLiquidityThreshold = 80
)

// Constraints are the hard screening limits of a query. A nil limit is
// inactive; any set limit, zero included, is enforced and excludes
// instruments missing the attribute it needs.
type Constraints struct {
	MaxTER                  *float64
	MinAUM                  *float64
	LiquidityThreshold      *float64
	ExcludeSynthetic        bool
	ExcludeLeveraged        bool
	ExcludeInverse          bool
	PhysicalReplicationOnly bool
	AllowedExchanges        []string
	ExcludedCountries       []string
}

// Default returns the constraints used when a query supplies none.
func Default() Constraints {
	return Constraints{
		MaxTER:             catalog.Float(DefaultMaxTER),
		MinAUM:             catalog.Float(DefaultMinAUM),
		LiquidityThreshold: catalog.Float(DefaultLiquidityThreshold),
		ExcludeSynthetic:   true,
		ExcludeLeveraged:   true,
		ExcludeInverse:     true,
	}
}

// Reason names why an instrument was excluded.
type Reason string

const (
	ReasonTERAboveMax        Reason = "ter_above_max"
	ReasonTERMissing         Reason = "ter_missing"
	ReasonAUMBelowMin        Reason = "aum_below_min"
	ReasonAUMMissing         Reason = "aum_missing"
	ReasonIlliquid           Reason = "liquidity_below_threshold"
	ReasonLiquidityMissing   Reason = "liquidity_missing"
	ReasonSynthetic          Reason = "synthetic"
	ReasonNotPhysical        Reason = "not_physical"
	ReasonReplicationMissing Reason = "replication_missing"
	ReasonLeveraged          Reason = "leveraged"
	ReasonLeverageMissing    Reason = "leverage_flag_missing"
	ReasonInverse            Reason = "inverse"
	ReasonInverseMissing     Reason = "inverse_flag_missing"
	ReasonExchange           Reason = "exchange_not_allowed"
	ReasonExchangeMissing    Reason = "exchange_missing"
	ReasonCountryExcluded    Reason = "country_excluded"
	ReasonDomicileMissing    Reason = "domicile_missing"
)

// Exclusion records one excluded instrument.
type Exclusion struct {
	Ticker string
	Reason Reason
}

// Exclusions collects the instruments removed by Apply.
type Exclusions struct {
	Items []Exclusion
}

// Len returns the number of excluded instruments.
func (e Exclusions) Len() int { return len(e.Items) }

// Counts returns the number of exclusions per reason.
func (e Exclusions) Counts() map[Reason]int {
	out := make(map[Reason]int)
	for _, x := range e.Items {
		out[x.Reason]++
	}
	return out
}

// MissingData returns how many instruments were excluded because an
// attribute was missing rather than out of bounds.
func (e Exclusions) MissingData() int {
	n := 0
	for _, x := range e.Items {
		if strings.HasSuffix(string(x.Reason), "_missing") {
			n++
		}
	}
	return n
}

// Summary renders the counts as "reason=n" pairs in reason order.
func (e Exclusions) Summary() string {
	counts := e.Counts()
	reasons := make([]string, 0, len(counts))
	for r := range counts {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)
	parts := make([]string, len(reasons))
	for i, r := range reasons {
		parts[i] = r + "=" + strconv.Itoa(counts[Reason(r)])
	}
	return strings.Join(parts, ", ")
}

// Check returns the first constraint inst violates, or "" if it passes.
func (c Constraints) Check(inst *catalog.Instrument) Reason {
	if c.MaxTER != nil {
		if inst.TER == nil {
			return ReasonTERMissing
		}
		if *inst.TER > *c.MaxTER {
			return ReasonTERAboveMax
		}
	}
	if c.MinAUM != nil {
		if inst.AUM == nil {
			return ReasonAUMMissing
		}
		if *inst.AUM < *c.MinAUM {
			return ReasonAUMBelowMin
		}
	}
	if c.LiquidityThreshold != nil {
		score, ok := LiquidityScore(inst)
		if !ok {
			return ReasonLiquidityMissing
		}
		if score < *c.LiquidityThreshold {
			return ReasonIlliquid
		}
	}
	if c.ExcludeSynthetic || c.PhysicalReplicationOnly {
		switch {
		case inst.Replication == "":
			return ReasonReplicationMissing
		case c.ExcludeSynthetic && inst.Synthetic():
			return ReasonSynthetic
		case c.PhysicalReplicationOnly && !inst.Physical():
			return ReasonNotPhysical
		}
	}
	if c.ExcludeLeveraged {
		if inst.Leveraged == nil {
			return ReasonLeverageMissing
		}
		if *inst.Leveraged {
			return ReasonLeveraged
		}
	}
	if c.ExcludeInverse {
		if inst.Inverse == nil {
			return ReasonInverseMissing
		}
		if *inst.Inverse {
			return ReasonInverse
		}
	}
	if len(c.AllowedExchanges) > 0 {
		if inst.Exchange == "" {
			return ReasonExchangeMissing
		}
		if !containsFold(c.AllowedExchanges, inst.Exchange) {
			return ReasonExchange
		}
	}
	if len(c.ExcludedCountries) > 0 {
		if inst.Domicile == "" {
			return ReasonDomicileMissing
		}
		if containsFold(c.ExcludedCountries, inst.Domicile) {
			return ReasonCountryExcluded
		}
	}
	return ""
}

// Apply keeps the candidates that satisfy every active constraint, in their
// original order.
func Apply(candidates []catalog.Instrument, c Constraints) ([]catalog.Instrument, Exclusions) {
	kept := make([]catalog.Instrument, 0, len(candidates))
	var ex Exclusions
	for i := range candidates {
		if reason := c.Check(&candidates[i]); reason != "" {
			ex.Items = append(ex.Items, Exclusion{Ticker: candidates[i].Ticker, Reason: reason})
			continue
		}
		kept = append(kept, candidates[i])
	}
	return kept, ex
}

// referenceTurnover is the daily volume-to-AUM ratio that scores 50. A
// turnover of 0.2% of AUM a day scores 80.
const referenceTurnover = 0.0005

// LiquidityScore maps daily turnover (average daily volume / AUM) onto
// 0-100 as 100·r/(r+r0). It rises monotonically with turnover. A fund with
// zero AUM and positive volume scores 100. ok is false when volume or AUM
// is missing.
func LiquidityScore(inst *catalog.Instrument) (score float64, ok bool) {
	if inst.AverageDailyVolume == nil || inst.AUM == nil {
		return 0, false
	}
	adv, aum := *inst.AverageDailyVolume, *inst.AUM
	switch {
	case adv <= 0:
		return 0, true
	case aum <= 0:
		return 100, true
	}
	r := adv / aum
	return 100 * r / (r + referenceTurnover), true
}

func containsFold(list []string, v string) bool {
	v = strings.TrimSpace(v)
	for _, s := range list {
		if strings.EqualFold(strings.TrimSpace(s), v) {
			return true
		}
	}
	return false
}
