package ranking

import (
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/floats"

	"etfdiscovery/internal/catalog"
	"etfdiscovery/internal/constraints"
	"etfdiscovery/internal/eligibility"
)

// DefaultMaxAlternatives bounds the alternatives list.
const DefaultMaxAlternatives = 5

// Candidate is a screened instrument with its eligibility verdict.
type Candidate struct {
	Instrument catalog.Instrument
	Assessment eligibility.Assessment
}

// Scored is a ranked candidate.
type Scored struct {
	Candidate
	Rank         int
	MatchScore   float64
	RankingScore float64
	FactorScores map[Factor]float64
	// Alternative marks near-miss candidates outside the primary pool.
	Alternative bool
}

// Options control pool selection and truncation.
type Options struct {
	MaxResults          int
	EligibleOnly        bool
	IncludeAlternatives bool
	MaxAlternatives     int
}

// Ranked is the output of Rank.
type Ranked struct {
	Results      []Scored
	Alternatives []Scored
	// Pool is the size of the primary pool before truncation.
	Pool int
}

// Rank scores candidates, orders them by ranking score and truncates to
// MaxResults. Eligible and conditional candidates always enter the primary
// pool; unknown ones do unless EligibleOnly is set. The rest become
// alternatives when requested.
func Rank(candidates []Candidate, w Weights, spec catalog.ExposureSpec, opts Options) Ranked {
	maxTER := maxObservedTER(candidates)
	requested := requestedTags(spec)

	var primary, rest []Scored
	for _, c := range candidates {
		s := score(c, w, maxTER, requested)
		if inPrimaryPool(c.Assessment.Status, opts.EligibleOnly) {
			primary = append(primary, s)
		} else {
			rest = append(rest, s)
		}
	}

	sortScored(primary)
	out := Ranked{Pool: len(primary)}
	if opts.MaxResults > 0 && len(primary) > opts.MaxResults {
		primary = primary[:opts.MaxResults]
	}
	for i := range primary {
		primary[i].Rank = i + 1
	}
	out.Results = primary

	if opts.IncludeAlternatives && len(rest) > 0 {
		limit := opts.MaxAlternatives
		if limit <= 0 {
			limit = DefaultMaxAlternatives
		}
		sortScored(rest)
		if len(rest) > limit {
			rest = rest[:limit]
		}
		for i := range rest {
			rest[i].Rank = i + 1
			rest[i].Alternative = true
		}
		out.Alternatives = rest
	}
	return out
}

func inPrimaryPool(status eligibility.Status, eligibleOnly bool) bool {
	switch status {
	case eligibility.StatusEligible, eligibility.StatusConditional:
		return true
	case eligibility.StatusUnknown:
		return !eligibleOnly
	default:
		return false
	}
}

func score(c Candidate, w Weights, maxTER float64, requested map[string]bool) Scored {
	factors := make(map[Factor]float64, len(Factors))
	terms := make([]float64, 0, len(w))
	for _, f := range Factors {
		weight, ok := w[f]
		if !ok {
			continue
		}
		v := FactorScore(f, &c.Instrument, c.Assessment, maxTER)
		factors[f] = round2(v)
		terms = append(terms, weight*v)
	}
	return Scored{
		Candidate:    c,
		MatchScore:   round2(MatchScore(requested, &c.Instrument)),
		RankingScore: round2(100 * floats.Sum(terms)),
		FactorScores: factors,
	}
}

// FactorScore evaluates one factor for inst in [0,1]. Missing data scores 0.
func FactorScore(f Factor, inst *catalog.Instrument, a eligibility.Assessment, maxTER float64) float64 {
	switch f {
	case FactorTER:
		if inst.TER == nil {
			return 0
		}
		if maxTER <= 0 {
			return 1
		}
		return clamp01(1 - *inst.TER/maxTER)
	case FactorLiquidity:
		s, ok := constraints.LiquidityScore(inst)
		if !ok {
			return 0
		}
		return clamp01(s / 100)
	case FactorAUM:
		if inst.AUM == nil || *inst.AUM <= 0 {
			return 0
		}
		// 1e6 scores 0 and 1e12 scores 1.
		return clamp01((math.Log10(*inst.AUM) - 6) / 6)
	case FactorTracking:
		v := 0.0
		if inst.TrackingIndex != "" {
			v = 0.6
		}
		if inst.TrackingDifference != nil {
			v += 0.4 * (1 - math.Min(math.Abs(*inst.TrackingDifference)/0.01, 1))
		}
		return v
	case FactorEligibility:
		return confidenceScore[a.Confidence]
	}
	return 0
}

var confidenceScore = map[eligibility.Confidence]float64{
	eligibility.ConfidenceHigh:    1.0,
	eligibility.ConfidenceMedium:  0.66,
	eligibility.ConfidenceLow:     0.33,
	eligibility.ConfidenceUnknown: 0,
}

func maxObservedTER(candidates []Candidate) float64 {
	var ters []float64
	for _, c := range candidates {
		if c.Instrument.TER != nil {
			ters = append(ters, *c.Instrument.TER)
		}
	}
	if len(ters) == 0 {
		return 0
	}
	return floats.Max(ters)
}

// requestedTags builds the tagged attribute set a query asks for.
func requestedTags(spec catalog.ExposureSpec) map[string]bool {
	out := make(map[string]bool)
	for _, a := range spec.AssetClasses {
		if c := catalog.CanonicalAssetClass(a); c != "" {
			out["asset:"+c] = true
		}
	}
	for _, s := range spec.Sectors {
		if n := catalog.Normalize(s); n != "" {
			out["sector:"+n] = true
		}
	}
	for _, m := range spec.WantedMarkets() {
		out["market:"+m] = true
	}
	return out
}

// MatchScore is 100·|requested ∩ instrument|/|requested|, or 100 when
// nothing was requested. A global fund covers every requested market.
func MatchScore(requested map[string]bool, inst *catalog.Instrument) float64 {
	if len(requested) == 0 {
		return 100
	}
	have := make(map[string]bool)
	have["asset:"+catalog.CanonicalAssetClass(inst.AssetClass)] = true
	for _, s := range inst.Sectors() {
		have["sector:"+s] = true
	}
	global := false
	for _, m := range inst.Markets() {
		have["market:"+m] = true
		if m == "global" || m == "world" {
			global = true
		}
	}

	hit := 0
	for tag := range requested {
		if have[tag] || (global && strings.HasPrefix(tag, "market:")) {
			hit++
		}
	}
	return 100 * float64(hit) / float64(len(requested))
}

// sortScored orders by ranking score descending, then TER ascending with
// missing TER last, then ticker ascending.
func sortScored(s []Scored) {
	sort.SliceStable(s, func(i, j int) bool {
		a, b := s[i], s[j]
		if a.RankingScore != b.RankingScore {
			return a.RankingScore > b.RankingScore
		}
		at, bt := a.Instrument.TER, b.Instrument.TER
		switch {
		case at != nil && bt != nil && *at != *bt:
			return *at < *bt
		case at != nil && bt == nil:
			return true
		case at == nil && bt != nil:
			return false
		}
		return a.Instrument.Ticker < b.Instrument.Ticker
	})
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
