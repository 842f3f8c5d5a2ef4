// Package ranking scores screened candidates against weighted preferences
// and orders them deterministically.
package ranking

import (
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Factor is a ranking dimension. Every factor evaluates to [0,1].
type Factor string

const (
	FactorTER         Factor = "ter"
	FactorLiquidity   Factor = "liquidity"
	FactorAUM         Factor = "aum"
	FactorTracking    Factor = "tracking"
	FactorEligibility Factor = "eligibility"
)

// Factors lists every factor in canonical order.
var Factors = []Factor{FactorTER, FactorLiquidity, FactorAUM, FactorTracking, FactorEligibility}

var factorAliases = map[string]Factor{
	"ter":               FactorTER,
	"fees":              FactorTER,
	"lowest_fees":       FactorTER,
	"cost":              FactorTER,
	"expense_ratio":     FactorTER,
	"liquidity":         FactorLiquidity,
	"aum":               FactorAUM,
	"size":              FactorAUM,
	"stability":         FactorAUM,
	"diversification":   FactorAUM,
	"tracking":          FactorTracking,
	"tracking_accuracy": FactorTracking,
	"eligibility":       FactorEligibility,
	"tax_efficiency":    FactorEligibility,
}

// ParseFactor maps a factor name or alias onto a Factor.
func ParseFactor(s string) (Factor, bool) {
	f, ok := factorAliases[strings.ToLower(strings.TrimSpace(s))]
	return f, ok
}

// Preference is one entry of the client's ordered preference list. Priority
// 1 is the most important; zero means "use list order". A nil Weight means
// the client stated none.
type Preference struct {
	Factor   string
	Weight   *float64
	Priority int
}

// Weights maps factors to their share of the ranking score. Normalized
// weights sum to 1.
type Weights map[Factor]float64

// DefaultWeights is used when a query states no preferences.
func DefaultWeights() Weights {
	return Weights{
		FactorTER:       0.4,
		FactorLiquidity: 0.3,
		FactorTracking:  0.2,
		FactorAUM:       0.1,
	}
}

// Normalization describes what NormalizeWeights had to do to the input.
type Normalization struct {
	// Renormalized is set when the stated weights did not sum to 1.
	Renormalized bool
	// Derived is set when weights were derived from priorities.
	Derived bool
	// Ignored lists unrecognised factor names.
	Ignored []string
}

// NormalizeWeights turns preferences into weights summing to 1. When no
// preference states a weight, weights n, n-1, ..., 1 are assigned by
// priority. Repeated factors accumulate. If every stated weight is zero the
// listed factors share equally.
func NormalizeWeights(prefs []Preference) (Weights, Normalization) {
	var norm Normalization
	type entry struct {
		factor   Factor
		weight   float64
		priority int
		pos      int
	}
	var entries []entry
	stated := false
	for i, p := range prefs {
		f, ok := ParseFactor(p.Factor)
		if !ok {
			norm.Ignored = append(norm.Ignored, p.Factor)
			continue
		}
		w := 0.0
		if p.Weight != nil {
			stated = true
			w = *p.Weight
		}
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			w = 0
		}
		entries = append(entries, entry{factor: f, weight: w, priority: p.Priority, pos: i})
	}
	if len(entries) == 0 {
		return DefaultWeights(), norm
	}

	if !stated {
		sort.SliceStable(entries, func(a, b int) bool {
			pa, pb := entries[a].priority, entries[b].priority
			switch {
			case pa == pb:
				return entries[a].pos < entries[b].pos
			case pa == 0:
				return false
			case pb == 0:
				return true
			}
			return pa < pb
		})
		n := len(entries)
		for i := range entries {
			entries[i].weight = float64(n - i)
		}
		norm.Derived = true
	}

	w := make(Weights, len(entries))
	for _, e := range entries {
		w[e.factor] += e.weight
	}
	values := make([]float64, 0, len(w))
	for _, v := range w {
		values = append(values, v)
	}
	sum := floats.Sum(values)
	if sum == 0 {
		for f := range w {
			w[f] = 1 / float64(len(w))
		}
		norm.Renormalized = true
		return w, norm
	}
	if !norm.Derived && math.Abs(sum-1) > 1e-9 {
		norm.Renormalized = true
	}
	for f := range w {
		w[f] /= sum
	}
	return w, norm
}
