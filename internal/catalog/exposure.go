package catalog

// ExposureSpec describes what the investor wants exposure to. The catalog
// pre-filter only looks at asset classes and geography; sectors are used for
// match scoring downstream.
type ExposureSpec struct {
	AssetClasses     []string
	Sectors          []string
	Markets          []string
	EmergingMarkets  bool
	DevelopedMarkets bool
	// Vehicles restricts the vehicle types (etf, etn, etc). Empty allows all.
	Vehicles []string
}

// assetClassAliases folds the spellings clients use onto one canonical class.
var assetClassAliases = map[string]string{
	"equity":          "equity",
	"equities":        "equity",
	"stock":           "equity",
	"stocks":          "equity",
	"bond":            "bond",
	"bonds":           "bond",
	"fixed income":    "bond",
	"fixed_income":    "bond",
	"cash":            "cash",
	"money market":    "cash",
	"commodity":       "commodity",
	"commodities":     "commodity",
	"property":        "real_estate",
	"real estate":     "real_estate",
	"real_estate":     "real_estate",
	"reit":            "real_estate",
	"multi-asset":     "multi_asset",
	"multi asset":     "multi_asset",
	"multi_asset":     "multi_asset",
	"balanced":        "multi_asset",
	"alternatives":    "alternative",
	"alternative":     "alternative",
	"infrastructure":  "infrastructure",
	"cryptocurrency":  "crypto",
	"crypto":          "crypto",
	"digital assets":  "crypto",
	"global equities": "equity",
}

// CanonicalAssetClass maps an asset class spelling onto its canonical form.
// Unknown spellings are returned normalized.
func CanonicalAssetClass(s string) string {
	n := Normalize(s)
	if c, ok := assetClassAliases[n]; ok {
		return c
	}
	return n
}

// WantedMarkets returns the normalized geography tags the spec asks for,
// including the developed/emerging toggles. An empty result means no
// geography filter.
func (e ExposureSpec) WantedMarkets() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		s = Normalize(s)
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, m := range e.Markets {
		add(m)
	}
	if e.DevelopedMarkets {
		add(MarketDeveloped)
	}
	if e.EmergingMarkets {
		add(MarketEmerging)
	}
	return out
}

// Matches reports whether inst passes the cheap vehicle, asset-class and
// geography pre-filter.
func (e ExposureSpec) Matches(inst *Instrument) bool {
	if len(e.Vehicles) > 0 {
		v := inst.Vehicle()
		ok := false
		for _, want := range e.Vehicles {
			if Normalize(want) == v {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(e.AssetClasses) > 0 {
		have := CanonicalAssetClass(inst.AssetClass)
		ok := false
		for _, want := range e.AssetClasses {
			if CanonicalAssetClass(want) == have {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}

	wanted := e.WantedMarkets()
	if len(wanted) == 0 {
		return true
	}
	have := make(map[string]bool)
	for _, m := range inst.Markets() {
		have[m] = true
	}
	for _, w := range wanted {
		if have[w] {
			return true
		}
	}
	// Global funds cover every requested market.
	return have["global"] || have["world"]
}
