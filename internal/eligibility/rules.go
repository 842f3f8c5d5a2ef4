package eligibility

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"etfdiscovery/internal/catalog"
)

// CheckFunc is a compiled rule. It must be pure: the same instrument and
// profile always produce the same outcome.
type CheckFunc func(inst *catalog.Instrument, p Profile) Outcome

// Params are the kind-specific settings of a rule.
type Params struct {
	Values []string `yaml:"values,omitempty" json:"values,omitempty"`
	Max    *float64 `yaml:"max,omitempty" json:"max,omitempty"`
	Min    *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	// Profile makes the rule compare against the investor profile instead of
	// (or in addition to) Values.
	Profile bool `yaml:"profile,omitempty" json:"profile,omitempty"`
}

// Rule is one named check in a rule set.
type Rule struct {
	Name        string   `yaml:"name" json:"name"`
	Kind        string   `yaml:"kind" json:"kind"`
	Severity    Severity `yaml:"severity" json:"severity"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Params      Params   `yaml:",inline" json:"params"`

	check CheckFunc
}

// Check runs the compiled rule.
func (r *Rule) Check(inst *catalog.Instrument, p Profile) Outcome {
	return r.check(inst, p)
}

// RuleSet is an ordered, versioned list of rules for one jurisdiction and
// account type. A published RuleSet must never be modified.
type RuleSet struct {
	Jurisdiction string    `yaml:"jurisdiction" json:"jurisdiction"`
	AccountType  string    `yaml:"accountType" json:"accountType"`
	Version      string    `yaml:"version" json:"version"`
	Description  string    `yaml:"description,omitempty" json:"description,omitempty"`
	PublishedAt  time.Time `yaml:"publishedAt,omitempty" json:"publishedAt"`
	Rules        []Rule    `yaml:"rules" json:"rules"`

	// Definition is the source document the set was parsed from.
	Definition []byte `yaml:"-" json:"-"`
}

// Key returns the rule-set key.
func (rs *RuleSet) Key() Key { return NewKey(rs.Jurisdiction, rs.AccountType) }

// Compile validates the set and binds every rule to its check function.
func (rs *RuleSet) Compile() error {
	key := rs.Key()
	if key.Jurisdiction == "" || key.AccountType == "" {
		return fmt.Errorf("rule set needs a jurisdiction and an account type")
	}
	if strings.TrimSpace(rs.Version) == "" {
		return fmt.Errorf("rule set %s has no version", key)
	}
	if len(rs.Rules) == 0 {
		return fmt.Errorf("rule set %s@%s has no rules", key, rs.Version)
	}

	seen := make(map[string]bool, len(rs.Rules))
	for i := range rs.Rules {
		r := &rs.Rules[i]
		if r.Name == "" {
			return fmt.Errorf("rule %d of %s@%s has no name", i, key, rs.Version)
		}
		if seen[r.Name] {
			return fmt.Errorf("duplicate rule %q in %s@%s", r.Name, key, rs.Version)
		}
		seen[r.Name] = true

		switch r.Severity {
		case SeverityHard, SeveritySoft:
		case "":
			r.Severity = SeverityHard
		default:
			return fmt.Errorf("rule %q: unknown severity %q", r.Name, r.Severity)
		}

		build, ok := kinds[r.Kind]
		if !ok {
			return fmt.Errorf("rule %q: unknown kind %q", r.Name, r.Kind)
		}
		check, err := build(r.Params)
		if err != nil {
			return fmt.Errorf("rule %q: %w", r.Name, err)
		}
		r.check = check
	}
	return nil
}

// Kinds lists the supported rule kinds.
func Kinds() []string {
	out := make([]string, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type builder func(Params) (CheckFunc, error)

var kinds = map[string]builder{
	"exchange_in": stringIn("exchange", func(i *catalog.Instrument, _ Profile) string { return i.Exchange }, nil),
	"exchange_country_in": stringIn("exchangeCountry", func(i *catalog.Instrument, _ Profile) string { return i.ExchangeCountry },
		func(p Profile) string { return p.Country }),
	"currency_in": stringIn("currency", func(i *catalog.Instrument, _ Profile) string { return i.Currency },
		func(p Profile) string { return p.Currency }),
	"domicile_in": stringIn("domicile", func(i *catalog.Instrument, _ Profile) string { return i.Domicile },
		func(p Profile) string { return p.Country }),
	"provider_in":        providerIn,
	"legal_structure_in": stringIn("legalStructure", func(i *catalog.Instrument, _ Profile) string { return i.LegalStructure }, nil),
	"asset_class_in":     assetClassIn,
	"not_leveraged":      flagFalse("leveraged", func(i *catalog.Instrument) *bool { return i.Leveraged }),
	"not_inverse":        flagFalse("inverse", func(i *catalog.Instrument) *bool { return i.Inverse }),
	"physical_replication": func(Params) (CheckFunc, error) {
		return func(i *catalog.Instrument, _ Profile) Outcome {
			switch i.Replication {
			case "":
				return Skip("replicationMethod")
			case catalog.ReplicationPhysical:
				return Pass(i.Replication, "physically replicated")
			default:
				return Fail(i.Replication, "uses "+i.Replication+" replication")
			}
		}, nil
	},
	"max_ter": func(p Params) (CheckFunc, error) {
		if p.Max == nil {
			return nil, fmt.Errorf("max_ter needs max")
		}
		limit := *p.Max
		return func(i *catalog.Instrument, _ Profile) Outcome {
			if i.TER == nil {
				return Skip("ter")
			}
			actual := fmt.Sprintf("%.4f", *i.TER)
			if *i.TER > limit {
				return Fail(actual, fmt.Sprintf("TER %s exceeds %.4f", actual, limit))
			}
			return Pass(actual, fmt.Sprintf("TER %s within %.4f", actual, limit))
		}, nil
	},
	"min_aum": func(p Params) (CheckFunc, error) {
		if p.Min == nil {
			return nil, fmt.Errorf("min_aum needs min")
		}
		floor := *p.Min
		return func(i *catalog.Instrument, _ Profile) Outcome {
			if i.AUM == nil {
				return Skip("aum")
			}
			actual := fmt.Sprintf("%.0f", *i.AUM)
			if *i.AUM < floor {
				return Fail(actual, fmt.Sprintf("AUM %s below %.0f", actual, floor))
			}
			return Pass(actual, fmt.Sprintf("AUM %s at least %.0f", actual, floor))
		}, nil
	},
	"has_data_source": func(p Params) (CheckFunc, error) {
		wanted := normalizedSet(p.Values)
		return func(i *catalog.Instrument, _ Profile) Outcome {
			if len(i.DataSources) == 0 {
				return Skip("dataSources")
			}
			for _, ds := range i.DataSources {
				if len(wanted) == 0 || wanted[catalog.Normalize(ds.Type)] {
					return Pass(ds.Type, "attributes sourced from "+ds.Provider)
				}
			}
			return Fail(fmt.Sprintf("%d sources", len(i.DataSources)),
				"no source of type "+strings.Join(p.Values, ", "))
		}, nil
	},
}

// stringIn builds a membership check on a string attribute. When profileValue
// is non-nil and Params.Profile is set, the investor's value is also accepted.
func stringIn(attr string, get func(*catalog.Instrument, Profile) string, profileValue func(Profile) string) builder {
	return func(p Params) (CheckFunc, error) {
		if len(p.Values) == 0 && !p.Profile {
			return nil, fmt.Errorf("%s rule needs values", attr)
		}
		if p.Profile && profileValue == nil {
			return nil, fmt.Errorf("%s rule cannot compare against the profile", attr)
		}
		allowed := normalizedSet(p.Values)
		return func(i *catalog.Instrument, prof Profile) Outcome {
			actual := strings.TrimSpace(get(i, prof))
			if actual == "" {
				return Skip(attr)
			}
			n := catalog.Normalize(actual)
			if allowed[n] {
				return Pass(actual, attr+" "+actual+" is allowed")
			}
			if p.Profile && n == catalog.Normalize(profileValue(prof)) {
				return Pass(actual, attr+" "+actual+" matches investor")
			}
			return Fail(actual, attr+" "+actual+" is not allowed")
		}, nil
	}
}

func providerIn(p Params) (CheckFunc, error) {
	if len(p.Values) == 0 {
		return nil, fmt.Errorf("provider rule needs values")
	}
	allowed := make([]string, len(p.Values))
	for i, v := range p.Values {
		allowed[i] = catalog.Normalize(v)
	}
	return func(i *catalog.Instrument, _ Profile) Outcome {
		if strings.TrimSpace(i.Provider) == "" {
			return Skip("provider")
		}
		n := catalog.Normalize(i.Provider)
		for _, a := range allowed {
			if strings.Contains(n, a) {
				return Pass(i.Provider, "recognised provider "+i.Provider)
			}
		}
		return Fail(i.Provider, "provider "+i.Provider+" is not on the recognised list")
	}, nil
}

func assetClassIn(p Params) (CheckFunc, error) {
	if len(p.Values) == 0 {
		return nil, fmt.Errorf("asset class rule needs values")
	}
	allowed := make(map[string]bool, len(p.Values))
	for _, v := range p.Values {
		allowed[catalog.CanonicalAssetClass(v)] = true
	}
	return func(i *catalog.Instrument, _ Profile) Outcome {
		if strings.TrimSpace(i.AssetClass) == "" {
			return Skip("assetClass")
		}
		if allowed[catalog.CanonicalAssetClass(i.AssetClass)] {
			return Pass(i.AssetClass, "asset class "+i.AssetClass+" is allowed")
		}
		return Fail(i.AssetClass, "asset class "+i.AssetClass+" is not allowed")
	}, nil
}

func flagFalse(attr string, get func(*catalog.Instrument) *bool) builder {
	return func(Params) (CheckFunc, error) {
		return func(i *catalog.Instrument, _ Profile) Outcome {
			v := get(i)
			if v == nil {
				return Skip(attr)
			}
			if *v {
				return Fail("true", "instrument is "+attr)
			}
			return Pass("false", "instrument is not "+attr)
		}, nil
	}
}

func normalizedSet(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[catalog.Normalize(v)] = true
	}
	return out
}
