package eligibility

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"etfdiscovery/internal/catalog"
)

// Engine evaluates instruments against the rule sets held in a Registry.
type Engine struct {
	registry *Registry
}

// NewEngine creates an Engine over registry.
func NewEngine(registry *Registry) *Engine {
	return &Engine{registry: registry}
}

// Registry returns the engine's registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Resolve returns the rule set Evaluate would apply for p and version.
func (e *Engine) Resolve(p Profile, version string) (*RuleSet, error) {
	return e.registry.Resolve(p, version)
}

// Evaluate resolves the rule set for the profile and applies it to inst.
// A missing rule set yields an unknown assessment, never an error. The
// error is only set when ctx is done before evaluation completes.
func (e *Engine) Evaluate(ctx context.Context, inst *catalog.Instrument, p Profile, version string) (Assessment, error) {
	if err := ctx.Err(); err != nil {
		return Assessment{}, err
	}
	rs, err := e.registry.Resolve(p, version)
	if err != nil {
		return NoRuleSet(p, version), nil
	}
	return Apply(rs, inst, p), nil
}

// EvaluateWith applies an already resolved rule set to inst, so every
// candidate of one request is judged under the same version even when a
// newer one is published meanwhile.
func (e *Engine) EvaluateWith(ctx context.Context, rs *RuleSet, inst *catalog.Instrument, p Profile) (Assessment, error) {
	if err := ctx.Err(); err != nil {
		return Assessment{}, err
	}
	if rs == nil {
		return NoRuleSet(p, ""), nil
	}
	return Apply(rs, inst, p), nil
}

// NoRuleSet is the assessment given when no rule set applies.
func NoRuleSet(p Profile, version string) Assessment {
	key := p.Key()
	if version != "" {
		return UnknownAssessment(version, fmt.Sprintf(
			"Rule set version %s for %s accounts in %s is not published; eligibility cannot be determined.",
			version, key.AccountType, key.Jurisdiction))
	}
	return UnknownAssessment("", fmt.Sprintf(
		"No eligibility rules are available for %s accounts in %s; eligibility cannot be determined.",
		key.AccountType, key.Jurisdiction))
}

// IsNotFound reports whether err means no rule set was found.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// Apply folds the rules of rs over inst in order:
//   - a failing hard rule makes the instrument ineligible and stops the fold;
//     remaining rules are recorded as not evaluated
//   - a skipped rule caps confidence at low; if the skipped rule is hard the
//     verdict is unknown since a disqualification cannot be ruled out
//   - a failing soft rule adds a caveat, makes the verdict conditional and
//     caps confidence at medium
//   - otherwise the instrument is eligible
func Apply(rs *RuleSet, inst *catalog.Instrument, p Profile) Assessment {
	a := Assessment{
		RuleVersion: rs.Version,
		RulesPassed: []string{},
		RulesFailed: []string{},
		Evidence:    make([]Evidence, 0, len(rs.Rules)),
	}

	ceiling := ConfidenceHigh
	var (
		disqualified *Evidence
		hardGaps     []string
		softGaps     []string
	)

	for i := range rs.Rules {
		rule := &rs.Rules[i]
		if disqualified != nil {
			a.Evidence = append(a.Evidence, Evidence{
				Rule:     rule.Name,
				Severity: rule.Severity,
				Result:   VerdictNotEvaluated,
				Expected: rule.Description,
			})
			continue
		}

		out := rule.Check(inst, p)
		ev := Evidence{
			Rule:     rule.Name,
			Severity: rule.Severity,
			Result:   out.Verdict,
			Expected: rule.Description,
			Actual:   out.Actual,
			Reason:   out.Reason,
		}
		a.Evidence = append(a.Evidence, ev)

		switch out.Verdict {
		case VerdictPass:
			a.RulesPassed = append(a.RulesPassed, rule.Name)
		case VerdictSkip:
			a.RulesSkipped = append(a.RulesSkipped, rule.Name)
			ceiling = ceiling.Cap(ConfidenceLow)
			gap := fmt.Sprintf("%s (%s)", rule.Name, out.Missing)
			if rule.Severity == SeverityHard {
				hardGaps = append(hardGaps, gap)
			} else {
				softGaps = append(softGaps, gap)
			}
		case VerdictFail:
			a.RulesFailed = append(a.RulesFailed, rule.Name)
			if rule.Severity == SeverityHard {
				disqualified = &ev
				continue
			}
			a.Caveats = append(a.Caveats, rule.Name+": "+out.Reason)
			ceiling = ceiling.Cap(ConfidenceMedium)
		}
	}

	key := rs.Key()
	scope := fmt.Sprintf("%s %s rules v%s", key.Jurisdiction, strings.ToUpper(key.AccountType), rs.Version)
	var b strings.Builder

	switch {
	case disqualified != nil:
		a.Status = StatusIneligible
		a.Confidence = ConfidenceHigh
		fmt.Fprintf(&b, "Ineligible under %s: %s failed (%s).", scope, disqualified.Rule, disqualified.Reason)
	case len(hardGaps) > 0:
		a.Status = StatusUnknown
		a.Confidence = ConfidenceLow
		fmt.Fprintf(&b, "Eligibility under %s cannot be confirmed: required data missing for %s.", scope, strings.Join(hardGaps, ", "))
	case len(a.Caveats) > 0:
		a.Status = StatusConditional
		a.Confidence = ceiling
		fmt.Fprintf(&b, "Conditionally eligible under %s; verify: %s.", scope, strings.Join(a.Caveats, "; "))
	default:
		a.Status = StatusEligible
		a.Confidence = ceiling
		fmt.Fprintf(&b, "Eligible under %s: %d of %d rules passed.", scope, len(a.RulesPassed), len(rs.Rules))
	}
	if len(softGaps) > 0 {
		fmt.Fprintf(&b, " Data missing for %s.", strings.Join(softGaps, ", "))
	}
	if disqualified == nil && len(hardGaps) > 0 && len(a.Caveats) > 0 {
		fmt.Fprintf(&b, " Caveats: %s.", strings.Join(a.Caveats, "; "))
	}
	a.Justification = b.String()
	return a
}
