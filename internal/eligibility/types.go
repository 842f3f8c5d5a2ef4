// Package eligibility decides whether an instrument may be held in a given
// account type under a jurisdiction's rules. Rule sets are versioned,
// immutable once published, and evaluated as an ordered fold over pure rule
// functions so that the same inputs always produce the same justification.
package eligibility

import "strings"

// Status is the overall eligibility verdict.
type Status string

const (
	StatusEligible    Status = "eligible"
	StatusIneligible  Status = "ineligible"
	StatusUnknown     Status = "unknown"
	StatusConditional Status = "conditional"
)

// Confidence expresses how much the verdict can be trusted given data gaps.
type Confidence string

const (
	ConfidenceHigh    Confidence = "high"
	ConfidenceMedium  Confidence = "medium"
	ConfidenceLow     Confidence = "low"
	ConfidenceUnknown Confidence = "unknown"
)

var confidenceRank = map[Confidence]int{
	ConfidenceUnknown: 0,
	ConfidenceLow:     1,
	ConfidenceMedium:  2,
	ConfidenceHigh:    3,
}

// Cap returns the lower of c and ceiling.
func (c Confidence) Cap(ceiling Confidence) Confidence {
	if confidenceRank[ceiling] < confidenceRank[c] {
		return ceiling
	}
	return c
}

// Severity of a failing rule.
type Severity string

const (
	// SeverityHard disqualifies the instrument outright.
	SeverityHard Severity = "hard"
	// SeveritySoft surfaces a caveat and makes the verdict conditional.
	SeveritySoft Severity = "soft"
)

// Verdict is the result kind of a single rule.
type Verdict string

const (
	VerdictPass         Verdict = "pass"
	VerdictFail         Verdict = "fail"
	VerdictSkip         Verdict = "skip"
	VerdictNotEvaluated Verdict = "not_evaluated"
)

// Outcome is what a rule returns for one instrument.
type Outcome struct {
	Verdict Verdict
	Reason  string
	// Missing names the instrument attribute that was absent, for skips.
	Missing string
	// Actual describes the observed value.
	Actual string
}

// Pass builds a passing outcome.
func Pass(actual, reason string) Outcome {
	return Outcome{Verdict: VerdictPass, Actual: actual, Reason: reason}
}

// Fail builds a failing outcome. The rule's severity decides whether it is
// disqualifying.
func Fail(actual, reason string) Outcome {
	return Outcome{Verdict: VerdictFail, Actual: actual, Reason: reason}
}

// Skip builds an outcome for a rule that could not run because attribute
// was missing.
func Skip(attribute string) Outcome {
	return Outcome{
		Verdict: VerdictSkip,
		Missing: attribute,
		Actual:  "missing",
		Reason:  attribute + " not available",
	}
}

// Profile is the investor context a rule set is selected by.
type Profile struct {
	Country     string
	AccountType string
	Currency    string
}

// Key identifies a rule-set family.
type Key struct {
	Jurisdiction string
	AccountType  string
}

// NewKey normalizes a jurisdiction and account type into a Key.
func NewKey(jurisdiction, accountType string) Key {
	return Key{
		Jurisdiction: strings.ToUpper(strings.TrimSpace(jurisdiction)),
		AccountType:  strings.ToLower(strings.TrimSpace(accountType)),
	}
}

// Key returns the rule-set key for the profile.
func (p Profile) Key() Key { return NewKey(p.Country, p.AccountType) }

func (k Key) String() string { return k.Jurisdiction + "/" + k.AccountType }

// Evidence is the trail entry for one rule.
type Evidence struct {
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	Result   Verdict  `json:"result"`
	Expected string   `json:"expected,omitempty"`
	Actual   string   `json:"actual,omitempty"`
	Reason   string   `json:"reason,omitempty"`
}

// Assessment is the eligibility verdict for one instrument and profile.
type Assessment struct {
	Status        Status     `json:"status"`
	Confidence    Confidence `json:"confidence"`
	Justification string     `json:"justification"`
	RuleVersion   string     `json:"ruleVersion,omitempty"`
	RulesPassed   []string   `json:"rulesPassed"`
	RulesFailed   []string   `json:"rulesFailed"`
	RulesSkipped  []string   `json:"rulesSkipped,omitempty"`
	Caveats       []string   `json:"caveats,omitempty"`
	Evidence      []Evidence `json:"evidence,omitempty"`
}

// IsEligible reports whether the instrument may be held, possibly with caveats.
func (a Assessment) IsEligible() bool {
	return a.Status == StatusEligible || a.Status == StatusConditional
}

// UnknownAssessment is the verdict used when no evaluation could be made.
func UnknownAssessment(ruleVersion, justification string) Assessment {
	return Assessment{
		Status:        StatusUnknown,
		Confidence:    ConfidenceUnknown,
		Justification: justification,
		RuleVersion:   ruleVersion,
		RulesPassed:   []string{},
		RulesFailed:   []string{},
	}
}
