package eligibility_test

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"etfdiscovery/internal/catalog"
	"etfdiscovery/internal/eligibility"
	"etfdiscovery/internal/logger"
	"etfdiscovery/internal/testutil"
)

func init() {
	logger.Init("test")
}

var tfsa = eligibility.Profile{Country: "za", AccountType: "TFSA", Currency: "ZAR"}

func newEngine(t *testing.T) *eligibility.Engine {
	t.Helper()

	reg := eligibility.NewRegistry(nil)
	defaults, err := eligibility.Defaults()
	testutil.AssertNoError(t, err)
	_, err = reg.Load(context.Background(), defaults)
	testutil.AssertNoError(t, err)
	return eligibility.NewEngine(reg)
}

func mustParse(t *testing.T, doc string) *eligibility.RuleSet {
	t.Helper()

	rs, err := eligibility.Parse([]byte(doc))
	testutil.AssertNoError(t, err)
	return rs
}

func TestDefaults(t *testing.T) {
	sets, err := eligibility.Defaults()
	testutil.AssertNoError(t, err)

	want := map[string]bool{
		"ZA/tfsa": true, "ZA/standard": true, "GB/isa": true, "GB/standard": true,
		"US/ira": true, "US/roth_ira": true, "US/standard": true,
	}
	if len(sets) != len(want) {
		t.Fatalf("expected %d default rule sets, got %d", len(want), len(sets))
	}
	for _, rs := range sets {
		if !want[rs.Key().String()] {
			t.Errorf("unexpected default rule set %s", rs.Key())
		}
	}
}

func TestParse(t *testing.T) {
	t.Run("unknown_kind", func(t *testing.T) {
		_, err := eligibility.Parse([]byte(`
jurisdiction: ZA
accountType: tfsa
version: "1"
rules:
  - name: bogus
    kind: moon_phase
`))
		if err == nil || !strings.Contains(err.Error(), "unknown kind") {
			t.Errorf("expected unknown kind error, got %v", err)
		}
	})

	t.Run("unknown_field", func(t *testing.T) {
		_, err := eligibility.Parse([]byte(`
jurisdiction: ZA
accountType: tfsa
version: "1"
rules:
  - name: cheap
    kind: max_ter
    maximum: 0.5
`))
		if err == nil {
			t.Error("expected unknown field to be rejected")
		}
	})

	t.Run("missing_param", func(t *testing.T) {
		_, err := eligibility.Parse([]byte(`
jurisdiction: ZA
accountType: tfsa
version: "1"
rules:
  - name: cheap
    kind: max_ter
`))
		if err == nil {
			t.Error("expected max_ter without max to be rejected")
		}
	})

	t.Run("default_severity_is_hard", func(t *testing.T) {
		rs := mustParse(t, `
jurisdiction: ZA
accountType: tfsa
version: "1"
rules:
  - name: jse
    kind: exchange_in
    values: [JSE]
`)
		if rs.Rules[0].Severity != eligibility.SeverityHard {
			t.Errorf("expected hard severity, got %s", rs.Rules[0].Severity)
		}
		if len(rs.Definition) == 0 {
			t.Error("expected the source definition to be kept")
		}
	})
}

func TestEvaluate(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()

	t.Run("eligible_high", func(t *testing.T) {
		inst := testutil.NewInstrument("STX40")
		a, err := engine.Evaluate(ctx, &inst, tfsa, "")
		testutil.AssertNoError(t, err)

		if a.Status != eligibility.StatusEligible || a.Confidence != eligibility.ConfidenceHigh {
			t.Errorf("expected eligible/high, got %s/%s: %s", a.Status, a.Confidence, a.Justification)
		}
		if a.RuleVersion != "2025.1" {
			t.Errorf("expected rule version 2025.1, got %s", a.RuleVersion)
		}
		if len(a.RulesFailed) != 0 || len(a.RulesPassed) != 7 {
			t.Errorf("expected 7 passes and no failures, got %v / %v", a.RulesPassed, a.RulesFailed)
		}
	})

	t.Run("hard_fail_dominates", func(t *testing.T) {
		inst := testutil.NewInstrument("VT")
		inst.Exchange = "NYSE"
		a, err := engine.Evaluate(ctx, &inst, tfsa, "")
		testutil.AssertNoError(t, err)

		if a.Status != eligibility.StatusIneligible {
			t.Fatalf("expected ineligible, got %s", a.Status)
		}
		if !reflect.DeepEqual(a.RulesFailed, []string{"jse_listing"}) {
			t.Errorf("expected only jse_listing to fail, got %v", a.RulesFailed)
		}
		if len(a.RulesPassed) != 0 {
			t.Errorf("expected no rules evaluated after disqualification, got %v", a.RulesPassed)
		}
		for _, ev := range a.Evidence[1:] {
			if ev.Result != eligibility.VerdictNotEvaluated {
				t.Errorf("expected %s to be not evaluated, got %s", ev.Rule, ev.Result)
			}
		}
	})

	t.Run("hard_fail_after_passes_still_ineligible", func(t *testing.T) {
		inst := testutil.NewInstrument("LEV2X")
		inst.Leveraged = catalog.Bool(true)
		a, _ := engine.Evaluate(ctx, &inst, tfsa, "")

		if a.Status != eligibility.StatusIneligible {
			t.Errorf("expected ineligible, got %s", a.Status)
		}
		if len(a.RulesPassed) != 2 {
			t.Errorf("expected the two rules before the failure to pass, got %v", a.RulesPassed)
		}
	})

	t.Run("missing_hard_attribute_is_unknown", func(t *testing.T) {
		inst := testutil.NewInstrument("NOFLAG")
		inst.Leveraged = nil
		a, _ := engine.Evaluate(ctx, &inst, tfsa, "")

		if a.Status != eligibility.StatusUnknown || a.Confidence != eligibility.ConfidenceLow {
			t.Errorf("expected unknown/low, got %s/%s", a.Status, a.Confidence)
		}
		if !reflect.DeepEqual(a.RulesSkipped, []string{"no_leverage"}) {
			t.Errorf("expected no_leverage skipped, got %v", a.RulesSkipped)
		}
		if !strings.Contains(a.Justification, "leveraged") {
			t.Errorf("expected justification to name the missing attribute: %s", a.Justification)
		}
	})

	t.Run("missing_soft_attribute_lowers_confidence", func(t *testing.T) {
		inst := testutil.NewInstrument("NOREP")
		inst.Replication = ""
		a, _ := engine.Evaluate(ctx, &inst, tfsa, "")

		if a.Status != eligibility.StatusEligible || a.Confidence != eligibility.ConfidenceLow {
			t.Errorf("expected eligible/low, got %s/%s", a.Status, a.Confidence)
		}
	})

	t.Run("soft_fail_is_conditional", func(t *testing.T) {
		inst := testutil.NewInstrument("SYNTH")
		inst.Replication = catalog.ReplicationSynthetic
		a, _ := engine.Evaluate(ctx, &inst, tfsa, "")

		if a.Status != eligibility.StatusConditional || a.Confidence != eligibility.ConfidenceMedium {
			t.Errorf("expected conditional/medium, got %s/%s", a.Status, a.Confidence)
		}
		if len(a.Caveats) != 1 {
			t.Errorf("expected one caveat, got %v", a.Caveats)
		}
		if !a.IsEligible() {
			t.Error("conditional instruments are eligible with caveats")
		}
	})

	t.Run("no_rule_set", func(t *testing.T) {
		inst := testutil.NewInstrument("STX40")
		a, err := engine.Evaluate(ctx, &inst, eligibility.Profile{Country: "FR", AccountType: "pea"}, "")
		testutil.AssertNoError(t, err)

		if a.Status != eligibility.StatusUnknown || a.Confidence != eligibility.ConfidenceUnknown {
			t.Errorf("expected unknown/unknown, got %s/%s", a.Status, a.Confidence)
		}
		if a.IsEligible() {
			t.Error("missing rules must never default to eligible")
		}
	})

	t.Run("unknown_version", func(t *testing.T) {
		inst := testutil.NewInstrument("STX40")
		a, _ := engine.Evaluate(ctx, &inst, tfsa, "1999.1")
		if a.Status != eligibility.StatusUnknown || a.RuleVersion != "1999.1" {
			t.Errorf("expected unknown citing version 1999.1, got %s %s", a.Status, a.RuleVersion)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		inst := testutil.NewInstrument("STX40")
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := engine.Evaluate(cctx, &inst, tfsa, ""); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestEvaluateWith(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()
	inst := testutil.NewInstrument("STX40")

	t.Run("applies_given_version", func(t *testing.T) {
		rs, err := engine.Resolve(tfsa, "2025.1")
		testutil.AssertNoError(t, err)
		a, err := engine.EvaluateWith(ctx, rs, &inst, tfsa)
		testutil.AssertNoError(t, err)
		if a.RuleVersion != "2025.1" {
			t.Errorf("expected version 2025.1, got %s", a.RuleVersion)
		}
	})

	t.Run("nil_rule_set_is_unknown", func(t *testing.T) {
		a, err := engine.EvaluateWith(ctx, nil, &inst, tfsa)
		testutil.AssertNoError(t, err)
		if a.Status != eligibility.StatusUnknown {
			t.Errorf("expected unknown, got %s", a.Status)
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		rs, err := engine.Resolve(tfsa, "")
		testutil.AssertNoError(t, err)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := engine.EvaluateWith(cctx, rs, &inst, tfsa); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestEvaluateIsIdempotent(t *testing.T) {
	engine := newEngine(t)
	for _, inst := range testutil.SampleInstruments() {
		inst := inst
		first, _ := engine.Evaluate(context.Background(), &inst, tfsa, "2025.1")
		second, _ := engine.Evaluate(context.Background(), &inst, tfsa, "2025.1")
		if !reflect.DeepEqual(first, second) {
			t.Errorf("%s: evaluation is not deterministic", inst.Ticker)
		}
	}
}

func TestProfileRule(t *testing.T) {
	rs := mustParse(t, `
jurisdiction: ZA
accountType: standard
version: "1"
rules:
  - name: local
    kind: exchange_country_in
    severity: soft
    profile: true
`)
	inst := testutil.NewInstrument("STX40")

	a := eligibility.Apply(rs, &inst, eligibility.Profile{Country: "ZA", AccountType: "standard"})
	if a.Status != eligibility.StatusEligible {
		t.Errorf("expected local listing to pass, got %s", a.Status)
	}
	a = eligibility.Apply(rs, &inst, eligibility.Profile{Country: "GB", AccountType: "standard"})
	if a.Status != eligibility.StatusConditional {
		t.Errorf("expected foreign listing to be conditional, got %s", a.Status)
	}
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	doc := func(version string) string {
		return `
jurisdiction: ZA
accountType: tfsa
version: "` + version + `"
rules:
  - name: jse
    kind: exchange_in
    values: [JSE]
`
	}

	t.Run("publish_and_resolve", func(t *testing.T) {
		reg := eligibility.NewRegistry(nil)
		testutil.AssertNoError(t, reg.Publish(ctx, mustParse(t, doc("2025.9"))))
		testutil.AssertNoError(t, reg.Publish(ctx, mustParse(t, doc("2025.10"))))

		latest, err := reg.Resolve(tfsa, "")
		testutil.AssertNoError(t, err)
		if latest.Version != "2025.10" {
			t.Errorf("expected latest 2025.10, got %s", latest.Version)
		}

		old, err := reg.Resolve(tfsa, "2025.9")
		testutil.AssertNoError(t, err)
		if old.Version != "2025.9" {
			t.Errorf("expected pinned 2025.9, got %s", old.Version)
		}

		if got := reg.Versions(tfsa.Key()); !reflect.DeepEqual(got, []string{"2025.9", "2025.10"}) {
			t.Errorf("unexpected versions %v", got)
		}
	})

	t.Run("version_must_increase", func(t *testing.T) {
		reg := eligibility.NewRegistry(nil)
		testutil.AssertNoError(t, reg.Publish(ctx, mustParse(t, doc("2"))))
		err := reg.Publish(ctx, mustParse(t, doc("2")))
		if !errors.Is(err, eligibility.ErrVersionConflict) {
			t.Errorf("expected ErrVersionConflict, got %v", err)
		}
		err = reg.Publish(ctx, mustParse(t, doc("1")))
		if !errors.Is(err, eligibility.ErrVersionConflict) {
			t.Errorf("expected ErrVersionConflict for older version, got %v", err)
		}
	})

	t.Run("load_separates_conflicts_from_failures", func(t *testing.T) {
		reg := eligibility.NewRegistry(nil)
		testutil.AssertNoError(t, reg.Publish(ctx, mustParse(t, doc("2"))))

		_, err := reg.Load(ctx, []*eligibility.RuleSet{mustParse(t, doc("1"))})
		if !errors.Is(err, eligibility.ErrVersionConflict) {
			t.Fatalf("expected ErrVersionConflict, got %v", err)
		}
		if got := eligibility.IgnoreConflicts(err); got != nil {
			t.Errorf("expected a lone conflict to be ignored, got %v", got)
		}

		empty := &eligibility.RuleSet{Jurisdiction: "ZA", AccountType: "ra", Version: "1"}
		_, err = reg.Load(ctx, []*eligibility.RuleSet{mustParse(t, doc("1")), empty})
		got := eligibility.IgnoreConflicts(err)
		if got == nil {
			t.Fatal("expected the invalid rule set to be reported alongside the conflict")
		}
		if errors.Is(got, eligibility.ErrVersionConflict) || !strings.Contains(got.Error(), "has no rules") {
			t.Errorf("expected only the compile error, got %v", got)
		}
	})

	t.Run("publish_keeps_captured_set", func(t *testing.T) {
		reg := eligibility.NewRegistry(nil)
		testutil.AssertNoError(t, reg.Publish(ctx, mustParse(t, doc("1"))))
		captured := reg.All()

		testutil.AssertNoError(t, reg.Publish(ctx, mustParse(t, doc("2"))))
		if len(captured) != 1 {
			t.Errorf("captured listing changed after publish: %d", len(captured))
		}
		if reg.Len() != 2 {
			t.Errorf("expected 2 versions, got %d", reg.Len())
		}
	})

	t.Run("resolve_missing", func(t *testing.T) {
		reg := eligibility.NewRegistry(nil)
		_, err := reg.Resolve(tfsa, "")
		if !eligibility.IsNotFound(err) {
			t.Errorf("expected not found, got %v", err)
		}
	})
}

func TestGormStore(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.TeardownTestDB(t, db)
	ctx := context.Background()

	store := eligibility.NewGormStore(db)
	reg := eligibility.NewRegistry(store)
	defaults, err := eligibility.Defaults()
	testutil.AssertNoError(t, err)
	added, err := reg.Load(ctx, defaults)
	testutil.AssertNoError(t, err)
	if added != len(defaults) {
		t.Fatalf("expected %d published, got %d", len(defaults), added)
	}

	fresh := eligibility.NewRegistry(store)
	n, err := fresh.Reload(ctx)
	testutil.AssertNoError(t, err)
	if n != len(defaults) {
		t.Errorf("expected %d reloaded, got %d", len(defaults), n)
	}

	// Loading the defaults again must not write duplicates.
	again, err := fresh.Load(ctx, defaults)
	testutil.AssertNoError(t, err)
	if again != 0 {
		t.Errorf("expected no new versions, got %d", again)
	}

	rs, err := fresh.Resolve(tfsa, "")
	testutil.AssertNoError(t, err)
	inst := testutil.NewInstrument("STX40")
	if a := eligibility.Apply(rs, &inst, tfsa); a.Status != eligibility.StatusEligible {
		t.Errorf("expected reloaded rules to evaluate, got %s", a.Status)
	}
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"2025.1", "2025.1", 0},
		{"2025.10", "2025.9", 1},
		{"v1.2", "v1.10", -1},
		{"2025.1", "2025.1.1", -1},
		{"2025.1-rc", "2025.1-rd", -1},
	}
	for _, tt := range tests {
		if got := eligibility.CompareVersions(tt.a, tt.b); got != tt.want {
			t.Errorf("CompareVersions(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
