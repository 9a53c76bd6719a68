package insights

import (
	"testing"

	"github.com/notenetra/creditscore/internal/domain"
)

func newLoadedEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(2)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if err := engine.ReloadRules(DefaultRules()); err != nil {
		t.Fatalf("failed to load default rules: %v", err)
	}
	return engine
}

func ids(insights []domain.Insight) []string {
	out := make([]string, len(insights))
	for i, in := range insights {
		out[i] = in.RuleID
	}
	return out
}

func TestDefaultRulesCompile(t *testing.T) {
	engine := newLoadedEngine(t)
	defer engine.Close()

	if got, want := engine.RulesCount(), len(DefaultRules()); got != want {
		t.Errorf("expected %d rules, got %d", want, got)
	}
}

func TestEvaluateHealthyResult(t *testing.T) {
	engine := newLoadedEngine(t)
	defer engine.Close()

	r := domain.ScoreResult{
		RawScore:        0.95,
		NormalizedScore: 870,
		Tier:            domain.TierExcellent,
		Features:        domain.FeatureSet{Consistency: 0.9, Growth: 1, Diversity: 0.98, Timing: 0.9},
		Evidence:        domain.Evidence{Transactions: 150, Credits: 150, Months: 12, Channels: 3, CollectionDays: 52, SubPeriods: 53},
	}

	if got := engine.Evaluate(r); len(got) != 0 {
		t.Errorf("expected no insights, got %v", ids(got))
	}
}

func TestEvaluateNeverNil(t *testing.T) {
	t.Run("no rules loaded", func(t *testing.T) {
		engine, err := NewEngine(2)
		if err != nil {
			t.Fatalf("failed to create engine: %v", err)
		}
		defer engine.Close()

		got := engine.Evaluate(domain.ScoreResult{NormalizedScore: 300, Tier: domain.TierPoor})
		if got == nil {
			t.Fatal("expected empty slice, got nil")
		}
		if len(got) != 0 {
			t.Errorf("expected no insights, got %v", ids(got))
		}
	})

	t.Run("no rule fires", func(t *testing.T) {
		engine := newLoadedEngine(t)
		defer engine.Close()

		got := engine.Evaluate(domain.ScoreResult{
			RawScore:        0.95,
			NormalizedScore: 870,
			Tier:            domain.TierExcellent,
			Features:        domain.FeatureSet{Consistency: 0.9, Growth: 1, Diversity: 0.98, Timing: 0.9},
			Evidence:        domain.Evidence{Transactions: 150, Credits: 150, Months: 12, Channels: 3, CollectionDays: 52, SubPeriods: 53},
		})
		if got == nil {
			t.Fatal("expected empty slice, got nil")
		}
		if len(got) != 0 {
			t.Errorf("expected no insights, got %v", ids(got))
		}
	})
}

func TestEvaluateLumpSum(t *testing.T) {
	engine := newLoadedEngine(t)
	defer engine.Close()

	r := domain.ScoreResult{
		NormalizedScore:  300,
		Tier:             domain.TierPoor,
		Evidence:         domain.Evidence{Transactions: 1, Credits: 1, Months: 1, Channels: 1, CollectionDays: 1, SubPeriods: 1},
		InsufficientData: true,
		Unmeasured:       []string{"consistency", "growth", "timing"},
	}

	got := ids(engine.Evaluate(r))
	want := []string{domain.InsightInsufficientData, domain.InsightSingleChannel}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("insight %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestEvaluateOrdering(t *testing.T) {
	engine := newLoadedEngine(t)
	defer engine.Close()

	r := domain.ScoreResult{
		NormalizedScore: 420,
		Tier:            domain.TierPoor,
		Features:        domain.FeatureSet{Consistency: 0.2, Growth: 0.1, Diversity: 0.1, Timing: 0.2},
		Evidence:        domain.Evidence{Transactions: 40, Months: 3, Channels: 2, CollectionDays: 10, SubPeriods: 12},
	}

	got := ids(engine.Evaluate(r))
	want := []string{
		domain.InsightFlatGrowth,
		domain.InsightLowConsistency,
		domain.InsightSlowCollections,
		domain.InsightSingleChannel,
	}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("insight %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestCustomRule(t *testing.T) {
	engine := newLoadedEngine(t)
	defer engine.Close()

	rule := &domain.InsightRule{
		ID:         "near-excellent",
		Name:       "Almost excellent",
		Expression: `tier == "Good" && score >= 720`,
		Message:    "A little more growth moves this merchant to Excellent.",
		Severity:   domain.SeverityInfo,
		Enabled:    true,
	}
	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	r := domain.ScoreResult{
		NormalizedScore: 730,
		Tier:            domain.TierGood,
		Features:        domain.FeatureSet{Consistency: 0.9, Growth: 0.6, Diversity: 0.9, Timing: 0.9},
		Evidence:        domain.Evidence{Transactions: 100, Months: 6, Channels: 3, CollectionDays: 26, SubPeriods: 27},
	}
	got := ids(engine.Evaluate(r))
	if len(got) != 1 || got[0] != "near-excellent" {
		t.Errorf("expected [near-excellent], got %v", got)
	}
}

func TestValidateRule(t *testing.T) {
	engine, _ := NewEngine(0)
	defer engine.Close()

	tests := []struct {
		name    string
		rule    *domain.InsightRule
		wantErr bool
	}{
		{"nil", nil, true},
		{"missing id", &domain.InsightRule{Expression: "true"}, true},
		{"syntax", &domain.InsightRule{ID: "x", Expression: "growth >"}, true},
		{"non bool", &domain.InsightRule{ID: "x", Expression: "growth * 2.0"}, true},
		{"unknown variable", &domain.InsightRule{ID: "x", Expression: "velocity_count > 3"}, true},
		{"valid", &domain.InsightRule{ID: "x", Expression: "months >= 6 && growth > 0.5"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := engine.ValidateRule(tt.rule)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRule() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if engine.RulesCount() != 0 {
		t.Error("validation must not load rules")
	}
}

func TestReloadKeepsPreviousOnError(t *testing.T) {
	engine := newLoadedEngine(t)
	defer engine.Close()

	bad := []*domain.InsightRule{{ID: "broken", Expression: "nope(", Enabled: true}}
	if err := engine.ReloadRules(bad); err == nil {
		t.Fatal("expected compile error")
	}
	if engine.RulesCount() != len(DefaultRules()) {
		t.Errorf("expected previous rules to survive, got %d", engine.RulesCount())
	}

	disabled := []*domain.InsightRule{{ID: "off", Expression: "true", Enabled: false}}
	if err := engine.ReloadRules(disabled); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if engine.RulesCount() != 0 {
		t.Errorf("disabled rules must not load, got %d", engine.RulesCount())
	}
}
