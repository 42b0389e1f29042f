package rules

import (
	"context"
	"fmt"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine(5)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount())
	}
}

func TestLoadRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	rule := &domain.ReviewRule{
		ID:             "high-value-low-probability",
		Name:           "High Value Low Probability",
		Expression:     "amount > 10000.0 && probability < 0.3",
		Recommendation: "Route to senior legal review",
		Enabled:        true,
	}

	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	if engine.RulesCount() != 1 {
		t.Errorf("expected 1 rule, got %d", engine.RulesCount())
	}
}

func TestLoadInvalidRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	rule := &domain.ReviewRule{
		ID:         "invalid-rule",
		Name:       "Invalid Rule",
		Expression: "this is not valid CEL !!!",
		Enabled:    true,
	}

	if err := engine.LoadRule(rule); err == nil {
		t.Error("expected error for invalid CEL expression")
	}
}

func TestLoadNonBoolRule(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	rule := &domain.ReviewRule{
		ID:         "non-bool",
		Name:       "Non Bool",
		Expression: "amount * 2.0",
		Enabled:    true,
	}

	if err := engine.LoadRule(rule); err == nil {
		t.Error("expected error for non-bool expression")
	}
}

func TestEvaluateCase(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	rule := &domain.ReviewRule{
		ID:             "dispute-review",
		Name:           "Dispute Review",
		Expression:     `intent == "DISPUTE" && amount > 1000.0`,
		Recommendation: "Verify billing records before further contact",
		Enabled:        true,
	}
	if err := engine.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	c := &domain.Case{
		ID:          "case-001",
		TenantID:    "tenant-001",
		Amount:      5000.0,
		Probability: 0.4,
		Status:      domain.StatusInProgress,
		RiskLevel:   domain.RiskLow,
		AgeDays:     30,
	}
	ev := &domain.InteractionEvent{
		Intent:         domain.IntentDispute,
		SentimentScore: -0.2,
	}

	results, err := engine.EvaluateCase(context.Background(), c, ev)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if !results[0].Triggered {
		t.Error("expected rule to trigger")
	}
	if results[0].Recommendation != rule.Recommendation {
		t.Errorf("recommendation = %q, want %q", results[0].Recommendation, rule.Recommendation)
	}

	// Same case, non-dispute interaction: rule does not trigger.
	ev.Intent = domain.IntentGeneral
	results, _ = engine.EvaluateCase(context.Background(), c, ev)
	if results[0].Triggered {
		t.Error("expected rule not to trigger for GENERAL intent")
	}
}

func TestEvaluateCaseNoRules(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	c := &domain.Case{ID: "case-001", TenantID: "tenant-001"}
	results, err := engine.EvaluateCase(context.Background(), c, nil)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if results != nil {
		t.Errorf("expected nil results with no rules, got %v", results)
	}
}

func TestEvaluateManyRulesParallel(t *testing.T) {
	engine, _ := NewEngine(4)
	defer engine.Close()

	for i := 0; i < 20; i++ {
		rule := &domain.ReviewRule{
			ID:             fmt.Sprintf("rule-%02d", i),
			Name:           "Probability Floor",
			Expression:     "probability < 0.5",
			Recommendation: "Review allocation",
			Enabled:        true,
		}
		if err := engine.LoadRule(rule); err != nil {
			t.Fatalf("failed to load rule %d: %v", i, err)
		}
	}

	c := &domain.Case{ID: "case-001", TenantID: "tenant-001", Probability: 0.2}
	results, err := engine.EvaluateCase(context.Background(), c, nil)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if len(results) != 20 {
		t.Fatalf("expected 20 results, got %d", len(results))
	}
	for _, r := range results {
		if !r.Triggered {
			t.Errorf("rule %s did not trigger", r.RuleID)
		}
	}
}

func TestReloadRules(t *testing.T) {
	engine, _ := NewEngine(5)
	defer engine.Close()

	first := &domain.ReviewRule{
		ID: "r1", Name: "r1", Expression: "probability < 0.5", Enabled: true,
	}
	engine.LoadRule(first)

	replacement := []*domain.ReviewRule{
		{ID: "r2", Name: "r2", Expression: "violations > 0", Recommendation: "Escalate", Enabled: true},
		{ID: "r3", Name: "r3", Expression: "age_days > 90", Recommendation: "Write-off candidate", Enabled: true},
		{ID: "r4", Name: "r4", Expression: "true", Enabled: false}, // disabled, skipped
	}

	if err := engine.ReloadRules(replacement); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if engine.RulesCount() != 2 {
		t.Errorf("expected 2 rules after reload, got %d", engine.RulesCount())
	}

	for _, r := range engine.GetLoadedRules() {
		if r.ID == "r1" {
			t.Error("old rule survived reload")
		}
	}
}
