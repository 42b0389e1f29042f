package domain

// ReviewRule defines an operator-configured case review rule.
// The expression is a CEL program evaluated against case variables
// (probability, amount, paid_amount, age_days, risk_level, intent, status)
// after each interaction; a triggered rule attaches a review recommendation
// to the result.
type ReviewRule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression; must evaluate to bool.
	Expression string `json:"expression"`

	// Recommendation attached when the rule triggers.
	Recommendation string `json:"recommendation"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// ReviewResult is the output of evaluating a review rule against a case.
type ReviewResult struct {
	RuleID         string `json:"ruleId"`
	TenantID       string `json:"tenantId"`
	CaseID         string `json:"caseId"`
	Triggered      bool   `json:"triggered"`
	Recommendation string `json:"recommendation,omitempty"`
	ProcessMs      int64  `json:"processMs"`
}
