package domain

import (
	"time"
)

// Intent is the debtor intent detected in an interaction.
type Intent string

const (
	IntentGeneral Intent = "GENERAL"
	IntentPTP     Intent = "PTP" // promise to pay
	IntentDispute Intent = "DISPUTE"
	IntentRefusal Intent = "REFUSAL"
)

// Compliance is the result of scanning interaction text.
// Both the local rule-based scanner and any external enrichment produce
// values satisfying this contract.
type Compliance struct {
	RiskLevel           RiskLevel `json:"riskLevel"`
	SentimentScore      float64   `json:"sentimentScore"` // compound, -1..1
	Intent              Intent    `json:"intent"`
	ViolationFlags      []string  `json:"violationFlags"`
	AuditRecommendation string    `json:"auditRecommendation"` // "Human Review" or "Auto-Approve"
}

// Audit recommendation values.
const (
	AuditHumanReview = "Human Review"
	AuditAutoApprove = "Auto-Approve"
)

// InteractionEvent is a single collector-debtor interaction.
// Immutable once created; owned by the Case it references.
type InteractionEvent struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	CaseID   string `json:"caseId"`

	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`

	// ElapsedDay is the case age in whole days when the interaction was
	// logged. Stored explicitly at creation so probability recomputation
	// never has to derive it from record identifiers.
	ElapsedDay int `json:"elapsedDay"`

	// Derived classification
	RiskLevel      RiskLevel `json:"riskLevel"`
	SentimentScore float64   `json:"sentimentScore"`
	Intent         Intent    `json:"intent"`
	ViolationFlags []string  `json:"violationFlags"`
}

// BoostWeight derives the probability-boost weight this interaction
// contributes: base 1.0 + sentiment, +1.0 for a promise to pay, -2.0 for a
// critical compliance violation, floored at zero.
func (e *InteractionEvent) BoostWeight() float64 {
	w := 1.0 + e.SentimentScore
	if e.Intent == IntentPTP {
		w += 1.0
	}
	if e.RiskLevel == RiskCritical {
		w -= 2.0
	}
	if w < 0 {
		w = 0
	}
	return w
}
