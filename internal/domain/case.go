// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"time"
)

// Status is a case lifecycle state.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusInProgress  Status = "IN_PROGRESS"
	StatusUnderReview Status = "UNDER_REVIEW"
	StatusResolved    Status = "RESOLVED"
	StatusEscalated   Status = "ESCALATED"
	StatusClosed      Status = "CLOSED"
)

// ValidStatus reports whether s is a known lifecycle state.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusUnderReview,
		StatusResolved, StatusEscalated, StatusClosed:
		return true
	}
	return false
}

// RiskLevel classifies compliance risk of an interaction or a case.
type RiskLevel string

const (
	RiskUnknown  RiskLevel = "UNKNOWN"
	RiskSafe     RiskLevel = "SAFE"
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// riskRank orders risk levels for max() comparisons.
var riskRank = map[RiskLevel]int{
	RiskUnknown:  0,
	RiskSafe:     1,
	RiskLow:      2,
	RiskMedium:   3,
	RiskHigh:     4,
	RiskCritical: 5,
}

// MaxRisk returns the more severe of two risk levels.
func MaxRisk(a, b RiskLevel) RiskLevel {
	if riskRank[a] >= riskRank[b] {
		return a
	}
	return b
}

// Case represents an overdue debt being worked through the recovery lifecycle.
type Case struct {
	// Core identifiers
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	// Debtor details
	DebtorName string `json:"debtorName"`

	// Financial details
	Amount     float64 `json:"amount"`
	PaidAmount float64 `json:"paidAmount"`
	Currency   string  `json:"currency"`

	// Scoring inputs
	InitialScore float64 `json:"initialScore"` // debtor's prior credit/trust estimate, 0-1
	AgeDays      int     `json:"ageDays"`      // days overdue

	// Derived state
	Probability float64   `json:"probability"` // last computed recovery probability
	RiskLevel   RiskLevel `json:"riskLevel"`
	Status      Status    `json:"status"`

	// Temporal
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
	ClosedAt   *time.Time `json:"closedAt,omitempty"`

	// Optional metadata
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Remaining returns the unpaid balance.
func (c *Case) Remaining() float64 {
	return c.Amount - c.PaidAmount
}

// CaseRequest is the API request payload for case creation.
type CaseRequest struct {
	TenantID     string                 `json:"tenantId"`
	DebtorName   string                 `json:"debtorName"`
	Amount       float64                `json:"amount"`
	Currency     string                 `json:"currency"`
	InitialScore float64                `json:"initialScore"`
	AgeDays      int                    `json:"ageDays"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// ToCase converts a request to a Case domain object in its initial state.
func (r *CaseRequest) ToCase() *Case {
	now := time.Now().UTC()
	return &Case{
		TenantID:     r.TenantID,
		DebtorName:   r.DebtorName,
		Amount:       r.Amount,
		Currency:     r.Currency,
		InitialScore: r.InitialScore,
		AgeDays:      r.AgeDays,
		Probability:  0.0,
		RiskLevel:    RiskUnknown,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
		Metadata:     r.Metadata,
	}
}
