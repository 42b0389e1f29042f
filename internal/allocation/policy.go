// Package allocation maps recovery probabilities to work channels.
package allocation

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Band thresholds. Boundary values belong to the agency band.
const (
	digitalThreshold = 0.70
	legalThreshold   = 0.30
)

// Policy decides how a case should be worked. Pure and total over [0,1].
type Policy struct{}

// NewPolicy creates an allocation policy.
func NewPolicy() *Policy {
	return &Policy{}
}

// Decide maps a probability to exactly one work-channel decision.
// p > 0.70 goes digital, 0.30 <= p <= 0.70 goes to a human agency,
// p < 0.30 goes to legal review.
func (p *Policy) Decide(probability float64) (*domain.AllocationDecision, error) {
	if probability < 0 || probability > 1 {
		return nil, fmt.Errorf("%w: probability %v outside [0,1]", domain.ErrInvalidInput, probability)
	}

	switch {
	case probability > digitalThreshold:
		return &domain.AllocationDecision{
			Action: domain.AllocateDigital,
			Target: "Email_Campaign_A",
			Reason: "High likelihood of self-cure.",
		}, nil

	case probability >= legalThreshold:
		return &domain.AllocationDecision{
			Action: domain.AllocateAgency,
			Target: "Agency_Alpha",
			Reason: "Requires human negotiation.",
		}, nil

	default:
		return &domain.AllocationDecision{
			Action: domain.AllocateLegal,
			Target: "Internal_Legal_Review",
			Reason: "Score below threshold for agency effort.",
		}, nil
	}
}
