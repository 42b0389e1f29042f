// Package lifecycle owns the case state machine: validated manual
// transitions, automatic transitions driven by interaction scans and
// payments, and the append-only status audit trail.
package lifecycle

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// TransitionTable maps each status to the set of statuses it may move to.
type TransitionTable map[domain.Status][]domain.Status

// DefaultTransitions returns the standard case transition table.
// CLOSED is terminal.
func DefaultTransitions() TransitionTable {
	return TransitionTable{
		domain.StatusPending:     {domain.StatusInProgress, domain.StatusClosed},
		domain.StatusInProgress:  {domain.StatusUnderReview, domain.StatusResolved, domain.StatusClosed, domain.StatusEscalated},
		domain.StatusUnderReview: {domain.StatusInProgress, domain.StatusResolved, domain.StatusEscalated},
		domain.StatusResolved:    {domain.StatusClosed},
		domain.StatusEscalated:   {domain.StatusUnderReview, domain.StatusClosed},
		domain.StatusClosed:      {},
	}
}

// Allowed reports whether the table permits moving from one status to another.
func (t TransitionTable) Allowed(from, to domain.Status) bool {
	for _, s := range t[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Reasons for automatic transitions.
const (
	ReasonFirstInteraction  = "first interaction logged"
	ReasonPromiseToPay      = "promise to pay detected"
	ReasonCriticalViolation = "critical compliance violation detected"
	ReasonPaymentReceived   = "payment received"
	ReasonPartialPayment    = "partial payment received"
)
