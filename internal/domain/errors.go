package domain

import (
	"errors"
)

// Error kinds surfaced by the core. InvalidInput, InvalidTransition and
// InvalidPayment reject atomically with no partial mutation.
// EnrichmentUnavailable is always recovered locally via the rule-based
// scanner and is never surfaced to callers as a failure.
var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrInvalidPayment        = errors.New("invalid payment")
	ErrNotFound              = errors.New("record not found")
	ErrEnrichmentUnavailable = errors.New("enrichment unavailable")
)
