package domain

// AllocationAction is a work-channel decision for a case.
type AllocationAction string

const (
	AllocateDigital AllocationAction = "ALLOCATE_DIGITAL"
	AllocateAgency  AllocationAction = "ALLOCATE_AGENCY"
	AllocateLegal   AllocationAction = "ALLOCATE_LEGAL"
)

// AllocationDecision maps a recovery probability to a work channel.
// Derived value, recomputed whenever the probability changes; never
// persisted as state.
type AllocationDecision struct {
	Action AllocationAction `json:"action"`
	Target string           `json:"target"`
	Reason string           `json:"reason"`
}
