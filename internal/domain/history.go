package domain

import (
	"time"
)

// Actor sentinels for system-initiated transitions.
const (
	ActorSystem = "SYSTEM"
	ActorAI     = "AI"
)

// StatusHistoryEntry is one record in a case's append-only audit trail.
// Exactly one entry is written per committed transition; entries are never
// mutated or deleted.
type StatusHistoryEntry struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	CaseID   string `json:"caseId"`

	OldStatus Status `json:"oldStatus"`
	NewStatus Status `json:"newStatus"`

	// Actor is a user identifier, or the SYSTEM/AI sentinel for automatic
	// transitions.
	Actor       string    `json:"actor"`
	Reason      string    `json:"reason,omitempty"`
	AutoUpdated bool      `json:"autoUpdated"`
	Timestamp   time.Time `json:"timestamp"`
}
