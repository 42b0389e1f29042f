package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Case operations
	SaveCase(ctx context.Context, tenantID string, c *Case) error
	GetCase(ctx context.Context, tenantID string, caseID string) (*Case, error)
	ListCases(ctx context.Context, tenantID string) ([]*Case, error)

	// Interaction operations. Interactions are immutable; there is no update.
	SaveInteraction(ctx context.Context, tenantID string, ev *InteractionEvent) error
	ListInteractions(ctx context.Context, tenantID string, caseID string) ([]*InteractionEvent, error)
	CountInteractionsSince(ctx context.Context, tenantID string, caseID string, since time.Time) (int64, error)

	// Status history. Append-only audit log.
	AppendHistory(ctx context.Context, tenantID string, entry *StatusHistoryEntry) error
	ListHistory(ctx context.Context, tenantID string, caseID string) ([]*StatusHistoryEntry, error)

	// SaveCaseWithHistory persists the case and its audit entries atomically.
	// Either the new case state and every entry land together, or nothing
	// changes.
	SaveCaseWithHistory(ctx context.Context, tenantID string, c *Case, entries []*StatusHistoryEntry) error

	// Review rule configuration operations
	SaveReviewRule(ctx context.Context, tenantID string, rule *ReviewRule) error
	GetReviewRule(ctx context.Context, tenantID string, ruleID string) (*ReviewRule, error)
	ListReviewRules(ctx context.Context, tenantID string) ([]*ReviewRule, error)
	DeleteReviewRule(ctx context.Context, tenantID string, ruleID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
