package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetCaseSnapshot retrieves a cached case scoring snapshot.
	GetCaseSnapshot(ctx context.Context, tenantID string, caseID string) (*CaseSnapshot, error)

	// SetCaseSnapshot caches the latest scoring state for read paths.
	SetCaseSnapshot(ctx context.Context, tenantID string, caseID string, snap *CaseSnapshot, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used by the contact-frequency guard.
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CaseSnapshot holds the cached scoring state of a case for display paths.
type CaseSnapshot struct {
	CaseID      string           `json:"caseId"`
	Probability float64          `json:"probability"`
	RiskLevel   RiskLevel        `json:"riskLevel"`
	Status      Status           `json:"status"`
	Action      AllocationAction `json:"action"`
	UpdatedAt   string           `json:"updatedAt"`
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
