// Package contact enforces the contact-frequency policy: how many times a
// case may be touched inside a rolling window before further outreach is
// flagged for review.
package contact

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Guard counts recent interactions for a case against a configured limit.
type Guard struct {
	repo        domain.Repository
	cache       domain.Cache
	maxContacts int
	window      time.Duration
}

// NewGuard creates a guard. The repository is the source of truth; the cache,
// when present, maintains an approximate rolling counter for read paths that
// cannot afford a database round trip.
func NewGuard(repo domain.Repository, cache domain.Cache, cfg domain.ContactConfig) *Guard {
	if cfg.MaxContacts <= 0 {
		cfg.MaxContacts = 7
	}
	if cfg.WindowSecs <= 0 {
		cfg.WindowSecs = 7 * 24 * 3600
	}
	return &Guard{
		repo:        repo,
		cache:       cache,
		maxContacts: cfg.MaxContacts,
		window:      time.Duration(cfg.WindowSecs) * time.Second,
	}
}

// Limit returns the configured maximum contacts per window.
func (g *Guard) Limit() int {
	return g.maxContacts
}

// Window returns the rolling window length.
func (g *Guard) Window() time.Duration {
	return g.window
}

// ContactCount returns the number of interactions recorded for the case
// within the rolling window.
func (g *Guard) ContactCount(ctx context.Context, tenantID, caseID string) (int64, error) {
	if tenantID == "" || caseID == "" {
		return 0, fmt.Errorf("%w: tenantID and caseID are required", domain.ErrInvalidInput)
	}

	since := time.Now().UTC().Add(-g.window)

	if g.repo != nil {
		count, err := g.repo.CountInteractionsSince(ctx, tenantID, caseID, since)
		if err != nil {
			return 0, fmt.Errorf("failed to count interactions: %w", err)
		}
		return count, nil
	}

	return 0, fmt.Errorf("no data source available")
}

// RecordContact bumps the cached rolling counter for the case and returns the
// new approximate count. No-op returning 0 when no cache is attached; the
// database count stays authoritative either way.
func (g *Guard) RecordContact(ctx context.Context, tenantID, caseID string) (int64, error) {
	if g.cache == nil {
		return 0, nil
	}
	return g.cache.IncrementCounter(ctx, tenantID, "contact:"+caseID, g.window)
}
