package sentinel

import (
	"context"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Judge produces a richer compliance judgment from an external source,
// typically a hosted language model. The output must satisfy the same
// contract as the rule-based scanner.
type Judge interface {
	Judge(ctx context.Context, text string) (*domain.Compliance, error)
}

// Enriched wraps a Judge with a deadline and transparent fallback to the
// rule-based scanner. Enrichment failures are logged and recovered; they are
// never surfaced to the caller.
type Enriched struct {
	judge    Judge
	fallback *RuleBased
	timeout  time.Duration
}

// NewEnriched creates an enriched scanner. A zero timeout defaults to 5s.
func NewEnriched(judge Judge, timeout time.Duration) *Enriched {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Enriched{
		judge:    judge,
		fallback: NewRuleBased(),
		timeout:  timeout,
	}
}

// Scan asks the judge for an enriched judgment, falling back to the local
// rule-based result on failure, timeout, or a judgment that violates the
// output contract.
func (s *Enriched) Scan(ctx context.Context, text string) (*domain.Compliance, error) {
	jctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	judgment, err := s.judge.Judge(jctx, text)
	if err != nil {
		slog.Warn("enrichment unavailable, using rule-based scan",
			"error", err,
			"kind", domain.ErrEnrichmentUnavailable.Error(),
		)
		return s.fallback.Scan(ctx, text)
	}

	if err := validateJudgment(judgment); err != nil {
		slog.Warn("enrichment returned invalid judgment, using rule-based scan",
			"error", err,
		)
		return s.fallback.Scan(ctx, text)
	}

	return judgment, nil
}

// validateJudgment checks an external judgment against the Compliance
// contract before trusting it as a substitute for the local scan.
func validateJudgment(c *domain.Compliance) error {
	if c == nil {
		return domain.ErrEnrichmentUnavailable
	}
	switch c.RiskLevel {
	case domain.RiskSafe, domain.RiskLow, domain.RiskMedium, domain.RiskHigh, domain.RiskCritical:
	default:
		return domain.ErrEnrichmentUnavailable
	}
	if c.SentimentScore < -1 || c.SentimentScore > 1 {
		return domain.ErrEnrichmentUnavailable
	}
	switch c.Intent {
	case domain.IntentGeneral, domain.IntentPTP, domain.IntentDispute, domain.IntentRefusal:
	default:
		return domain.ErrEnrichmentUnavailable
	}
	if c.AuditRecommendation != domain.AuditHumanReview && c.AuditRecommendation != domain.AuditAutoApprove {
		return domain.ErrEnrichmentUnavailable
	}
	return nil
}
