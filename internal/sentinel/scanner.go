// Package sentinel provides compliance and intent scanning of
// collector-debtor interaction text.
package sentinel

import (
	"context"
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Scanner classifies interaction text for compliance risk and debtor intent.
// Implementations must always return a result satisfying the Compliance
// contract; the rule-based scanner is the baseline, the enriched scanner a
// drop-in substitute with the same output shape.
type Scanner interface {
	Scan(ctx context.Context, text string) (*domain.Compliance, error)
}

// Banned phrases. Any match forces CRITICAL risk regardless of sentiment.
var bannedPhrases = []string{
	"jail", "police", "arrest", "warrant", // false legal threats
	"stupid", "idiot", "liar", // personal insults
	"immediately or else", // aggressive ultimatums
	"ruin your credit",    // specific FDCPA violations
}

// Intent keyword lists. Evaluation order is significant: refusal wins over
// promise-to-pay phrasing, dispute overrides it as well.
var (
	refusalPhrases = []string{
		"refuse", "won't pay", "will not pay", "not paying",
		"never pay", "can't pay", "cannot pay",
	}
	disputePhrases = []string{
		"dispute", "billing error", "incorrect invoice", "wrong amount",
		"already paid", "never received",
	}
	ptpPhrases = []string{
		"promise to pay", "will pay", "i'll pay", "pay by",
		"payment plan", "settle", "set up a plan",
	}
)

// refusalSentiment is the compound score forced onto refusal interactions.
const refusalSentiment = -0.6

// ptpSentimentFloor is the negativity floor below which payment-commitment
// phrasing is not trusted as a promise to pay.
const ptpSentimentFloor = -0.3

// RuleBased is the local keyword-and-lexicon scanner. Pure and safe for
// concurrent use.
type RuleBased struct{}

// NewRuleBased creates the rule-based scanner.
func NewRuleBased() *RuleBased {
	return &RuleBased{}
}

// Scan analyzes an interaction for compliance risk and debtor intent.
func (s *RuleBased) Scan(ctx context.Context, text string) (*domain.Compliance, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: interaction text is empty", domain.ErrInvalidInput)
	}

	lower := strings.ToLower(text)

	// 1. Keyword guardrail.
	var flags []string
	for _, phrase := range bannedPhrases {
		if strings.Contains(lower, phrase) {
			flags = append(flags, fmt.Sprintf("VIOLATION_KEYWORD: '%s'", phrase))
		}
	}

	// 2. Sentiment guardrail.
	sentiment := compoundSentiment(text)

	risk := domain.RiskLow
	switch {
	case len(flags) > 0:
		risk = domain.RiskCritical // banned words auto-fail
	case sentiment < -0.5:
		risk = domain.RiskHigh // hostile tone
	case sentiment < -0.1:
		risk = domain.RiskMedium // negative tone
	}

	// 3. Intent classification. Refusal is checked first and always wins;
	// dispute overrides promise-to-pay phrasing.
	intent := domain.IntentGeneral
	switch {
	case containsAny(lower, refusalPhrases):
		intent = domain.IntentRefusal
		sentiment = refusalSentiment
	case containsAny(lower, disputePhrases):
		intent = domain.IntentDispute
	case containsAny(lower, ptpPhrases) && sentiment >= ptpSentimentFloor:
		intent = domain.IntentPTP
	}

	recommendation := domain.AuditAutoApprove
	if risk == domain.RiskHigh || risk == domain.RiskCritical {
		recommendation = domain.AuditHumanReview
	}

	return &domain.Compliance{
		RiskLevel:           risk,
		SentimentScore:      sentiment,
		Intent:              intent,
		ViolationFlags:      flags,
		AuditRecommendation: recommendation,
	}, nil
}

func containsAny(lower string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
