package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/allocation"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/probability"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/sentinel"
)

// ContactGuard tracks how many interactions a case has received within a
// rolling window, for the excessive-contact compliance check.
type ContactGuard interface {
	ContactCount(ctx context.Context, tenantID, caseID string) (int64, error)
	RecordContact(ctx context.Context, tenantID, caseID string) (int64, error)
	Limit() int
}

// Config holds lifecycle manager settings. The transition table is injected
// so tests can instantiate isolated managers; a nil table uses the default.
type Config struct {
	Transitions TransitionTable
}

// Manager drives cases through the lifecycle. Each mutating operation takes
// a case ID, acquires the per-case lock and loads the current row from the
// repository inside it, so concurrent requests for the same case apply as a
// strict sequence over fresh state. The pure components run lock-free and
// are shared across cases.
type Manager struct {
	engine  *probability.Engine
	policy  *allocation.Policy
	scanner sentinel.Scanner
	repo    domain.Repository
	table   TransitionTable

	// Optional collaborators
	bus     domain.EventBus
	cache   domain.Cache
	contact ContactGuard
	reviews *rules.Engine

	mu    sync.Mutex
	locks map[string]*caseLock
}

// NewManager creates a lifecycle manager. engine, policy, scanner and repo
// are required; the event bus, cache, contact guard and review-rule engine
// are attached via the With* setters.
func NewManager(cfg Config, engine *probability.Engine, policy *allocation.Policy, scanner sentinel.Scanner, repo domain.Repository) (*Manager, error) {
	if engine == nil || policy == nil || scanner == nil || repo == nil {
		return nil, fmt.Errorf("%w: engine, policy, scanner and repository are required", domain.ErrInvalidInput)
	}

	table := cfg.Transitions
	if table == nil {
		table = DefaultTransitions()
	}

	return &Manager{
		engine:  engine,
		policy:  policy,
		scanner: scanner,
		repo:    repo,
		table:   table,
		locks:   make(map[string]*caseLock),
	}, nil
}

// WithBus attaches an event bus for transition/alert events.
func (m *Manager) WithBus(bus domain.EventBus) *Manager {
	m.bus = bus
	return m
}

// WithCache attaches a cache for case scoring snapshots.
func (m *Manager) WithCache(cache domain.Cache) *Manager {
	m.cache = cache
	return m
}

// WithContactGuard attaches the contact-frequency guard.
func (m *Manager) WithContactGuard(g ContactGuard) *Manager {
	m.contact = g
	return m
}

// WithReviewRules attaches the CEL review-rule engine.
func (m *Manager) WithReviewRules(engine *rules.Engine) *Manager {
	m.reviews = engine
	return m
}

// caseLock serializes mutations for one case. refs counts holders and
// waiters so the map entry can be dropped once the last one releases.
type caseLock struct {
	mu   sync.Mutex
	refs int
}

// lockCase acquires the per-case mutex and returns its release func. Lock
// entries are reference counted and removed when idle, keeping the map
// bounded by in-flight requests rather than the lifetime case count.
func (m *Manager) lockCase(caseID string) func() {
	m.mu.Lock()
	l, ok := m.locks[caseID]
	if !ok {
		l = &caseLock{}
		m.locks[caseID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, caseID)
		}
		m.mu.Unlock()
	}
}

// InteractionResult is the outcome of processing one interaction.
type InteractionResult struct {
	Compliance     *domain.Compliance         `json:"compliance"`
	Interaction    *domain.InteractionEvent   `json:"interaction"`
	NewProbability float64                    `json:"newProbability"`
	NewStatus      domain.Status              `json:"newStatus"`
	Allocation     *domain.AllocationDecision `json:"allocation"`
	Reviews        []domain.ReviewResult      `json:"reviews,omitempty"`
	Transitions    int                        `json:"transitions"`
}

// ProcessInteraction scans interaction text, applies the automatic
// transition rules in order, recomputes the recovery probability over the
// full ordered interaction history, and re-evaluates allocation for display.
// The case is loaded inside the per-case lock so concurrent requests never
// act on a stale row. Exactly one history entry is appended per committed
// transition; an event that triggers no rule still recalculates probability
// without touching the audit trail.
func (m *Manager) ProcessInteraction(ctx context.Context, tenantID, caseID, text string) (*InteractionResult, error) {
	unlock := m.lockCase(caseID)
	defer unlock()

	c, err := m.repo.GetCase(ctx, tenantID, caseID)
	if err != nil {
		return nil, err
	}

	if c.Status == domain.StatusClosed {
		return nil, fmt.Errorf("%w: case %s is closed", domain.ErrInvalidTransition, c.ID)
	}

	// Scan first; an empty or invalid payload mutates nothing.
	compliance, err := m.scanner.Scan(ctx, text)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	event := &domain.InteractionEvent{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		CaseID:         c.ID,
		Text:           text,
		Timestamp:      now,
		ElapsedDay:     c.AgeDays,
		RiskLevel:      compliance.RiskLevel,
		SentimentScore: compliance.SentimentScore,
		Intent:         compliance.Intent,
		ViolationFlags: compliance.ViolationFlags,
	}

	// Excessive-contact guard. Failures here must not block the case; the
	// guard degrades to a no-op.
	if m.contact != nil {
		count, cerr := m.contact.ContactCount(ctx, tenantID, c.ID)
		if cerr != nil {
			slog.Warn("contact guard unavailable", "case_id", c.ID, "error", cerr)
		} else if limit := m.contact.Limit(); limit > 0 && count+1 > int64(limit) {
			event.ViolationFlags = append(event.ViolationFlags, "EXCESSIVE_CONTACT")
			event.RiskLevel = domain.MaxRisk(event.RiskLevel, domain.RiskHigh)
			compliance.ViolationFlags = event.ViolationFlags
			compliance.RiskLevel = event.RiskLevel
			compliance.AuditRecommendation = domain.AuditHumanReview
		}
	}

	// Recompute probability over the full ordered history, fallible steps
	// before any mutation.
	history, err := m.repo.ListInteractions(ctx, tenantID, c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load interaction history: %w", err)
	}
	history = append(history, event)

	boosts := make([]probability.Boost, 0, len(history))
	for _, ev := range history {
		boosts = append(boosts, probability.Boost{Day: ev.ElapsedDay, Weight: ev.BoostWeight()})
	}

	newProb, err := m.engine.Predict(c.InitialScore, c.AgeDays, boosts)
	if err != nil {
		return nil, err
	}

	// Commit point. Apply the automatic rules in order against the
	// evolving status; each fires at most once.
	var entries []*domain.StatusHistoryEntry

	if c.Status == domain.StatusPending {
		entries = append(entries, m.applyTransition(c, domain.StatusInProgress, domain.ActorSystem, ReasonFirstInteraction, true, now))
	}

	if event.Intent == domain.IntentPTP && c.Status == domain.StatusInProgress {
		entries = append(entries, m.applyTransition(c, domain.StatusUnderReview, domain.ActorSystem, ReasonPromiseToPay, true, now))
	}

	if event.RiskLevel == domain.RiskCritical {
		c.RiskLevel = domain.RiskCritical
		if c.Status == domain.StatusInProgress || c.Status == domain.StatusUnderReview {
			entries = append(entries, m.applyTransition(c, domain.StatusEscalated, domain.ActorSystem, ReasonCriticalViolation, true, now))
		}
	} else {
		c.RiskLevel = domain.MaxRisk(c.RiskLevel, event.RiskLevel)
	}

	c.Probability = newProb
	c.UpdatedAt = now

	decision, err := m.policy.Decide(newProb)
	if err != nil {
		return nil, err
	}

	if err := m.repo.SaveInteraction(ctx, tenantID, event); err != nil {
		return nil, fmt.Errorf("failed to save interaction: %w", err)
	}
	if err := m.repo.SaveCaseWithHistory(ctx, tenantID, c, entries); err != nil {
		return nil, fmt.Errorf("failed to commit case update: %w", err)
	}

	// Bump the rolling contact counter only after the interaction committed.
	if m.contact != nil {
		if _, cerr := m.contact.RecordContact(ctx, tenantID, c.ID); cerr != nil {
			slog.Warn("failed to record contact", "case_id", c.ID, "error", cerr)
		}
	}

	result := &InteractionResult{
		Compliance:     compliance,
		Interaction:    event,
		NewProbability: newProb,
		NewStatus:      c.Status,
		Allocation:     decision,
		Transitions:    len(entries),
	}

	// Review rules are advisory; evaluation problems are logged, not fatal.
	if m.reviews != nil {
		reviews, rerr := m.reviews.EvaluateCase(ctx, c, event)
		if rerr != nil {
			slog.Warn("review rule evaluation failed", "case_id", c.ID, "error", rerr)
		} else {
			result.Reviews = reviews
		}
	}

	m.publishTransitions(ctx, c, entries)
	m.updateSnapshot(ctx, c, decision.Action)

	return result, nil
}

// PaymentResult is the outcome of applying a payment.
type PaymentResult struct {
	NewStatus  domain.Status `json:"newStatus"`
	PaidAmount float64       `json:"paidAmount"`
	Remaining  float64       `json:"remaining"`
}

// ProcessPayment applies a payment to the case. A full payment resolves the
// case and stamps resolved_at exactly once; a partial payment on a pending
// case starts work. Overpayment and payment against a CLOSED or RESOLVED
// case fail with ErrInvalidPayment and mutate nothing. The balance check
// runs against the row loaded inside the per-case lock, so a replayed
// full-payment callback always sees the RESOLVED state and is rejected.
func (m *Manager) ProcessPayment(ctx context.Context, tenantID, caseID string, amount float64) (*PaymentResult, error) {
	unlock := m.lockCase(caseID)
	defer unlock()

	c, err := m.repo.GetCase(ctx, tenantID, caseID)
	if err != nil {
		return nil, err
	}

	if c.Status == domain.StatusClosed || c.Status == domain.StatusResolved {
		return nil, fmt.Errorf("%w: case %s is %s", domain.ErrInvalidPayment, c.ID, c.Status)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrInvalidPayment)
	}
	if amount > c.Remaining() {
		return nil, fmt.Errorf("%w: amount %.2f exceeds remaining balance %.2f", domain.ErrInvalidPayment, amount, c.Remaining())
	}

	now := time.Now().UTC()
	c.PaidAmount += amount
	c.UpdatedAt = now

	var entries []*domain.StatusHistoryEntry
	switch {
	case c.Remaining() < 1e-9:
		entries = append(entries, m.applyTransition(c, domain.StatusResolved, domain.ActorSystem, ReasonPaymentReceived, true, now))
	case c.Status == domain.StatusPending:
		entries = append(entries, m.applyTransition(c, domain.StatusInProgress, domain.ActorSystem, ReasonPartialPayment, true, now))
	}

	if err := m.repo.SaveCaseWithHistory(ctx, tenantID, c, entries); err != nil {
		return nil, fmt.Errorf("failed to commit case update: %w", err)
	}

	m.publishTransitions(ctx, c, entries)

	return &PaymentResult{
		NewStatus:  c.Status,
		PaidAmount: c.PaidAmount,
		Remaining:  c.Remaining(),
	}, nil
}

// TransitionResult is the outcome of a manual status change.
type TransitionResult struct {
	OldStatus domain.Status `json:"oldStatus"`
	NewStatus domain.Status `json:"newStatus"`
}

// RequestTransition performs a manual, table-validated status change. An
// invalid request fails with ErrInvalidTransition and mutates nothing; a
// failed commit leaves the persisted state untouched.
func (m *Manager) RequestTransition(ctx context.Context, tenantID, caseID string, to domain.Status, actor, reason string) (*TransitionResult, error) {
	if !domain.ValidStatus(to) {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, to)
	}
	if actor == "" {
		return nil, fmt.Errorf("%w: actor is required", domain.ErrInvalidInput)
	}

	unlock := m.lockCase(caseID)
	defer unlock()

	c, err := m.repo.GetCase(ctx, tenantID, caseID)
	if err != nil {
		return nil, err
	}

	if !m.table.Allowed(c.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, c.Status, to)
	}

	now := time.Now().UTC()
	from := c.Status
	entry := m.applyTransition(c, to, actor, reason, false, now)

	if err := m.repo.SaveCaseWithHistory(ctx, tenantID, c, []*domain.StatusHistoryEntry{entry}); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}

	m.publishTransitions(ctx, c, []*domain.StatusHistoryEntry{entry})

	return &TransitionResult{OldStatus: from, NewStatus: to}, nil
}

// applyTransition mutates the case status and builds the audit entry.
// resolved_at and closed_at are stamped once and never cleared.
func (m *Manager) applyTransition(c *domain.Case, to domain.Status, actor, reason string, auto bool, now time.Time) *domain.StatusHistoryEntry {
	entry := &domain.StatusHistoryEntry{
		ID:          uuid.New().String(),
		TenantID:    c.TenantID,
		CaseID:      c.ID,
		OldStatus:   c.Status,
		NewStatus:   to,
		Actor:       actor,
		Reason:      reason,
		AutoUpdated: auto,
		Timestamp:   now,
	}

	c.Status = to
	c.UpdatedAt = now
	if to == domain.StatusResolved && c.ResolvedAt == nil {
		t := now
		c.ResolvedAt = &t
	}
	if to == domain.StatusClosed && c.ClosedAt == nil {
		t := now
		c.ClosedAt = &t
	}

	return entry
}

// publishTransitions emits bus events for committed transitions. Publishing
// is best effort; failures are logged.
func (m *Manager) publishTransitions(ctx context.Context, c *domain.Case, entries []*domain.StatusHistoryEntry) {
	if m.bus == nil {
		return
	}

	for _, entry := range entries {
		payload, _ := json.Marshal(entry)
		if err := m.bus.Publish(ctx, c.TenantID, domain.TopicCaseTransition, payload); err != nil {
			slog.Error("failed to publish transition", "case_id", c.ID, "error", err)
		}

		switch entry.NewStatus {
		case domain.StatusEscalated:
			if err := m.bus.Publish(ctx, c.TenantID, domain.TopicCaseAlert, payload); err != nil {
				slog.Error("failed to publish alert", "case_id", c.ID, "error", err)
			}
		case domain.StatusResolved:
			if err := m.bus.Publish(ctx, c.TenantID, domain.TopicCaseResolved, payload); err != nil {
				slog.Error("failed to publish resolution", "case_id", c.ID, "error", err)
			}
		}
	}
}

// updateSnapshot refreshes the cached scoring snapshot. Best effort.
func (m *Manager) updateSnapshot(ctx context.Context, c *domain.Case, action domain.AllocationAction) {
	if m.cache == nil {
		return
	}

	snap := &domain.CaseSnapshot{
		CaseID:      c.ID,
		Probability: c.Probability,
		RiskLevel:   c.RiskLevel,
		Status:      c.Status,
		Action:      action,
		UpdatedAt:   c.UpdatedAt.Format(time.RFC3339),
	}
	if err := m.cache.SetCaseSnapshot(ctx, c.TenantID, c.ID, snap, 5*time.Minute); err != nil {
		slog.Warn("failed to cache case snapshot", "case_id", c.ID, "error", err)
	}
}
