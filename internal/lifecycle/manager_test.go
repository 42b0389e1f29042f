package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/allocation"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/probability"
	"github.com/opensource-finance/kestrel/internal/sentinel"
)

// fakeRepo is an in-memory Repository for manager tests. GetCase returns a
// copy of the stored row, the same way a SQL scan produces an independent
// struct per request.
type fakeRepo struct {
	cases        map[string]*domain.Case
	interactions map[string][]*domain.InteractionEvent
	history      map[string][]*domain.StatusHistoryEntry
	saveCaseErr  error
	historyErr   error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		cases:        make(map[string]*domain.Case),
		interactions: make(map[string][]*domain.InteractionEvent),
		history:      make(map[string][]*domain.StatusHistoryEntry),
	}
}

func (r *fakeRepo) SaveCase(_ context.Context, _ string, c *domain.Case) error {
	if r.saveCaseErr != nil {
		return r.saveCaseErr
	}
	cp := *c
	r.cases[c.ID] = &cp
	return nil
}

func (r *fakeRepo) GetCase(_ context.Context, _ string, caseID string) (*domain.Case, error) {
	c, ok := r.cases[caseID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *fakeRepo) ListCases(_ context.Context, _ string) ([]*domain.Case, error) {
	var out []*domain.Case
	for _, c := range r.cases {
		out = append(out, c)
	}
	return out, nil
}

func (r *fakeRepo) SaveInteraction(_ context.Context, _ string, ev *domain.InteractionEvent) error {
	r.interactions[ev.CaseID] = append(r.interactions[ev.CaseID], ev)
	return nil
}

func (r *fakeRepo) ListInteractions(_ context.Context, _ string, caseID string) ([]*domain.InteractionEvent, error) {
	return r.interactions[caseID], nil
}

func (r *fakeRepo) CountInteractionsSince(_ context.Context, _ string, caseID string, since time.Time) (int64, error) {
	var n int64
	for _, ev := range r.interactions[caseID] {
		if !ev.Timestamp.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) AppendHistory(_ context.Context, _ string, entry *domain.StatusHistoryEntry) error {
	if r.historyErr != nil {
		return r.historyErr
	}
	r.history[entry.CaseID] = append(r.history[entry.CaseID], entry)
	return nil
}

// SaveCaseWithHistory mirrors the SQL implementation's atomicity: on any
// injected failure neither the case nor the entries are applied.
func (r *fakeRepo) SaveCaseWithHistory(_ context.Context, _ string, c *domain.Case, entries []*domain.StatusHistoryEntry) error {
	if r.saveCaseErr != nil {
		return r.saveCaseErr
	}
	if r.historyErr != nil {
		return r.historyErr
	}
	cp := *c
	r.cases[c.ID] = &cp
	r.history[c.ID] = append(r.history[c.ID], entries...)
	return nil
}

func (r *fakeRepo) ListHistory(_ context.Context, _ string, caseID string) ([]*domain.StatusHistoryEntry, error) {
	return r.history[caseID], nil
}

func (r *fakeRepo) SaveReviewRule(_ context.Context, _ string, _ *domain.ReviewRule) error {
	return nil
}

func (r *fakeRepo) GetReviewRule(_ context.Context, _ string, _ string) (*domain.ReviewRule, error) {
	return nil, domain.ErrNotFound
}

func (r *fakeRepo) ListReviewRules(_ context.Context, _ string) ([]*domain.ReviewRule, error) {
	return nil, nil
}

func (r *fakeRepo) DeleteReviewRule(_ context.Context, _ string, _ string) error { return nil }
func (r *fakeRepo) Ping(_ context.Context) error                                 { return nil }
func (r *fakeRepo) Close() error                                                 { return nil }

func newTestManager(t *testing.T, repo domain.Repository) *Manager {
	t.Helper()
	engine := probability.NewEngine(domain.EngineConfig{})
	policy := allocation.NewPolicy()
	m, err := NewManager(Config{}, engine, policy, sentinel.NewRuleBased(), repo)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	return m
}

func newTestCase(status domain.Status) *domain.Case {
	now := time.Now().UTC()
	return &domain.Case{
		ID:           "case-001",
		TenantID:     "tenant-001",
		DebtorName:   "Acme Corp",
		Amount:       5000.0,
		Currency:     "USD",
		InitialScore: 0.8,
		AgeDays:      10,
		Probability:  0.8,
		RiskLevel:    domain.RiskUnknown,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func seedCase(t *testing.T, repo *fakeRepo, status domain.Status) *domain.Case {
	t.Helper()
	c := newTestCase(status)
	if err := repo.SaveCase(context.Background(), c.TenantID, c); err != nil {
		t.Fatalf("failed to seed case: %v", err)
	}
	return c
}

func TestManagerRequiresDependencies(t *testing.T) {
	_, err := NewManager(Config{}, nil, nil, nil, nil)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestFirstInteractionStartsWork(t *testing.T) {
	repo := newFakeRepo()
	m := newTestManager(t, repo)
	c := seedCase(t, repo, domain.StatusPending)

	result, err := m.ProcessInteraction(context.Background(), c.TenantID, c.ID, "Hello, I wanted to ask about my account balance.")
	if err != nil {
		t.Fatalf("ProcessInteraction failed: %v", err)
	}

	if result.NewStatus != domain.StatusInProgress {
		t.Errorf("status = %s, want IN_PROGRESS", result.NewStatus)
	}
	if result.Transitions != 1 {
		t.Errorf("transitions = %d, want 1", result.Transitions)
	}
	if repo.cases[c.ID].Status != domain.StatusInProgress {
		t.Errorf("persisted status = %s, want IN_PROGRESS", repo.cases[c.ID].Status)
	}

	entries := repo.history[c.ID]
	if len(entries) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(entries))
	}
	if entries[0].OldStatus != domain.StatusPending || entries[0].NewStatus != domain.StatusInProgress {
		t.Errorf("history entry %s -> %s, want PENDING -> IN_PROGRESS", entries[0].OldStatus, entries[0].NewStatus)
	}
	if entries[0].Actor != domain.ActorSystem || !entries[0].AutoUpdated {
		t.Error("automatic transition must be recorded as SYSTEM auto-update")
	}
}

func TestUnknownCaseRejected(t *testing.T) {
	repo := newFakeRepo()
	m := newTestManager(t, repo)

	_, err := m.ProcessInteraction(context.Background(), "tenant-001", "no-such-case", "Hello.")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPromiseToPayChainsTwoTransitions(t *testing.T) {
	repo := newFakeRepo()
	m := newTestManager(t, repo)
	c := seedCase(t, repo, domain.StatusPending)

	// A promise to pay on a fresh case starts work and immediately moves
	// to review, producing two audit entries in one call.
	result, err := m.ProcessInteraction(context.Background(), c.TenantID, c.ID, "I promise to pay the full amount by Friday.")
	if err != nil {
		t.Fatalf("ProcessInteraction failed: %v", err)
	}

	if result.Compliance.Intent != domain.IntentPTP {
		t.Fatalf("intent = %s, want PROMISE_TO_PAY", result.Compliance.Intent)
	}
	if result.NewStatus != domain.StatusUnderReview {
		t.Errorf("status = %s, want UNDER_REVIEW", result.NewStatus)
	}
	if result.Transitions != 2 {
		t.Errorf("transitions = %d, want 2", result.Transitions)
	}

	entries := repo.history[c.ID]
	if len(entries) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(entries))
	}
	if entries[0].NewStatus != domain.StatusInProgress || entries[1].NewStatus != domain.StatusUnderReview {
		t.Errorf("entry chain %s, %s; want IN_PROGRESS, UNDER_REVIEW", entries[0].NewStatus, entries[1].NewStatus)
	}
	if entries[1].Reason != ReasonPromiseToPay {
		t.Errorf("reason = %q, want %q", entries[1].Reason, ReasonPromiseToPay)
	}
}

func TestCriticalViolationEscalates(t *testing.T) {
	repo := newFakeRepo()
	m := newTestManager(t, repo)
	c := seedCase(t, repo, domain.StatusInProgress)

	result, err := m.ProcessInteraction(context.Background(), c.TenantID, c.ID, "Pay now or we will send the police to arrest you.")
	if err != nil {
		t.Fatalf("ProcessInteraction failed: %v", err)
	}

	if result.Compliance.RiskLevel != domain.RiskCritical {
		t.Fatalf("risk = %s, want CRITICAL", result.Compliance.RiskLevel)
	}
	if result.NewStatus != domain.StatusEscalated {
		t.Errorf("status = %s, want ESCALATED", result.NewStatus)
	}
	if repo.cases[c.ID].RiskLevel != domain.RiskCritical {
		t.Errorf("persisted risk = %s, want CRITICAL", repo.cases[c.ID].RiskLevel)
	}
	if result.Compliance.AuditRecommendation != domain.AuditHumanReview {
		t.Errorf("recommendation = %q, want %q", result.Compliance.AuditRecommendation, domain.AuditHumanReview)
	}
}

func TestNoOpInteractionAppendsNoHistory(t *testing.T) {
	repo := newFakeRepo()
	m := newTestManager(t, repo)
	c := seedCase(t, repo, domain.StatusUnderReview)

	result, err := m.ProcessInteraction(context.Background(), c.TenantID, c.ID, "Thanks, just confirming I received your letter.")
	if err != nil {
		t.Fatalf("ProcessInteraction failed: %v", err)
	}

	if result.Transitions != 0 {
		t.Errorf("transitions = %d, want 0", result.Transitions)
	}
	if len(repo.history[c.ID]) != 0 {
		t.Errorf("expected no history entries, got %d", len(repo.history[c.ID]))
	}
	if result.NewStatus != domain.StatusUnderReview {
		t.Errorf("status = %s, want unchanged UNDER_REVIEW", result.NewStatus)
	}
	// Probability is still recalculated and persisted.
	if len(repo.interactions[c.ID]) != 1 {
		t.Errorf("expected interaction to be stored, got %d", len(repo.interactions[c.ID]))
	}
	if repo.cases[c.ID].Probability != result.NewProbability {
		t.Error("recalculated probability was not persisted")
	}
}

func TestClosedCaseRejectsInteractions(t *testing.T) {
	repo := newFakeRepo()
	m := newTestManager(t, repo)
	c := seedCase(t, repo, domain.StatusClosed)

	_, err := m.ProcessInteraction(context.Background(), c.TenantID, c.ID, "I will pay tomorrow.")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if len(repo.interactions[c.ID]) != 0 {
		t.Error("closed case must not record interactions")
	}
}

func TestEmptyTextMutatesNothing(t *testing.T) {
	repo := newFakeRepo()
	m := newTestManager(t, repo)
	c := seedCase(t, repo, domain.StatusPending)

	_, err := m.ProcessInteraction(context.Background(), c.TenantID, c.ID, "   ")
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if repo.cases[c.ID].Status != domain.StatusPending {
		t.Errorf("status changed to %s on invalid input", repo.cases[c.ID].Status)
	}
	if len(repo.interactions[c.ID]) != 0 || len(repo.history[c.ID]) != 0 {
		t.Error("invalid input must not persist anything")
	}
}

func TestFullPaymentResolvesCase(t *testing.T) {
	repo := newFakeRepo()
	m := newTestManager(t, repo)
	c := seedCase(t, repo, domain.StatusInProgress)

	result, err := m.ProcessPayment(context.Background(), c.TenantID, c.ID, 5000.0)
	if err != nil {
		t.Fatalf("ProcessPayment failed: %v", err)
	}

	if result.NewStatus != domain.StatusResolved {
		t.Errorf("status = %s, want RESOLVED", result.NewStatus)
	}
	if result.Remaining != 0 {
		t.Errorf("remaining = %.2f, want 0", result.Remaining)
	}
	if repo.cases[c.ID].ResolvedAt == nil {
		t.Error("resolved_at not stamped")
	}

	entries := repo.history[c.ID]
	if len(entries) != 1 || entries[0].Reason != ReasonPaymentReceived {
		t.Fatalf("expected one payment-received entry, got %+v", entries)
	}
}

func TestDuplicateFullPaymentRejected(t *testing.T) {
	repo := newFakeRepo()
	m := newTestManager(t, repo)
	c := seedCase(t, repo, domain.StatusInProgress)

	if _, err := m.ProcessPayment(context.Background(), c.TenantID, c.ID, 5000.0); err != nil {
		t.Fatalf("first payment failed: %v", err)
	}

	// Replayed payment callback: the case is already RESOLVED.
	_, err := m.ProcessPayment(context.Background(), c.TenantID, c.ID, 5000.0)
	if !errors.Is(err, domain.ErrInvalidPayment) {
		t.Errorf("expected ErrInvalidPayment, got %v", err)
	}
	if repo.cases[c.ID].PaidAmount != 5000.0 {
		t.Errorf("paid amount = %.2f, want 5000.00", repo.cases[c.ID].PaidAmount)
	}
	if len(repo.history[c.ID]) != 1 {
		t.Errorf("duplicate payment appended history, got %d entries", len(repo.history[c.ID]))
	}
}

func TestPartialPaymentStartsWork(t *testing.T) {
	repo := newFakeRepo()
	m := newTestManager(t, repo)
	c := seedCase(t, repo, domain.StatusPending)

	result, err := m.ProcessPayment(context.Background(), c.TenantID, c.ID, 1500.0)
	if err != nil {
		t.Fatalf("ProcessPayment failed: %v", err)
	}
	if result.NewStatus != domain.StatusInProgress {
		t.Errorf("status = %s, want IN_PROGRESS", result.NewStatus)
	}
	if result.Remaining != 3500.0 {
		t.Errorf("remaining = %.2f, want 3500.00", result.Remaining)
	}

	// Paying off the remainder resolves.
	result, err = m.ProcessPayment(context.Background(), c.TenantID, c.ID, 3500.0)
	if err != nil {
		t.Fatalf("second payment failed: %v", err)
	}
	if result.NewStatus != domain.StatusResolved {
		t.Errorf("status = %s, want RESOLVED", result.NewStatus)
	}
}

func TestPaymentValidation(t *testing.T) {
	tests := []struct {
		name   string
		status domain.Status
		amount float64
	}{
		{"zero amount", domain.StatusInProgress, 0},
		{"negative amount", domain.StatusInProgress, -100},
		{"overpayment", domain.StatusInProgress, 5000.01},
		{"closed case", domain.StatusClosed, 100},
		{"resolved case", domain.StatusResolved, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepo()
			m := newTestManager(t, repo)
			c := seedCase(t, repo, tt.status)

			_, err := m.ProcessPayment(context.Background(), c.TenantID, c.ID, tt.amount)
			if !errors.Is(err, domain.ErrInvalidPayment) {
				t.Errorf("expected ErrInvalidPayment, got %v", err)
			}
			if repo.cases[c.ID].PaidAmount != 0 {
				t.Errorf("rejected payment changed paid amount to %.2f", repo.cases[c.ID].PaidAmount)
			}
		})
	}
}

func TestManualTransitionValidation(t *testing.T) {
	t.Run("pending cannot resolve directly", func(t *testing.T) {
		repo := newFakeRepo()
		m := newTestManager(t, repo)
		c := seedCase(t, repo, domain.StatusPending)

		_, err := m.RequestTransition(context.Background(), c.TenantID, c.ID, domain.StatusResolved, "agent-7", "test")
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
		if repo.cases[c.ID].Status != domain.StatusPending {
			t.Errorf("status changed to %s on rejected transition", repo.cases[c.ID].Status)
		}
	})

	t.Run("closed is terminal", func(t *testing.T) {
		repo := newFakeRepo()
		m := newTestManager(t, repo)
		c := seedCase(t, repo, domain.StatusClosed)

		_, err := m.RequestTransition(context.Background(), c.TenantID, c.ID, domain.StatusPending, "agent-7", "reopen attempt")
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("unknown status", func(t *testing.T) {
		repo := newFakeRepo()
		m := newTestManager(t, repo)
		c := seedCase(t, repo, domain.StatusPending)

		_, err := m.RequestTransition(context.Background(), c.TenantID, c.ID, domain.Status("ARCHIVED"), "agent-7", "test")
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("missing actor", func(t *testing.T) {
		repo := newFakeRepo()
		m := newTestManager(t, repo)
		c := seedCase(t, repo, domain.StatusPending)

		_, err := m.RequestTransition(context.Background(), c.TenantID, c.ID, domain.StatusInProgress, "", "test")
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("unknown case", func(t *testing.T) {
		repo := newFakeRepo()
		m := newTestManager(t, repo)

		_, err := m.RequestTransition(context.Background(), "tenant-001", "no-such-case", domain.StatusInProgress, "agent-7", "test")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestManualTransitionRecorded(t *testing.T) {
	repo := newFakeRepo()
	m := newTestManager(t, repo)
	c := seedCase(t, repo, domain.StatusEscalated)

	result, err := m.RequestTransition(context.Background(), c.TenantID, c.ID, domain.StatusClosed, "supervisor-1", "written off")
	if err != nil {
		t.Fatalf("RequestTransition failed: %v", err)
	}

	if result.OldStatus != domain.StatusEscalated || result.NewStatus != domain.StatusClosed {
		t.Errorf("transition %s -> %s, want ESCALATED -> CLOSED", result.OldStatus, result.NewStatus)
	}
	if repo.cases[c.ID].ClosedAt == nil {
		t.Error("closed_at not stamped")
	}

	entries := repo.history[c.ID]
	if len(entries) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(entries))
	}
	if entries[0].Actor != "supervisor-1" || entries[0].AutoUpdated {
		t.Error("manual transition must record the requesting actor without the auto flag")
	}
}

func TestManualTransitionFailedCommitLeavesStateUntouched(t *testing.T) {
	repo := newFakeRepo()
	m := newTestManager(t, repo)
	c := seedCase(t, repo, domain.StatusInProgress)

	repo.saveCaseErr = errors.New("connection reset")
	_, err := m.RequestTransition(context.Background(), c.TenantID, c.ID, domain.StatusUnderReview, "agent-7", "test")
	if err == nil {
		t.Fatal("expected commit failure to propagate")
	}
	if repo.cases[c.ID].Status != domain.StatusInProgress {
		t.Errorf("persisted status = %s after failed commit, want IN_PROGRESS", repo.cases[c.ID].Status)
	}
	if len(repo.history[c.ID]) != 0 {
		t.Errorf("failed commit appended %d history entries", len(repo.history[c.ID]))
	}
}

func TestInteractionHistoryFailureLeavesCaseUnchanged(t *testing.T) {
	repo := newFakeRepo()
	m := newTestManager(t, repo)
	c := seedCase(t, repo, domain.StatusPending)

	// The case save and the audit append commit together; when the audit
	// write fails the case row must keep its old status.
	repo.historyErr = errors.New("disk full")
	_, err := m.ProcessInteraction(context.Background(), c.TenantID, c.ID, "Calling about the invoice.")
	if err == nil {
		t.Fatal("expected commit failure to propagate")
	}
	if repo.cases[c.ID].Status != domain.StatusPending {
		t.Errorf("persisted status = %s after failed commit, want PENDING", repo.cases[c.ID].Status)
	}
	if len(repo.history[c.ID]) != 0 {
		t.Errorf("failed commit appended %d history entries", len(repo.history[c.ID]))
	}
}

func TestProbabilityRecalculatedOverHistory(t *testing.T) {
	repo := newFakeRepo()
	m := newTestManager(t, repo)
	c := newTestCase(domain.StatusInProgress)
	c.InitialScore = 0.5
	c.AgeDays = 20
	if err := repo.SaveCase(context.Background(), c.TenantID, c); err != nil {
		t.Fatalf("failed to seed case: %v", err)
	}

	first, err := m.ProcessInteraction(context.Background(), c.TenantID, c.ID, "Calling about the outstanding invoice.")
	if err != nil {
		t.Fatalf("first interaction failed: %v", err)
	}

	// A positive promise adds a boost on top of the retained history, so the
	// score must not drop below a fresh single-event prediction.
	second, err := m.ProcessInteraction(context.Background(), c.TenantID, c.ID, "Great, I promise to pay and settle the balance.")
	if err != nil {
		t.Fatalf("second interaction failed: %v", err)
	}

	if second.NewProbability <= first.NewProbability {
		t.Errorf("probability %.4f after promise, want above %.4f", second.NewProbability, first.NewProbability)
	}
	if repo.cases[c.ID].Probability != second.NewProbability {
		t.Errorf("persisted probability %.4f not synced with result %.4f", repo.cases[c.ID].Probability, second.NewProbability)
	}
	if second.Allocation == nil {
		t.Fatal("allocation decision missing")
	}
}

// fixedGuard reports a constant contact count and records bumps.
type fixedGuard struct {
	count    int64
	limit    int
	err      error
	recorded int
}

func (g *fixedGuard) ContactCount(_ context.Context, _, _ string) (int64, error) {
	return g.count, g.err
}

func (g *fixedGuard) RecordContact(_ context.Context, _, _ string) (int64, error) {
	if g.err != nil {
		return 0, g.err
	}
	g.recorded++
	return g.count + int64(g.recorded), nil
}

func (g *fixedGuard) Limit() int { return g.limit }

func TestExcessiveContactFlagged(t *testing.T) {
	repo := newFakeRepo()
	m := newTestManager(t, repo).WithContactGuard(&fixedGuard{count: 7, limit: 7})
	c := seedCase(t, repo, domain.StatusInProgress)

	result, err := m.ProcessInteraction(context.Background(), c.TenantID, c.ID, "Following up on my last message.")
	if err != nil {
		t.Fatalf("ProcessInteraction failed: %v", err)
	}

	found := false
	for _, f := range result.Compliance.ViolationFlags {
		if f == "EXCESSIVE_CONTACT" {
			found = true
		}
	}
	if !found {
		t.Errorf("EXCESSIVE_CONTACT flag missing, flags = %v", result.Compliance.ViolationFlags)
	}
	if result.Compliance.RiskLevel != domain.RiskHigh {
		t.Errorf("risk = %s, want HIGH", result.Compliance.RiskLevel)
	}
	if result.Compliance.AuditRecommendation != domain.AuditHumanReview {
		t.Errorf("recommendation = %q, want %q", result.Compliance.AuditRecommendation, domain.AuditHumanReview)
	}
}

func TestContactRecordedAfterCommit(t *testing.T) {
	repo := newFakeRepo()
	guard := &fixedGuard{limit: 7}
	m := newTestManager(t, repo).WithContactGuard(guard)
	c := seedCase(t, repo, domain.StatusPending)

	if _, err := m.ProcessInteraction(context.Background(), c.TenantID, c.ID, "Checking in about the balance."); err != nil {
		t.Fatalf("ProcessInteraction failed: %v", err)
	}
	if guard.recorded != 1 {
		t.Errorf("recorded contacts = %d, want 1", guard.recorded)
	}

	// A rejected interaction must not bump the counter.
	repo.historyErr = errors.New("disk full")
	if _, err := m.ProcessInteraction(context.Background(), c.TenantID, c.ID, "I promise to pay on Monday."); err == nil {
		t.Fatal("expected commit failure")
	}
	if guard.recorded != 1 {
		t.Errorf("recorded contacts = %d after failed commit, want 1", guard.recorded)
	}
}

func TestContactGuardFailureDoesNotBlock(t *testing.T) {
	repo := newFakeRepo()
	m := newTestManager(t, repo).WithContactGuard(&fixedGuard{err: errors.New("redis down")})
	c := seedCase(t, repo, domain.StatusPending)

	result, err := m.ProcessInteraction(context.Background(), c.TenantID, c.ID, "Checking in about the balance.")
	if err != nil {
		t.Fatalf("interaction must succeed when the guard is down: %v", err)
	}
	if result.NewStatus != domain.StatusInProgress {
		t.Errorf("status = %s, want IN_PROGRESS", result.NewStatus)
	}
}

func TestConcurrentInteractionsSerialized(t *testing.T) {
	repo := newFakeRepo()
	m := newTestManager(t, repo)
	c := seedCase(t, repo, domain.StatusPending)

	// Each call loads its own copy of the case, the same way concurrent
	// HTTP requests and queued messages do.
	const n = 10
	done := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := m.ProcessInteraction(context.Background(), c.TenantID, c.ID, "Asking about my balance again.")
			done <- err
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent interaction failed: %v", err)
		}
	}

	if len(repo.interactions[c.ID]) != n {
		t.Errorf("expected %d interactions, got %d", n, len(repo.interactions[c.ID]))
	}
	// Only the first interaction starts work; the rest are no-ops.
	if len(repo.history[c.ID]) != 1 {
		t.Errorf("expected 1 history entry, got %d", len(repo.history[c.ID]))
	}
}

func TestConcurrentFullPaymentsResolveOnce(t *testing.T) {
	repo := newFakeRepo()
	m := newTestManager(t, repo)
	c := seedCase(t, repo, domain.StatusInProgress)

	// Two replayed full-payment callbacks race; exactly one may settle the
	// balance, the other must see the RESOLVED row and be rejected.
	const n = 2
	done := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := m.ProcessPayment(context.Background(), c.TenantID, c.ID, 5000.0)
			done <- err
		}()
	}

	var failures int
	for i := 0; i < n; i++ {
		if err := <-done; err != nil {
			if !errors.Is(err, domain.ErrInvalidPayment) {
				t.Fatalf("unexpected error: %v", err)
			}
			failures++
		}
	}

	if failures != n-1 {
		t.Errorf("expected %d rejected payments, got %d", n-1, failures)
	}
	if repo.cases[c.ID].PaidAmount != 5000.0 {
		t.Errorf("paid amount = %.2f, want 5000.00", repo.cases[c.ID].PaidAmount)
	}
	if len(repo.history[c.ID]) != 1 {
		t.Errorf("expected 1 history entry, got %d", len(repo.history[c.ID]))
	}
}

func TestCaseLocksPrunedWhenIdle(t *testing.T) {
	repo := newFakeRepo()
	m := newTestManager(t, repo)
	c := seedCase(t, repo, domain.StatusPending)

	if _, err := m.ProcessInteraction(context.Background(), c.TenantID, c.ID, "Hello."); err != nil {
		t.Fatalf("ProcessInteraction failed: %v", err)
	}
	if _, err := m.ProcessPayment(context.Background(), c.TenantID, c.ID, 1000.0); err != nil {
		t.Fatalf("ProcessPayment failed: %v", err)
	}

	m.mu.Lock()
	n := len(m.locks)
	m.mu.Unlock()
	if n != 0 {
		t.Errorf("lock map holds %d entries while idle, want 0", n)
	}
}
