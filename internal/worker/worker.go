// Package worker provides async interaction processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/lifecycle"
)

// Worker processes queued interactions asynchronously from the EventBus.
// API handlers publish to the interaction topic and return immediately; the
// worker drives the lifecycle manager from the queue.
type Worker struct {
	bus     domain.EventBus
	repo    domain.Repository
	manager *lifecycle.Manager

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all via wildcard if supported)
	TenantIDs []string

	// WorkerCount is the number of concurrent workers per tenant
	WorkerCount int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, manager *lifecycle.Manager) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     bus,
		repo:    repo,
		manager: manager,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	// Subscribe using a special "global" tenant ID
	// In production, you'd want to subscribe with wildcards or JetStream
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicInteractionLogged, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts workers for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicInteractionLogged, func(ctx context.Context, msg *domain.Message) error {
		return w.processInteraction(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicInteractionLogged,
	)

	return nil
}

// handleMessage handles messages from global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processInteraction(ctx, msg.TenantID, msg)
}

// InteractionMessage is the message payload for queued interaction processing.
type InteractionMessage struct {
	CaseID   string `json:"caseId"`
	TenantID string `json:"tenantId"`
	Text     string `json:"text"`
}

// processInteraction hands the queued interaction to the lifecycle manager,
// which loads and locks the case itself.
func (w *Worker) processInteraction(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var im InteractionMessage
	if err := json.Unmarshal(msg.Payload, &im); err != nil {
		slog.Error("failed to parse interaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if im.TenantID != "" {
		tenantID = im.TenantID
	}

	slog.Debug("processing interaction",
		"case_id", im.CaseID,
		"tenant_id", tenantID,
	)

	result, err := w.manager.ProcessInteraction(ctx, tenantID, im.CaseID, im.Text)
	if err != nil {
		slog.Error("interaction processing failed",
			"case_id", im.CaseID,
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}

	slog.Info("interaction processed",
		"case_id", im.CaseID,
		"tenant_id", tenantID,
		"status", result.NewStatus,
		"probability", result.NewProbability,
		"risk_level", result.Compliance.RiskLevel,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
