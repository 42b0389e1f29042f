package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/allocation"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/lifecycle"
	"github.com/opensource-finance/kestrel/internal/probability"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/sentinel"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	manager *lifecycle.Manager
	engine  *probability.Engine
	policy  *allocation.Policy
	scanner sentinel.Scanner
	reviews *rules.Engine
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, manager *lifecycle.Manager, engine *probability.Engine, policy *allocation.Policy, scanner sentinel.Scanner, reviews *rules.Engine, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		manager: manager,
		engine:  engine,
		policy:  policy,
		scanner: scanner,
		reviews: reviews,
		version: version,
	}
}

// writeError maps domain error kinds onto HTTP status codes. Validation
// failures are 400, state conflicts 409, missing records 404.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrInvalidPayment):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

// CreateCase handles POST /cases.
func (h *Handler) CreateCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req domain.CaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.DebtorName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "debtorName is required",
		})
		return
	}
	if req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount must be positive",
		})
		return
	}
	if req.InitialScore < 0 || req.InitialScore > 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "initialScore must be within [0,1]",
		})
		return
	}
	if req.AgeDays < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "ageDays must not be negative",
		})
		return
	}

	req.TenantID = tenantID
	c := req.ToCase()
	c.ID = uuid.New().String()

	// Score the case on intake so allocation is available immediately.
	prob, err := h.engine.Predict(c.InitialScore, c.AgeDays, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	c.Probability = prob

	if err := h.repo.SaveCase(ctx, tenantID, c); err != nil {
		writeError(w, err)
		return
	}

	decision, err := h.policy.Decide(prob)
	if err != nil {
		writeError(w, err)
		return
	}

	slog.Info("case created",
		"case_id", c.ID,
		"tenant_id", tenantID,
		"probability", prob,
		"action", decision.Action,
	)

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"case":       c,
		"allocation": decision,
	})
}

// GetCase handles GET /cases/{id}.
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	caseID := chi.URLParam(r, "id")

	c, err := h.repo.GetCase(ctx, tenantID, caseID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// GetSnapshot handles GET /cases/{id}/snapshot. Serves the cached scoring
// state written after the last interaction; 404 when nothing is cached.
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	caseID := chi.URLParam(r, "id")

	if h.cache == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "cache not available",
		})
		return
	}

	snap, err := h.cache.GetCaseSnapshot(ctx, tenantID, caseID)
	if err != nil {
		writeError(w, err)
		return
	}
	if snap == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no snapshot cached",
		})
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// ListCases handles GET /cases.
func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	cases, err := h.repo.ListCases(ctx, tenantID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cases": cases,
		"count": len(cases),
	})
}

// InteractionRequest is the request body for POST /cases/{id}/interactions.
type InteractionRequest struct {
	Text string `json:"text"`

	// Async queues the interaction on the event bus instead of processing
	// inline. Requires a running worker.
	Async bool `json:"async,omitempty"`
}

// LogInteraction handles POST /cases/{id}/interactions.
func (h *Handler) LogInteraction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	caseID := chi.URLParam(r, "id")

	var req InteractionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Async {
		if h.bus == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "event bus not available",
			})
			return
		}
		payload, _ := json.Marshal(map[string]string{
			"caseId":   caseID,
			"tenantId": tenantID,
			"text":     req.Text,
		})
		if err := h.bus.Publish(ctx, tenantID, domain.TopicInteractionLogged, payload); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status": "queued",
		})
		return
	}

	result, err := h.manager.ProcessInteraction(ctx, tenantID, caseID, req.Text)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ListInteractions handles GET /cases/{id}/interactions.
func (h *Handler) ListInteractions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	caseID := chi.URLParam(r, "id")

	events, err := h.repo.ListInteractions(ctx, tenantID, caseID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"interactions": events,
		"count":        len(events),
	})
}

// PaymentRequest is the request body for POST /cases/{id}/payments.
type PaymentRequest struct {
	Amount float64 `json:"amount"`
}

// ApplyPayment handles POST /cases/{id}/payments.
func (h *Handler) ApplyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	caseID := chi.URLParam(r, "id")

	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	result, err := h.manager.ProcessPayment(ctx, tenantID, caseID, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// TransitionRequest is the request body for POST /cases/{id}/transition.
type TransitionRequest struct {
	Status domain.Status `json:"status"`
	Actor  string        `json:"actor"`
	Reason string        `json:"reason,omitempty"`
}

// Transition handles POST /cases/{id}/transition (manual status change).
func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	caseID := chi.URLParam(r, "id")

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	result, err := h.manager.RequestTransition(ctx, tenantID, caseID, req.Status, req.Actor, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetHistory handles GET /cases/{id}/history.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	caseID := chi.URLParam(r, "id")

	entries, err := h.repo.ListHistory(ctx, tenantID, caseID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"history": entries,
		"count":   len(entries),
	})
}

// PredictRequest is the request body for POST /predict.
type PredictRequest struct {
	InitialProbability float64             `json:"initialProbability"`
	DaysOverdue        int                 `json:"daysOverdue"`
	Boosts             []probability.Boost `json:"boosts,omitempty"`
}

// Predict handles POST /predict (stateless probability computation).
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	prob, err := h.engine.Predict(req.InitialProbability, req.DaysOverdue, req.Boosts)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]float64{
		"probability": prob,
	})
}

// DecideRequest is the request body for POST /decide.
type DecideRequest struct {
	Probability float64 `json:"probability"`
}

// Decide handles POST /decide (stateless allocation decision).
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	var req DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	decision, err := h.policy.Decide(req.Probability)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, decision)
}

// ScanRequest is the request body for POST /scan.
type ScanRequest struct {
	Text string `json:"text"`
}

// Scan handles POST /scan (stateless compliance scan).
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	compliance, err := h.scanner.Scan(r.Context(), req.Text)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, compliance)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListRules returns all review rules loaded in the engine.
// Rules are loaded from the database at startup and can be reloaded via POST /rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	if h.reviews == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "review rule engine not available",
		})
		return
	}

	loadedRules := h.reviews.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  loadedRules,
		"count":  len(loadedRules),
		"source": "database",
	})
}

// GetRule retrieves a review rule by ID from the loaded engine rules.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if h.reviews == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "review rule engine not available",
		})
		return
	}

	for _, rule := range h.reviews.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for creating a review rule.
type CreateRuleRequest struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	Expression     string `json:"expression"`
	Recommendation string `json:"recommendation,omitempty"`
	Enabled        bool   `json:"enabled"`
}

// GlobalTenantID is used for rules that apply to all tenants.
const GlobalTenantID = "*"

// CreateRule creates a new review rule and saves it to the database.
// Rules are saved globally (tenant_id = "*") so they apply to all tenants.
// After saving, call POST /rules/reload to hot-reload into the engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	rule := &domain.ReviewRule{
		ID:             req.ID,
		TenantID:       GlobalTenantID,
		Name:           req.Name,
		Description:    req.Description,
		Version:        "1.0.0",
		Expression:     req.Expression,
		Recommendation: req.Recommendation,
		Enabled:        req.Enabled,
	}

	// Validate CEL expression by attempting to load
	if h.reviews != nil {
		if err := h.reviews.LoadRule(rule); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid CEL expression: " + err.Error(),
			})
			return
		}
	}

	if h.repo != nil {
		if err := h.repo.SaveReviewRule(ctx, GlobalTenantID, rule); err != nil {
			slog.Error("failed to save review rule", "id", rule.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	slog.Info("review rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    rule,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// DeleteRule soft-deletes a review rule and auto-reloads the engine.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	if h.repo != nil {
		if err := h.repo.DeleteReviewRule(ctx, GlobalTenantID, ruleID); err != nil {
			slog.Error("failed to delete review rule", "id", ruleID, "error", err)
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "rule not found",
			})
			return
		}

		if h.reviews != nil {
			dbRules, err := h.repo.ListReviewRules(ctx, GlobalTenantID)
			if err != nil {
				slog.Error("failed to reload rules after delete", "error", err)
			} else if err := h.reviews.ReloadRules(dbRules); err != nil {
				slog.Error("failed to reload rules into engine", "error", err)
			}
		}
	}

	slog.Info("review rule deleted", "id", ruleID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Rule deleted and engine reloaded.",
	})
}

// ReloadRules reloads all review rules from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}
	if h.reviews == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "review rule engine not available",
		})
		return
	}

	dbRules, err := h.repo.ListReviewRules(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.reviews.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("review rules reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   len(dbRules),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
