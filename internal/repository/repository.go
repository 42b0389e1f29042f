// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx, so the case and history
// writes can run standalone or inside a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SaveCase inserts or updates a case with tenant isolation. The mutable
// lifecycle fields are overwritten on conflict; identity fields are not.
func (r *SQLRepository) SaveCase(ctx context.Context, tenantID string, c *domain.Case) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}
	return r.execSaveCase(ctx, r.db, tenantID, c)
}

func (r *SQLRepository) execSaveCase(ctx context.Context, ex execer, tenantID string, c *domain.Case) error {
	metadata, _ := json.Marshal(c.Metadata)

	query := `
		INSERT INTO cases (
			id, tenant_id, debtor_name, amount, paid_amount, currency,
			initial_score, age_days, probability, risk_level, status,
			created_at, updated_at, resolved_at, closed_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			paid_amount = excluded.paid_amount,
			probability = excluded.probability,
			risk_level = excluded.risk_level,
			status = excluded.status,
			updated_at = excluded.updated_at,
			resolved_at = excluded.resolved_at,
			closed_at = excluded.closed_at,
			metadata = excluded.metadata
	`

	_, err := ex.ExecContext(ctx, r.rebind(query),
		c.ID, tenantID, c.DebtorName,
		c.Amount, c.PaidAmount, c.Currency,
		c.InitialScore, c.AgeDays,
		c.Probability, string(c.RiskLevel), string(c.Status),
		c.CreatedAt, c.UpdatedAt, nullTime(c.ResolvedAt), nullTime(c.ClosedAt),
		string(metadata),
	)
	return err
}

// GetCase retrieves a case by ID with tenant isolation.
func (r *SQLRepository) GetCase(ctx context.Context, tenantID string, caseID string) (*domain.Case, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, debtor_name, amount, paid_amount, currency,
			   initial_score, age_days, probability, risk_level, status,
			   created_at, updated_at, resolved_at, closed_at, metadata
		FROM cases
		WHERE tenant_id = ? AND id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, caseID)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return c, err
}

// ListCases retrieves all cases for a tenant, newest first.
func (r *SQLRepository) ListCases(ctx context.Context, tenantID string) ([]*domain.Case, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, debtor_name, amount, paid_amount, currency,
			   initial_score, age_days, probability, risk_level, status,
			   created_at, updated_at, resolved_at, closed_at, metadata
		FROM cases
		WHERE tenant_id = ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cases []*domain.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}

	return cases, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCase(row rowScanner) (*domain.Case, error) {
	var c domain.Case
	var riskLevel, status, metadata string
	var resolvedAt, closedAt sql.NullTime

	if err := row.Scan(
		&c.ID, &c.TenantID, &c.DebtorName,
		&c.Amount, &c.PaidAmount, &c.Currency,
		&c.InitialScore, &c.AgeDays,
		&c.Probability, &riskLevel, &status,
		&c.CreatedAt, &c.UpdatedAt, &resolvedAt, &closedAt,
		&metadata,
	); err != nil {
		return nil, err
	}

	c.RiskLevel = domain.RiskLevel(riskLevel)
	c.Status = domain.Status(status)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		c.ResolvedAt = &t
	}
	if closedAt.Valid {
		t := closedAt.Time
		c.ClosedAt = &t
	}
	if metadata != "" && metadata != "null" {
		json.Unmarshal([]byte(metadata), &c.Metadata)
	}

	return &c, nil
}

// SaveInteraction stores an interaction with tenant isolation. Interactions
// are immutable; there is no update path.
func (r *SQLRepository) SaveInteraction(ctx context.Context, tenantID string, ev *domain.InteractionEvent) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	flags, _ := json.Marshal(ev.ViolationFlags)

	query := `
		INSERT INTO interactions (
			id, tenant_id, case_id, text, timestamp, elapsed_day,
			risk_level, sentiment_score, intent, violation_flags
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		ev.ID, tenantID, ev.CaseID,
		ev.Text, ev.Timestamp, ev.ElapsedDay,
		string(ev.RiskLevel), ev.SentimentScore, string(ev.Intent),
		string(flags),
	)
	return err
}

// ListInteractions retrieves a case's interactions in chronological order.
func (r *SQLRepository) ListInteractions(ctx context.Context, tenantID string, caseID string) ([]*domain.InteractionEvent, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, case_id, text, timestamp, elapsed_day,
			   risk_level, sentiment_score, intent, violation_flags
		FROM interactions
		WHERE tenant_id = ? AND case_id = ?
		ORDER BY timestamp ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.InteractionEvent
	for rows.Next() {
		var ev domain.InteractionEvent
		var riskLevel, intent, flags string

		if err := rows.Scan(
			&ev.ID, &ev.TenantID, &ev.CaseID,
			&ev.Text, &ev.Timestamp, &ev.ElapsedDay,
			&riskLevel, &ev.SentimentScore, &intent,
			&flags,
		); err != nil {
			return nil, err
		}

		ev.RiskLevel = domain.RiskLevel(riskLevel)
		ev.Intent = domain.Intent(intent)
		if flags != "" && flags != "null" {
			json.Unmarshal([]byte(flags), &ev.ViolationFlags)
		}

		events = append(events, &ev)
	}

	return events, rows.Err()
}

// CountInteractionsSince counts a case's interactions on or after since.
// Backs the contact-frequency guard.
func (r *SQLRepository) CountInteractionsSince(ctx context.Context, tenantID string, caseID string, since time.Time) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*) FROM interactions
		WHERE tenant_id = ? AND case_id = ? AND timestamp >= ?
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, caseID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count interactions: %w", err)
	}

	return count, nil
}

// AppendHistory stores one audit trail entry with tenant isolation.
func (r *SQLRepository) AppendHistory(ctx context.Context, tenantID string, entry *domain.StatusHistoryEntry) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}
	return r.execAppendHistory(ctx, r.db, tenantID, entry)
}

func (r *SQLRepository) execAppendHistory(ctx context.Context, ex execer, tenantID string, entry *domain.StatusHistoryEntry) error {
	auto := 0
	if entry.AutoUpdated {
		auto = 1
	}

	query := `
		INSERT INTO status_history (
			id, tenant_id, case_id, old_status, new_status,
			actor, reason, auto_updated, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := ex.ExecContext(ctx, r.rebind(query),
		entry.ID, tenantID, entry.CaseID,
		string(entry.OldStatus), string(entry.NewStatus),
		entry.Actor, entry.Reason, auto, entry.Timestamp,
	)
	return err
}

// SaveCaseWithHistory persists the case row and its audit entries in one
// transaction. A failure anywhere rolls the whole write back, so the case
// status and the audit trail cannot disagree.
func (r *SQLRepository) SaveCaseWithHistory(ctx context.Context, tenantID string, c *domain.Case, entries []*domain.StatusHistoryEntry) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := r.execSaveCase(ctx, tx, tenantID, c); err != nil {
		return err
	}
	for _, entry := range entries {
		if err := r.execAppendHistory(ctx, tx, tenantID, entry); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListHistory retrieves a case's audit trail in chronological order.
func (r *SQLRepository) ListHistory(ctx context.Context, tenantID string, caseID string) ([]*domain.StatusHistoryEntry, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, case_id, old_status, new_status,
			   actor, reason, auto_updated, timestamp
		FROM status_history
		WHERE tenant_id = ? AND case_id = ?
		ORDER BY timestamp ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.StatusHistoryEntry
	for rows.Next() {
		var entry domain.StatusHistoryEntry
		var oldStatus, newStatus string
		var auto int

		if err := rows.Scan(
			&entry.ID, &entry.TenantID, &entry.CaseID,
			&oldStatus, &newStatus,
			&entry.Actor, &entry.Reason, &auto, &entry.Timestamp,
		); err != nil {
			return nil, err
		}

		entry.OldStatus = domain.Status(oldStatus)
		entry.NewStatus = domain.Status(newStatus)
		entry.AutoUpdated = auto == 1

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

// SaveReviewRule stores a review rule configuration with tenant isolation.
func (r *SQLRepository) SaveReviewRule(ctx context.Context, tenantID string, rule *domain.ReviewRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO review_rules (
			id, tenant_id, name, description, version, expression, recommendation, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			recommendation = excluded.recommendation,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Version, rule.Expression, rule.Recommendation, enabled,
		now, now,
	)
	return err
}

// GetReviewRule retrieves the latest enabled version of a review rule.
func (r *SQLRepository) GetReviewRule(ctx context.Context, tenantID string, ruleID string) (*domain.ReviewRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, recommendation, enabled
		FROM review_rules
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var rule domain.ReviewRule
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID).Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
		&rule.Version, &rule.Expression, &rule.Recommendation, &enabled,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rule.Enabled = enabled == 1

	return &rule, nil
}

// ListReviewRules retrieves all enabled review rules for a tenant.
func (r *SQLRepository) ListReviewRules(ctx context.Context, tenantID string) ([]*domain.ReviewRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, recommendation, enabled
		FROM review_rules
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.ReviewRule
	for rows.Next() {
		var rule domain.ReviewRule
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
			&rule.Version, &rule.Expression, &rule.Recommendation, &enabled,
		); err != nil {
			return nil, err
		}

		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// DeleteReviewRule soft-deletes a review rule by setting enabled = 0.
func (r *SQLRepository) DeleteReviewRule(ctx context.Context, tenantID string, ruleID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		UPDATE review_rules
		SET enabled = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
