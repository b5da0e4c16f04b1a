package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/commit-health/internal/health"
	"github.com/Dan9191/commit-health/internal/models"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// Repository provides database operations
type Repository struct {
	db *sql.DB
}

// NewRepository initializes a new repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// UpsertCustomer creates or refreshes a cached customer
func (r *Repository) UpsertCustomer(ctx context.Context, c *models.Customer) error {
	query := `
		INSERT INTO gtm.customers (metronome_customer_id, name, tier, industry, updated_at)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
		ON CONFLICT (metronome_customer_id) DO UPDATE
		SET name = EXCLUDED.name, tier = EXCLUDED.tier, industry = EXCLUDED.industry, updated_at = CURRENT_TIMESTAMP
		RETURNING updated_at`
	err := r.db.QueryRowContext(ctx, query, c.ID, c.Name, nullString(c.Tier), nullString(c.Industry)).
		Scan(&c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert customer: %w", err)
	}
	return nil
}

// ListCustomers returns every cached customer ordered by name
func (r *Repository) ListCustomers(ctx context.Context) ([]models.Customer, error) {
	query := `
		SELECT metronome_customer_id, name, COALESCE(tier, ''), COALESCE(industry, ''), updated_at
		FROM gtm.customers
		ORDER BY name`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	defer rows.Close()

	var customers []models.Customer
	for rows.Next() {
		var c models.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Tier, &c.Industry, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	return customers, nil
}

// GetCustomer retrieves a cached customer by Metronome ID
func (r *Repository) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	c := &models.Customer{}
	query := `
		SELECT metronome_customer_id, name, COALESCE(tier, ''), COALESCE(industry, ''), updated_at
		FROM gtm.customers
		WHERE metronome_customer_id = $1`
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&c.ID, &c.Name, &c.Tier, &c.Industry, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("customer %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find customer: %w", err)
	}
	return c, nil
}

// UpsertCommit caches a commit record, keyed by contract ID
func (r *Repository) UpsertCommit(ctx context.Context, rec health.CommitRecord) error {
	query := `
		INSERT INTO gtm.commit_data
			(contract_id, metronome_customer_id, total_amount, remaining_amount, start_date, end_date, status, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, CURRENT_TIMESTAMP)
		ON CONFLICT (contract_id) DO UPDATE
		SET metronome_customer_id = EXCLUDED.metronome_customer_id,
			total_amount = EXCLUDED.total_amount,
			remaining_amount = EXCLUDED.remaining_amount,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			status = EXCLUDED.status,
			synced_at = CURRENT_TIMESTAMP`
	status := rec.Status
	if status == "" {
		status = health.RecordActive
	}
	_, err := r.db.ExecContext(ctx, query, rec.ContractID, rec.CustomerID,
		rec.TotalAmount, rec.RemainingAmount, rec.StartDate, rec.EndDate, status)
	if err != nil {
		return fmt.Errorf("failed to upsert commit %s: %w", rec.ContractID, err)
	}
	return nil
}

const commitColumns = `contract_id, metronome_customer_id, total_amount, remaining_amount, start_date, end_date, status`

// ListCommits returns the cached commit records of one customer
func (r *Repository) ListCommits(ctx context.Context, customerID string) ([]health.CommitRecord, error) {
	query := `SELECT ` + commitColumns + `
		FROM gtm.commit_data
		WHERE metronome_customer_id = $1
		ORDER BY start_date, contract_id`
	rows, err := r.db.QueryContext(ctx, query, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list commits: %w", err)
	}
	defer rows.Close()
	return scanCommits(rows)
}

// ListAllCommits returns every cached commit record grouped by customer
func (r *Repository) ListAllCommits(ctx context.Context) (map[string][]health.CommitRecord, error) {
	query := `SELECT ` + commitColumns + `
		FROM gtm.commit_data
		ORDER BY metronome_customer_id, start_date, contract_id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list commits: %w", err)
	}
	defer rows.Close()

	records, err := scanCommits(rows)
	if err != nil {
		return nil, err
	}
	byCustomer := make(map[string][]health.CommitRecord)
	for _, rec := range records {
		byCustomer[rec.CustomerID] = append(byCustomer[rec.CustomerID], rec)
	}
	return byCustomer, nil
}

func scanCommits(rows *sql.Rows) ([]health.CommitRecord, error) {
	var records []health.CommitRecord
	for rows.Next() {
		var rec health.CommitRecord
		err := rows.Scan(&rec.ContractID, &rec.CustomerID, &rec.TotalAmount, &rec.RemainingAmount,
			&rec.StartDate, &rec.EndDate, &rec.Status)
		if err != nil {
			return nil, fmt.Errorf("failed to scan commit: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read commits: %w", err)
	}
	return records, nil
}

// SaveSnapshot appends a point to a customer's health history
func (r *Repository) SaveSnapshot(ctx context.Context, s *models.HealthSnapshot) error {
	query := `
		INSERT INTO gtm.health_snapshots
			(metronome_customer_id, status, display_status, actual_burn, expected_burn, remaining_balance, days_remaining, taken_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`
	err := r.db.QueryRowContext(ctx, query, s.CustomerID, s.Status, s.DisplayStatus, s.ActualBurnPercent,
		s.ExpectedBurnPercent, s.RemainingBalance, s.DaysRemaining, s.TakenAt).
		Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

const snapshotColumns = `id, metronome_customer_id, status, display_status, actual_burn, expected_burn, remaining_balance, days_remaining, taken_at`

// LastSnapshot returns the most recent snapshot of a customer
func (r *Repository) LastSnapshot(ctx context.Context, customerID string) (*models.HealthSnapshot, error) {
	query := `SELECT ` + snapshotColumns + `
		FROM gtm.health_snapshots
		WHERE metronome_customer_id = $1
		ORDER BY taken_at DESC, id DESC
		LIMIT 1`
	s := &models.HealthSnapshot{}
	err := r.db.QueryRowContext(ctx, query, customerID).
		Scan(&s.ID, &s.CustomerID, &s.Status, &s.DisplayStatus, &s.ActualBurnPercent,
			&s.ExpectedBurnPercent, &s.RemainingBalance, &s.DaysRemaining, &s.TakenAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("snapshot for %s: %w", customerID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find snapshot: %w", err)
	}
	return s, nil
}

// ListSnapshots returns up to limit snapshots of a customer, oldest first
func (r *Repository) ListSnapshots(ctx context.Context, customerID string, limit int) ([]models.HealthSnapshot, error) {
	query := `SELECT * FROM (
			SELECT ` + snapshotColumns + `
			FROM gtm.health_snapshots
			WHERE metronome_customer_id = $1
			ORDER BY taken_at DESC, id DESC
			LIMIT $2
		) recent ORDER BY taken_at, id`
	rows, err := r.db.QueryContext(ctx, query, customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []models.HealthSnapshot
	for rows.Next() {
		var s models.HealthSnapshot
		err := rows.Scan(&s.ID, &s.CustomerID, &s.Status, &s.DisplayStatus, &s.ActualBurnPercent,
			&s.ExpectedBurnPercent, &s.RemainingBalance, &s.DaysRemaining, &s.TakenAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read snapshots: %w", err)
	}
	return snapshots, nil
}

// LogWebhookEvent stores a received webhook before it is processed
func (r *Repository) LogWebhookEvent(ctx context.Context, e *models.WebhookEvent) error {
	query := `
		INSERT INTO gtm.webhook_events (id, event_type, payload, processed, received_at)
		VALUES ($1, $2, $3, FALSE, CURRENT_TIMESTAMP)
		RETURNING received_at`
	err := r.db.QueryRowContext(ctx, query, e.ID, e.Type, []byte(e.Payload)).Scan(&e.ReceivedAt)
	if err != nil {
		return fmt.Errorf("failed to log webhook event: %w", err)
	}
	return nil
}

// MarkWebhookProcessed flags a logged webhook as handled
func (r *Repository) MarkWebhookProcessed(ctx context.Context, id string) error {
	query := `
		UPDATE gtm.webhook_events
		SET processed = TRUE, processed_at = CURRENT_TIMESTAMP
		WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark webhook processed: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("webhook event %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpsertInvoice stores a finalized invoice, replacing an earlier copy
func (r *Repository) UpsertInvoice(ctx context.Context, inv *models.Invoice) error {
	query := `
		INSERT INTO gtm.invoice_data
			(invoice_id, metronome_customer_id, amount, status, period_start, period_end, metadata, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, CURRENT_TIMESTAMP)
		ON CONFLICT (invoice_id) DO UPDATE
		SET metronome_customer_id = EXCLUDED.metronome_customer_id, amount = EXCLUDED.amount,
			status = EXCLUDED.status, period_start = EXCLUDED.period_start, period_end = EXCLUDED.period_end,
			metadata = EXCLUDED.metadata, synced_at = CURRENT_TIMESTAMP
		RETURNING synced_at`
	err := r.db.QueryRowContext(ctx, query, inv.ID, inv.CustomerID, inv.Amount, inv.Status,
		inv.PeriodStart, inv.PeriodEnd, nullJSON(inv.Metadata)).
		Scan(&inv.SyncedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert invoice: %w", err)
	}
	return nil
}

// ListInvoices returns the invoices of a customer, latest period first
func (r *Repository) ListInvoices(ctx context.Context, customerID string) ([]models.Invoice, error) {
	query := `
		SELECT invoice_id, metronome_customer_id, amount, status, period_start, period_end, metadata, synced_at
		FROM gtm.invoice_data
		WHERE metronome_customer_id = $1
		ORDER BY period_start DESC NULLS LAST, invoice_id`
	rows, err := r.db.QueryContext(ctx, query, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []models.Invoice
	for rows.Next() {
		var (
			inv        models.Invoice
			start, end sql.NullTime
			metadata   []byte
		)
		err := rows.Scan(&inv.ID, &inv.CustomerID, &inv.Amount, &inv.Status, &start, &end, &metadata, &inv.SyncedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		inv.PeriodStart = timePtr(start)
		inv.PeriodEnd = timePtr(end)
		inv.Metadata = metadata
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read invoices: %w", err)
	}
	return invoices, nil
}

// InsertUsage appends a reported metric value
func (r *Repository) InsertUsage(ctx context.Context, u *models.UsageRecord) error {
	query := `
		INSERT INTO gtm.usage_data (metronome_customer_id, metric_name, value, timestamp, metadata, synced_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP)
		RETURNING id, synced_at`
	err := r.db.QueryRowContext(ctx, query, u.CustomerID, u.MetricName, u.Value, u.Timestamp, nullJSON(u.Metadata)).
		Scan(&u.ID, &u.SyncedAt)
	if err != nil {
		return fmt.Errorf("failed to insert usage: %w", err)
	}
	return nil
}

// ListUsage returns up to limit usage records of a customer, newest first
func (r *Repository) ListUsage(ctx context.Context, customerID string, limit int) ([]models.UsageRecord, error) {
	query := `
		SELECT id, metronome_customer_id, metric_name, value, timestamp, metadata, synced_at
		FROM gtm.usage_data
		WHERE metronome_customer_id = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}
	defer rows.Close()

	var usage []models.UsageRecord
	for rows.Next() {
		var (
			u        models.UsageRecord
			metadata []byte
		)
		err := rows.Scan(&u.ID, &u.CustomerID, &u.MetricName, &u.Value, &u.Timestamp, &metadata, &u.SyncedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		u.Metadata = metadata
		usage = append(usage, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read usage: %w", err)
	}
	return usage, nil
}

func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
