package health

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidInput marks records that cannot be classified at all.
var ErrInvalidInput = errors.New("invalid input")

// Record statuses as reported by the metering API.
const (
	RecordActive  = "active"
	RecordExpired = "expired"
)

// CommitRecord is one commitment or credit grant period of a customer.
type CommitRecord struct {
	ContractID      string          `json:"contract_id"`
	CustomerID      string          `json:"customer_id"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	StartDate       time.Time       `json:"start_date"`
	EndDate         time.Time       `json:"end_date"`
	Status          string          `json:"status"`
}

// NewCommitRecord builds a validated CommitRecord. Balances outside
// [0, total] are accepted here and clamped during classification.
func NewCommitRecord(contractID, customerID string, total, remaining decimal.Decimal, start, end time.Time, status string) (CommitRecord, error) {
	r := CommitRecord{
		ContractID:      contractID,
		CustomerID:      customerID,
		TotalAmount:     total,
		RemainingAmount: remaining,
		StartDate:       start,
		EndDate:         end,
		Status:          status,
	}
	if err := r.Validate(); err != nil {
		return CommitRecord{}, err
	}
	return r, nil
}

// Validate reports structural problems that cannot be clamped.
func (r CommitRecord) Validate() error {
	if r.TotalAmount.IsNegative() {
		return fmt.Errorf("contract %q: negative total amount %s: %w", r.ContractID, r.TotalAmount, ErrInvalidInput)
	}
	if r.StartDate.IsZero() {
		return fmt.Errorf("contract %q: missing start date: %w", r.ContractID, ErrInvalidInput)
	}
	if r.EndDate.IsZero() {
		return fmt.Errorf("contract %q: missing end date: %w", r.ContractID, ErrInvalidInput)
	}
	return nil
}

// IsActive treats an empty status as active, matching how balances are synced.
func (r CommitRecord) IsActive() bool {
	s := strings.ToLower(strings.TrimSpace(r.Status))
	return s == "" || s == RecordActive
}

// InvertedRange reports an end date before the start date.
func (r CommitRecord) InvertedRange() bool {
	return r.EndDate.Before(r.StartDate)
}

// InWindow reports whether asOf falls within [StartDate, EndDate].
func (r CommitRecord) InWindow(asOf time.Time) bool {
	return !asOf.Before(r.StartDate) && !asOf.After(r.EndDate)
}

// balances returns total, remaining and burned with remaining clamped into
// [0, total]. The returned diagnostic is nil when nothing was clamped.
func (r CommitRecord) balances() (total, remaining, burned decimal.Decimal, diag *Diagnostic) {
	total = r.TotalAmount
	remaining = r.RemainingAmount
	switch {
	case remaining.GreaterThan(total):
		diag = &Diagnostic{
			Kind:       DataQualityWarning,
			ContractID: r.ContractID,
			Message:    fmt.Sprintf("remaining amount %s exceeds total %s; clamped to total", remaining, total),
		}
		remaining = total
	case remaining.IsNegative():
		diag = &Diagnostic{
			Kind:       DataQualityWarning,
			ContractID: r.ContractID,
			Message:    fmt.Sprintf("remaining amount %s is negative; clamped to zero", remaining),
		}
		remaining = decimal.Zero
	}
	return total, remaining, total.Sub(remaining), diag
}

// elapsedFraction is the clamped share of the contract period behind asOf.
func (r CommitRecord) elapsedFraction(asOf time.Time) float64 {
	if r.InvertedRange() {
		return 1
	}
	period := r.EndDate.Sub(r.StartDate)
	if period <= 0 {
		return 1
	}
	f := float64(asOf.Sub(r.StartDate)) / float64(period)
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

func (r CommitRecord) daysRemaining(asOf time.Time) int {
	if r.InvertedRange() {
		return 0
	}
	days := math.Ceil(r.EndDate.Sub(asOf).Hours() / 24)
	if days < 0 {
		return 0
	}
	return int(days)
}
