package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// HealthSnapshot is a point on a customer's burn-down history
type HealthSnapshot struct {
	ID                  int64           `json:"id"`
	CustomerID          string          `json:"customer_id"`
	Status              string          `json:"health_status"`
	DisplayStatus       string          `json:"display_status"`
	ActualBurnPercent   float64         `json:"actual_burn_rate"`
	ExpectedBurnPercent float64         `json:"expected_burn_rate"`
	RemainingBalance    decimal.Decimal `json:"remaining_balance"`
	DaysRemaining       int             `json:"days_remaining"`
	TakenAt             time.Time       `json:"taken_at"`
}
