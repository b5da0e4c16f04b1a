package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceFinalized is the status stored for invoices received via invoice.finalized
const InvoiceFinalized = "finalized"

// Invoice is a billed period of a customer
type Invoice struct {
	ID          string          `json:"invoice_id"`
	CustomerID  string          `json:"customer_id"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	PeriodStart *time.Time      `json:"period_start,omitempty"`
	PeriodEnd   *time.Time      `json:"period_end,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	SyncedAt    time.Time       `json:"synced_at"`
}

// UsageRecord is one reported value of a billable metric
type UsageRecord struct {
	ID         int64           `json:"id"`
	CustomerID string          `json:"customer_id"`
	MetricName string          `json:"metric_name"`
	Value      decimal.Decimal `json:"value"`
	Timestamp  time.Time       `json:"timestamp"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	SyncedAt   time.Time       `json:"synced_at"`
}

// InvoicePayload is the data of an invoice.finalized event
type InvoicePayload struct {
	ID          string              `json:"id"`
	CustomerID  string              `json:"customer_id"`
	Total       decimal.NullDecimal `json:"total"`
	PeriodStart string              `json:"period_start"`
	PeriodEnd   string              `json:"period_end"`
}

// UsagePayload is the data of a usage.updated event
type UsagePayload struct {
	CustomerID         string              `json:"customer_id"`
	BillableMetricName string              `json:"billable_metric_name"`
	Value              decimal.NullDecimal `json:"value"`
	Timestamp          string              `json:"timestamp"`
}
