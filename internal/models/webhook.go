package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Webhook event types handled by the service
const (
	EventContractUpdated  = "contract.updated"
	EventAlertTriggered   = "alert.triggered"
	EventInvoiceFinalized = "invoice.finalized"
	EventUsageUpdated     = "usage.updated"
)

// WebhookEvent is a raw event received from the metering API
type WebhookEvent struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Processed   bool            `json:"processed"`
	ReceivedAt  time.Time       `json:"received_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}

// ContractPayload is the data of a contract.updated event
type ContractPayload struct {
	ID              string              `json:"id"`
	CustomerID      string              `json:"customer_id"`
	StartingBalance decimal.NullDecimal `json:"starting_balance"`
	Balance         decimal.NullDecimal `json:"balance"`
	StartDate       string              `json:"start_date"`
	EndDate         string              `json:"end_date"`
	Status          string              `json:"status"`
}

// AlertPayload is the data of an alert.triggered event
type AlertPayload struct {
	CustomerID string `json:"customer_id"`
	AlertName  string `json:"alert_name"`
	Message    string `json:"message"`
}
