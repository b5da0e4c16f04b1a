package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Dan9191/commit-health/internal/health"
	"github.com/Dan9191/commit-health/internal/integrations/metronome"
	"github.com/Dan9191/commit-health/internal/models"
	"github.com/google/uuid"
)

type webhookEnvelope struct {
	Type      string          `json:"type"`
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

// HandleWebhook logs a metering API event and applies it. The returned ID
// is the stored event's ID.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte) (string, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return "", fmt.Errorf("malformed webhook payload: %w", health.ErrInvalidInput)
	}
	eventType := env.Type
	if eventType == "" {
		eventType = env.EventType
	}
	if eventType == "" {
		eventType = "unknown"
	}
	data := []byte(env.Data)
	if len(data) == 0 || string(data) == "null" {
		data = payload
	}

	event := &models.WebhookEvent{
		ID:      uuid.NewString(),
		Type:    eventType,
		Payload: payload,
	}
	if err := s.store.LogWebhookEvent(ctx, event); err != nil {
		return "", err
	}
	log := s.log.WithField("event_id", event.ID)
	log.Infof("Received webhook %s", eventType)

	switch eventType {
	case models.EventContractUpdated:
		if err := s.applyContractUpdate(ctx, data); err != nil {
			return event.ID, err
		}
	case models.EventAlertTriggered:
		var alert models.AlertPayload
		if err := json.Unmarshal(data, &alert); err != nil {
			return event.ID, fmt.Errorf("malformed alert payload: %w", health.ErrInvalidInput)
		}
		if err := s.notifier.SendAlertTriggered(alert.CustomerID, alert.AlertName, alert.Message); err != nil {
			log.Warnf("Failed to forward alert: %v", err)
		}
	case models.EventInvoiceFinalized:
		if err := s.applyInvoiceFinalized(ctx, data); err != nil {
			return event.ID, err
		}
	case models.EventUsageUpdated:
		if err := s.applyUsageUpdated(ctx, data); err != nil {
			return event.ID, err
		}
	default:
		log.Infof("No handler for event type %s", eventType)
	}

	if err := s.store.MarkWebhookProcessed(ctx, event.ID); err != nil {
		return event.ID, err
	}
	return event.ID, nil
}

func (s *Service) applyContractUpdate(ctx context.Context, data []byte) error {
	var contract models.ContractPayload
	if err := json.Unmarshal(data, &contract); err != nil {
		return fmt.Errorf("malformed contract payload: %w", health.ErrInvalidInput)
	}
	if contract.ID == "" || contract.CustomerID == "" {
		return fmt.Errorf("contract payload missing id or customer_id: %w", health.ErrInvalidInput)
	}

	status := contract.Status
	if status == "" {
		status = health.RecordActive
	}
	rec, err := health.NewCommitRecord(contract.ID, contract.CustomerID,
		contract.StartingBalance.Decimal, contract.Balance.Decimal,
		metronome.ParseDate(contract.StartDate), metronome.ParseDate(contract.EndDate), status)
	if err != nil {
		return err
	}
	if err := s.store.UpsertCommit(ctx, rec); err != nil {
		return err
	}
	if err := s.cache.Invalidate(ctx, contract.CustomerID); err != nil {
		s.log.WithField("customer_id", contract.CustomerID).Warnf("Failed to invalidate cached assessment: %v", err)
	}
	return nil
}

func (s *Service) applyInvoiceFinalized(ctx context.Context, data []byte) error {
	var payload models.InvoicePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("malformed invoice payload: %w", health.ErrInvalidInput)
	}
	if payload.ID == "" || payload.CustomerID == "" {
		return fmt.Errorf("invoice payload missing id or customer_id: %w", health.ErrInvalidInput)
	}

	inv := &models.Invoice{
		ID:          payload.ID,
		CustomerID:  payload.CustomerID,
		Amount:      payload.Total.Decimal,
		Status:      models.InvoiceFinalized,
		PeriodStart: optionalDate(payload.PeriodStart),
		PeriodEnd:   optionalDate(payload.PeriodEnd),
		Metadata:    data,
	}
	return s.store.UpsertInvoice(ctx, inv)
}

func (s *Service) applyUsageUpdated(ctx context.Context, data []byte) error {
	var payload models.UsagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("malformed usage payload: %w", health.ErrInvalidInput)
	}
	if payload.CustomerID == "" {
		return fmt.Errorf("usage payload missing customer_id: %w", health.ErrInvalidInput)
	}

	u := &models.UsageRecord{
		CustomerID: payload.CustomerID,
		MetricName: payload.BillableMetricName,
		Value:      payload.Value.Decimal,
		Timestamp:  metronome.ParseDate(payload.Timestamp),
		Metadata:   data,
	}
	if u.MetricName == "" {
		u.MetricName = "unknown"
	}
	if u.Timestamp.IsZero() {
		u.Timestamp = s.now()
	}
	return s.store.InsertUsage(ctx, u)
}

func optionalDate(s string) *time.Time {
	t := metronome.ParseDate(s)
	if t.IsZero() {
		return nil
	}
	return &t
}
