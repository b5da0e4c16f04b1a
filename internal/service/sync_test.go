package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Dan9191/commit-health/internal/health"
	"github.com/Dan9191/commit-health/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Sync
// ---------------------------------------------------------------------------

func TestSync_CachesClassifiesAndAlerts(t *testing.T) {
	f := newFixture()
	f.source.customers = []models.Customer{
		{ID: "ok", Name: "Acme Corp"},
		{ID: "under", Name: "DataFlow Ltd"},
	}
	f.source.balances["ok"] = []health.CommitRecord{rec("ok-1", "ok", 100, 50, -50, 50)}
	f.source.balances["under"] = []health.CommitRecord{rec("under-1", "under", 100, 95, -50, 50)}

	result, err := f.svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.CustomersSynced)
	assert.Equal(t, 2, result.BalancesSynced)
	assert.Equal(t, 2, result.SnapshotsSaved)
	assert.Equal(t, 1, result.AlertsSent)
	assert.Empty(t, result.Errors)

	assert.Len(t, f.store.customers, 2)
	assert.Len(t, f.store.commits, 2)
	assert.ElementsMatch(t, []string{"ok", "under"}, f.cache.invalidated)
	require.Len(t, f.notifier.alerts, 1)
	assert.Equal(t, sentAlert{customer: "DataFlow Ltd", status: health.StatusUnderConsuming}, f.notifier.alerts[0])

	// Same status on the next run does not alert again.
	result, err = f.svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.AlertsSent)
	assert.Len(t, f.notifier.alerts, 1)
	assert.Len(t, f.store.snapshots, 4)
}

func TestSync_RecordsPerCustomerErrors(t *testing.T) {
	f := newFixture()
	f.source.customers = []models.Customer{{ID: "down"}, {ID: "bad"}, {ID: "fine"}}
	f.source.balanceErrs["down"] = errUpstream
	f.source.balances["bad"] = []health.CommitRecord{
		rec("bad-1", "bad", -5, 0, -10, 10),
		rec("bad-2", "bad", 100, 50, -50, 50),
	}
	f.source.balances["fine"] = []health.CommitRecord{rec("fine-1", "fine", 100, 50, -50, 50)}

	result, err := f.svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.CustomersSynced)
	assert.Equal(t, 2, result.BalancesSynced)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "down")
	assert.Contains(t, result.Errors[1], "bad-1")
	assert.NotContains(t, f.store.commits, "bad-1")
}

func TestSync_AlertFailureIsRecorded(t *testing.T) {
	f := newFixture()
	f.source.customers = []models.Customer{{ID: "over"}}
	f.source.balances["over"] = []health.CommitRecord{rec("over-1", "over", 100, 5, -50, 50)}
	f.notifier.err = errors.New("smtp down")

	result, err := f.svc.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.CustomersSynced)
	assert.Zero(t, result.AlertsSent)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "smtp down")
}

func TestSync_CustomerListFailure(t *testing.T) {
	f := newFixture()
	f.source.customerErr = errUpstream

	_, err := f.svc.Sync(context.Background())
	assert.ErrorIs(t, err, errUpstream)
}

func TestSync_StopsOnCancelledContext(t *testing.T) {
	f := newFixture()
	f.source.customers = []models.Customer{{ID: "a"}, {ID: "b"}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := f.svc.Sync(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.CustomersSynced)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "interrupted")
}

func TestSync_RejectsConcurrentRun(t *testing.T) {
	f := newFixture()
	f.source.started = make(chan struct{})
	f.source.block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Sync(context.Background())
		done <- err
	}()
	<-f.source.started

	_, err := f.svc.Sync(context.Background())
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(f.source.block)
	assert.NoError(t, <-done)
}

// ---------------------------------------------------------------------------
// Webhooks
// ---------------------------------------------------------------------------

func TestHandleWebhook_ContractUpdated(t *testing.T) {
	f := newFixture()
	payload := []byte(`{"type":"contract.updated","data":{"id":"c-9","customer_id":"cust-1",
		"starting_balance":250000,"balance":12000,"start_date":"2025-01-01","end_date":"2025-12-31"}}`)

	id, err := f.svc.HandleWebhook(context.Background(), payload)
	require.NoError(t, err)
	require.Contains(t, f.store.events, id)
	assert.True(t, f.store.events[id].Processed)
	assert.Equal(t, models.EventContractUpdated, f.store.events[id].Type)

	stored := f.store.commits["c-9"]
	assert.Equal(t, "cust-1", stored.CustomerID)
	assert.True(t, stored.TotalAmount.Equal(decimal.NewFromInt(250000)))
	assert.True(t, stored.RemainingAmount.Equal(decimal.NewFromInt(12000)))
	assert.Equal(t, health.RecordActive, stored.Status)
	assert.Equal(t, []string{"cust-1"}, f.cache.invalidated)
}

func TestHandleWebhook_ContractMissingDates(t *testing.T) {
	f := newFixture()
	payload := []byte(`{"event_type":"contract.updated","data":{"id":"c-9","customer_id":"cust-1","starting_balance":10}}`)

	id, err := f.svc.HandleWebhook(context.Background(), payload)
	assert.ErrorIs(t, err, health.ErrInvalidInput)
	assert.NotEmpty(t, id)
	assert.False(t, f.store.events[id].Processed)
	assert.Empty(t, f.store.commits)
}

func TestHandleWebhook_AlertTriggered(t *testing.T) {
	f := newFixture()
	payload, _ := json.Marshal(map[string]any{
		"type": "alert.triggered",
		"data": map[string]string{"customer_id": "cust-1", "alert_name": "low balance"},
	})

	_, err := f.svc.HandleWebhook(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, []string{"cust-1:low balance"}, f.notifier.triggers)
}

func TestHandleWebhook_UnknownTypeIsLoggedAndProcessed(t *testing.T) {
	f := newFixture()

	id, err := f.svc.HandleWebhook(context.Background(), []byte(`{"customer_id":"cust-1"}`))
	require.NoError(t, err)
	assert.Equal(t, "unknown", f.store.events[id].Type)
	assert.True(t, f.store.events[id].Processed)
}

func TestHandleWebhook_Malformed(t *testing.T) {
	f := newFixture()

	_, err := f.svc.HandleWebhook(context.Background(), []byte(`not json`))
	assert.ErrorIs(t, err, health.ErrInvalidInput)
	assert.Empty(t, f.store.events)
}

func TestHandleWebhook_InvoiceFinalized(t *testing.T) {
	f := newFixture()
	payload := []byte(`{"type":"invoice.finalized","data":{"id":"inv-7","customer_id":"cust-1",
		"total":18250.75,"period_start":"2025-05-01T00:00:00Z","period_end":"2025-06-01T00:00:00Z"}}`)

	id, err := f.svc.HandleWebhook(context.Background(), payload)
	require.NoError(t, err)
	assert.True(t, f.store.events[id].Processed)

	require.Contains(t, f.store.invoices, "inv-7")
	inv := f.store.invoices["inv-7"]
	assert.Equal(t, "cust-1", inv.CustomerID)
	assert.True(t, inv.Amount.Equal(decimal.RequireFromString("18250.75")))
	assert.Equal(t, models.InvoiceFinalized, inv.Status)
	require.NotNil(t, inv.PeriodStart)
	assert.Equal(t, time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC), *inv.PeriodStart)
	assert.Contains(t, string(inv.Metadata), `"inv-7"`)

	// Redelivery replaces the stored copy.
	_, err = f.svc.HandleWebhook(context.Background(), payload)
	require.NoError(t, err)
	assert.Len(t, f.store.invoices, 1)
}

func TestHandleWebhook_InvoiceMissingID(t *testing.T) {
	f := newFixture()
	payload := []byte(`{"type":"invoice.finalized","data":{"customer_id":"cust-1","total":10}}`)

	id, err := f.svc.HandleWebhook(context.Background(), payload)
	assert.ErrorIs(t, err, health.ErrInvalidInput)
	assert.False(t, f.store.events[id].Processed)
	assert.Empty(t, f.store.invoices)
}

func TestHandleWebhook_UsageUpdated(t *testing.T) {
	f := newFixture()
	payload := []byte(`{"type":"usage.updated","data":{"customer_id":"cust-1",
		"billable_metric_name":"api_calls","value":4200,"timestamp":"2025-05-31T23:00:00Z"}}`)

	id, err := f.svc.HandleWebhook(context.Background(), payload)
	require.NoError(t, err)
	assert.True(t, f.store.events[id].Processed)

	require.Len(t, f.store.usage, 1)
	u := f.store.usage[0]
	assert.Equal(t, "api_calls", u.MetricName)
	assert.True(t, u.Value.Equal(decimal.NewFromInt(4200)))
	assert.Equal(t, time.Date(2025, 5, 31, 23, 0, 0, 0, time.UTC), u.Timestamp)
}

func TestHandleWebhook_UsageDefaults(t *testing.T) {
	f := newFixture()

	_, err := f.svc.HandleWebhook(context.Background(), []byte(`{"type":"usage.updated","data":{"customer_id":"cust-1"}}`))
	require.NoError(t, err)
	require.Len(t, f.store.usage, 1)
	assert.Equal(t, "unknown", f.store.usage[0].MetricName)
	assert.True(t, f.store.usage[0].Value.IsZero())
	assert.Equal(t, testNow, f.store.usage[0].Timestamp)

	_, err = f.svc.HandleWebhook(context.Background(), []byte(`{"type":"usage.updated","data":{"value":1}}`))
	assert.ErrorIs(t, err, health.ErrInvalidInput)
	assert.Len(t, f.store.usage, 1)
}
