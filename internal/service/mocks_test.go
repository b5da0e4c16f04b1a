package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Dan9191/commit-health/internal/config"
	"github.com/Dan9191/commit-health/internal/health"
	"github.com/Dan9191/commit-health/internal/models"
	"github.com/Dan9191/commit-health/internal/repository"
	"github.com/sirupsen/logrus"
)

// ---------------------------------------------------------------------------
// mockStore: in-memory Store for unit tests
// ---------------------------------------------------------------------------

type mockStore struct {
	mu        sync.Mutex
	customers map[string]models.Customer
	commits   map[string]health.CommitRecord // contractID → record
	snapshots []models.HealthSnapshot
	events    map[string]*models.WebhookEvent
	invoices  map[string]models.Invoice
	usage     []models.UsageRecord
	listErr   error
}

func newMockStore() *mockStore {
	return &mockStore{
		customers: make(map[string]models.Customer),
		commits:   make(map[string]health.CommitRecord),
		events:    make(map[string]*models.WebhookEvent),
		invoices:  make(map[string]models.Invoice),
	}
}

func (m *mockStore) UpsertCustomer(ctx context.Context, c *models.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers[c.ID] = *c
	return nil
}

func (m *mockStore) ListCustomers(ctx context.Context) ([]models.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []models.Customer
	for _, c := range m.customers {
		out = append(out, c)
	}
	return out, nil
}

func (m *mockStore) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.customers[id]
	if !ok {
		return nil, fmt.Errorf("customer %s: %w", id, repository.ErrNotFound)
	}
	return &c, nil
}

func (m *mockStore) UpsertCommit(ctx context.Context, rec health.CommitRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits[rec.ContractID] = rec
	return nil
}

func (m *mockStore) ListCommits(ctx context.Context, customerID string) ([]health.CommitRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []health.CommitRecord
	for _, rec := range m.commits {
		if rec.CustomerID == customerID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *mockStore) ListAllCommits(ctx context.Context) (map[string][]health.CommitRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]health.CommitRecord)
	for _, rec := range m.commits {
		out[rec.CustomerID] = append(out[rec.CustomerID], rec)
	}
	return out, nil
}

func (m *mockStore) SaveSnapshot(ctx context.Context, s *models.HealthSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = int64(len(m.snapshots) + 1)
	m.snapshots = append(m.snapshots, *s)
	return nil
}

func (m *mockStore) LastSnapshot(ctx context.Context, customerID string) (*models.HealthSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.snapshots) - 1; i >= 0; i-- {
		if m.snapshots[i].CustomerID == customerID {
			s := m.snapshots[i]
			return &s, nil
		}
	}
	return nil, fmt.Errorf("snapshot for %s: %w", customerID, repository.ErrNotFound)
}

func (m *mockStore) ListSnapshots(ctx context.Context, customerID string, limit int) ([]models.HealthSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.HealthSnapshot
	for _, s := range m.snapshots {
		if s.CustomerID == customerID {
			out = append(out, s)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *mockStore) UpsertInvoice(ctx context.Context, inv *models.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoices[inv.ID] = *inv
	return nil
}

func (m *mockStore) ListInvoices(ctx context.Context, customerID string) ([]models.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Invoice
	for _, inv := range m.invoices {
		if inv.CustomerID == customerID {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (m *mockStore) InsertUsage(ctx context.Context, u *models.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.ID = int64(len(m.usage) + 1)
	m.usage = append(m.usage, *u)
	return nil
}

func (m *mockStore) ListUsage(ctx context.Context, customerID string, limit int) ([]models.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.UsageRecord
	for i := len(m.usage) - 1; i >= 0 && len(out) < limit; i-- {
		if m.usage[i].CustomerID == customerID {
			out = append(out, m.usage[i])
		}
	}
	return out, nil
}

func (m *mockStore) LogWebhookEvent(ctx context.Context, e *models.WebhookEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ReceivedAt = time.Now()
	m.events[e.ID] = e
	return nil
}

func (m *mockStore) MarkWebhookProcessed(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return repository.ErrNotFound
	}
	e.Processed = true
	return nil
}

// ---------------------------------------------------------------------------
// mockSource: canned metering API responses
// ---------------------------------------------------------------------------

type mockSource struct {
	customers   []models.Customer
	balances    map[string][]health.CommitRecord
	balanceErrs map[string]error
	customerErr error
	started     chan struct{}
	block       chan struct{}
}

func (m *mockSource) ListCustomers(ctx context.Context) ([]models.Customer, error) {
	if m.started != nil {
		close(m.started)
	}
	if m.block != nil {
		<-m.block
	}
	if m.customerErr != nil {
		return nil, m.customerErr
	}
	return m.customers, nil
}

func (m *mockSource) ListBalances(ctx context.Context, customerID string) ([]health.CommitRecord, error) {
	if err := m.balanceErrs[customerID]; err != nil {
		return nil, err
	}
	return m.balances[customerID], nil
}

// ---------------------------------------------------------------------------
// mockNotifier / mockCache
// ---------------------------------------------------------------------------

type sentAlert struct {
	customer string
	status   health.Status
}

type mockNotifier struct {
	mu       sync.Mutex
	alerts   []sentAlert
	triggers []string
	err      error
}

func (m *mockNotifier) SendHealthAlert(customerName string, a health.Assessment, status health.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.alerts = append(m.alerts, sentAlert{customer: customerName, status: status})
	return nil
}

func (m *mockNotifier) SendAlertTriggered(customerID, alertName, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggers = append(m.triggers, customerID+":"+alertName)
	return m.err
}

type mockCache struct {
	mu          sync.Mutex
	entries     map[string]health.Assessment
	invalidated []string
	getErr      error
}

func newMockCache() *mockCache {
	return &mockCache{entries: make(map[string]health.Assessment)}
}

func (m *mockCache) Get(ctx context.Context, customerID string) (*health.Assessment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	a, ok := m.entries[customerID]
	if !ok {
		return nil, false, nil
	}
	return &a, true, nil
}

func (m *mockCache) Set(ctx context.Context, customerID string, a health.Assessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[customerID] = a
	return nil
}

func (m *mockCache) Invalidate(ctx context.Context, customerIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range customerIDs {
		delete(m.entries, id)
	}
	m.invalidated = append(m.invalidated, customerIDs...)
	return nil
}

// ---------------------------------------------------------------------------
// fixtures
// ---------------------------------------------------------------------------

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

var errUpstream = errors.New("upstream unavailable")

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:  "test-secret",
		AdminEmail: "admin@example.com",
		Policy:     health.DefaultPolicy(),
		Display:    health.DefaultDisplayPolicy(),
	}
}

type fixture struct {
	svc      *Service
	store    *mockStore
	source   *mockSource
	cache    *mockCache
	notifier *mockNotifier
}

func newFixture() *fixture {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	f := &fixture{
		store:    newMockStore(),
		source:   &mockSource{balances: make(map[string][]health.CommitRecord), balanceErrs: make(map[string]error)},
		cache:    newMockCache(),
		notifier: &mockNotifier{},
	}
	f.svc = NewService(f.store, f.source, f.cache, f.notifier, logger, testConfig())
	f.svc.now = func() time.Time { return testNow }
	return f
}
