package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Dan9191/commit-health/internal/cache"
	"github.com/Dan9191/commit-health/internal/config"
	"github.com/Dan9191/commit-health/internal/health"
	"github.com/Dan9191/commit-health/internal/models"
	"github.com/Dan9191/commit-health/internal/repository"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials is returned by Login for any mismatch
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrSyncInProgress is returned when a sync is already running
	ErrSyncInProgress = errors.New("sync already in progress")
)

const (
	// historyLimit caps the snapshots returned for a burn-down chart
	historyLimit = 90
	usageLimit   = 500
)

// Store is the persistence the service relies on
type Store interface {
	UpsertCustomer(ctx context.Context, c *models.Customer) error
	ListCustomers(ctx context.Context) ([]models.Customer, error)
	GetCustomer(ctx context.Context, id string) (*models.Customer, error)
	UpsertCommit(ctx context.Context, rec health.CommitRecord) error
	ListCommits(ctx context.Context, customerID string) ([]health.CommitRecord, error)
	ListAllCommits(ctx context.Context) (map[string][]health.CommitRecord, error)
	SaveSnapshot(ctx context.Context, s *models.HealthSnapshot) error
	LastSnapshot(ctx context.Context, customerID string) (*models.HealthSnapshot, error)
	ListSnapshots(ctx context.Context, customerID string, limit int) ([]models.HealthSnapshot, error)
	UpsertInvoice(ctx context.Context, inv *models.Invoice) error
	ListInvoices(ctx context.Context, customerID string) ([]models.Invoice, error)
	InsertUsage(ctx context.Context, u *models.UsageRecord) error
	ListUsage(ctx context.Context, customerID string, limit int) ([]models.UsageRecord, error)
	LogWebhookEvent(ctx context.Context, e *models.WebhookEvent) error
	MarkWebhookProcessed(ctx context.Context, id string) error
}

// BalanceSource is the metering API
type BalanceSource interface {
	ListCustomers(ctx context.Context) ([]models.Customer, error)
	ListBalances(ctx context.Context, customerID string) ([]health.CommitRecord, error)
}

// Notifier delivers alerts to the account team
type Notifier interface {
	SendHealthAlert(customerName string, a health.Assessment, status health.Status) error
	SendAlertTriggered(customerID, alertName, message string) error
}

// HealthResult is an assessment together with its display status
type HealthResult struct {
	CustomerID    string
	Assessment    health.Assessment
	DisplayStatus health.Status
}

// Service handles business logic
type Service struct {
	store      Store
	source     BalanceSource
	cache      cache.AssessmentCache
	notifier   Notifier
	classifier *health.Classifier
	display    health.DisplayPolicy
	log        *logrus.Logger
	config     *config.Config
	now        func() time.Time
	syncMu     sync.Mutex
}

// NewService initializes a new service
func NewService(store Store, source BalanceSource, c cache.AssessmentCache, n Notifier, log *logrus.Logger, cfg *config.Config) *Service {
	if c == nil {
		c = cache.Noop{}
	}
	return &Service{
		store:      store,
		source:     source,
		cache:      c,
		notifier:   n,
		classifier: health.NewClassifier(cfg.Policy),
		display:    cfg.Display,
		log:        log,
		config:     cfg,
		now:        time.Now,
	}
}

func (s *Service) result(customerID string, a health.Assessment) *HealthResult {
	return &HealthResult{
		CustomerID:    customerID,
		Assessment:    a,
		DisplayStatus: s.display.Refine(a),
	}
}

func (s *Service) logDiagnostics(customerID string, a health.Assessment) {
	for _, d := range a.Diagnostics {
		s.log.WithFields(logrus.Fields{
			"customer_id": customerID,
			"contract_id": d.ContractID,
		}).Warnf("Data quality: %s", d.Message)
	}
}

// Analytics fetches live balances from the metering API and classifies them
func (s *Service) Analytics(ctx context.Context, customerID string) (*HealthResult, error) {
	records, err := s.source.ListBalances(ctx, customerID)
	if err != nil {
		return nil, err
	}
	a, err := s.classifier.Classify(records, s.now())
	if err != nil {
		return nil, fmt.Errorf("customer %s: %w", customerID, err)
	}
	s.logDiagnostics(customerID, a)
	return s.result(customerID, a), nil
}

// CustomerHealth classifies the cached commits of a customer
func (s *Service) CustomerHealth(ctx context.Context, customerID string) (*HealthResult, error) {
	if _, err := s.store.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}

	cached, ok, err := s.cache.Get(ctx, customerID)
	if err != nil {
		s.log.WithField("customer_id", customerID).Warnf("Assessment cache unavailable: %v", err)
	}
	if ok {
		return s.result(customerID, *cached), nil
	}

	records, err := s.store.ListCommits(ctx, customerID)
	if err != nil {
		return nil, err
	}
	a, err := s.classifier.Classify(records, s.now())
	if err != nil {
		return nil, fmt.Errorf("customer %s: %w", customerID, err)
	}
	s.logDiagnostics(customerID, a)

	if err := s.cache.Set(ctx, customerID, a); err != nil {
		s.log.WithField("customer_id", customerID).Warnf("Failed to cache assessment: %v", err)
	}
	return s.result(customerID, a), nil
}

// History returns the stored health snapshots of a customer, oldest first
func (s *Service) History(ctx context.Context, customerID string) ([]models.HealthSnapshot, error) {
	if _, err := s.store.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	snapshots, err := s.store.ListSnapshots(ctx, customerID, historyLimit)
	if err != nil {
		return nil, err
	}
	if snapshots == nil {
		snapshots = []models.HealthSnapshot{}
	}
	return snapshots, nil
}

// Invoices returns the finalized invoices received for a customer
func (s *Service) Invoices(ctx context.Context, customerID string) ([]models.Invoice, error) {
	if _, err := s.store.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	invoices, err := s.store.ListInvoices(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if invoices == nil {
		invoices = []models.Invoice{}
	}
	return invoices, nil
}

// Usage returns the latest reported metric values of a customer
func (s *Service) Usage(ctx context.Context, customerID string) ([]models.UsageRecord, error) {
	if _, err := s.store.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	usage, err := s.store.ListUsage(ctx, customerID, usageLimit)
	if err != nil {
		return nil, err
	}
	if usage == nil {
		usage = []models.UsageRecord{}
	}
	return usage, nil
}

// ListCustomers returns the cached customers
func (s *Service) ListCustomers(ctx context.Context) ([]models.Customer, error) {
	customers, err := s.store.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}
	if customers == nil {
		customers = []models.Customer{}
	}
	return customers, nil
}

// Portfolio classifies every cached customer and rolls the results up.
// Customers whose records cannot be classified are left out and logged.
func (s *Service) Portfolio(ctx context.Context) (health.Portfolio, error) {
	customers, err := s.store.ListCustomers(ctx)
	if err != nil {
		return health.Portfolio{}, err
	}
	commits, err := s.store.ListAllCommits(ctx)
	if err != nil {
		return health.Portfolio{}, err
	}

	now := s.now()
	entries := make([]health.CustomerAssessment, 0, len(customers))
	for _, c := range customers {
		records := commits[c.ID]
		a, err := s.classifier.Classify(records, now)
		if err != nil {
			s.log.WithField("customer_id", c.ID).Warnf("Skipping customer in portfolio: %v", err)
			continue
		}
		totals, err := health.Summarize(records)
		if err != nil {
			s.log.WithField("customer_id", c.ID).Warnf("Skipping customer in portfolio: %v", err)
			continue
		}
		entries = append(entries, health.CustomerAssessment{
			CustomerID:   c.ID,
			CustomerName: c.Name,
			Assessment:   a,
			Totals:       totals,
		})
	}
	return health.Overview(entries, s.display), nil
}

// Login authenticates the admin user and returns a JWT token
func (s *Service) Login(email, password string) (string, error) {
	if s.config.AdminPasswordHash == "" || email != s.config.AdminEmail {
		return "", ErrInvalidCredentials
	}

	// Verify password
	if err := bcrypt.CompareHashAndPassword([]byte(s.config.AdminPasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	// Generate JWT
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   email,
		IssuedAt:  jwt.NewNumericDate(s.now()),
		ExpiresAt: jwt.NewNumericDate(s.now().Add(24 * time.Hour)),
	})
	tokenString, err := token.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	s.log.Infof("User logged in: %s", email)
	return tokenString, nil
}

// isNotFound reports repository misses
func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
