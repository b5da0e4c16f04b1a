package service

import (
	"context"
	"fmt"

	"github.com/Dan9191/commit-health/internal/health"
	"github.com/Dan9191/commit-health/internal/models"
	"github.com/sirupsen/logrus"
)

// Sync pulls customers and commit balances from the metering API into the
// local cache, snapshots each customer's health and alerts on transitions.
// Failures for one customer are recorded and the run moves on.
func (s *Service) Sync(ctx context.Context) (*models.SyncResult, error) {
	if !s.syncMu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer s.syncMu.Unlock()

	result := &models.SyncResult{Errors: []string{}, StartedAt: s.now()}
	s.log.Info("Starting metering data sync")

	customers, err := s.source.ListCustomers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch customers: %w", err)
	}
	s.log.Infof("Found %d customers to sync", len(customers))

	for i := range customers {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("sync interrupted: %v", err))
			break
		}
		if err := s.syncCustomer(ctx, &customers[i], result); err != nil {
			s.log.WithField("customer_id", customers[i].ID).Errorf("Error syncing customer: %v", err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", customers[i].ID, err))
			continue
		}
		result.CustomersSynced++
	}

	result.FinishedAt = s.now()
	s.log.WithFields(logrus.Fields{
		"customers": result.CustomersSynced,
		"balances":  result.BalancesSynced,
		"snapshots": result.SnapshotsSaved,
		"alerts":    result.AlertsSent,
		"errors":    len(result.Errors),
	}).Info("Sync complete")
	return result, nil
}

func (s *Service) syncCustomer(ctx context.Context, c *models.Customer, result *models.SyncResult) error {
	if err := s.store.UpsertCustomer(ctx, c); err != nil {
		return err
	}

	records, err := s.source.ListBalances(ctx, c.ID)
	if err != nil {
		return err
	}

	valid := make([]health.CommitRecord, 0, len(records))
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", c.ID, err))
			continue
		}
		if err := s.store.UpsertCommit(ctx, rec); err != nil {
			return err
		}
		valid = append(valid, rec)
		result.BalancesSynced++
	}

	if err := s.cache.Invalidate(ctx, c.ID); err != nil {
		s.log.WithField("customer_id", c.ID).Warnf("Failed to invalidate cached assessment: %v", err)
	}

	a, err := s.classifier.Classify(valid, s.now())
	if err != nil {
		return err
	}
	s.logDiagnostics(c.ID, a)
	display := s.display.Refine(a)

	previous := ""
	last, err := s.store.LastSnapshot(ctx, c.ID)
	switch {
	case err == nil:
		previous = last.DisplayStatus
	case !isNotFound(err):
		return err
	}

	snapshot := &models.HealthSnapshot{
		CustomerID:          c.ID,
		Status:              string(a.Status),
		DisplayStatus:       string(display),
		ActualBurnPercent:   a.ActualBurnPercent,
		ExpectedBurnPercent: a.ExpectedBurnPercent,
		RemainingBalance:    a.RemainingBalance,
		DaysRemaining:       a.DaysRemaining,
		TakenAt:             a.AsOf,
	}
	if err := s.store.SaveSnapshot(ctx, snapshot); err != nil {
		return err
	}
	result.SnapshotsSaved++

	if string(display) != previous && health.NeedsAction(display) {
		name := c.Name
		if name == "" {
			name = c.ID
		}
		if err := s.notifier.SendHealthAlert(name, a, display); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: alert: %v", c.ID, err))
		} else {
			result.AlertsSent++
		}
	}
	return nil
}
