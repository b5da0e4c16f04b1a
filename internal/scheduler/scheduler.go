package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dan9191/commit-health/internal/models"
	"github.com/Dan9191/commit-health/internal/service"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Syncer runs one metering sync
type Syncer interface {
	Sync(ctx context.Context) (*models.SyncResult, error)
}

// Scheduler runs the metering sync on a cron schedule
type Scheduler struct {
	cron   *cron.Cron
	syncer Syncer
	log    *logrus.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// New registers the sync job. spec accepts standard cron expressions and descriptors like "@every 1h".
func New(spec string, syncer Syncer, log *logrus.Logger) (*Scheduler, error) {
	logger := cronLogger{log: log}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		syncer: syncer,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce(s.ctx) }); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid sync schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start runs the schedule in the background
func (s *Scheduler) Start() {
	s.log.Info("Starting sync scheduler")
	s.cron.Start()
}

// Stop cancels a running sync and waits for it to return
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.log.Info("Sync scheduler stopped")
}

// RunOnce performs a single sync and logs its outcome
func (s *Scheduler) RunOnce(ctx context.Context) {
	result, err := s.syncer.Sync(ctx)
	switch {
	case errors.Is(err, service.ErrSyncInProgress):
		s.log.Warn("Skipping scheduled sync: another sync is running")
	case err != nil:
		s.log.Errorf("Scheduled sync failed: %v", err)
	default:
		s.log.WithFields(logrus.Fields{
			"customers": result.CustomersSynced,
			"errors":    len(result.Errors),
		}).Info("Scheduled sync finished")
	}
}

// cronLogger adapts logrus to cron.Logger
type cronLogger struct {
	log *logrus.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).WithError(err).Error(msg)
}

func fields(keysAndValues []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		f[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return f
}
