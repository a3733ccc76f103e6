package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const stalePendingMessage = "identity confirmation timed out"

type stalePendingStore interface {
	FailStalePending(ctx context.Context, olderThan time.Time, message string) ([]uuid.UUID, error)
}

type completionReconciler interface {
	Reconcile(ctx context.Context, profileImportID uuid.UUID)
}

// ImportSweeper fails line items whose identity confirmation never arrived so
// their imports can finish.
type ImportSweeper struct {
	store      stalePendingStore
	completion completionReconciler
	ttl        time.Duration
	now        func() time.Time
	logger     logrus.FieldLogger
	runner     *cron.Cron
}

func NewImportSweeper(store stalePendingStore, completion completionReconciler, ttl time.Duration, logger logrus.FieldLogger) *ImportSweeper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ImportSweeper{
		store:      store,
		completion: completion,
		ttl:        ttl,
		now:        time.Now,
		logger:     logger,
	}
}

// Sweep returns the number of imports it reconciled.
func (s *ImportSweeper) Sweep(ctx context.Context) (int, error) {
	ids, err := s.store.FailStalePending(ctx, s.now().Add(-s.ttl), stalePendingMessage)
	if err != nil {
		return 0, errors.Wrap(err, "fail stale pending items")
	}
	for _, id := range ids {
		s.completion.Reconcile(ctx, id)
	}
	if len(ids) > 0 {
		s.logger.WithField("imports", len(ids)).Warn("failed stale pending import items")
	}
	return len(ids), nil
}

func (s *ImportSweeper) Start(schedule string) error {
	s.runner = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))
	if _, err := s.runner.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.WithError(err).Error("stale import sweep")
		}
	}); err != nil {
		return errors.Wrapf(err, "schedule %q", schedule)
	}
	s.runner.Start()
	return nil
}

// Stop waits for a running sweep to finish.
func (s *ImportSweeper) Stop() {
	if s.runner == nil {
		return
	}
	<-s.runner.Stop().Done()
}
