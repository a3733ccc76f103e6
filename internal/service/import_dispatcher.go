package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	ErrImportQueueFull   = errors.New("import queue is full")
	ErrDispatcherStopped = errors.New("import dispatcher stopped")
)

type importExecutor interface {
	Execute(ctx context.Context, profileImportID uuid.UUID) error
}

// ImportDispatcher runs queued imports on a fixed number of workers.
type ImportDispatcher struct {
	exec    importExecutor
	jobs    chan uuid.UUID
	workers int
	logger  logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

func NewImportDispatcher(exec importExecutor, workers, queueSize int, logger logrus.FieldLogger) *ImportDispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ImportDispatcher{
		exec:    exec,
		jobs:    make(chan uuid.UUID, queueSize),
		workers: workers,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (d *ImportDispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
}

// Enqueue schedules an import without blocking.
func (d *ImportDispatcher) Enqueue(ctx context.Context, profileImportID uuid.UUID) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrDispatcherStopped
	}
	select {
	case d.jobs <- profileImportID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrImportQueueFull
	}
}

// Stop refuses new work and waits for queued imports to finish. When ctx
// ends first, running imports are cancelled.
func (d *ImportDispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.jobs)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *ImportDispatcher) work() {
	defer d.wg.Done()
	for id := range d.jobs {
		logger := d.logger.WithField("profile_import_id", id.String())
		if err := d.exec.Execute(d.ctx, id); err != nil {
			if errors.Is(err, ErrImportAlreadyStarted) {
				logger.Debug("profile import already started")
				continue
			}
			logger.WithError(err).Error("profile import execution failed")
		}
	}
}
