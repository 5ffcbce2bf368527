package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/dompay/services/esocial/internal/metrics"
)

// BatchRunner is the unit of work a tick triggers
type BatchRunner interface {
	RunBatch(ctx context.Context) error
}

// Scheduler periodically fires the batch runner. At most one run is in
// flight at any time; ticks and manual triggers arriving during a run are
// skipped, never queued.
type Scheduler struct {
	mu        sync.Mutex
	runner    BatchRunner
	collector *metrics.Metrics
	cron      gocron.Scheduler
	running   bool
	inFlight  atomic.Bool
}

// NewScheduler creates a scheduler around the given runner
func NewScheduler(runner BatchRunner, collector *metrics.Metrics) *Scheduler {
	return &Scheduler{
		runner:    runner,
		collector: collector,
	}
}

// Start begins firing the runner every interval. Starting an already
// running scheduler is a no-op.
func (s *Scheduler) Start(interval time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		log.Warn().Msg("Scheduler is already running")
		return nil
	}

	cron, err := gocron.NewScheduler()
	if err != nil {
		return errors.Wrap(err, "failed to create scheduler")
	}

	_, err = cron.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.tick),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return errors.Wrap(err, "failed to schedule batch job")
	}

	cron.Start()
	s.cron = cron
	s.running = true

	log.Info().Dur("interval", interval).Msg("Scheduler started")
	return nil
}

// Stop halts future ticks. An in-flight run is not interrupted. Stopping a
// stopped scheduler is a no-op.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		log.Warn().Msg("Scheduler is not running")
		return nil
	}

	if err := s.cron.Shutdown(); err != nil {
		return errors.Wrap(err, "failed to shut down scheduler")
	}
	s.cron = nil
	s.running = false

	log.Info().Msg("Scheduler stopped")
	return nil
}

// IsRunning reports whether the periodic timer is active
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ProcessNow triggers an out-of-band run, honoring the single-flight guard
func (s *Scheduler) ProcessNow(ctx context.Context) error {
	if !s.inFlight.CompareAndSwap(false, true) {
		log.Warn().Msg("Processing already in progress")
		return nil
	}
	defer s.inFlight.Store(false)

	return s.run(ctx)
}

// tick is the scheduled entry point
func (s *Scheduler) tick() {
	if !s.inFlight.CompareAndSwap(false, true) {
		log.Debug().Msg("Previous run still in progress, skipping tick")
		if s.collector != nil {
			s.collector.IncrementCounter(metrics.CounterTicksSkipped)
		}
		return
	}
	defer s.inFlight.Store(false)

	if err := s.run(context.Background()); err != nil {
		log.Error().Err(err).Msg("Scheduled batch run failed")
	}
}

func (s *Scheduler) run(ctx context.Context) error {
	if err := s.runner.RunBatch(ctx); err != nil {
		return errors.Wrap(err, "batch run failed")
	}
	return nil
}
