package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

type Dispatcher interface {
	Process(ctx context.Context, now time.Time) (int, error)
}

type Cleaner interface {
	Sweep(ctx context.Context, now time.Time) (int64, error)
}

type Options struct {
	// ProcessPeriod is the dispatch cadence; ticks land on multiples of it
	// counted from the Unix epoch.
	ProcessPeriod time.Duration
	// CleanupSchedule is a cron expression ("@every 1h", "0 * * * *") for
	// the cleanup sweep.
	CleanupSchedule string
	Clock           clock.Clock
}

// Service is the task manager main loop: it wakes on a fixed grid, dispatches
// pending tasks and runs the cleanup sweep when it is due.
type Service struct {
	dispatcher  Dispatcher
	cleaner     Cleaner
	period      time.Duration
	cleanup     cron.Schedule
	clock       clock.Clock
	lastCleanup time.Time
}

func NewService(d Dispatcher, c Cleaner, opts Options) (*Service, error) {
	if opts.ProcessPeriod <= 0 {
		return nil, fmt.Errorf("process period must be positive, got %s", opts.ProcessPeriod)
	}
	sched, err := cron.ParseStandard(opts.CleanupSchedule)
	if err != nil {
		return nil, fmt.Errorf("cleanup schedule %q: %w", opts.CleanupSchedule, err)
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{dispatcher: d, cleaner: c, period: opts.ProcessPeriod, cleanup: sched, clock: clk}, nil
}

// Start runs the loop until ctx is done. It returns a non-nil error only when
// the dispatcher reports a fatal condition.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Dur("period", s.period).Msg("task manager started")

	now := s.clock.Now()
	sleep := NextTick(now, s.period).Sub(now)
	for {
		start, ok := s.sleep(ctx, sleep)
		if !ok {
			log.Info().Msg("task manager stopped")
			return nil
		}

		processed, err := s.Tick(ctx, start)
		if err != nil {
			return err
		}
		end := s.clock.Now()

		sleep = s.idle(start, end)
		log.Info().
			Int("processed", processed).
			Dur("elapsed", end.Sub(start)).
			Dur("idle", sleep).
			Msg("processed tasks")
	}
}

// Tick runs one cycle at now: the dispatcher and, when due, the cleanup sweep.
func (s *Service) Tick(ctx context.Context, now time.Time) (int, error) {
	l := log.With().Str("cycle", uuid.NewString()).Logger()
	ctx = l.WithContext(ctx)

	processed, err := s.dispatcher.Process(ctx, now)
	if err != nil {
		l.Error().Err(err).Msg("dispatch halted")
		return processed, err
	}

	if s.cleanupDue(now) {
		if _, err := s.cleaner.Sweep(ctx, now); err != nil {
			l.Error().Err(err).Msg("cleanup failed")
		}
		s.lastCleanup = now
	}
	return processed, nil
}

// idle is the time left until the tick following start. A cycle that overran
// its slot gets no sleep at all rather than skipping a tick.
func (s *Service) idle(start, end time.Time) time.Duration {
	d := NextTick(start, s.period).Sub(end)
	if d < 0 {
		return 0
	}
	return d
}

func (s *Service) cleanupDue(now time.Time) bool {
	return !now.Before(s.cleanup.Next(s.lastCleanup))
}

// sleep waits d and returns the wake-up time, the timer's fire time when one
// was armed. It reports false once ctx is done.
func (s *Service) sleep(ctx context.Context, d time.Duration) (time.Time, bool) {
	if d <= 0 {
		return s.clock.Now(), ctx.Err() == nil
	}
	t := s.clock.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return time.Time{}, false
	case fired := <-t.C:
		return fired, true
	}
}

// NextTick returns the first multiple of period, counted from the Unix epoch,
// strictly after t.
func NextTick(t time.Time, period time.Duration) time.Time {
	p := period.Nanoseconds()
	n := t.UnixNano()
	return time.Unix(0, n-n%p+p).In(t.Location())
}

// ValidateCronExpression validates a cron expression
func ValidateCronExpression(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}
