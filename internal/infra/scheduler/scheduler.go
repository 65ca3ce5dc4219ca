package scheduler

import (
	"context"
	"time"

	"policy-brief-pipeline/internal/usecase"

	"github.com/lthibault/jitterbug/v2"
	"github.com/rs/zerolog"
)

// Scheduler periodically runs a scheduling pass on a jittered ticker so
// several replicas do not hit the subscriber table at the same instant.
type Scheduler struct {
	interval     time.Duration
	jitter       time.Duration
	tickTimeout  time.Duration
	runOnStartup bool
	uc           usecase.ScheduleUseCase
	log          *zerolog.Logger
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type Options struct {
	Interval     time.Duration
	Jitter       time.Duration
	TickTimeout  time.Duration
	RunOnStartup bool
}

// NewScheduler constructs a scheduler that runs uc.RunOnce every interval.
// If interval <= 0 it defaults to 1 hour.
func NewScheduler(opts Options, uc usecase.ScheduleUseCase, log *zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = time.Hour
	}
	if opts.TickTimeout <= 0 {
		opts.TickTimeout = 2 * time.Minute
	}
	l := log.With().Str("component", "scheduler").Logger()
	return &Scheduler{
		interval:     opts.Interval,
		jitter:       opts.Jitter,
		tickTimeout:  opts.TickTimeout,
		runOnStartup: opts.RunOnStartup,
		uc:           uc,
		log:          &l,
		now:          time.Now,
		done:         make(chan struct{}),
	}
}

// Start begins the scheduler loop in a background goroutine.
// Calling Start multiple times has no effect.
func (s *Scheduler) Start(parentCtx context.Context) {
	if s.ctx != nil {
		return
	}
	ctx, cancel := context.WithCancel(parentCtx)
	s.ctx = ctx
	s.cancel = cancel

	go s.loop()
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start(ctx)
	<-ctx.Done()
	s.Stop()
	return nil
}

func (s *Scheduler) loop() {
	ticker := jitterbug.New(s.interval, &jitterbug.Norm{Stdev: s.jitter})
	defer func() {
		ticker.Stop()
		close(s.done)
	}()

	s.log.Info().Dur("interval", s.interval).Dur("jitter", s.jitter).Msg("scheduler started")
	if s.runOnStartup {
		s.Tick(s.ctx)
	}
	for {
		select {
		case <-s.ctx.Done():
			s.log.Info().Msg("context cancelled; stopping")
			return
		case <-ticker.C:
			s.Tick(s.ctx)
		}
	}
}

// Tick runs one bounded scheduling pass.
func (s *Scheduler) Tick(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, s.tickTimeout)
	defer cancel()
	rep, err := s.uc.RunOnce(runCtx, s.now())
	if err != nil {
		s.log.Error().Err(err).Int("enqueued", rep.Enqueued).Int("failed", rep.Failed).Msg("schedule pass failed")
	}
}

// Stop cancels the scheduler and waits for the loop to finish. It is idempotent.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.ctx = nil
	s.cancel = nil
	s.done = make(chan struct{})
	s.log.Info().Msg("scheduler stopped")
}
