package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// RunFunc performs one run. *Runner.Run satisfies it.
type RunFunc func(ctx context.Context) (*Result, error)

// Scheduler triggers runs on a cron schedule. A tick that fires while the previous
// run is still going is skipped, so there is never more than one writer.
type Scheduler struct {
	cron    *cron.Cron
	run     RunFunc
	logger  zerolog.Logger
	running atomic.Bool

	mu      sync.Mutex
	last    *Result
	lastErr error
	skipped int
}

// NewScheduler creates a scheduler around run. logger may be nil.
func NewScheduler(run RunFunc, logger *zerolog.Logger) *Scheduler {
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &Scheduler{cron: cron.New(), run: run, logger: l}
}

// Start registers spec (standard five-field cron syntax) and starts the clock. Runs
// receive ctx.
func (s *Scheduler) Start(ctx context.Context, spec string) error {
	if _, err := s.cron.AddFunc(spec, func() { s.Tick(ctx) }); err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}
	s.cron.Start()
	s.logger.Info().Str("schedule", spec).Msg("scheduler started")
	return nil
}

// Stop halts the clock and waits for a run in flight to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("scheduler stopped")
}

// Tick performs one run unless one is already in progress. It reports whether a run
// was started.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.mu.Lock()
		s.skipped++
		s.mu.Unlock()
		s.logger.Warn().Msg("scheduled run skipped: previous run still in progress")
		return false
	}
	defer s.running.Store(false)

	res, err := s.run(ctx)
	if err != nil {
		s.logger.Error().Err(err).Str("stage", string(FailedStage(err))).Msg("scheduled run failed")
	}

	s.mu.Lock()
	s.last, s.lastErr = res, err
	s.mu.Unlock()
	return true
}

// Last returns the outcome of the most recent completed run.
func (s *Scheduler) Last() (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.lastErr
}

// Skipped returns how many ticks were dropped because a run was in progress.
func (s *Scheduler) Skipped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipped
}
