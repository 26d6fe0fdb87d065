// Package scheduler wires cron-driven jobs for service mode. The engine's
// dedup guard makes double fires harmless, so cron specs do not need to worry
// about daylight-saving ambiguity.
package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is a named unit of scheduled work.
type Job interface {
	Name() string
	Run() error
}

// Scheduler manages background jobs.
type Scheduler struct {
	cron   *cron.Cron
	logger zerolog.Logger
}

// New constructs a Scheduler. Jobs run in UTC; run dates and cron specs
// share one clock.
func New(logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// AddJob registers a job under a six-field cron spec.
func (s *Scheduler) AddJob(spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.logger.Info().Str("job", job.Name()).Msg("running scheduled job")
		if err := job.Run(); err != nil {
			s.logger.Error().Err(err).Str("job", job.Name()).Msg("scheduled job failed")
			return
		}
		s.logger.Debug().Str("job", job.Name()).Msg("scheduled job finished")
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("schedule", spec).Str("job", job.Name()).Msg("job registered")
	return nil
}

// Start begins dispatching jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Msg("scheduler started")
}

// Stop halts dispatch and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("scheduler stopped")
}
