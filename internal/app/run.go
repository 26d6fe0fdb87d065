package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"listing-repricer/internal/reduction"
	"listing-repricer/internal/scheduler"
	"listing-repricer/internal/storage"
)

// Run starts service mode: the daily reduction job plus optional retention
// housekeeping, driven by cron until the process receives a stop signal.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn is required for service mode")
	}
	defer closeStore()

	engine := a.newEngine(store)

	sched := scheduler.New(a.Logger)
	if err := sched.AddJob(a.Config.Scheduler.CronSpec, &reduceJob{ctx: ctx, engine: engine}); err != nil {
		return err
	}

	if spec := a.Config.Retention.PurgeCronSpec; spec != "" {
		job := &purgeJob{ctx: ctx, app: a, store: store, maxAge: a.Config.Retention.AttemptMaxAge}
		if err := sched.AddJob(spec, job); err != nil {
			return err
		}
	}

	a.Logger.Info().Str("schedule", a.Config.Scheduler.CronSpec).Msg("starting repricer service")
	sched.Start()
	<-ctx.Done()
	sched.Stop()
	a.Logger.Info().Msg("repricer service stopped")
	return nil
}

type reduceJob struct {
	ctx    context.Context
	engine *reduction.Engine
}

func (j *reduceJob) Name() string { return "daily_reduction" }

func (j *reduceJob) Run() error {
	_, err := j.engine.Run(j.ctx, false)
	return err
}

type purgeJob struct {
	ctx    context.Context
	app    *App
	store  *storage.Store
	maxAge time.Duration
}

func (j *purgeJob) Name() string { return "attempt_retention" }

func (j *purgeJob) Run() error {
	deleted, err := j.store.DeleteAttemptsBefore(j.ctx, time.Now().UTC().Add(-j.maxAge))
	if err != nil {
		return err
	}
	j.app.Logger.Info().Int64("deleted", deleted).Msg("purged aged reduction attempts")
	return nil
}
