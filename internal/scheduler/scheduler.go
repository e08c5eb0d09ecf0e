// Package scheduler runs the engine's background jobs on cron schedules.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fleetshare/finance-engine/internal/metrics"
)

// Job represents a scheduled job
type Job interface {
	Run(ctx context.Context) error
	Name() string
}

// Scheduler manages background jobs. Runs of the same job never overlap.
type Scheduler struct {
	cron    *cron.Cron
	log     *slog.Logger
	timeout time.Duration
}

// New creates a scheduler; each run gets timeout to finish.
func New(timeout time.Duration) *Scheduler {
	log := slog.Default().With("component", "scheduler")
	clog := cronLogger{log}
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(clog),
			cron.SkipIfStillRunning(clog),
		)),
		log:     log,
		timeout: timeout,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("scheduler stopped")
}

// AddJob registers a job. Schedules are standard five-field cron
// expressions or descriptors such as "@daily" and "@every 5m".
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		if err := s.RunNow(job); err != nil {
			s.log.Error("job failed", "job", job.Name(), "err", err)
		}
	})
	if err != nil {
		return err
	}

	s.log.Info("job registered", "job", job.Name(), "schedule", schedule)
	return nil
}

// RunNow executes a job immediately (outside schedule)
func (s *Scheduler) RunNow(job Job) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	err := job.Run(ctx)
	metrics.JobRuns.WithLabelValues(job.Name(), metrics.Outcome(err)).Inc()
	s.log.Debug("job finished", "job", job.Name(), "duration", time.Since(start), "err", err)
	return err
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "err", err)...)
}
