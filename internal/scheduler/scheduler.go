// Package scheduler runs background jobs, such as the catalog refresh cycle,
// outside request scope.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"etfdiscovery/internal/logger"
)

// Job is a unit of background work.
type Job interface {
	Run(ctx context.Context) error
	Name() string
}

// Scheduler manages background jobs. A job still running when its next
// tick fires is skipped rather than run twice.
type Scheduler struct {
	cron   *cron.Cron
	log    *zap.SugaredLogger
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new scheduler.
func New() *Scheduler {
	log := logger.Get().With("component", "scheduler")
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cronLogger{log}), cron.SkipIfStillRunning(cronLogger{log}))),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started")
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// AddJob registers job on a cron schedule. Schedules use the standard five
// fields or descriptors such as "@hourly" and "@every 15m".
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		if err := s.RunNow(job); err != nil {
			s.log.Errorw("job failed", "job", job.Name(), "error", err)
		}
	})
	if err != nil {
		return err
	}
	s.log.Infow("job registered", "job", job.Name(), "schedule", schedule)
	return nil
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(job Job) error {
	start := time.Now()
	s.log.Debugw("running job", "job", job.Name())
	err := job.Run(s.ctx)
	if err == nil {
		s.log.Debugw("job completed", "job", job.Name(), "duration_ms", time.Since(start).Milliseconds())
	}
	return err
}

// cronLogger adapts zap to cron's logger interface.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
