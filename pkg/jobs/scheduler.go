package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Task is a periodic unit of work run by the Scheduler.
type Task func(ctx context.Context) error

// Locker grants cluster-wide exclusivity to one run of a task.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

// Scheduler runs named tasks on cron specs. Overlapping runs of the same task are skipped, locally
// always and across instances when a Locker is set.
type Scheduler struct {
	engine  *cron.Cron
	logger  *zap.Logger
	timeout time.Duration
	locker  Locker
}

// NewScheduler constructs a scheduler; timeout bounds each task run.
func NewScheduler(logger *zap.Logger, timeout time.Duration) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	engine := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLogger{logger}), cron.SkipIfStillRunning(cronLogger{logger})),
	)
	return &Scheduler{engine: engine, logger: logger, timeout: timeout}
}

// UseLocker makes every run hold the task's lock for at most the run timeout. Must be called
// before Start.
func (s *Scheduler) UseLocker(l Locker) {
	s.locker = l
}

// Register adds a task under spec. Empty specs are ignored so features can be disabled by config.
func (s *Scheduler) Register(name, spec string, task Task) error {
	if spec == "" {
		s.logger.Info("scheduled task disabled", zap.String("task", name))
		return nil
	}
	if _, err := s.engine.AddFunc(spec, func() { s.run(name, task) }); err != nil {
		return fmt.Errorf("register %s (%q): %w", name, spec, err)
	}
	s.logger.Info("scheduled task registered", zap.String("task", name), zap.String("spec", spec))
	return nil
}

// run executes one tick of task. A lock held elsewhere skips the tick; a failing lock backend
// does not, so a Redis outage never stops the schedule.
func (s *Scheduler) run(name string, task Task) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if s.locker != nil {
		release, ok, err := s.locker.TryLock(ctx, "job:"+name, s.timeout)
		switch {
		case err != nil:
			s.logger.Warn("task lock unavailable, running unguarded", zap.String("task", name), zap.Error(err))
		case !ok:
			s.logger.Debug("task running on another instance", zap.String("task", name))
			return
		}
		defer release()
	}

	start := time.Now()
	if err := task(ctx); err != nil {
		s.logger.Error("scheduled task failed", zap.String("task", name), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return
	}
	s.logger.Debug("scheduled task finished", zap.String("task", name), zap.Duration("elapsed", time.Since(start)))
}

// Len returns the number of registered entries.
func (s *Scheduler) Len() int {
	return len(s.engine.Entries())
}

// Start launches the cron engine in its own goroutine.
func (s *Scheduler) Start() {
	s.engine.Start()
}

// Stop halts scheduling and waits for running tasks to return.
func (s *Scheduler) Stop() {
	<-s.engine.Stop().Done()
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
