package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wolfman30/dental-booking-agent/pkg/logging"
)

const (
	retrySweepSpec = "*/30 * * * *"
	defaultJobTime = 5 * time.Minute
)

// Scheduler registers every trigger with a cron engine in the clinic time zone.
type Scheduler struct {
	runner  *Runner
	cron    *cron.Cron
	timeout time.Duration
	logger  *logging.Logger
}

// cronLogger adapts our logger to cron.Logger.
type cronLogger struct{ l *logging.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) { c.l.Debug("cron: "+msg, keysAndValues...) }

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}

func NewScheduler(runner *Runner, loc *time.Location, logger *logging.Logger) *Scheduler {
	if runner == nil {
		panic("reminders: runner required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	cl := cronLogger{l: logger}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return &Scheduler{runner: runner, cron: c, timeout: defaultJobTime, logger: logger}
}

// Specs maps each trigger to its cron expression.
func (s *Scheduler) Specs() map[Trigger]string {
	specs := map[Trigger]string{TriggerRetrySweep: retrySweepSpec}
	for trigger, sweep := range s.runner.sweeps {
		specs[trigger] = sweep.Spec
	}
	return specs
}

// Register adds every trigger to the cron engine.
func (s *Scheduler) Register() error {
	for trigger, spec := range s.Specs() {
		trigger := trigger
		if _, err := s.cron.AddFunc(spec, func() { s.fire(trigger) }); err != nil {
			return fmt.Errorf("reminders: register %s (%q): %w", trigger, spec, err)
		}
		s.logger.Info("trigger registered", "trigger", trigger, "spec", spec)
	}
	return nil
}

func (s *Scheduler) fire(trigger Trigger) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.runner.RunOnce(ctx, trigger); err != nil {
		s.logger.Error("trigger failed", "trigger", trigger, "error", err)
	}
}

// Start runs the cron engine in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("reminder scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop stops scheduling and waits for running jobs or ctx, whichever ends first.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	s.logger.Info("reminder scheduler stopped")
}
