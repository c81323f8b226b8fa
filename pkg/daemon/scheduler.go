package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jamesainslie/otahub/pkg/otahub/coordinator"
	"github.com/jamesainslie/otahub/pkg/otahub/logging"
)

// DefaultCheckTimeout bounds a scheduled check.
const DefaultCheckTimeout = 2 * time.Minute

// CheckFunc runs one update check.
type CheckFunc func(ctx context.Context) error

// Scheduler runs update checks on a cron schedule. The schedule can be
// replaced while running.
type Scheduler struct {
	cron    *cron.Cron
	check   CheckFunc
	timeout time.Duration
	log     *logging.Logger

	mu    sync.Mutex
	spec  string
	entry cron.EntryID
}

// NewScheduler creates a stopped Scheduler with no schedule. Schedules
// accept standard five-field cron expressions and descriptors such as
// "@every 6h" or "@daily".
func NewScheduler(check CheckFunc, timeout time.Duration) *Scheduler {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	log := logging.Get("scheduler")
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{log}))),
		check:   check,
		timeout: timeout,
		log:     log,
	}
}

// ParseSchedule validates a schedule expression.
func ParseSchedule(spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid check_schedule %q: %w", spec, err)
	}
	return nil
}

// Reschedule replaces the schedule. An empty spec disables scheduled checks.
// An invalid spec leaves the current schedule in place.
func (s *Scheduler) Reschedule(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if spec == s.spec {
		return nil
	}
	if err := ParseSchedule(spec); err != nil {
		return err
	}

	if s.entry != 0 {
		s.cron.Remove(s.entry)
		s.entry = 0
	}
	s.spec = spec

	if spec == "" {
		s.log.Info("scheduled checks disabled")
		return nil
	}

	id, err := s.cron.AddFunc(spec, s.run)
	if err != nil {
		return fmt.Errorf("scheduling %q: %w", spec, err)
	}
	s.entry = id
	s.log.Info("scheduled checks", "schedule", spec)
	return nil
}

// Spec returns the active schedule.
func (s *Scheduler) Spec() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spec
}

// Next returns the next scheduled run, or the zero time when disabled or
// stopped.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	id := s.entry
	s.mu.Unlock()
	if id == 0 {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

// Start begins running scheduled checks.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for a running check to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	s.log.Debug("running scheduled check")
	err := s.check(ctx)
	switch {
	case err == nil:
	case errors.Is(err, coordinator.ErrBusy):
		s.log.Debug("skipping scheduled check, coordinator busy")
	case errors.Is(err, coordinator.ErrDownloaded):
		s.log.Debug("skipping scheduled check, update downloaded")
	default:
		s.log.Warn("scheduled check failed", "error", err)
	}
}

// cronLogger routes cron's own messages to the scheduler logger.
type cronLogger struct {
	log *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
