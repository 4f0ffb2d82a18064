// Package scheduler fires due reminders by polling the store on a fixed
// tick. Recurring reminders are advanced along their cron expression;
// one-shot reminders are disabled after firing.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/inkwell-app/inkwell/internal/bus"
	"github.com/inkwell-app/inkwell/internal/notify"
	"github.com/inkwell-app/inkwell/internal/store"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Config holds the scheduler's dependencies.
type Config struct {
	Store    *store.Store
	Bus      *bus.Bus
	Notifier notify.Notifier
	Logger   *slog.Logger
	Interval time.Duration // tick interval; defaults to 30s if zero
}

// Scheduler polls for due reminders and delivers them.
type Scheduler struct {
	store    *store.Store
	bus      *bus.Bus
	notifier notify.Notifier
	logger   *slog.Logger
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler.
func New(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    cfg.Store,
		bus:      cfg.Bus,
		notifier: cfg.Notifier,
		logger:   logger,
		interval: interval,
	}
}

// Start begins the scheduler loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("reminder scheduler started", "interval", s.interval)
}

// Stop cancels the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("reminder scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Fire immediately on startup, then on each tick.
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick queries for due reminders and fires each one. Exported so tests can
// drive the scheduler without waiting for wall-clock ticks.
func (s *Scheduler) Tick(ctx context.Context) {
	now := time.Now().UTC()
	due, err := s.store.DueReminders(ctx, now)
	if err != nil {
		s.logger.Error("failed to query due reminders", "error", err)
		return
	}
	for _, r := range due {
		s.fire(ctx, r, now)
	}
}

// fire delivers one reminder and advances its schedule. The advance happens
// even when delivery fails: reminders are at-most-once by design.
func (s *Scheduler) fire(ctx context.Context, r store.Reminder, now time.Time) {
	s.logger.Info("reminder fired", "reminder_id", r.ID, "owner_id", r.OwnerID)

	s.bus.Publish(bus.TopicReminderFired, map[string]any{
		"reminder_id": r.ID,
		"owner_id":    r.OwnerID,
		"message":     r.Message,
	})
	s.notifier.Notify(ctx, r.OwnerID, notify.EventReminder, map[string]any{
		"message": r.Message,
	})

	next := s.nextRun(r, now)
	if err := s.store.UpdateReminderRun(ctx, r.ID, now, next); err != nil {
		s.logger.Error("failed to advance reminder", "reminder_id", r.ID, "error", err)
	}
}

// nextRun computes the reminder's next fire time, or nil for one-shots and
// unparseable expressions.
func (s *Scheduler) nextRun(r store.Reminder, now time.Time) *time.Time {
	if r.CronExpr == "" {
		return nil
	}
	sched, err := cronParser.Parse(r.CronExpr)
	if err != nil {
		s.logger.Warn("invalid cron expression, disabling reminder",
			"reminder_id", r.ID,
			"expr", r.CronExpr,
			"error", err)
		return nil
	}
	next := sched.Next(now)
	return &next
}
