// Package scheduler is the Scheduler / Monitors component (spec.md C4): two
// cooperative, cancellable loops that drive periodic refresh/expire and
// time-of-day reminder dispatch. Exactly one replica's loops may run at a
// time across a deployment; the leader lock that enforces this lives in
// cmd/scheduler, not here — Scheduler itself is lock-agnostic so it can be
// unit tested without a Redis dependency.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/olegeech-me/statustracker/internal/fabric"
	"github.com/olegeech-me/statustracker/internal/model"
	"github.com/olegeech-me/statustracker/internal/store"
	"github.com/olegeech-me/statustracker/pkg/concurrency"
	"github.com/olegeech-me/statustracker/pkg/logger"
)

// reminderTick is the ReminderMonitor's fixed period (spec.md §4.4).
const reminderTick = 60 * time.Second

// Config configures a Scheduler's two monitor loops.
type Config struct {
	// SchedulerPeriod is the ApplicationMonitor's tick period.
	SchedulerPeriod time.Duration

	// RefreshPeriod and NotFoundRefreshPeriod gate FetchApplicationsNeedingUpdate.
	RefreshPeriod         time.Duration
	NotFoundRefreshPeriod time.Duration

	// NotFoundMaxAge gates FetchApplicationsToExpire.
	NotFoundMaxAge time.Duration

	// Location is the fixed civil timezone the ReminderMonitor compares
	// wall-clock (hour, minute) against.
	Location *time.Location
}

// Scheduler owns Store (to discover due work) and Fabric (to publish it).
type Scheduler struct {
	store store.Store
	fab   *fabric.Fabric
	cfg   Config
	clock func() time.Time
}

// New wires a Scheduler from its collaborators, filling sensible defaults
// for any zero-valued Config fields.
func New(st store.Store, f *fabric.Fabric, cfg Config) *Scheduler {
	if cfg.SchedulerPeriod <= 0 {
		cfg.SchedulerPeriod = time.Hour
	}
	if cfg.RefreshPeriod <= 0 {
		cfg.RefreshPeriod = time.Hour
	}
	if cfg.NotFoundRefreshPeriod <= 0 {
		cfg.NotFoundRefreshPeriod = 6 * time.Hour
	}
	if cfg.NotFoundMaxAge <= 0 {
		cfg.NotFoundMaxAge = 30 * 24 * time.Hour
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Scheduler{store: st, fab: f, cfg: cfg, clock: time.Now}
}

// Run starts both monitor loops and blocks until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	done := make(chan struct{}, 2)

	concurrency.SafeGo(ctx, func() {
		s.runApplicationMonitor(ctx)
		done <- struct{}{}
	})
	concurrency.SafeGo(ctx, func() {
		s.runReminderMonitor(ctx)
		done <- struct{}{}
	})

	<-done
	<-done
}

func (s *Scheduler) runApplicationMonitor(ctx context.Context) {
	logger.L().InfoContext(ctx, "scheduler: application monitor started", "period", s.cfg.SchedulerPeriod)
	ticker := time.NewTicker(s.cfg.SchedulerPeriod)
	defer ticker.Stop()

	for {
		s.TickApplicationMonitor(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// TickApplicationMonitor implements spec.md §4.4's ApplicationMonitor body:
// refresh the stale, expire the long-stuck not-found. Exported so tests can
// drive a single tick deterministically; Run calls it on every tick.
func (s *Scheduler) TickApplicationMonitor(ctx context.Context) {
	due, err := s.store.FetchApplicationsNeedingUpdate(ctx, s.cfg.RefreshPeriod, s.cfg.NotFoundRefreshPeriod)
	if err != nil {
		logger.L().ErrorContext(ctx, "scheduler: failed to fetch applications needing update", "error", err)
	} else {
		for _, app := range due {
			s.publishRefresh(ctx, app)
		}
	}

	expiring, err := s.store.FetchApplicationsToExpire(ctx, s.cfg.NotFoundMaxAge)
	if err != nil {
		logger.L().ErrorContext(ctx, "scheduler: failed to fetch applications to expire", "error", err)
		return
	}
	for _, app := range expiring {
		s.publishExpiration(ctx, app)
	}
}

func (s *Scheduler) publishRefresh(ctx context.Context, app *model.Application) {
	job := &model.JobMessage{
		ChatID:        app.ChatID,
		Number:        app.Number,
		Type:          app.Type,
		Year:          app.Year,
		RequestType:   model.RequestRefresh,
		ForceRefresh:  false,
		Failed:        false,
		LastUpdated:   isoOrZero(app.LastUpdated),
		ApplicationID: app.ID,
	}
	if app.Suffix != nil {
		job.Suffix = fmt.Sprintf("%d", *app.Suffix)
	}
	if err := s.fab.Publish(ctx, model.QueueRefreshStatus, job, nil); err != nil {
		logger.L().ErrorContext(ctx, "scheduler: failed to publish refresh", "application_id", app.ID, "error", err)
	}
}

func (s *Scheduler) publishExpiration(ctx context.Context, app *model.Application) {
	job := &model.JobMessage{
		ChatID:        app.ChatID,
		Number:        app.Number,
		Type:          app.Type,
		Year:          app.Year,
		RequestType:   model.RequestExpire,
		ApplicationID: app.ID,
	}
	if err := s.fab.Publish(ctx, model.QueueExpiration, job, nil); err != nil {
		logger.L().ErrorContext(ctx, "scheduler: failed to publish expiration", "application_id", app.ID, "error", err)
	}
}

func (s *Scheduler) runReminderMonitor(ctx context.Context) {
	logger.L().InfoContext(ctx, "scheduler: reminder monitor started")
	ticker := time.NewTicker(reminderTick)
	defer ticker.Stop()

	for {
		s.TickReminderMonitor(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// TickReminderMonitor implements spec.md §4.4's ReminderMonitor body. A
// fired reminder is one-shot (model.Reminder's contract): it is deleted
// once dispatched so the same wall-clock minute doesn't re-fire it on a
// later day.
func (s *Scheduler) TickReminderMonitor(ctx context.Context) {
	now := s.clock().In(s.cfg.Location)
	due, err := s.store.FetchDueReminders(ctx, now.Hour(), now.Minute())
	if err != nil {
		logger.L().ErrorContext(ctx, "scheduler: failed to fetch due reminders", "error", err)
		return
	}

	for _, r := range due {
		app, err := s.store.FetchApplication(ctx, r.ApplicationID)
		if err != nil {
			logger.L().WarnContext(ctx, "scheduler: reminder references missing application, dropping",
				"reminder_id", r.ID, "application_id", r.ApplicationID, "error", err)
			continue
		}

		job := &model.JobMessage{
			ChatID:        r.ChatID,
			Number:        app.Number,
			Type:          app.Type,
			Year:          app.Year,
			RequestType:   model.RequestFetch,
			ForceRefresh:  true,
			IsReminder:    true,
			ApplicationID: app.ID,
		}
		if app.Suffix != nil {
			job.Suffix = fmt.Sprintf("%d", *app.Suffix)
		}
		if err := s.fab.Publish(ctx, model.QueueApplicationFetch, job, nil); err != nil {
			logger.L().ErrorContext(ctx, "scheduler: failed to publish reminder fetch", "reminder_id", r.ID, "error", err)
			continue
		}
		if err := s.store.DeleteReminder(ctx, r.ID); err != nil {
			logger.L().WarnContext(ctx, "scheduler: failed to delete fired reminder", "reminder_id", r.ID, "error", err)
		}
	}
}

func isoOrZero(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return t.UTC().Format(time.RFC3339)
}
