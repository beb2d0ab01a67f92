// Package reconciler is the Reconciler (spec.md C5): it consumes observed
// status updates and expirations, classifies them against the fixed
// marker table, updates the store, and hands the user-facing text to the
// Notifier.
package reconciler

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/olegeech-me/statustracker/internal/appkey"
	"github.com/olegeech-me/statustracker/internal/fabric"
	"github.com/olegeech-me/statustracker/internal/model"
	"github.com/olegeech-me/statustracker/internal/notifier"
	"github.com/olegeech-me/statustracker/internal/store"
	"github.com/olegeech-me/statustracker/pkg/concurrency"
	"github.com/olegeech-me/statustracker/pkg/logger"
	"github.com/olegeech-me/statustracker/pkg/messaging"
)

// consumerGroup names the shared consumer group for both queues the
// Reconciler owns, matching the teacher's broker-adapter convention of a
// fixed group string per logical consumer.
const consumerGroup = "reconciler"

// Reconciler owns Store, ChatSink (via Notifier) and Fabric, per spec.md
// §9's builder-ownership note. Exactly one instance should be active per
// deployment — cmd/reconciler enforces this with a leader lock.
type Reconciler struct {
	store    store.Store
	notifier *notifier.Notifier
	fabric   *fabric.Fabric
}

// New wires a Reconciler from its three collaborators.
func New(st store.Store, n *notifier.Notifier, f *fabric.Fabric) *Reconciler {
	return &Reconciler{store: st, notifier: n, fabric: f}
}

// Run consumes StatusUpdateQueue and ExpirationQueue concurrently until ctx
// is canceled, then returns once both consumer loops have exited.
func (r *Reconciler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	concurrency.SafeGo(ctx, func() {
		defer wg.Done()
		if err := r.fabric.Consume(ctx, model.QueueStatusUpdate, consumerGroup, r.HandleStatusUpdate); err != nil && ctx.Err() == nil {
			logger.L().ErrorContext(ctx, "reconciler: status update consumer stopped", "error", err)
		}
	})
	concurrency.SafeGo(ctx, func() {
		defer wg.Done()
		if err := r.fabric.Consume(ctx, model.QueueExpiration, consumerGroup, r.HandleExpiration); err != nil && ctx.Err() == nil {
			logger.L().ErrorContext(ctx, "reconciler: expiration consumer stopped", "error", err)
		}
	})

	wg.Wait()
}

// HandleStatusUpdate implements spec.md §4.5's 9-step processing algorithm
// for a single StatusUpdateQueue delivery.
func (r *Reconciler) HandleStatusUpdate(ctx context.Context, msg *messaging.Message) error {
	var job model.JobMessage
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		logger.L().ErrorContext(ctx, "reconciler: malformed status update", "error", err)
		return nil
	}

	if err := r.fabric.Discard(ctx, &job); err != nil {
		logger.L().WarnContext(ctx, "reconciler: failed to discard fingerprint", "error", err)
	}

	app, err := r.store.FetchApplication(ctx, job.ApplicationID)
	if err != nil {
		logger.L().WarnContext(ctx, "reconciler: no application for status update, dropping",
			"application_id", job.ApplicationID, "error", err)
		return nil
	}

	hasChanged := app.CurrentStatus != job.Status

	// Step 4: a transient refresh failure must never regress a known-good
	// status (spec.md §9 Open Question (a), kept as specified).
	if job.Failed && job.RequestType == model.RequestRefresh {
		return nil
	}

	// Step 5: defense-in-depth anti-aliasing guard, mirroring the
	// Fetcher's own number-consistency check.
	if !strings.Contains(job.Status, app.Number) {
		logger.L().WarnContext(ctx, "reconciler: application number missing from received status, dropping",
			"application_id", app.ID, "number", app.Number)
		return nil
	}

	// Step 6: nothing to do beyond recording the observation time.
	if !hasChanged && !job.ForceRefresh {
		return r.store.UpdateLastChecked(ctx, app.ID)
	}

	category := Classify(job.Status)
	isResolved := category.IsTerminal() || (job.Failed && job.RequestType == model.RequestFetch && !job.IsReminder)

	// Step 7: reminder-triggered fetch failures are silent.
	if job.Failed && job.IsReminder {
		return nil
	}

	if category == CategoryUnknown {
		logger.L().WarnContext(ctx, "reconciler: unrecognized status text", "application_id", app.ID, "status", job.Status)
	}

	if err := r.store.UpdateApplicationStatus(ctx, app.ID, job.Status, isResolved, category.State(), hasChanged); err != nil {
		return err
	}

	key := appkey.Key{Number: app.Number, Suffix: app.Suffix, Type: app.Type, Year: app.Year}
	lang := r.languageFor(ctx, app.ChatID)

	var text string
	if job.Failed {
		text = composeFailure(lang, key)
	} else {
		text = composeUpdate(lang, category, key)
	}

	if err := r.notifier.Notify(ctx, app.ChatID, text); err != nil {
		logger.L().ErrorContext(ctx, "reconciler: failed to notify user", "chat_id", app.ChatID, "error", err)
	}
	return nil
}

// HandleExpiration implements spec.md §4.5's Expiration consumer: resolve
// and notify, for NOT_FOUND rows the Scheduler deemed stale.
func (r *Reconciler) HandleExpiration(ctx context.Context, msg *messaging.Message) error {
	var job model.JobMessage
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		logger.L().ErrorContext(ctx, "reconciler: malformed expiration message", "error", err)
		return nil
	}

	app, err := r.store.FetchApplication(ctx, job.ApplicationID)
	if err != nil {
		logger.L().WarnContext(ctx, "reconciler: no application for expiration, dropping",
			"application_id", job.ApplicationID, "error", err)
		return nil
	}

	if err := r.store.ResolveApplication(ctx, app.ID); err != nil {
		return err
	}

	key := appkey.Key{Number: app.Number, Suffix: app.Suffix, Type: app.Type, Year: app.Year}
	lang := r.languageFor(ctx, app.ChatID)
	if err := r.notifier.Notify(ctx, app.ChatID, composeExpiration(lang, key)); err != nil {
		logger.L().ErrorContext(ctx, "reconciler: failed to notify user of expiration", "chat_id", app.ChatID, "error", err)
	}
	return nil
}

func (r *Reconciler) languageFor(ctx context.Context, chatID int64) string {
	lang, err := r.store.FetchUserLanguage(ctx, chatID)
	if err != nil || lang == "" {
		return defaultLanguage
	}
	return lang
}
