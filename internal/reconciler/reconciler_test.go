package reconciler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegeech-me/statustracker/internal/fabric"
	"github.com/olegeech-me/statustracker/internal/model"
	"github.com/olegeech-me/statustracker/internal/notifier"
	"github.com/olegeech-me/statustracker/internal/store"
	cachememory "github.com/olegeech-me/statustracker/pkg/cache/adapters/memory"
	chatmemory "github.com/olegeech-me/statustracker/pkg/communication/chat/adapters/memory"
	"github.com/olegeech-me/statustracker/pkg/messaging"
	brokermemory "github.com/olegeech-me/statustracker/pkg/messaging/adapters/memory"
)

func newTestReconciler(t *testing.T) (*Reconciler, store.Store, *chatmemory.Sender) {
	t.Helper()
	st := store.NewMemoryStore(nil)
	broker := brokermemory.New(brokermemory.Config{})
	f, err := fabric.New(broker, cachememory.New(), fabric.Config{})
	require.NoError(t, err)
	sender := chatmemory.New()
	n := notifier.New(sender, notifier.Config{MaxRetries: 1, InitialBackoff: time.Millisecond})
	return New(st, n, f), st, sender
}

func mustPayload(t *testing.T, job model.JobMessage) *messaging.Message {
	t.Helper()
	b, err := json.Marshal(job)
	require.NoError(t, err)
	return &messaging.Message{Payload: b}
}

func seedApplication(t *testing.T, st store.Store, chatID int64, status string, state model.ApplicationState) *model.Application {
	t.Helper()
	require.NoError(t, st.InsertUser(context.Background(), &model.User{ChatID: chatID, Language: "en"}))
	app := &model.Application{ChatID: chatID, Number: "12345", Type: "TP", Year: 2023, CurrentStatus: status, ApplicationState: state}
	require.NoError(t, st.InsertApplication(context.Background(), app))
	return app
}

func TestHandleStatusUpdateFirstSighting(t *testing.T) {
	r, st, sender := newTestReconciler(t)
	app := seedApplication(t, st, 42, "", model.StateUnknown)

	job := model.JobMessage{
		ChatID: 42, Number: "12345", Type: "TP", Year: 2023,
		RequestType: model.RequestFetch, ApplicationID: app.ID,
		Status: "… 12345 … zpracovává se …",
	}

	require.NoError(t, r.HandleStatusUpdate(context.Background(), mustPayload(t, job)))

	got, err := st.FetchApplication(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateInProgress, got.ApplicationState)
	assert.False(t, got.IsResolved)
	assert.Equal(t, got.ChangedAt, got.LastUpdated)
	assert.Len(t, sender.SentMessages(), 1)
}

func TestHandleStatusUpdateNoChangeRefresh(t *testing.T) {
	r, st, sender := newTestReconciler(t)
	app := seedApplication(t, st, 42, "… 12345 … zpracovává se …", model.StateInProgress)
	before, _ := st.FetchApplication(context.Background(), app.ID)

	job := model.JobMessage{
		ChatID: 42, Number: "12345", Type: "TP", Year: 2023,
		RequestType: model.RequestRefresh, ApplicationID: app.ID,
		Status: "… 12345 … zpracovává se …",
	}
	require.NoError(t, r.HandleStatusUpdate(context.Background(), mustPayload(t, job)))

	after, err := st.FetchApplication(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, before.ChangedAt, after.ChangedAt)
	assert.Empty(t, sender.SentMessages())
}

func TestHandleStatusUpdateResolution(t *testing.T) {
	r, st, sender := newTestReconciler(t)
	app := seedApplication(t, st, 42, "… 12345 … zpracovává se …", model.StateInProgress)

	job := model.JobMessage{
		ChatID: 42, Number: "12345", Type: "TP", Year: 2023,
		RequestType: model.RequestRefresh, ApplicationID: app.ID,
		Status: "… 12345 … bylo povoleno …",
	}
	require.NoError(t, r.HandleStatusUpdate(context.Background(), mustPayload(t, job)))

	got, err := st.FetchApplication(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateApproved, got.ApplicationState)
	assert.True(t, got.IsResolved)
	assert.Len(t, sender.SentMessages(), 1)
}

func TestHandleStatusUpdateNumberMismatchDropped(t *testing.T) {
	r, st, sender := newTestReconciler(t)
	app := seedApplication(t, st, 42, "… 12345 … zpracovává se …", model.StateInProgress)

	job := model.JobMessage{
		ChatID: 42, Number: "12345", Type: "TP", Year: 2023,
		RequestType: model.RequestRefresh, ApplicationID: app.ID,
		Status: "… 1234 … bylo povoleno …",
	}
	require.NoError(t, r.HandleStatusUpdate(context.Background(), mustPayload(t, job)))

	got, err := st.FetchApplication(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateInProgress, got.ApplicationState)
	assert.Empty(t, sender.SentMessages())
}

func TestHandleStatusUpdateTransientRefreshFailureDropped(t *testing.T) {
	r, st, sender := newTestReconciler(t)
	app := seedApplication(t, st, 42, "… 12345 … zpracovává se …", model.StateInProgress)

	job := model.JobMessage{
		ChatID: 42, Number: "12345", Type: "TP", Year: 2023,
		RequestType: model.RequestRefresh, ApplicationID: app.ID,
		Failed: true, Status: "ERROR: could not reach portal for 12345",
	}
	require.NoError(t, r.HandleStatusUpdate(context.Background(), mustPayload(t, job)))

	got, err := st.FetchApplication(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateInProgress, got.ApplicationState)
	assert.False(t, got.IsResolved)
	assert.Empty(t, sender.SentMessages())
}

func TestHandleStatusUpdateFetchFailureEscalates(t *testing.T) {
	r, st, sender := newTestReconciler(t)
	app := seedApplication(t, st, 42, "", model.StateUnknown)

	job := model.JobMessage{
		ChatID: 42, Number: "12345", Type: "TP", Year: 2023,
		RequestType: model.RequestFetch, ApplicationID: app.ID,
		Failed: true, Status: "ERROR: could not reach portal for 12345",
	}
	require.NoError(t, r.HandleStatusUpdate(context.Background(), mustPayload(t, job)))

	got, err := st.FetchApplication(context.Background(), app.ID)
	require.NoError(t, err)
	assert.True(t, got.IsResolved)
	assert.Len(t, sender.SentMessages(), 1)
}

func TestHandleStatusUpdateReminderFailureSilent(t *testing.T) {
	r, st, sender := newTestReconciler(t)
	app := seedApplication(t, st, 42, "", model.StateUnknown)

	job := model.JobMessage{
		ChatID: 42, Number: "12345", Type: "TP", Year: 2023,
		RequestType: model.RequestFetch, ApplicationID: app.ID,
		Failed: true, IsReminder: true, Status: "ERROR: could not reach portal for 12345",
	}
	require.NoError(t, r.HandleStatusUpdate(context.Background(), mustPayload(t, job)))

	got, err := st.FetchApplication(context.Background(), app.ID)
	require.NoError(t, err)
	assert.False(t, got.IsResolved)
	assert.Empty(t, sender.SentMessages())
}

func TestHandleExpirationResolvesAndNotifies(t *testing.T) {
	r, st, sender := newTestReconciler(t)
	app := seedApplication(t, st, 42, "… 12345 … nebylo nalezeno …", model.StateNotFound)

	job := model.JobMessage{ChatID: 42, ApplicationID: app.ID, RequestType: model.RequestExpire}
	require.NoError(t, r.HandleExpiration(context.Background(), mustPayload(t, job)))

	got, err := st.FetchApplication(context.Background(), app.ID)
	require.NoError(t, err)
	assert.True(t, got.IsResolved)
	assert.Len(t, sender.SentMessages(), 1)
}
