package scheduler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegeech-me/statustracker/internal/fabric"
	"github.com/olegeech-me/statustracker/internal/model"
	"github.com/olegeech-me/statustracker/internal/store"
	cachememory "github.com/olegeech-me/statustracker/pkg/cache/adapters/memory"
	"github.com/olegeech-me/statustracker/pkg/messaging"
	brokermemory "github.com/olegeech-me/statustracker/pkg/messaging/adapters/memory"
)

// tapQueue subscribes to queue immediately and relays every delivery onto a
// buffered channel, matching internal/fetcher's test pattern: the in-memory
// broker is pure fanout, so a consumer must exist before the publish fires.
func tapQueue(t *testing.T, broker *brokermemory.Broker, queue string) <-chan *messaging.Message {
	t.Helper()
	consumer, err := broker.Consumer(queue, "test")
	require.NoError(t, err)

	ch := make(chan *messaging.Message, 16)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = consumer.Close()
	})

	go func() {
		_ = consumer.Consume(ctx, func(ctx context.Context, msg *messaging.Message) error {
			ch <- msg
			return nil
		})
	}()
	return ch
}

func awaitMessage(t *testing.T, ch <-chan *messaging.Message, timeout time.Duration) *messaging.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a message")
		return nil
	}
}

func assertNoMessage(t *testing.T, ch <-chan *messaging.Message, wait time.Duration) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("unexpected message: %s", msg.Payload)
	case <-time.After(wait):
	}
}

func newTestScheduler(t *testing.T, clock func() time.Time, cfg Config) (*Scheduler, store.Store, *brokermemory.Broker) {
	t.Helper()
	st := store.NewMemoryStore(clock)
	broker := brokermemory.New(brokermemory.Config{})
	f, err := fabric.New(broker, cachememory.New(), fabric.Config{})
	require.NoError(t, err)
	s := New(st, f, cfg)
	s.clock = clock
	return s, st, broker
}

func TestTickApplicationMonitorPublishesRefreshForStaleApplication(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	s, st, broker := newTestScheduler(t, clock, Config{RefreshPeriod: time.Hour, NotFoundRefreshPeriod: 6 * time.Hour, NotFoundMaxAge: 30 * 24 * time.Hour})
	refreshes := tapQueue(t, broker, model.QueueRefreshStatus)

	app := &model.Application{ChatID: 1, Number: "12345", Type: "TP", Year: 2023, ApplicationState: model.StateInProgress}
	require.NoError(t, st.InsertApplication(context.Background(), app))

	// Push LastUpdated far enough into the past to be overdue.
	now = now.Add(2 * time.Hour)
	s.TickApplicationMonitor(context.Background())

	msg := awaitMessage(t, refreshes, time.Second)
	var got model.JobMessage
	require.NoError(t, json.Unmarshal(msg.Payload, &got))
	assert.Equal(t, model.RequestRefresh, got.RequestType)
	assert.Equal(t, "12345", got.Number)
	assert.False(t, got.ForceRefresh)
	assert.Equal(t, app.ID, got.ApplicationID)
}

func TestTickApplicationMonitorSkipsFreshApplication(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	s, st, broker := newTestScheduler(t, clock, Config{RefreshPeriod: time.Hour, NotFoundRefreshPeriod: 6 * time.Hour, NotFoundMaxAge: 30 * 24 * time.Hour})
	refreshes := tapQueue(t, broker, model.QueueRefreshStatus)

	app := &model.Application{ChatID: 1, Number: "12345", Type: "TP", Year: 2023, ApplicationState: model.StateInProgress}
	require.NoError(t, st.InsertApplication(context.Background(), app))

	s.TickApplicationMonitor(context.Background())

	assertNoMessage(t, refreshes, 50*time.Millisecond)
}

func TestTickApplicationMonitorExpiresOldNotFound(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	s, st, broker := newTestScheduler(t, clock, Config{RefreshPeriod: time.Hour, NotFoundRefreshPeriod: 6 * time.Hour, NotFoundMaxAge: 24 * time.Hour})
	expirations := tapQueue(t, broker, model.QueueExpiration)

	app := &model.Application{ChatID: 1, Number: "99999", Type: "TP", Year: 2023, ApplicationState: model.StateNotFound}
	require.NoError(t, st.InsertApplication(context.Background(), app))

	now = now.Add(48 * time.Hour)
	s.TickApplicationMonitor(context.Background())

	msg := awaitMessage(t, expirations, time.Second)
	var got model.JobMessage
	require.NoError(t, json.Unmarshal(msg.Payload, &got))
	assert.Equal(t, model.RequestExpire, got.RequestType)
	assert.Equal(t, app.ID, got.ApplicationID)
}

func TestTickReminderMonitorFiresAndDeletesReminder(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 7, 30, 9, 30, 0, 0, loc)
	clock := func() time.Time { return now }
	s, st, broker := newTestScheduler(t, clock, Config{Location: loc})
	fetches := tapQueue(t, broker, model.QueueApplicationFetch)

	app := &model.Application{ChatID: 7, Number: "55555", Type: "TP", Year: 2024, ApplicationState: model.StateInProgress}
	require.NoError(t, st.InsertApplication(context.Background(), app))

	reminder := &model.Reminder{ChatID: 7, ApplicationID: app.ID, ReminderTime: time.Date(0, 1, 1, 9, 30, 0, 0, loc)}
	require.NoError(t, st.InsertReminder(context.Background(), reminder))

	s.TickReminderMonitor(context.Background())

	msg := awaitMessage(t, fetches, time.Second)
	var got model.JobMessage
	require.NoError(t, json.Unmarshal(msg.Payload, &got))
	assert.Equal(t, model.RequestFetch, got.RequestType)
	assert.True(t, got.ForceRefresh)
	assert.True(t, got.IsReminder)
	assert.Equal(t, "55555", got.Number)

	remaining, err := st.FetchUserReminders(context.Background(), 7)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestTickReminderMonitorSkipsOffMinute(t *testing.T) {
	loc := time.UTC
	now := time.Date(2026, 7, 30, 9, 31, 0, 0, loc)
	clock := func() time.Time { return now }
	s, st, broker := newTestScheduler(t, clock, Config{Location: loc})
	fetches := tapQueue(t, broker, model.QueueApplicationFetch)

	app := &model.Application{ChatID: 7, Number: "55555", Type: "TP", Year: 2024, ApplicationState: model.StateInProgress}
	require.NoError(t, st.InsertApplication(context.Background(), app))

	reminder := &model.Reminder{ChatID: 7, ApplicationID: app.ID, ReminderTime: time.Date(0, 1, 1, 9, 30, 0, 0, loc)}
	require.NoError(t, st.InsertReminder(context.Background(), reminder))

	s.TickReminderMonitor(context.Background())

	assertNoMessage(t, fetches, 50*time.Millisecond)

	remaining, err := st.FetchUserReminders(context.Background(), 7)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}
