package fetcher

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegeech-me/statustracker/internal/fabric"
	"github.com/olegeech-me/statustracker/internal/model"
	cachememory "github.com/olegeech-me/statustracker/pkg/cache/adapters/memory"
	"github.com/olegeech-me/statustracker/pkg/messaging"
	brokermemory "github.com/olegeech-me/statustracker/pkg/messaging/adapters/memory"
)

func mustMessage(t *testing.T, job model.JobMessage) *messaging.Message {
	t.Helper()
	b, err := json.Marshal(job)
	require.NoError(t, err)
	return &messaging.Message{Payload: b}
}

func decodeMessage(t *testing.T, msg *messaging.Message, out *model.JobMessage) {
	t.Helper()
	require.NoError(t, json.Unmarshal(msg.Payload, out))
}

// fakeBrowserEngine is a scripted BrowserEngine double: each call pops the
// next canned result.
type fakeBrowserEngine struct {
	mu      sync.Mutex
	results []fakeResult
	calls   int
}

type fakeResult struct {
	status string
	err    error
}

func (f *fakeBrowserEngine) Fetch(ctx context.Context, url string, job model.JobMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls >= len(f.results) {
		return "", assert.AnError
	}
	r := f.results[f.calls]
	f.calls++
	return r.status, r.err
}

func (f *fakeBrowserEngine) Probe(ctx context.Context, url string) (time.Duration, error) {
	return 0, nil
}

func (f *fakeBrowserEngine) Close() error { return nil }

func (f *fakeBrowserEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestWorker(t *testing.T, browser BrowserEngine, cfg Config) (*Worker, *brokermemory.Broker) {
	t.Helper()
	broker := brokermemory.New(brokermemory.Config{})
	f, err := fabric.New(broker, cachememory.New(), fabric.Config{})
	require.NoError(t, err)
	cfg.JitterSeconds = 1
	return New(f, browser, cfg), broker
}

// tapQueue subscribes to queue immediately and relays every delivery onto
// the returned channel, so a test can register interest before triggering
// the publish that the in-memory broker's fanout would otherwise miss.
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

func testJob() model.JobMessage {
	return model.JobMessage{ChatID: 1, Number: "12345", Type: "TP", Year: 2023}
}

func TestProcessSuccessPublishesStatus(t *testing.T) {
	browser := &fakeBrowserEngine{results: []fakeResult{{status: "… 12345 … zpracovává se …"}}}
	w, broker := newTestWorker(t, browser, Config{MaxRetries: 2, MaxMessages: 10})
	updates := tapQueue(t, broker, model.QueueStatusUpdate)

	require.NoError(t, w.handleFetch(context.Background(), mustMessage(t, testJob())))

	var got model.JobMessage
	decodeMessage(t, awaitMessage(t, updates, time.Second), &got)
	assert.False(t, got.Failed)
	assert.Contains(t, got.Status, "12345")
}

func TestProcessNumberConsistencyGuardTreatsMismatchAsFailure(t *testing.T) {
	browser := &fakeBrowserEngine{results: []fakeResult{
		{status: "… 99999 … zpracovává se …"},
		{status: "… 99999 … zpracovává se …"},
		{status: "… 99999 … zpracovává se …"},
	}}
	w, broker := newTestWorker(t, browser, Config{MaxRetries: 2, MaxMessages: 10})
	retries := tapQueue(t, broker, model.QueueApplicationFetch)
	updates := tapQueue(t, broker, model.QueueStatusUpdate)

	require.NoError(t, w.handleFetch(context.Background(), mustMessage(t, testJob())))

	// Every attempt mismatches the application number, so the delivery
	// bounces through ApplicationFetchQueue until retries are exhausted.
	for i := 0; i < 2; i++ {
		retry := awaitMessage(t, retries, time.Second)
		require.NoError(t, w.handleFetch(context.Background(), retry))
	}

	var got model.JobMessage
	decodeMessage(t, awaitMessage(t, updates, time.Second), &got)
	assert.True(t, got.Failed)
	assert.Contains(t, got.Status, "12345")
}

func TestProcessRetriesThenSucceeds(t *testing.T) {
	browser := &fakeBrowserEngine{results: []fakeResult{
		{err: assert.AnError},
		{status: "… 12345 … bylo povoleno …"},
	}}
	w, broker := newTestWorker(t, browser, Config{MaxRetries: 3, MaxMessages: 10})
	retries := tapQueue(t, broker, model.QueueApplicationFetch)
	updates := tapQueue(t, broker, model.QueueStatusUpdate)

	require.NoError(t, w.handleFetch(context.Background(), mustMessage(t, testJob())))

	retry := awaitMessage(t, retries, time.Second)
	assert.Equal(t, "1", retry.Headers[model.RetryCountHeader])

	require.NoError(t, w.handleFetch(context.Background(), retry))

	var got model.JobMessage
	decodeMessage(t, awaitMessage(t, updates, time.Second), &got)
	assert.False(t, got.Failed)
	assert.Equal(t, 2, browser.callCount())
}

func TestProcessRetryExhaustionEscalatesWithNumberEmbedded(t *testing.T) {
	browser := &fakeBrowserEngine{results: []fakeResult{
		{err: assert.AnError},
		{err: assert.AnError},
	}}
	w, broker := newTestWorker(t, browser, Config{MaxRetries: 1, MaxMessages: 10})
	retries := tapQueue(t, broker, model.QueueApplicationFetch)
	updates := tapQueue(t, broker, model.QueueStatusUpdate)

	job := testJob()
	require.NoError(t, w.handleFetch(context.Background(), mustMessage(t, job)))

	retry := awaitMessage(t, retries, time.Second)
	require.NoError(t, w.handleFetch(context.Background(), retry))

	var got model.JobMessage
	decodeMessage(t, awaitMessage(t, updates, time.Second), &got)
	assert.True(t, got.Failed)
	// The synthesized failure text must still carry the application
	// number, or the Reconciler's own number-presence check would drop
	// this escalation on the floor instead of surfacing it to the user.
	assert.Contains(t, got.Status, job.Number)
}

func TestProcessSkipsDuplicateFetchInFlight(t *testing.T) {
	release := make(chan struct{})
	browser := &blockingBrowser{release: release, status: "… 12345 … zpracovává se …"}
	w, broker := newTestWorker(t, browser, Config{MaxRetries: 1, MaxMessages: 10})
	updates := tapQueue(t, broker, model.QueueStatusUpdate)

	job := testJob()
	firstDone := make(chan struct{})
	go func() {
		_ = w.handleFetch(context.Background(), mustMessage(t, job))
		close(firstDone)
	}()

	// Give the first delivery time to acquire the key before the second
	// one races in and should be skipped outright.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, w.handleFetch(context.Background(), mustMessage(t, job)))

	close(release)
	<-firstDone

	awaitMessage(t, updates, time.Second)
	assert.Equal(t, 1, browser.calls())
}

func TestProcessRefreshSkippedWhileFetchInFlight(t *testing.T) {
	release := make(chan struct{})
	browser := &blockingBrowser{release: release, status: "… 12345 … zpracovává se …"}
	w, _ := newTestWorker(t, browser, Config{MaxRetries: 1, MaxMessages: 10})

	job := testJob()
	fetchDone := make(chan struct{})
	go func() {
		_ = w.handleFetch(context.Background(), mustMessage(t, job))
		close(fetchDone)
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, w.handleRefresh(context.Background(), mustMessage(t, job)))

	close(release)
	<-fetchDone

	assert.Equal(t, 1, browser.calls())
}

func TestProcessRetryBypassesKeySkip(t *testing.T) {
	browser := &fakeBrowserEngine{results: []fakeResult{
		{err: assert.AnError},
		{status: "… 12345 … zpracovává se …"},
	}}
	w, broker := newTestWorker(t, browser, Config{MaxRetries: 2, MaxMessages: 10})
	retries := tapQueue(t, broker, model.QueueApplicationFetch)
	updates := tapQueue(t, broker, model.QueueStatusUpdate)

	require.NoError(t, w.handleFetch(context.Background(), mustMessage(t, testJob())))

	retry := awaitMessage(t, retries, time.Second)
	// The key was released after the first attempt, so the retry (which
	// carries retryCount>0) must not be skipped as a duplicate.
	require.NoError(t, w.handleFetch(context.Background(), retry))

	var got model.JobMessage
	decodeMessage(t, awaitMessage(t, updates, time.Second), &got)
	assert.False(t, got.Failed)
}

func TestProcessTripsRateBreakerAfterMaxMessages(t *testing.T) {
	browser := &fakeBrowserEngine{results: []fakeResult{
		{status: "… 111 … zpracovává se …"},
		{status: "… 222 … zpracovává se …"},
		{status: "… 333 … zpracovává se …"},
	}}
	w, broker := newTestWorker(t, browser, Config{MaxRetries: 1, MaxMessages: 2, CoolOffDuration: time.Hour})
	updates := tapQueue(t, broker, model.QueueStatusUpdate)

	for _, number := range []string{"111", "222"} {
		job := model.JobMessage{ChatID: 1, Number: number, Type: "TP", Year: 2023}
		require.NoError(t, w.handleFetch(context.Background(), mustMessage(t, job)))
		awaitMessage(t, updates, time.Second)
	}

	job := model.JobMessage{ChatID: 1, Number: "333", Type: "TP", Year: 2023}
	err := w.handleFetch(context.Background(), mustMessage(t, job))
	require.Error(t, err)
	assert.Equal(t, 2, browser.callCount())
}

// blockingBrowser holds the browser's goroutine open on release, so tests
// can deterministically assert a second delivery was skipped while the
// first is still in flight.
type blockingBrowser struct {
	mu      sync.Mutex
	n       int
	release chan struct{}
	status  string
}

func (b *blockingBrowser) Fetch(ctx context.Context, url string, job model.JobMessage) (string, error) {
	b.mu.Lock()
	b.n++
	b.mu.Unlock()
	<-b.release
	return b.status, nil
}

func (b *blockingBrowser) Probe(ctx context.Context, url string) (time.Duration, error) {
	return 0, nil
}

func (b *blockingBrowser) Close() error { return nil }

func (b *blockingBrowser) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}
