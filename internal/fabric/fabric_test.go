package fabric

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegeech-me/statustracker/internal/model"
	cachememory "github.com/olegeech-me/statustracker/pkg/cache/adapters/memory"
	"github.com/olegeech-me/statustracker/pkg/messaging"
	brokermemory "github.com/olegeech-me/statustracker/pkg/messaging/adapters/memory"
)

func newTestFabric(t *testing.T, clock func() time.Time) *Fabric {
	t.Helper()
	broker := brokermemory.New(brokermemory.Config{})
	f, err := New(broker, cachememory.New(), Config{RequeueTTL: time.Hour, Clock: clock})
	require.NoError(t, err)
	return f
}

func TestPublishDedupWithinTTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := newTestFabric(t, func() time.Time { return now })

	var published int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = f.Consume(ctx, model.QueueRefreshStatus, "test", func(ctx context.Context, msg *messaging.Message) error {
			atomic.AddInt32(&published, 1)
			return nil
		})
	}()
	// The memory broker only delivers to consumers already registered.
	time.Sleep(20 * time.Millisecond)

	job := &model.JobMessage{ChatID: 1, Number: "1", Type: "TP", Year: 2024, RequestType: model.RequestRefresh, LastUpdated: "0"}

	require.NoError(t, f.Publish(context.Background(), model.QueueRefreshStatus, job, nil))
	require.NoError(t, f.Publish(context.Background(), model.QueueRefreshStatus, job, nil))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&published))
}

func TestDiscardAllowsRepublish(t *testing.T) {
	f := newTestFabric(t, nil)
	job := &model.JobMessage{ChatID: 2, Number: "2", Type: "TP", Year: 2024, RequestType: model.RequestFetch, LastUpdated: "0"}

	require.NoError(t, f.Publish(context.Background(), model.QueueApplicationFetch, job, nil))
	require.NoError(t, f.Discard(context.Background(), job))

	// After discard, the fingerprint should no longer dedup; publishing
	// again must not error.
	require.NoError(t, f.Publish(context.Background(), model.QueueApplicationFetch, job, nil))
}

func TestFingerprintExcludesStatus(t *testing.T) {
	base := &model.JobMessage{ChatID: 1, Number: "1", Type: "TP", Year: 2024, RequestType: model.RequestRefresh, LastUpdated: "0"}
	withStatus := *base
	withStatus.Status = "zpracovava se"

	assert.Equal(t, Fingerprint(base), Fingerprint(&withStatus))
}
