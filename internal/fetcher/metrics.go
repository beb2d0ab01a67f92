package fetcher

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/olegeech-me/statustracker/internal/fabric"
	"github.com/olegeech-me/statustracker/internal/metricshub"
	"github.com/olegeech-me/statustracker/internal/model"
	"github.com/olegeech-me/statustracker/pkg/logger"
	"github.com/olegeech-me/statustracker/pkg/messaging"
)

// latencyBufferSize bounds the deque of retained latency samples
// (spec.md §4.3's "latency samples (bounded deque)").
const latencyBufferSize = 256

// Metrics accumulates sliding counters and latency samples for one Fetcher
// process, periodically snapshotted onto FetcherMetricsQueue.
type Metrics struct {
	fetcherID string

	mu        sync.Mutex
	succeeded int64
	failed    int64
	retried   int64
	latencies []int64

	// waiting and locked are live gauges: how many requests are currently
	// sleeping out jitter, and how many currently hold a per-key
	// processing lock (internal/fetcher/keyset.go's fetching/refreshing
	// sets). Unlike succeeded/failed/retried/latencies, these are not
	// reset on Snapshot.
	waiting int64
	locked  int64

	// probeLatencyMillis is the most recent standalone portal latency
	// probe (RunMetricsPublisher), independent of real fetch traffic.
	probeLatencyMillis int64
}

// NewMetrics creates an empty metrics collector for fetcherID.
func NewMetrics(fetcherID string) *Metrics {
	return &Metrics{fetcherID: fetcherID}
}

func (m *Metrics) IncSucceeded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.succeeded++
}

func (m *Metrics) IncFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed++
}

func (m *Metrics) IncRetried() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retried++
}

// IncWaiting/DecWaiting track a request currently sleeping out jitter.
func (m *Metrics) IncWaiting() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waiting++
}

func (m *Metrics) DecWaiting() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waiting--
}

// IncLocked/DecLocked track a request currently holding a per-key
// processing lock.
func (m *Metrics) IncLocked() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked++
}

func (m *Metrics) DecLocked() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked--
}

// SetProbeLatency records the latency of a standalone portal probe,
// independent of any real fetch/refresh traffic.
func (m *Metrics) SetProbeLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probeLatencyMillis = d.Milliseconds()
}

// ObserveLatency records a fetch's wall-clock duration, keeping at most
// the most recent latencyBufferSize samples.
func (m *Metrics) ObserveLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies = append(m.latencies, d.Milliseconds())
	if over := len(m.latencies) - latencyBufferSize; over > 0 {
		m.latencies = m.latencies[over:]
	}
}

// Snapshot materializes the current counters into a metricshub.Snapshot
// and resets the sliding counters, matching spec.md §4.3's "sliding
// counters ... pruned by TTL" at the collection boundary rather than per
// sample.
func (m *Metrics) Snapshot() metricshub.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := metricshub.Snapshot{
		FetcherID:          m.fetcherID,
		Succeeded:          m.succeeded,
		Failed:             m.failed,
		Retried:            m.retried,
		LatencyMillis:      append([]int64(nil), m.latencies...),
		Waiting:            m.waiting,
		Locked:             m.locked,
		ProbeLatencyMillis: m.probeLatencyMillis,
	}
	m.succeeded, m.failed, m.retried = 0, 0, 0
	m.latencies = nil
	return snap
}

// RunMetricsPublisher periodically publishes a metrics snapshot onto
// FetcherMetricsQueue until ctx is canceled.
func (w *Worker) RunMetricsPublisher(ctx context.Context, period time.Duration) {
	if period <= 0 {
		period = 30 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.publishMetricsSnapshot(ctx)
		}
	}
}

func (w *Worker) publishMetricsSnapshot(ctx context.Context) {
	if latency, err := w.browser.Probe(ctx, w.cfg.URL); err != nil {
		logger.L().WarnContext(ctx, "fetcher: portal latency probe failed", "error", err)
	} else {
		w.metrics.SetProbeLatency(latency)
	}

	snap := w.metrics.Snapshot()
	payload, err := json.Marshal(snap)
	if err != nil {
		logger.L().ErrorContext(ctx, "fetcher: failed to encode metrics snapshot", "error", err)
		return
	}
	if err := w.publishMetrics(ctx, payload); err != nil {
		logger.L().WarnContext(ctx, "fetcher: failed to publish metrics snapshot", "error", err)
	}
}

func (w *Worker) publishMetrics(ctx context.Context, payload []byte) error {
	return w.fabric.PublishRaw(ctx, model.QueueFetcherMetrics, payload, nil)
}

// MetricsConsumer relays FetcherMetricsQueue deliveries into a shared Hub, so the
// operator view (internal/adminapi) sees every Fetcher process's latest
// snapshot regardless of which process is running it.
type MetricsConsumer struct {
	fabric *fabric.Fabric
	hub    *metricshub.Hub
}

// NewMetricsConsumer wires a MetricsConsumer from its collaborators.
func NewMetricsConsumer(f *fabric.Fabric, hub *metricshub.Hub) *MetricsConsumer {
	return &MetricsConsumer{fabric: f, hub: hub}
}

// Run consumes FetcherMetricsQueue until ctx is canceled.
func (c *MetricsConsumer) Run(ctx context.Context) error {
	return c.fabric.Consume(ctx, model.QueueFetcherMetrics, "metrics-hub", c.handle)
}

func (c *MetricsConsumer) handle(ctx context.Context, msg *messaging.Message) error {
	var snap metricshub.Snapshot
	if err := json.Unmarshal(msg.Payload, &snap); err != nil {
		logger.L().ErrorContext(ctx, "metricshub: malformed snapshot", "error", err)
		return nil
	}
	return c.hub.Update(ctx, snap.FetcherID, snap)
}
