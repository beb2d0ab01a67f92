// Package metricshub is the Metrics Hub (spec.md C7): a TTL cache of
// per-fetcher metrics snapshots, aggregated for the operator HTTP view.
package metricshub

import (
	"context"
	"sync"
	"time"

	"github.com/olegeech-me/statustracker/pkg/cache"
	"github.com/olegeech-me/statustracker/pkg/concurrency"
	"github.com/olegeech-me/statustracker/pkg/errors"
)

// getAllFanOut bounds how many concurrent cache.Get calls GetAll issues;
// the operator view fans out over every known fetcher, and a Redis-backed
// cache pays a network round trip per id.
const getAllFanOut = 8

// TTL is the snapshot lifetime spec.md §4.7 specifies (~300s).
const TTL = 300 * time.Second

const keyPrefix = "metricshub:"

// Snapshot is the metrics blob a Fetcher periodically publishes.
type Snapshot struct {
	FetcherID     string    `json:"fetcher_id"`
	Succeeded     int64     `json:"succeeded"`
	Failed        int64     `json:"failed"`
	Retried       int64     `json:"retried"`
	LatencyMillis []int64   `json:"latency_millis"`
	// Waiting and Locked are live gauges, not sliding counters: the number
	// of requests currently sleeping out jitter and the number currently
	// holding a per-key processing lock, sampled at publish time.
	Waiting int64 `json:"waiting"`
	Locked  int64 `json:"locked"`
	// ProbeLatencyMillis is the most recent standalone portal latency
	// probe, measured independently of any real fetch/refresh traffic.
	ProbeLatencyMillis int64     `json:"probe_latency_millis"`
	ObservedAt         time.Time `json:"observed_at"`
}

// Hub wraps a cache.Cache with the 300s TTL baked into every Update, plus
// a mutex-guarded id set so GetAll can enumerate known fetchers — the
// generic Cache interface has no native key-listing operation.
type Hub struct {
	cache cache.Cache
	clock func() time.Time

	mu  sync.Mutex
	ids map[string]struct{}
}

// New wraps c in a Hub. clock defaults to time.Now.
func New(c cache.Cache, clock func() time.Time) *Hub {
	if clock == nil {
		clock = time.Now
	}
	return &Hub{cache: c, clock: clock, ids: make(map[string]struct{})}
}

// Update stores blob for fetcherID with the standard TTL.
func (h *Hub) Update(ctx context.Context, fetcherID string, blob Snapshot) error {
	blob.FetcherID = fetcherID
	blob.ObservedAt = h.clock()

	if err := h.cache.Set(ctx, keyPrefix+fetcherID, blob, TTL); err != nil {
		return errors.Wrap(err, "failed to store metrics snapshot")
	}

	h.mu.Lock()
	h.ids[fetcherID] = struct{}{}
	h.mu.Unlock()
	return nil
}

// Get returns the latest snapshot for fetcherID, or errors.CodeNotFound
// if it has expired or was never reported.
func (h *Hub) Get(ctx context.Context, fetcherID string) (*Snapshot, error) {
	var snap Snapshot
	if err := h.cache.Get(ctx, keyPrefix+fetcherID, &snap); err != nil {
		return nil, errors.NotFound("no metrics reported for fetcher", err)
	}
	return &snap, nil
}

// GetAll returns every live (non-expired) snapshot known to the hub,
// fetching across fetcher ids concurrently.
func (h *Hub) GetAll(ctx context.Context) []*Snapshot {
	h.mu.Lock()
	ids := make([]string, 0, len(h.ids))
	for id := range h.ids {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}

	workers := getAllFanOut
	if len(ids) < workers {
		workers = len(ids)
	}

	idCh := concurrency.Generator(ctx, ids...)
	results := concurrency.FanOutFanIn(ctx, idCh, workers, func(ctx context.Context, id string) (*Snapshot, error) {
		snap, err := h.Get(ctx, id)
		if err != nil {
			h.mu.Lock()
			delete(h.ids, id)
			h.mu.Unlock()
			return nil, err
		}
		return snap, nil
	})

	var out []*Snapshot
	for snap := range results {
		if snap != nil {
			out = append(out, snap)
		}
	}
	return out
}
