// Package fabric is the Message Fabric (spec.md C1): it owns a
// messaging.Broker, declares the five named queues, and wraps Publish
// with fingerprint-based deduplication so a duplicate request observed
// within requeue_ttl results in exactly one broker publish.
package fabric

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/olegeech-me/statustracker/internal/model"
	"github.com/olegeech-me/statustracker/pkg/cache"
	"github.com/olegeech-me/statustracker/pkg/errors"
	"github.com/olegeech-me/statustracker/pkg/logger"
	"github.com/olegeech-me/statustracker/pkg/messaging"
)

// dedupCacheKeyPrefix namespaces fingerprint entries in the BloomCache's
// filter; the dedup cache itself stores each fingerprint without it.
const dedupCacheKeyPrefix = "fabric:fp:"

// Fabric is the concrete Message Fabric: a broker plus the Published-
// Message Cache (spec.md §3) that suppresses duplicate publishes.
type Fabric struct {
	broker      messaging.Broker
	dedup       cache.Cache
	requeueTTL  time.Duration
	clock       func() time.Time
	producers   map[string]messaging.Producer
}

// Config configures Fabric construction.
type Config struct {
	// RequeueTTL is the dedup cache entry lifetime (spec.md's requeue_ttl).
	RequeueTTL time.Duration
	// Clock defaults to time.Now. The Fabric stores it but does not read it:
	// dedup entries expire on the dedup cache's own wall clock, so TTL
	// expiry cannot be driven by this clock.
	Clock func() time.Time
}

// New wires a broker and dedup cache into a Fabric and declares the five
// named queues by opening a producer against each (queue declaration is
// idempotent and happens on first Producer()/Consumer() call per adapter).
func New(broker messaging.Broker, dedup cache.Cache, cfg Config) (*Fabric, error) {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.RequeueTTL <= 0 {
		cfg.RequeueTTL = 5 * time.Minute
	}

	f := &Fabric{
		broker:     broker,
		dedup:      cache.NewBloomCache(dedup, cache.BloomCacheConfig{Prefix: dedupCacheKeyPrefix}),
		requeueTTL: cfg.RequeueTTL,
		clock:      cfg.Clock,
		producers:  make(map[string]messaging.Producer),
	}

	for _, queue := range []string{
		model.QueueApplicationFetch,
		model.QueueRefreshStatus,
		model.QueueStatusUpdate,
		model.QueueExpiration,
		model.QueueFetcherMetrics,
	} {
		p, err := broker.Producer(queue)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("failed to declare queue %s", queue))
		}
		f.producers[queue] = p
	}

	return f, nil
}

// Fingerprint hashes the request-identifying fields of a job, excluding
// status text, so it identifies a request for a given observation window
// rather than its outcome.
func Fingerprint(job *model.JobMessage) string {
	lastUpdated := job.LastUpdated
	if lastUpdated == "" {
		lastUpdated = "0"
	}
	raw := fmt.Sprintf("%s\x1f%d\x1f%s\x1f%s\x1f%d\x1f%s",
		job.RequestType, job.ChatID, job.Number, job.Type, job.Year, lastUpdated)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Publish computes the job's fingerprint, drops the publish if it's
// already present in the dedup cache, otherwise JSON-encodes the job and
// publishes it to queue with routing key = queue, recording the
// fingerprint with the configured requeue TTL.
func (f *Fabric) Publish(ctx context.Context, queue string, job *model.JobMessage, headers map[string]string) error {
	fp := Fingerprint(job)

	var seen bool
	if err := f.dedup.Get(ctx, fp, &seen); err == nil {
		logger.L().DebugContext(ctx, "fabric: dropping duplicate publish", "queue", queue, "fingerprint", fp)
		return nil
	}

	producer, ok := f.producers[queue]
	if !ok {
		return errors.InvalidArgument(fmt.Sprintf("unknown queue %q", queue), nil)
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "failed to encode job message")
	}

	msg := &messaging.Message{Topic: queue, Payload: payload, Headers: headers}
	if err := producer.Publish(ctx, msg); err != nil {
		return errors.Wrap(err, "failed to publish message")
	}

	if err := f.dedup.Set(ctx, fp, true, f.requeueTTL); err != nil {
		logger.L().WarnContext(ctx, "fabric: failed to record dedup fingerprint", "error", err)
	}
	return nil
}

// PublishRaw publishes payload to queue verbatim, bypassing fingerprint
// dedup. The Published-Message Cache (spec.md §3) guards the single
// dispatch of a request; anything downstream of that dispatch that shares
// the same request-identity fields — a Fetcher retry requeue, or the
// eventual result delivered to StatusUpdateQueue — must not be routed back
// through Publish, or it would be dropped as a duplicate of the request
// it's still associated with. Also used for FetcherMetricsQueue, whose
// payload is a metrics snapshot rather than a request at all.
func (f *Fabric) PublishRaw(ctx context.Context, queue string, payload []byte, headers map[string]string) error {
	producer, ok := f.producers[queue]
	if !ok {
		return errors.InvalidArgument(fmt.Sprintf("unknown queue %q", queue), nil)
	}
	msg := &messaging.Message{Topic: queue, Payload: payload, Headers: headers}
	if err := producer.Publish(ctx, msg); err != nil {
		return errors.Wrap(err, "failed to publish message")
	}
	return nil
}

// Discard removes a fingerprint from the dedup cache, allowing the next
// cycle to republish the same request. The Reconciler calls this after
// observing the corresponding reply on StatusUpdateQueue.
func (f *Fabric) Discard(ctx context.Context, job *model.JobMessage) error {
	return f.dedup.Delete(ctx, Fingerprint(job))
}

// Consume registers handler on queue via the underlying broker.
func (f *Fabric) Consume(ctx context.Context, queue string, group string, handler messaging.MessageHandler) error {
	consumer, err := f.broker.Consumer(queue, group)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("failed to create consumer for %s", queue))
	}
	return consumer.Consume(ctx, handler)
}

// Healthy reports whether the underlying broker connection is usable.
func (f *Fabric) Healthy(ctx context.Context) bool {
	return f.broker.Healthy(ctx)
}

// Close tears down every producer and the broker connection.
func (f *Fabric) Close() error {
	for _, p := range f.producers {
		_ = p.Close()
	}
	return f.broker.Close()
}
