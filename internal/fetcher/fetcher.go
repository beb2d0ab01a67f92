// Package fetcher is the Fetcher Worker (spec.md C3): it dequeues fetch
// and refresh jobs, serializes per-application work, applies jittered
// scheduling and bounded retries, and emits observed status updates plus
// periodic metrics snapshots.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/olegeech-me/statustracker/internal/fabric"
	"github.com/olegeech-me/statustracker/internal/model"
	"github.com/olegeech-me/statustracker/pkg/concurrency"
	"github.com/olegeech-me/statustracker/pkg/errors"
	"github.com/olegeech-me/statustracker/pkg/logger"
	"github.com/olegeech-me/statustracker/pkg/messaging"
	"github.com/olegeech-me/statustracker/pkg/resilience"
)

// BrowserEngine is the portal collaborator contract from spec.md §9: an
// opaque fetch that may block for up to the page-load limit and returns
// HTML-limited markup, or an error if the portal could not be reached.
type BrowserEngine interface {
	Fetch(ctx context.Context, url string, job model.JobMessage) (status string, err error)

	// Probe measures portal latency on its own, independent of any real
	// fetch/refresh traffic (spec.md §4.3's Fetcher Metrics section).
	Probe(ctx context.Context, url string) (latency time.Duration, err error)

	Close() error
}

// Config configures a Worker.
type Config struct {
	URL string

	// JitterSeconds bounds the U(5, JitterSeconds) sleep before a
	// non-retry refresh (spec.md §4.3 step 2).
	JitterSeconds int
	MaxRetries    int

	// MaxMessages/CoolOffDuration implement the rate-limit escape hatch
	// (spec.md §4.3): after MaxMessages deliveries, consuming pauses for
	// CoolOffDuration before resuming.
	MaxMessages     int64
	CoolOffDuration time.Duration

	FetcherID string

	// FetcherConcurrency/FetcherQueueSize bound the worker pool every
	// portal fetch runs through, independent of how many consume loops
	// are active.
	FetcherConcurrency int
	FetcherQueueSize   int
}

// consumerGroup names the Fetcher's shared consumer group — every running
// Fetcher process competes for deliveries off the same two queues.
const consumerGroup = "fetcher"

// Worker is one Fetcher process: it owns Fabric (to publish results),
// a BrowserEngine, and a Metrics collector, per spec.md §9's builder note.
type Worker struct {
	fabric  *fabric.Fabric
	browser BrowserEngine
	cfg     Config
	keys    *keySet
	metrics *Metrics
	breaker *resilience.CircuitBreaker
	// delivered counts deliveries admitted since the breaker last closed or
	// tripped; it drives the MaxMessages trip independently of the
	// breaker's own pass/fail accounting, which Execute here only uses for
	// the open/half-open/closed gate and its Timeout-based recovery.
	delivered int64
	rand      *rand.Rand

	// pool bounds concurrent browser.Fetch calls to FetcherConcurrency,
	// independent of how many consume loops are running.
	pool *concurrency.WorkerPool
}

// New wires a Worker from its collaborators.
func New(f *fabric.Fabric, browser BrowserEngine, cfg Config) *Worker {
	if cfg.JitterSeconds <= 0 {
		cfg.JitterSeconds = 30
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 100
	}
	if cfg.CoolOffDuration <= 0 {
		cfg.CoolOffDuration = 5 * time.Minute
	}
	if cfg.FetcherID == "" {
		cfg.FetcherID = "fetcher"
	}
	if cfg.FetcherConcurrency <= 0 {
		cfg.FetcherConcurrency = 4
	}
	if cfg.FetcherQueueSize <= 0 {
		cfg.FetcherQueueSize = 256
	}

	pool := concurrency.NewWorkerPool(cfg.FetcherConcurrency, cfg.FetcherQueueSize)
	// Started here rather than in Run: handleFetch/handleRefresh are called
	// directly by tests without Run ever being called, so the pool must
	// already be draining by the time the first job is submitted.
	pool.Start(context.Background())

	return &Worker{
		fabric:  f,
		browser: browser,
		cfg:     cfg,
		keys:    newKeySet(),
		metrics: NewMetrics(cfg.FetcherID),
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             cfg.FetcherID + "-rate-breaker",
			FailureThreshold: cfg.MaxMessages,
			SuccessThreshold: 1,
			Timeout:          cfg.CoolOffDuration,
		}),
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
		pool: pool,
	}
}

// Run consumes ApplicationFetchQueue and RefreshStatusQueue until ctx is
// canceled. The cool-off escape hatch is realized as the rate breaker
// tripping open after MaxMessages deliveries: before() then fast-fails
// every delivery with ErrCircuitOpen until CoolOffDuration elapses, at
// which point a single probe delivery closes it again.
func (w *Worker) Run(ctx context.Context) error {
	done := make(chan error, 2)

	concurrency.SafeGo(ctx, func() {
		done <- w.fabric.Consume(ctx, model.QueueApplicationFetch, consumerGroup, w.handleFetch)
	})
	concurrency.SafeGo(ctx, func() {
		done <- w.fabric.Consume(ctx, model.QueueRefreshStatus, consumerGroup, w.handleRefresh)
	})

	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-done; err != nil && ctx.Err() == nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (w *Worker) handleFetch(ctx context.Context, msg *messaging.Message) error {
	return w.process(ctx, msg, model.RequestFetch)
}

func (w *Worker) handleRefresh(ctx context.Context, msg *messaging.Message) error {
	return w.process(ctx, msg, model.RequestRefresh)
}

// process implements spec.md §4.3's per-request lifecycle.
func (w *Worker) process(ctx context.Context, msg *messaging.Message, requestType model.RequestType) error {
	job, err := decodeJob(msg)
	if err != nil {
		logger.L().ErrorContext(ctx, "fetcher: malformed job message", "error", err)
		return nil
	}
	job.RequestType = requestType

	retryCount := retryCountOf(msg.Headers)
	key := keyOf(job)

	// The breaker's fn always succeeds; Execute is used here purely as the
	// open/half-open/closed gate (with its Timeout-based auto-recovery),
	// not for pass/fail accounting. Tripping past MaxMessages is driven
	// explicitly below via w.delivered, since every delivery should count
	// toward the cap regardless of whether the fetch itself succeeds.
	if err := w.breaker.Execute(ctx, func(ctx context.Context) error { return nil }); errors.Is(err, resilience.ErrCircuitOpen) {
		logger.L().WarnContext(ctx, "fetcher: in cool-off, skipping delivery", "key", key)
		return errors.Conflict("fetcher cooling off", nil)
	}

	if atomic.AddInt64(&w.delivered, 1) >= w.cfg.MaxMessages {
		atomic.StoreInt64(&w.delivered, 0)
		w.breaker.Trip()
		logger.L().WarnContext(ctx, "fetcher: reached max messages, tripping into cool-off", "max_messages", w.cfg.MaxMessages)
	}

	// Concurrency discipline (spec.md §4.3): retries bypass the skip
	// check so the in-progress attempt can be retried.
	if retryCount == 0 {
		if !w.keys.tryAcquire(requestType, key) {
			logger.L().DebugContext(ctx, "fetcher: duplicate in-flight request, acking without work", "key", key, "request_type", requestType)
			return nil
		}
		w.metrics.IncLocked()
		defer w.metrics.DecLocked()
		defer w.keys.release(requestType, key)
	}

	if requestType == model.RequestRefresh && retryCount == 0 {
		w.metrics.IncWaiting()
		w.jitterSleep(ctx)
		w.metrics.DecWaiting()
	}

	start := time.Now()
	status, fetchErr := w.fetchViaPool(ctx, job)
	latency := time.Since(start)
	w.metrics.ObserveLatency(latency)

	if fetchErr == nil && !containsNumber(status, job.Number) {
		fetchErr = fmt.Errorf("number-consistency check failed: %q missing from response", job.Number)
	}

	if fetchErr != nil {
		return w.manageFailedRequest(ctx, job, msg.Headers, retryCount)
	}

	job.Status = status
	job.Failed = false
	w.metrics.IncSucceeded()
	return w.publishResult(ctx, job)
}

// manageFailedRequest implements spec.md §4.3 step 6: bounded retry via
// x-retry-count, escalating to a visible failure once exhausted.
func (w *Worker) manageFailedRequest(ctx context.Context, job model.JobMessage, headers map[string]string, retryCount int) error {
	if retryCount < w.cfg.MaxRetries {
		w.metrics.IncRetried()
		newHeaders := cloneHeaders(headers)
		newHeaders[model.RetryCountHeader] = strconv.Itoa(retryCount + 1)
		queue := model.QueueApplicationFetch
		if job.RequestType == model.RequestRefresh {
			queue = model.QueueRefreshStatus
		}
		payload, err := json.Marshal(job)
		if err != nil {
			return errors.Wrap(err, "failed to encode retry job message")
		}
		// PublishRaw, not Publish: a retry shares its predecessor's
		// fingerprint (only the header changes), so the dedup cache would
		// otherwise swallow every retry past the first.
		if err := w.fabric.PublishRaw(ctx, queue, payload, newHeaders); err != nil {
			return err
		}
		return nil
	}

	w.metrics.IncFailed()
	job.Failed = true
	job.Status = fmt.Sprintf("ERROR: could not fetch status for application %s/%s-%d after %d attempts",
		job.Number, job.Type, job.Year, retryCount+1)
	return w.publishResult(ctx, job)
}

// publishResult emits the observed outcome onto StatusUpdateQueue. It uses
// PublishRaw rather than Publish: a result carries the same request-identity
// fields (chat/number/type/year/request_type) as the original request still
// sitting in the dedup cache, so routing it through Publish would have the
// reply dropped as a duplicate of the very request it's answering. The
// dedup cache entry for the original request is cleared separately, by the
// Reconciler calling Discard once it has consumed this reply.
func (w *Worker) publishResult(ctx context.Context, job model.JobMessage) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "failed to encode result job message")
	}
	return w.fabric.PublishRaw(ctx, model.QueueStatusUpdate, payload, nil)
}

// jitterSleep sleeps U(5, JitterSeconds) seconds, observing ctx
// cancellation so shutdown preempts the wait (spec.md §5).
func (w *Worker) jitterSleep(ctx context.Context) {
	lo, hi := 5, w.cfg.JitterSeconds
	if hi < lo {
		hi = lo
	}
	d := time.Duration(lo+w.rand.Intn(hi-lo+1)) * time.Second
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// fetchViaPool runs browser.Fetch on the worker pool, bounding concurrent
// portal fetches to FetcherConcurrency regardless of delivery volume. The
// pool's worker goroutines have no panic recovery of their own, so the
// submitted task recovers locally and reports a synthetic error rather than
// leaving the caller blocked on result forever.
func (w *Worker) fetchViaPool(ctx context.Context, job model.JobMessage) (string, error) {
	type outcome struct {
		status string
		err    error
	}
	result := make(chan outcome, 1)

	w.pool.Submit(func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("panic recovered: %v", r)
				logger.L().ErrorContext(ctx, "fetcher: panic in pooled fetch", "error", err)
				result <- outcome{err: err}
			}
		}()
		status, err := w.browser.Fetch(ctx, w.cfg.URL, job)
		result <- outcome{status: status, err: err}
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case o := <-result:
		return o.status, o.err
	}
}

func (w *Worker) Close() error {
	w.pool.Stop()
	return w.browser.Close()
}

func containsNumber(status, number string) bool {
	return number != "" && strings.Contains(status, number)
}

func retryCountOf(headers map[string]string) int {
	if headers == nil {
		return 0
	}
	n, err := strconv.Atoi(headers[model.RetryCountHeader])
	if err != nil {
		return 0
	}
	return n
}

func cloneHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h)+1)
	for k, v := range h {
		out[k] = v
	}
	return out
}

func keyOf(job model.JobMessage) string {
	return fmt.Sprintf("%s/%s-%d", job.Number, job.Type, job.Year)
}
