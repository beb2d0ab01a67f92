// Package notifier is the Notifier (spec.md C6): it sends a chat message
// to a user with retry/backoff under transport errors, giving up after a
// bounded number of attempts.
package notifier

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/olegeech-me/statustracker/pkg/communication/chat"
	"github.com/olegeech-me/statustracker/pkg/concurrency"
	"github.com/olegeech-me/statustracker/pkg/resilience"
)

// RetryAfter is returned by a chat.Sender when the platform asks the
// caller to wait a specific duration before retrying (e.g. a 429).
type RetryAfter struct {
	Delay time.Duration
}

func (e *RetryAfter) Error() string { return "chat platform requested retry-after delay" }

// TimedOut wraps a send that exceeded its deadline.
type TimedOut struct{ Cause error }

func (e *TimedOut) Error() string { return "chat send timed out" }
func (e *TimedOut) Unwrap() error { return e.Cause }

// NetworkError wraps a transport-level failure reaching the chat platform.
type NetworkError struct{ Cause error }

func (e *NetworkError) Error() string { return "chat send network error" }
func (e *NetworkError) Unwrap() error { return e.Cause }

// isRetryable classifies RetryAfter/TimedOut/NetworkError as retryable;
// everything else (bad request, auth failure, etc.) is terminal.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var retryAfter *RetryAfter
	var timedOut *TimedOut
	var netErr *NetworkError
	return errors.As(err, &retryAfter) || errors.As(err, &timedOut) || errors.As(err, &netErr)
}

// Notifier sends chat notifications with bounded retry.
type Notifier struct {
	sender   chat.Sender
	retryCfg resilience.RetryConfig
	// outbound bounds concurrent in-flight sends across every caller of
	// Notify (the Reconciler's status-update and expiration loops both
	// hold a reference to the same Notifier), so a burst of reconciled
	// results can't exceed the chat platform's own rate limits.
	outbound *concurrency.Semaphore
}

// Config configures the Notifier's retry behavior.
type Config struct {
	// MaxRetries bounds total attempts (default 5, per spec.md §4.6).
	MaxRetries int
	// InitialBackoff is the first retry delay; doubles thereafter.
	InitialBackoff time.Duration
	// MaxConcurrentSends bounds in-flight chat.Sender.Send calls (default 10).
	MaxConcurrentSends int64
}

// New wraps sender with a retrying Notifier.
func New(sender chat.Sender, cfg Config) *Notifier {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxConcurrentSends <= 0 {
		cfg.MaxConcurrentSends = 10
	}

	return &Notifier{
		sender: sender,
		retryCfg: resilience.RetryConfig{
			MaxAttempts:    cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     30 * time.Second,
			Multiplier:     2.0,
			Jitter:         0.2,
			RetryIf:        isRetryable,
		},
		outbound: concurrency.NewSemaphore(cfg.MaxConcurrentSends),
	}
}

// Notify sends text to chatID, retrying on transport errors and honoring
// a RetryAfter's requested delay before each retry that follows one.
func (n *Notifier) Notify(ctx context.Context, chatID int64, text string) error {
	if err := n.outbound.Acquire(ctx, 1); err != nil {
		return err
	}
	defer n.outbound.Release(1)

	return resilience.Retry(ctx, n.retryCfg, func(ctx context.Context) error {
		err := n.sender.Send(ctx, &chat.Message{UserID: strconv.FormatInt(chatID, 10), Text: text})
		var retryAfter *RetryAfter
		if errors.As(err, &retryAfter) && retryAfter.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryAfter.Delay):
			}
		}
		return err
	})
}

// Close releases the underlying sender's resources.
func (n *Notifier) Close() error {
	return n.sender.Close()
}
