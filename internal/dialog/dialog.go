// Package dialog implements the one piece of the Subscription Dialog
// (spec.md C8) that lives inside this system rather than in the external
// chat-command collaborator: the per-user rate limit on `subscribe`
// invocations. The command surface itself stays out of scope.
package dialog

import (
	"context"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	redislimiter "github.com/olegeech-me/statustracker/pkg/api/ratelimit/adapters/redis"
)

// RateLimiter enforces the 5-subscribe-per-rolling-24h cap (spec.md
// §4.8), admin-exempt, via a Redis-backed sliding-window limiter — the
// strategy closest to a true rolling window among those the adapter
// offers.
type RateLimiter struct {
	limiter *redislimiter.DistributedLimiter
	cap     int64
	window  time.Duration
	isAdmin func(chatID int64) bool
}

// Config configures the subscribe rate limiter.
type Config struct {
	// Cap is the maximum number of subscribe invocations per Window
	// (default 5, per spec.md §4.8).
	Cap int64
	// Window is the rolling period the cap applies over (default 24h).
	Window time.Duration
}

// New wraps a Redis client with a subscribe rate limiter. isAdmin
// reports whether chatID is exempt (spec.md's admin-exempt clause).
func New(client goredis.Cmdable, cfg Config, isAdmin func(chatID int64) bool) *RateLimiter {
	if cfg.Cap <= 0 {
		cfg.Cap = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 24 * time.Hour
	}
	if isAdmin == nil {
		isAdmin = func(int64) bool { return false }
	}

	return &RateLimiter{
		limiter: redislimiter.New(client, redislimiter.StrategySlidingWindow),
		cap:     cfg.Cap,
		window:  cfg.Window,
		isAdmin: isAdmin,
	}
}

// AllowSubscribe reports whether chatID may perform another subscribe
// invocation right now, consuming one slot from its rolling window if so.
// Admin-exempt users are always allowed and never consume a slot.
func (r *RateLimiter) AllowSubscribe(ctx context.Context, chatID int64) (bool, error) {
	if r.isAdmin(chatID) {
		return true, nil
	}

	key := subscribeKey(chatID)
	result, err := r.limiter.Allow(ctx, key, r.cap, r.window)
	if err != nil {
		return false, err
	}
	return result.Allowed, nil
}

func subscribeKey(chatID int64) string {
	return "dialog:subscribe:" + strconv.FormatInt(chatID, 10)
}
