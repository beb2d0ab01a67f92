// Package config loads the process-wide configuration shared by
// cmd/fetcher, cmd/scheduler and cmd/reconciler: the domain timing and
// cap knobs spec.md enumerates, plus the ambient stack's own settings
// (logging, tracing, the store, the broker, the cache, chat, rate
// limiting and leader election).
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/olegeech-me/statustracker/pkg/cache"
	"github.com/olegeech-me/statustracker/pkg/communication/chat"
	"github.com/olegeech-me/statustracker/pkg/config"
	"github.com/olegeech-me/statustracker/pkg/database/sql"
	"github.com/olegeech-me/statustracker/pkg/logger"
	"github.com/olegeech-me/statustracker/pkg/messaging/adapters/rabbitmq"
)

// Config is the single struct every cmd/ binary loads via pkg/config.Load.
type Config struct {
	// Domain timing, named exactly as spec.md §6 enumerates.
	RefreshPeriod           time.Duration `env:"REFRESH_PERIOD" env-default:"1h"`
	SchedulerPeriod         time.Duration `env:"SCHEDULER_PERIOD" env-default:"5m"`
	NotFoundRefreshPeriod   time.Duration `env:"NOT_FOUND_REFRESH_PERIOD" env-default:"6h"`
	NotFoundMaxDays         int           `env:"NOT_FOUND_MAX_DAYS" env-default:"90"`
	RequeueThresholdSeconds int           `env:"REQUEUE_THRESHOLD_SECONDS" env-default:"300"`
	JitterSeconds           int           `env:"JITTER_SECONDS" env-default:"30"`
	MaxRetries              int           `env:"MAX_RETRIES" env-default:"3"`
	MaxMessages             int64         `env:"MAX_MESSAGES" env-default:"100"`
	CoolOffDuration         time.Duration `env:"COOL_OFF_DURATION" env-default:"5m"`

	// PortalURL is the government portal endpoint the Fetcher polls.
	PortalURL string `env:"PORTAL_URL" env-default:"https://portal.example.gov/status"`
	// PageLoadTimeout bounds a single portal fetch (spec.md §9's page-load limit).
	PageLoadTimeout time.Duration `env:"PAGE_LOAD_TIMEOUT" env-default:"30s"`
	// FetcherID names this Fetcher process in published metrics snapshots.
	FetcherID string `env:"FETCHER_ID" env-default:"fetcher-1"`
	// MetricsPublishPeriod is how often a Fetcher snapshots its counters
	// onto FetcherMetricsQueue.
	MetricsPublishPeriod time.Duration `env:"METRICS_PUBLISH_PERIOD" env-default:"30s"`

	// Subscription dialog caps (contract-only component). Loaded here but
	// read by no other package: internal/dialog's RateLimiter takes its
	// limit from its own Config, and internal/store counts subscriptions
	// without rejecting any over a cap.
	SubscriptionCap  int `env:"SUBSCRIPTION_CAP" env-default:"5"`
	ReminderCap      int `env:"REMINDER_CAP" env-default:"2"`
	DailyCommandCap  int `env:"DAILY_COMMAND_CAP" env-default:"5"`

	// AdminChatIDs is exempt from the daily subscribe rate limit. Kept as
	// []string (cleanenv's separator-split slices are best supported for
	// string elements) and parsed lazily in IsAdmin.
	AdminChatIDs []string `env:"ADMIN_CHAT_IDS" env-separator:","`

	// CivilTimezone is the fixed timezone the reminder monitor's wall-clock
	// comparisons run against. NOT_FOUND expiry is age-based and does not
	// use it.
	CivilTimezone string `env:"CIVIL_TIMEZONE" env-default:"Europe/Prague"`

	// FetcherConcurrency bounds the shared worker pool's goroutine count.
	FetcherConcurrency int `env:"FETCHER_CONCURRENCY" env-default:"4"`
	FetcherQueueSize   int `env:"FETCHER_QUEUE_SIZE" env-default:"256"`

	// LeaderLockTTL governs the Scheduler/Reconciler leader-election lease.
	LeaderLockTTL        time.Duration `env:"LEADER_LOCK_TTL" env-default:"15s"`
	LeaderLockRetryDelay time.Duration `env:"LEADER_LOCK_RETRY_DELAY" env-default:"500ms"`

	// AdminAPIAddr is the operator-facing metrics HTTP listener.
	AdminAPIAddr string `env:"ADMIN_API_ADDR" env-default:":8081"`

	// OTelEndpoint is the OTLP gRPC collector address. No cmd/ binary reads
	// it, so trace export is not set up from it.
	OTelEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	Logger    logger.Config
	Database  sql.Config
	Cache     cache.Config
	RabbitMQ  rabbitmq.Config
	Chat      chat.Config
}

// Load reads Config from the environment (and .env, if present) and
// validates it via pkg/config.Load.
func Load() (*Config, error) {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Location resolves the fixed civil timezone used by the reminder monitor.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.CivilTimezone)
}

// IsAdmin reports whether chatID is exempt from the daily subscribe cap.
func (c *Config) IsAdmin(chatID int64) bool {
	target := strconv.FormatInt(chatID, 10)
	for _, id := range c.AdminChatIDs {
		if strings.TrimSpace(id) == target {
			return true
		}
	}
	return false
}
