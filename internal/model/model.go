// Package model holds the persistence-level types shared by the store,
// fabric, reconciler, scheduler and fetcher: users, applications,
// reminders, and the broker message envelopes that carry requests and
// observations between components.
package model

import "time"

// ApplicationState is the state-machine value of a tracked application.
type ApplicationState string

const (
	StateUnknown    ApplicationState = "UNKNOWN"
	StateNotFound   ApplicationState = "NOT_FOUND"
	StateInProgress ApplicationState = "IN_PROGRESS"
	StateApproved   ApplicationState = "APPROVED"
	StateDenied     ApplicationState = "DENIED"
)

// IsTerminal reports whether the state is a resolved end state.
func (s ApplicationState) IsTerminal() bool {
	return s == StateApproved || s == StateDenied
}

// User is a chat identity. Never deleted by the system once created.
type User struct {
	ChatID    int64  `gorm:"primaryKey"`
	Username  string `gorm:"size:128"`
	FirstName string `gorm:"size:128"`
	LastName  string `gorm:"size:128"`
	Language  string `gorm:"size:8;default:en"`
	CreatedAt time.Time
}

// DisplayName falls back to first/last name when Username is absent,
// matching the teacher's Telegram-facing display convention.
func (u *User) DisplayName() string {
	if u.Username != "" {
		return u.Username
	}
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	if name == "" {
		return "user"
	}
	return name
}

// Application is a tracked subscription: one user watching one portal
// application key (number, type, year, optional suffix).
type Application struct {
	ID                int64 `gorm:"primaryKey"`
	ChatID            int64 `gorm:"index:idx_app_user_key,unique"`
	Number            string `gorm:"size:16;index:idx_app_user_key,unique"`
	Suffix            *int
	Type              string `gorm:"size:4;index:idx_app_user_key,unique"`
	Year              int    `gorm:"index:idx_app_user_key,unique"`
	CurrentStatus     string `gorm:"type:text"`
	ApplicationState  ApplicationState `gorm:"size:16;default:UNKNOWN"`
	IsResolved        bool
	CreatedAt         time.Time
	LastUpdated       time.Time
	ChangedAt         time.Time
}

// Reminder is a one-shot, minute-precision alarm in a fixed civil
// timezone that re-triggers a fetch for its owning application.
type Reminder struct {
	ID            int64 `gorm:"primaryKey"`
	ChatID        int64 `gorm:"index:idx_reminder_user_time,unique"`
	ApplicationID int64
	ReminderTime  time.Time `gorm:"index:idx_reminder_user_time,unique"`
}

// RequestType distinguishes the three job kinds carried on the broker.
type RequestType string

const (
	RequestFetch   RequestType = "fetch"
	RequestRefresh RequestType = "refresh"
	RequestExpire  RequestType = "expire"
)

// JobMessage is the wire schema for ApplicationFetchQueue, RefreshStatusQueue
// and ExpirationQueue, and doubles as the Status Update Message schema once
// Status/Failed are populated by the Fetcher.
type JobMessage struct {
	ChatID        int64       `json:"chat_id"`
	Number        string      `json:"number"`
	Suffix        string      `json:"suffix,omitempty"`
	Type          string      `json:"type"`
	Year          int         `json:"year"`
	RequestType   RequestType `json:"request_type"`
	ForceRefresh  bool        `json:"force_refresh"`
	Failed        bool        `json:"failed"`
	IsReminder    bool        `json:"is_reminder,omitempty"`
	LastUpdated   string      `json:"last_updated"`
	Status        string      `json:"status,omitempty"`
	ApplicationID int64       `json:"application_id,omitempty"`
}

// RetryCountHeader is the broker header name bounding Fetcher retries.
const RetryCountHeader = "x-retry-count"

// Queue names, unchanged across every broker adapter.
const (
	QueueApplicationFetch = "ApplicationFetchQueue"
	QueueRefreshStatus    = "RefreshStatusQueue"
	QueueStatusUpdate     = "StatusUpdateQueue"
	QueueExpiration       = "ExpirationQueue"
	QueueFetcherMetrics   = "FetcherMetricsQueue"
)
