// Package store is the Status Store Adapter (spec.md C2): the
// persistence contract for users, subscriptions and reminders, plus two
// implementations — a GORM/Postgres adapter for production and a
// mutex-guarded in-memory adapter for unit tests.
package store

import (
	"context"
	"time"

	"github.com/olegeech-me/statustracker/internal/appkey"
	"github.com/olegeech-me/statustracker/internal/model"
)

// Store is the persistence contract every component composes against.
// All operations return errors.AppError with a stable Code: CodeConflict
// for unique-key violations, CodeNotFound for missing rows, and
// CodeInternal for everything else.
type Store interface {
	InsertUser(ctx context.Context, u *model.User) error
	UserExists(ctx context.Context, chatID int64) (bool, error)
	UpdateUserLanguage(ctx context.Context, chatID int64, language string) error
	FetchUserLanguage(ctx context.Context, chatID int64) (string, error)

	InsertApplication(ctx context.Context, app *model.Application) error
	FetchApplication(ctx context.Context, id int64) (*model.Application, error)
	DeleteApplication(ctx context.Context, chatID int64, key appkey.Key) error
	SubscriptionExists(ctx context.Context, chatID int64, key appkey.Key) (bool, error)
	CountUserSubscriptions(ctx context.Context, chatID int64) (int, error)
	FetchUserSubscriptions(ctx context.Context, chatID int64) ([]*model.Application, error)

	// UpdateApplicationStatus atomically sets current_status, is_resolved
	// and application_state; last_updated is always bumped to now, and
	// changed_at is additionally bumped to now iff hasChanged.
	UpdateApplicationStatus(ctx context.Context, id int64, status string, isResolved bool, state model.ApplicationState, hasChanged bool) error
	// UpdateLastChecked bumps last_updated only, leaving changed_at untouched.
	UpdateLastChecked(ctx context.Context, id int64) error

	FetchApplicationsNeedingUpdate(ctx context.Context, refresh, notFoundRefresh time.Duration) ([]*model.Application, error)
	FetchApplicationsToExpire(ctx context.Context, maxAge time.Duration) ([]*model.Application, error)
	ResolveApplication(ctx context.Context, id int64) error

	InsertReminder(ctx context.Context, r *model.Reminder) error
	DeleteReminder(ctx context.Context, id int64) error
	FetchUserReminders(ctx context.Context, chatID int64) ([]*model.Reminder, error)
	FetchDueReminders(ctx context.Context, hour, minute int) ([]*model.Reminder, error)

	FetchAllChatIDs(ctx context.Context) ([]int64, error)

	Close() error
}
