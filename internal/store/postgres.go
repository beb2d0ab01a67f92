package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/olegeech-me/statustracker/internal/appkey"
	"github.com/olegeech-me/statustracker/internal/model"
	"github.com/olegeech-me/statustracker/pkg/database/sql"
	apperrors "github.com/olegeech-me/statustracker/pkg/errors"
)

// PostgresStore implements Store over pkg/database/sql.SQL (a
// GORM/Postgres connection), following the teacher's adapters-behind-an-
// interface pattern: nothing outside this file touches *gorm.DB directly.
type PostgresStore struct {
	db sql.SQL
}

// NewPostgresStore wraps an already-connected sql.SQL and runs
// AutoMigrate for the three tables spec.md §6 enumerates.
func NewPostgresStore(db sql.SQL) (*PostgresStore, error) {
	if err := db.Get(context.Background()).AutoMigrate(&model.User{}, &model.Application{}, &model.Reminder{}); err != nil {
		return nil, apperrors.Wrap(err, "failed to migrate schema")
	}
	return &PostgresStore{db: db}, nil
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// failure (SQLSTATE 23505), surfaced as CodeConflict per spec.md §4.2.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}

func (s *PostgresStore) translate(err error, duplicateMsg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NotFound("record not found", err)
	}
	if isUniqueViolation(err) {
		return apperrors.Conflict(duplicateMsg, err)
	}
	return apperrors.Internal("store operation failed", err)
}

func (s *PostgresStore) InsertUser(ctx context.Context, u *model.User) error {
	u.CreatedAt = time.Now().UTC()
	err := s.db.Get(ctx).Create(u).Error
	return s.translate(err, "user already exists")
}

func (s *PostgresStore) UserExists(ctx context.Context, chatID int64) (bool, error) {
	var count int64
	err := s.db.Get(ctx).Model(&model.User{}).Where("chat_id = ?", chatID).Count(&count).Error
	if err != nil {
		return false, s.translate(err, "")
	}
	return count > 0, nil
}

func (s *PostgresStore) UpdateUserLanguage(ctx context.Context, chatID int64, language string) error {
	res := s.db.Get(ctx).Model(&model.User{}).Where("chat_id = ?", chatID).Update("language", language)
	if res.Error != nil {
		return s.translate(res.Error, "")
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("user not found", nil)
	}
	return nil
}

func (s *PostgresStore) FetchUserLanguage(ctx context.Context, chatID int64) (string, error) {
	var u model.User
	err := s.db.Get(ctx).Where("chat_id = ?", chatID).First(&u).Error
	if err != nil {
		return "", s.translate(err, "")
	}
	return u.Language, nil
}

func (s *PostgresStore) InsertApplication(ctx context.Context, app *model.Application) error {
	now := time.Now().UTC()
	app.CreatedAt = now
	app.LastUpdated = now
	app.ChangedAt = now
	if app.ApplicationState == "" {
		app.ApplicationState = model.StateUnknown
	}
	err := s.db.Get(ctx).Create(app).Error
	return s.translate(err, "subscription already exists")
}

func (s *PostgresStore) FetchApplication(ctx context.Context, id int64) (*model.Application, error) {
	var app model.Application
	err := s.db.Get(ctx).Where("id = ?", id).First(&app).Error
	if err != nil {
		return nil, s.translate(err, "")
	}
	return &app, nil
}

func (s *PostgresStore) DeleteApplication(ctx context.Context, chatID int64, key appkey.Key) error {
	res := s.db.Get(ctx).Where("chat_id = ? AND number = ? AND type = ? AND year = ?", chatID, key.Number, key.Type, key.Year).Delete(&model.Application{})
	if res.Error != nil {
		return s.translate(res.Error, "")
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("subscription not found", nil)
	}
	return nil
}

func (s *PostgresStore) SubscriptionExists(ctx context.Context, chatID int64, key appkey.Key) (bool, error) {
	var count int64
	err := s.db.Get(ctx).Model(&model.Application{}).
		Where("chat_id = ? AND number = ? AND type = ? AND year = ?", chatID, key.Number, key.Type, key.Year).
		Count(&count).Error
	if err != nil {
		return false, s.translate(err, "")
	}
	return count > 0, nil
}

func (s *PostgresStore) CountUserSubscriptions(ctx context.Context, chatID int64) (int, error) {
	var count int64
	err := s.db.Get(ctx).Model(&model.Application{}).Where("chat_id = ?", chatID).Count(&count).Error
	if err != nil {
		return 0, s.translate(err, "")
	}
	return int(count), nil
}

func (s *PostgresStore) FetchUserSubscriptions(ctx context.Context, chatID int64) ([]*model.Application, error) {
	var apps []*model.Application
	err := s.db.Get(ctx).Where("chat_id = ?", chatID).Order("id").Find(&apps).Error
	if err != nil {
		return nil, s.translate(err, "")
	}
	return apps, nil
}

func (s *PostgresStore) UpdateApplicationStatus(ctx context.Context, id int64, status string, isResolved bool, state model.ApplicationState, hasChanged bool) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"current_status":    status,
		"is_resolved":       isResolved,
		"application_state": state,
		"last_updated":      now,
	}
	if hasChanged {
		updates["changed_at"] = now
	}
	res := s.db.Get(ctx).Model(&model.Application{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return s.translate(res.Error, "")
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("application not found", nil)
	}
	return nil
}

func (s *PostgresStore) UpdateLastChecked(ctx context.Context, id int64) error {
	res := s.db.Get(ctx).Model(&model.Application{}).Where("id = ?", id).Update("last_updated", time.Now().UTC())
	if res.Error != nil {
		return s.translate(res.Error, "")
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("application not found", nil)
	}
	return nil
}

func (s *PostgresStore) FetchApplicationsNeedingUpdate(ctx context.Context, refresh, notFoundRefresh time.Duration) ([]*model.Application, error) {
	now := time.Now().UTC()
	var apps []*model.Application
	err := s.db.Get(ctx).Where(
		"is_resolved = false AND ((application_state <> ? AND last_updated < ?) OR (application_state = ? AND last_updated < ?))",
		model.StateNotFound, now.Add(-refresh),
		model.StateNotFound, now.Add(-notFoundRefresh),
	).Order("id").Find(&apps).Error
	if err != nil {
		return nil, s.translate(err, "")
	}
	return apps, nil
}

func (s *PostgresStore) FetchApplicationsToExpire(ctx context.Context, maxAge time.Duration) ([]*model.Application, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	var apps []*model.Application
	err := s.db.Get(ctx).Where("is_resolved = false AND application_state = ? AND created_at < ?", model.StateNotFound, cutoff).
		Order("id").Find(&apps).Error
	if err != nil {
		return nil, s.translate(err, "")
	}
	return apps, nil
}

func (s *PostgresStore) ResolveApplication(ctx context.Context, id int64) error {
	res := s.db.Get(ctx).Model(&model.Application{}).Where("id = ?", id).Update("is_resolved", true)
	if res.Error != nil {
		return s.translate(res.Error, "")
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("application not found", nil)
	}
	return nil
}

func (s *PostgresStore) InsertReminder(ctx context.Context, r *model.Reminder) error {
	err := s.db.Get(ctx).Create(r).Error
	return s.translate(err, "reminder already exists")
}

func (s *PostgresStore) DeleteReminder(ctx context.Context, id int64) error {
	res := s.db.Get(ctx).Delete(&model.Reminder{}, id)
	if res.Error != nil {
		return s.translate(res.Error, "")
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("reminder not found", nil)
	}
	return nil
}

func (s *PostgresStore) FetchUserReminders(ctx context.Context, chatID int64) ([]*model.Reminder, error) {
	var reminders []*model.Reminder
	err := s.db.Get(ctx).Where("chat_id = ?", chatID).Order("id").Find(&reminders).Error
	if err != nil {
		return nil, s.translate(err, "")
	}
	return reminders, nil
}

func (s *PostgresStore) FetchDueReminders(ctx context.Context, hour, minute int) ([]*model.Reminder, error) {
	var reminders []*model.Reminder
	err := s.db.Get(ctx).Where("EXTRACT(HOUR FROM reminder_time) = ? AND EXTRACT(MINUTE FROM reminder_time) = ?", hour, minute).
		Order("id").Find(&reminders).Error
	if err != nil {
		return nil, s.translate(err, "")
	}
	return reminders, nil
}

func (s *PostgresStore) FetchAllChatIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.db.Get(ctx).Model(&model.User{}).Order("chat_id").Pluck("chat_id", &ids).Error
	if err != nil {
		return nil, s.translate(err, "")
	}
	return ids, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

var _ Store = (*PostgresStore)(nil)
