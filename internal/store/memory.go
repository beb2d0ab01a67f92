package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/olegeech-me/statustracker/internal/appkey"
	"github.com/olegeech-me/statustracker/internal/model"
	"github.com/olegeech-me/statustracker/pkg/errors"
)

// MemoryStore is a plain-map-backed Store used by unit tests across
// internal/store, internal/scheduler and internal/reconciler — the
// teacher's adapters-behind-an-interface discipline applied without a
// database dependency.
type MemoryStore struct {
	mu sync.Mutex

	users        map[int64]*model.User
	applications map[int64]*model.Application
	reminders    map[int64]*model.Reminder
	nextAppID    int64
	nextRemID    int64

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store. clock defaults to
// time.Now when nil, matching the package's clock-injection convention.
func NewMemoryStore(clock func() time.Time) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{
		users:        make(map[int64]*model.User),
		applications: make(map[int64]*model.Application),
		reminders:    make(map[int64]*model.Reminder),
		now:          clock,
	}
}

func (s *MemoryStore) InsertUser(ctx context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ChatID]; ok {
		return errors.Conflict("user already exists", nil)
	}
	u.CreatedAt = s.now()
	cp := *u
	s.users[u.ChatID] = &cp
	return nil
}

func (s *MemoryStore) UserExists(ctx context.Context, chatID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[chatID]
	return ok, nil
}

func (s *MemoryStore) UpdateUserLanguage(ctx context.Context, chatID int64, language string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[chatID]
	if !ok {
		return errors.NotFound("user not found", nil)
	}
	u.Language = language
	return nil
}

func (s *MemoryStore) FetchUserLanguage(ctx context.Context, chatID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[chatID]
	if !ok {
		return "", errors.NotFound("user not found", nil)
	}
	return u.Language, nil
}

func (s *MemoryStore) matches(app *model.Application, chatID int64, key appkey.Key) bool {
	return app.ChatID == chatID && app.Number == key.Number && app.Type == key.Type && app.Year == key.Year
}

func (s *MemoryStore) InsertApplication(ctx context.Context, app *model.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := appkey.Key{Number: app.Number, Type: app.Type, Year: app.Year, Suffix: app.Suffix}
	for _, existing := range s.applications {
		if s.matches(existing, app.ChatID, key) {
			return errors.Conflict("subscription already exists", nil)
		}
	}

	s.nextAppID++
	app.ID = s.nextAppID
	app.CreatedAt = s.now()
	app.LastUpdated = s.now()
	app.ChangedAt = s.now()
	if app.ApplicationState == "" {
		app.ApplicationState = model.StateUnknown
	}
	cp := *app
	s.applications[app.ID] = &cp
	return nil
}

func (s *MemoryStore) FetchApplication(ctx context.Context, id int64) (*model.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.applications[id]
	if !ok {
		return nil, errors.NotFound("application not found", nil)
	}
	cp := *app
	return &cp, nil
}

func (s *MemoryStore) DeleteApplication(ctx context.Context, chatID int64, key appkey.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, app := range s.applications {
		if s.matches(app, chatID, key) {
			delete(s.applications, id)
			return nil
		}
	}
	return errors.NotFound("subscription not found", nil)
}

func (s *MemoryStore) SubscriptionExists(ctx context.Context, chatID int64, key appkey.Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, app := range s.applications {
		if s.matches(app, chatID, key) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) CountUserSubscriptions(ctx context.Context, chatID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, app := range s.applications {
		if app.ChatID == chatID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) FetchUserSubscriptions(ctx context.Context, chatID int64) ([]*model.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Application
	for _, app := range s.applications {
		if app.ChatID == chatID {
			cp := *app
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateApplicationStatus(ctx context.Context, id int64, status string, isResolved bool, state model.ApplicationState, hasChanged bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.applications[id]
	if !ok {
		return errors.NotFound("application not found", nil)
	}
	now := s.now()
	app.CurrentStatus = status
	app.IsResolved = isResolved
	app.ApplicationState = state
	app.LastUpdated = now
	if hasChanged {
		app.ChangedAt = now
	}
	return nil
}

func (s *MemoryStore) UpdateLastChecked(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.applications[id]
	if !ok {
		return errors.NotFound("application not found", nil)
	}
	app.LastUpdated = s.now()
	return nil
}

func (s *MemoryStore) FetchApplicationsNeedingUpdate(ctx context.Context, refresh, notFoundRefresh time.Duration) ([]*model.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var out []*model.Application
	for _, app := range s.applications {
		if app.IsResolved {
			continue
		}
		age := now.Sub(app.LastUpdated)
		due := false
		if app.ApplicationState == model.StateNotFound {
			due = age > notFoundRefresh
		} else {
			due = age > refresh
		}
		if due {
			cp := *app
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) FetchApplicationsToExpire(ctx context.Context, maxAge time.Duration) ([]*model.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var out []*model.Application
	for _, app := range s.applications {
		if app.IsResolved || app.ApplicationState != model.StateNotFound {
			continue
		}
		if now.Sub(app.CreatedAt) > maxAge {
			cp := *app
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ResolveApplication(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	app, ok := s.applications[id]
	if !ok {
		return errors.NotFound("application not found", nil)
	}
	app.IsResolved = true
	return nil
}

func (s *MemoryStore) InsertReminder(ctx context.Context, r *model.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.reminders {
		if existing.ChatID == r.ChatID && existing.ReminderTime.Equal(r.ReminderTime) {
			return errors.Conflict("reminder already exists", nil)
		}
	}
	s.nextRemID++
	r.ID = s.nextRemID
	cp := *r
	s.reminders[r.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteReminder(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reminders[id]; !ok {
		return errors.NotFound("reminder not found", nil)
	}
	delete(s.reminders, id)
	return nil
}

func (s *MemoryStore) FetchUserReminders(ctx context.Context, chatID int64) ([]*model.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Reminder
	for _, r := range s.reminders {
		if r.ChatID == chatID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) FetchDueReminders(ctx context.Context, hour, minute int) ([]*model.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Reminder
	for _, r := range s.reminders {
		if r.ReminderTime.Hour() == hour && r.ReminderTime.Minute() == minute {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) FetchAllChatIDs(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for id := range s.users {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
