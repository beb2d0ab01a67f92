package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegeech-me/statustracker/internal/appkey"
	"github.com/olegeech-me/statustracker/internal/model"
	"github.com/olegeech-me/statustracker/pkg/errors"
)

func TestUpdateApplicationStatusInvariant(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)

	require.NoError(t, s.InsertUser(ctx, &model.User{ChatID: 42}))
	app := &model.Application{ChatID: 42, Number: "12345", Type: "TP", Year: 2023}
	require.NoError(t, s.InsertApplication(ctx, app))

	require.NoError(t, s.UpdateApplicationStatus(ctx, app.ID, "zpracovava se", false, model.StateInProgress, true))

	stored, err := s.FetchUserSubscriptions(ctx, 42)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, stored[0].ChangedAt, stored[0].LastUpdated)
}

func TestUpdateLastCheckedLeavesChangedAt(t *testing.T) {
	ctx := context.Background()
	tick := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore(func() time.Time { return tick })

	app := &model.Application{ChatID: 1, Number: "11111", Type: "TP", Year: 2024}
	require.NoError(t, s.InsertApplication(ctx, app))
	firstChangedAt := app.ChangedAt

	tick = tick.Add(time.Hour)
	require.NoError(t, s.UpdateLastChecked(ctx, app.ID))

	apps, err := s.FetchUserSubscriptions(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, firstChangedAt, apps[0].ChangedAt)
	assert.Equal(t, tick, apps[0].LastUpdated)
}

func TestInsertApplicationDuplicateConflict(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)

	app := &model.Application{ChatID: 1, Number: "1", Type: "TP", Year: 2024}
	require.NoError(t, s.InsertApplication(ctx, app))

	err := s.InsertApplication(ctx, &model.Application{ChatID: 1, Number: "1", Type: "TP", Year: 2024})
	require.Error(t, err)
	assert.Equal(t, errors.CodeConflict, errors.CodeOf(err))
}

func TestFetchApplicationsNeedingUpdateExcludesResolved(t *testing.T) {
	ctx := context.Background()
	tick := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore(func() time.Time { return tick })

	due := &model.Application{ChatID: 1, Number: "1", Type: "TP", Year: 2024}
	require.NoError(t, s.InsertApplication(ctx, due))
	resolved := &model.Application{ChatID: 2, Number: "2", Type: "TP", Year: 2024}
	require.NoError(t, s.InsertApplication(ctx, resolved))
	require.NoError(t, s.UpdateApplicationStatus(ctx, resolved.ID, "bylo povoleno", true, model.StateApproved, true))

	tick = tick.Add(2 * time.Hour)

	apps, err := s.FetchApplicationsNeedingUpdate(ctx, time.Hour, 6*time.Hour)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, due.ID, apps[0].ID)
}

func TestFetchApplicationsToExpireOnlyNotFound(t *testing.T) {
	ctx := context.Background()
	tick := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore(func() time.Time { return tick })

	notFound := &model.Application{ChatID: 1, Number: "1", Type: "TP", Year: 2024}
	require.NoError(t, s.InsertApplication(ctx, notFound))
	require.NoError(t, s.UpdateApplicationStatus(ctx, notFound.ID, "nebylo nalezeno", false, model.StateNotFound, true))

	inProgress := &model.Application{ChatID: 2, Number: "2", Type: "TP", Year: 2024}
	require.NoError(t, s.InsertApplication(ctx, inProgress))
	require.NoError(t, s.UpdateApplicationStatus(ctx, inProgress.ID, "zpracovava se", false, model.StateInProgress, true))

	tick = tick.Add(100 * 24 * time.Hour)

	apps, err := s.FetchApplicationsToExpire(ctx, 90*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, notFound.ID, apps[0].ID)

	require.NoError(t, s.ResolveApplication(ctx, notFound.ID))
	apps, err = s.FetchApplicationsToExpire(ctx, 90*24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, apps)
}

func TestSubscriptionCapHelpers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)

	for i := 0; i < 5; i++ {
		app := &model.Application{ChatID: 7, Number: "1", Type: "TP", Year: 2020 + i}
		require.NoError(t, s.InsertApplication(ctx, app))
	}

	count, err := s.CountUserSubscriptions(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	exists, err := s.SubscriptionExists(ctx, 7, appkey.Key{Number: "1", Type: "TP", Year: 2020})
	require.NoError(t, err)
	assert.True(t, exists)
}
