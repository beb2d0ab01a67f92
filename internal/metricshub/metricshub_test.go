package metricshub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachememory "github.com/olegeech-me/statustracker/pkg/cache/adapters/memory"
)

func TestUpdateAndGet(t *testing.T) {
	h := New(cachememory.New(), nil)
	ctx := context.Background()

	require.NoError(t, h.Update(ctx, "fetcher-1", Snapshot{Succeeded: 10, Failed: 1}))

	snap, err := h.Get(ctx, "fetcher-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), snap.Succeeded)
	assert.Equal(t, "fetcher-1", snap.FetcherID)
}

func TestGetUnknownFetcherNotFound(t *testing.T) {
	h := New(cachememory.New(), nil)
	_, err := h.Get(context.Background(), "missing")
	assert.Error(t, err)
}

func TestGetAllAggregatesKnownFetchers(t *testing.T) {
	h := New(cachememory.New(), nil)
	ctx := context.Background()

	require.NoError(t, h.Update(ctx, "a", Snapshot{Succeeded: 1}))
	require.NoError(t, h.Update(ctx, "b", Snapshot{Succeeded: 2}))

	all := h.GetAll(ctx)
	assert.Len(t, all, 2)
}
