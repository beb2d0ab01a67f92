package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegeech-me/statustracker/internal/metricshub"
	cachememory "github.com/olegeech-me/statustracker/pkg/cache/adapters/memory"
)

func newTestServer(t *testing.T) (*Server, *metricshub.Hub) {
	t.Helper()
	hub := metricshub.New(cachememory.New(), nil)
	return New(hub, "test-admin-api"), hub
}

func TestHandleGetAllReturnsKnownFetchers(t *testing.T) {
	s, hub := newTestServer(t)
	require.NoError(t, hub.Update(context.Background(), "fetcher-1", metricshub.Snapshot{Succeeded: 5}))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var got []metricshub.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 1)
	assert.Equal(t, "fetcher-1", got[0].FetcherID)
}

func TestHandleGetReturnsSingleFetcher(t *testing.T) {
	s, hub := newTestServer(t)
	require.NoError(t, hub.Update(context.Background(), "fetcher-1", metricshub.Snapshot{Succeeded: 5}))

	req := httptest.NewRequest(http.MethodGet, "/metrics/fetcher-1", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var got metricshub.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(5), got.Succeeded)
}

func TestHandleGetUnknownFetcherReturnsNotFound(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics/missing", nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
