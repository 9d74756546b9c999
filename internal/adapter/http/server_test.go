package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quakewatch/quake-feed-service/internal/domain"
	"github.com/quakewatch/quake-feed-service/internal/feedcache"
)

type fakeFeeds struct {
	feeds map[string]feedcache.Feed
	err   error
	ready error

	lastKey   string
	lastLimit int
}

func (f *fakeFeeds) GetFeed(_ context.Context, key string, limit int) (feedcache.Feed, error) {
	f.lastKey = key
	f.lastLimit = limit
	if f.err != nil {
		return feedcache.Feed{}, f.err
	}
	feed, ok := f.feeds[key]
	if !ok {
		return feedcache.Feed{}, feedcache.ErrUnknownFeed
	}
	return feed, nil
}

func (f *fakeFeeds) CheckReadiness(context.Context) error { return f.ready }

func newTestServer(feeds *fakeFeeds) *Server {
	return NewServer(":0", feeds, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHandleFeed_OK(t *testing.T) {
	feeds := &fakeFeeds{feeds: map[string]feedcache.Feed{
		"earthquakes:recent": {
			Key: "earthquakes:recent",
			Events: []domain.Event{
				{ID: "us-1", Kind: domain.KindSeismic, Title: "M 4.1 - near Leh", Provider: "usgs"},
			},
			GeneratedAt: time.Date(2026, time.August, 30, 12, 0, 0, 0, time.UTC),
		},
	}}
	srv := newTestServer(feeds)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/feeds/earthquakes:recent?limit=5", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "earthquakes:recent", feeds.lastKey)
	assert.Equal(t, 5, feeds.lastLimit)

	var feed feedcache.Feed
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &feed))
	require.Len(t, feed.Events, 1)
	assert.Equal(t, "us-1", feed.Events[0].ID)
	assert.False(t, feed.Stale)
}

func TestHandleFeed_UnknownKey(t *testing.T) {
	srv := newTestServer(&fakeFeeds{feeds: map[string]feedcache.Feed{}})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/feeds/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleFeed_NoData(t *testing.T) {
	srv := newTestServer(&fakeFeeds{err: feedcache.ErrNoData})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/feeds/earthquakes:recent", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleFeed_BadLimit(t *testing.T) {
	feeds := &fakeFeeds{feeds: map[string]feedcache.Feed{}}
	srv := newTestServer(feeds)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/feeds/earthquakes:recent?limit=many", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, feeds.lastKey, "a bad limit never reaches the cache")
}

func TestHandleFeed_InternalError(t *testing.T) {
	srv := newTestServer(&fakeFeeds{err: errors.New("boom")})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/feeds/earthquakes:recent", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom", "internal details stay out of responses")
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(&fakeFeeds{})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleReady(t *testing.T) {
	feeds := &fakeFeeds{ready: errors.New("no feed has data yet")}
	srv := newTestServer(feeds)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	feeds.ready = nil
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	srv := newTestServer(&fakeFeeds{})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}
