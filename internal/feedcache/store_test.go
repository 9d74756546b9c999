package feedcache_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quakewatch/quake-feed-service/internal/domain"
	"github.com/quakewatch/quake-feed-service/internal/feedcache"
	"github.com/quakewatch/quake-feed-service/internal/observability"
	"github.com/quakewatch/quake-feed-service/internal/pipeline"
	"github.com/quakewatch/quake-feed-service/internal/provider"
	"github.com/quakewatch/quake-feed-service/internal/quota"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEvents(n int) []domain.Event {
	events := make([]domain.Event, n)
	for i := range events {
		events[i] = domain.Event{
			ID:         "ev-" + string(rune('a'+i)),
			Kind:       domain.KindSeismic,
			OccurredAt: time.Date(2026, time.August, 30, 12, 0, 0, 0, time.UTC).Add(-time.Duration(i) * time.Minute),
			Provider:   "stub",
			Region:     domain.RegionOther,
		}
	}
	return events
}

func newStore(clock clockwork.Clock) *feedcache.Store {
	return feedcache.NewStore(clock, discardLogger(), observability.NewMetricsForTesting())
}

func registerStub(t *testing.T, store *feedcache.Store, key string, ttl time.Duration, refresh feedcache.RefreshFunc) {
	t.Helper()
	require.NoError(t, store.Register(feedcache.FeedSpec{
		Key:            key,
		TTL:            ttl,
		RefreshTimeout: 5 * time.Second,
		DefaultLimit:   20,
		MaxLimit:       100,
		Refresh:        refresh,
	}))
}

func TestStore_ColdReadBlocksForFirstFetch(t *testing.T) {
	store := newStore(clockwork.NewFakeClock())
	registerStub(t, store, "recent", 5*time.Minute, func(_ context.Context, publish func([]domain.Event, bool)) {
		publish(testEvents(3), false)
	})

	feed, err := store.GetFeed(context.Background(), "recent", 10)
	require.NoError(t, err)
	assert.Len(t, feed.Events, 3)
	assert.False(t, feed.Stale)
	assert.False(t, feed.Degraded)
}

func TestStore_UnknownKey(t *testing.T) {
	store := newStore(clockwork.NewFakeClock())

	_, err := store.GetFeed(context.Background(), "nope", 10)
	require.ErrorIs(t, err, feedcache.ErrUnknownFeed)
}

func TestStore_StalenessTracksTTL(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := newStore(clock)

	var refreshes atomic.Int32
	registerStub(t, store, "recent", 5*time.Minute, func(_ context.Context, publish func([]domain.Event, bool)) {
		if refreshes.Add(1) == 1 {
			publish(testEvents(2), false)
		}
		// Later refreshes fail: they publish nothing.
	})

	feed, err := store.GetFeed(context.Background(), "recent", 10)
	require.NoError(t, err)
	assert.False(t, feed.Stale, "entry younger than TTL is fresh")

	clock.Advance(4 * time.Minute)
	feed, err = store.GetFeed(context.Background(), "recent", 10)
	require.NoError(t, err)
	assert.False(t, feed.Stale)

	clock.Advance(2 * time.Minute)
	feed, err = store.GetFeed(context.Background(), "recent", 10)
	require.NoError(t, err)
	assert.True(t, feed.Stale, "entry older than TTL reports stale")
	assert.Len(t, feed.Events, 2, "stale read still serves the last good payload")

	// The failed background refresh must leave the previous entry intact.
	require.Eventually(t, func() bool { return refreshes.Load() >= 2 }, time.Second, 5*time.Millisecond)
	feed, err = store.GetFeed(context.Background(), "recent", 10)
	require.NoError(t, err)
	assert.Len(t, feed.Events, 2)
	assert.True(t, feed.Stale, "a refresh that produced nothing does not reset freshness")
}

func TestStore_RequestCollapsing(t *testing.T) {
	store := newStore(clockwork.NewFakeClock())

	var calls atomic.Int32
	gate := make(chan struct{})
	registerStub(t, store, "recent", 5*time.Minute, func(_ context.Context, publish func([]domain.Event, bool)) {
		calls.Add(1)
		<-gate
		publish(testEvents(1), false)
	})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			feed, err := store.GetFeed(context.Background(), "recent", 10)
			assert.NoError(t, err)
			assert.Len(t, feed.Events, 1)
		}()
	}

	// Both cold readers must be parked on the same in-flight refresh.
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "two concurrent cold reads collapse into one fan-out")
}

func TestStore_ColdStartTotalFailure(t *testing.T) {
	store := newStore(clockwork.NewFakeClock())

	var calls atomic.Int32
	registerStub(t, store, "recent", 5*time.Minute, func(_ context.Context, _ func([]domain.Event, bool)) {
		calls.Add(1)
	})

	_, err := store.GetFeed(context.Background(), "recent", 10)
	require.ErrorIs(t, err, feedcache.ErrNoData)

	// A later read retries rather than caching the failure.
	_, err = store.GetFeed(context.Background(), "recent", 10)
	require.ErrorIs(t, err, feedcache.ErrNoData)
	assert.Equal(t, int32(2), calls.Load())

	require.Error(t, store.CheckReadiness(context.Background()))
}

func TestStore_LimitClamping(t *testing.T) {
	store := newStore(clockwork.NewFakeClock())
	registerStub(t, store, "recent", 5*time.Minute, func(_ context.Context, publish func([]domain.Event, bool)) {
		publish(testEvents(25), false)
	})

	feed, err := store.GetFeed(context.Background(), "recent", 0)
	require.NoError(t, err)
	assert.Len(t, feed.Events, 20, "zero limit uses the feed default")

	feed, err = store.GetFeed(context.Background(), "recent", 5)
	require.NoError(t, err)
	assert.Len(t, feed.Events, 5)

	feed, err = store.GetFeed(context.Background(), "recent", 10_000)
	require.NoError(t, err)
	assert.Len(t, feed.Events, 25, "oversized limit clamps instead of erroring")
}

func TestStore_ReadinessAfterFirstSnapshot(t *testing.T) {
	store := newStore(clockwork.NewFakeClock())
	registerStub(t, store, "recent", 5*time.Minute, func(_ context.Context, publish func([]domain.Event, bool)) {
		publish(testEvents(1), false)
	})

	require.Error(t, store.CheckReadiness(context.Background()))
	_, err := store.GetFeed(context.Background(), "recent", 1)
	require.NoError(t, err)
	require.NoError(t, store.CheckReadiness(context.Background()))
}

// stubProvider implements provider.Provider for end-to-end scenarios.
type stubProvider struct {
	name   string
	delay  time.Duration
	events []domain.Event
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Fetch(ctx context.Context) domain.ProviderResult {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return domain.ProviderResult{Provider: s.name, Status: domain.StatusTimedOut}
		}
	}
	return domain.ProviderResult{Provider: s.name, Status: domain.StatusOK, Events: s.events}
}

// TestStore_EndToEnd runs the full engine: provider A returns five valid
// seismic events instantly, provider B hangs past the tier deadline, and
// provider C serves a malformed payload through the real USGS adapter.
func TestStore_EndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"features": "definitely-not-a-list"}`))
	}))
	defer srv.Close()

	quakes := testEvents(5)
	for i := range quakes {
		quakes[i].Provider = "provider-a"
		geo := domain.Geo{Lat: float64(10 * i), Lon: float64(10 * i)}
		quakes[i].Location.Geo = &geo
	}

	a := &stubProvider{name: "provider-a", events: quakes}
	b := &stubProvider{name: "provider-b", delay: 5 * time.Second}
	c := provider.NewUSGS(srv.URL, "all_hour", time.Second, discardLogger())

	o := pipeline.NewOrchestrator([]pipeline.Tier{
		{Timeout: 100 * time.Millisecond, Providers: []provider.Provider{a, b, c}},
	}, discardLogger(), observability.NewMetricsForTesting())

	policy := pipeline.RankPolicy{PriorityRatio: 3, OtherRatio: 2, DefaultLimit: 20, MaxLimit: 100}
	store := newStore(clockwork.NewFakeClock())
	registerStub(t, store, "test", 5*time.Minute, o.RefreshFunc(policy))

	feed, err := store.GetFeed(context.Background(), "test", 10)
	require.NoError(t, err)
	assert.Len(t, feed.Events, 5, "only provider A's events survive")
	assert.False(t, feed.Degraded, "plain failures are not quota degradation")
	for _, ev := range feed.Events {
		assert.Equal(t, "provider-a", ev.Provider)
	}

	// The manifest records how B and C went down.
	manifest := o.Run(context.Background(), nil)
	statuses := map[string]domain.Status{}
	for _, r := range manifest {
		statuses[r.Provider] = r.Status
	}
	assert.Equal(t, domain.StatusOK, statuses["provider-a"])
	assert.Equal(t, domain.StatusTimedOut, statuses["provider-b"])
	assert.Equal(t, domain.StatusFailed, statuses["usgs"])
}

// TestStore_QuotaFallbackDegradesFeed drives the outlook provider past a
// three-call daily budget; the fourth refresh serves the synthetic fallback
// and the feed reports degraded.
func TestStore_QuotaFallbackDegradesFeed(t *testing.T) {
	var upstreamCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		upstreamCalls.Add(1)
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "Quiet week expected. Stay prepared."}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	clock := clockwork.NewFakeClock()
	metrics := observability.NewMetricsForTesting()
	governor := quota.New(map[string]int{"outlook": 3}, clock, discardLogger(), metrics)
	outlook := provider.NewOutlook(srv.URL, "test-token", "test-model", time.Second, governor, discardLogger())

	o := pipeline.NewOrchestrator([]pipeline.Tier{
		{Timeout: time.Second, Providers: []provider.Provider{outlook}},
	}, discardLogger(), metrics)
	policy := pipeline.RankPolicy{PriorityRatio: 3, OtherRatio: 2, MixedKinds: true, DefaultLimit: 20, MaxLimit: 100}

	store := feedcache.NewStore(clock, discardLogger(), metrics)
	registerStub(t, store, "news", time.Minute, o.RefreshFunc(policy))

	waitFresh := func() feedcache.Feed {
		var feed feedcache.Feed
		require.Eventually(t, func() bool {
			f, err := store.GetFeed(context.Background(), "news", 10)
			if err != nil {
				return false
			}
			feed = f
			return !f.Stale
		}, 2*time.Second, 5*time.Millisecond)
		return feed
	}

	feed := waitFresh()
	assert.False(t, feed.Degraded)

	for i := 0; i < 2; i++ {
		clock.Advance(2 * time.Minute)
		feed = waitFresh()
		assert.False(t, feed.Degraded)
	}

	// Fourth refresh: budget exhausted, fallback path serves the feed.
	clock.Advance(2 * time.Minute)
	feed = waitFresh()
	assert.True(t, feed.Degraded)
	require.NotEmpty(t, feed.Events)
	assert.True(t, feed.Events[0].Synthetic)
	assert.Equal(t, domain.KindNarrative, feed.Events[0].Kind)

	assert.Equal(t, int32(3), upstreamCalls.Load(), "the denied call never reaches the upstream")
}
