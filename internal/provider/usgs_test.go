package provider

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quakewatch/quake-feed-service/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const usgsFixture = `{
  "features": [
    {
      "id": "us7000abcd",
      "properties": {
        "mag": 5.2,
        "place": "43 km SSW of Bhuj, Gujarat, India",
        "time": 1756500000000,
        "url": "https://earthquake.usgs.gov/earthquakes/eventpage/us7000abcd",
        "title": "M 5.2 - 43 km SSW of Bhuj, Gujarat, India"
      },
      "geometry": {"coordinates": [69.45, 22.93, 10.0]}
    },
    {
      "id": "us7000efgh",
      "properties": {
        "mag": 4.1,
        "place": "Near the coast of central Chile",
        "time": 1756500060000,
        "url": "https://earthquake.usgs.gov/earthquakes/eventpage/us7000efgh",
        "title": "M 4.1 - Near the coast of central Chile"
      },
      "geometry": {"coordinates": [-71.6, -33.0, 35.5]}
    },
    {
      "id": "us7000bad1",
      "properties": {"mag": 3.0, "place": "missing origin time", "time": 0},
      "geometry": {"coordinates": [0, 0, 0]}
    },
    {
      "id": "",
      "properties": {"mag": 3.0, "place": "missing id", "time": 1756500120000},
      "geometry": {"coordinates": [0, 0, 0]}
    }
  ]
}`

func TestUSGS_Fetch_SalvagesValidFeatures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/earthquakes/feed/v1.0/summary/all_day.geojson", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(usgsFixture))
	}))
	defer srv.Close()

	u := NewUSGS(srv.URL, "all_day", time.Second, discardLogger())
	result := u.Fetch(context.Background())

	assert.Equal(t, "usgs", result.Provider)
	assert.Equal(t, domain.StatusOK, result.Status)
	// Two valid features; the ones missing an origin time or ID are dropped.
	require.Len(t, result.Events, 2)

	ev := result.Events[0]
	assert.Equal(t, "us7000abcd", ev.ID)
	assert.Equal(t, domain.KindSeismic, ev.Kind)
	assert.Equal(t, time.UnixMilli(1756500000000).UTC(), ev.OccurredAt)
	require.NotNil(t, ev.Magnitude)
	assert.Equal(t, 5.2, *ev.Magnitude)
	require.NotNil(t, ev.DepthKm)
	assert.Equal(t, 10.0, *ev.DepthKm)
	require.NotNil(t, ev.Location.Geo)
	assert.Equal(t, 22.93, ev.Location.Geo.Lat)
	assert.Equal(t, 69.45, ev.Location.Geo.Lon)
	assert.Equal(t, domain.RegionPriority, ev.Region, "Gujarat epicenter classifies as priority region")

	assert.Equal(t, domain.RegionOther, result.Events[1].Region)
}

func TestUSGS_Fetch_MalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"features": 42}`))
	}))
	defer srv.Close()

	u := NewUSGS(srv.URL, "all_day", time.Second, discardLogger())
	result := u.Fetch(context.Background())

	assert.Equal(t, domain.StatusFailed, result.Status)
	assert.Empty(t, result.Events)
}

func TestUSGS_Fetch_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream broken", http.StatusBadGateway)
	}))
	defer srv.Close()

	u := NewUSGS(srv.URL, "all_day", time.Second, discardLogger())
	result := u.Fetch(context.Background())

	assert.Equal(t, domain.StatusFailed, result.Status)
}

func TestUSGS_Fetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	u := NewUSGS(srv.URL, "all_day", time.Minute, discardLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	result := u.Fetch(ctx)

	assert.Equal(t, domain.StatusTimedOut, result.Status)
}
