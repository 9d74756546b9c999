package provider

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/quakewatch/quake-feed-service/internal/domain"
)

// USGS adapts the USGS earthquake hazards GeoJSON summary feeds
// (https://earthquake.usgs.gov/earthquakes/feed/v1.0/geojson.php).
// The window selects which rolling feed is fetched, e.g. "all_day"
// for recent activity or "2.5_month" for a wider historical view.
type USGS struct {
	window     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewUSGS creates a USGS feed adapter for the given summary window.
func NewUSGS(baseURL, window string, timeout time.Duration, logger *slog.Logger) *USGS {
	return &USGS{
		window:     window,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (u *USGS) Name() string { return "usgs" }

// Fetch downloads and normalizes the summary feed. Malformed features are
// skipped individually; only a transport or top-level decode failure marks
// the whole result failed.
func (u *USGS) Fetch(ctx context.Context) domain.ProviderResult {
	var payload usgsResponse
	url := u.baseURL + "/earthquakes/feed/v1.0/summary/" + u.window + ".geojson"
	if err := getJSON(ctx, u.httpClient, url, &payload); err != nil {
		u.logger.Warn("usgs fetch failed", "window", u.window, "error", err)
		return domain.ProviderResult{Provider: u.Name(), Status: statusForError(err)}
	}

	events := make([]domain.Event, 0, len(payload.Features))
	for _, f := range payload.Features {
		ev, ok := u.toEvent(f)
		if !ok {
			continue
		}
		events = append(events, ev)
	}
	return domain.ProviderResult{Provider: u.Name(), Status: domain.StatusOK, Events: events}
}

func (u *USGS) toEvent(f usgsFeature) (domain.Event, bool) {
	// Timestamps are epoch milliseconds; zero or negative means the
	// feature carries no usable origin time and is dropped.
	if f.ID == "" || f.Properties.Time <= 0 {
		return domain.Event{}, false
	}

	loc := domain.Location{FreeText: f.Properties.Place}
	var depth *float64
	if len(f.Geometry.Coordinates) >= 2 {
		loc.Geo = &domain.Geo{Lat: f.Geometry.Coordinates[1], Lon: f.Geometry.Coordinates[0]}
		if len(f.Geometry.Coordinates) >= 3 {
			d := f.Geometry.Coordinates[2]
			depth = &d
		}
	}

	return domain.Event{
		ID:         f.ID,
		Kind:       domain.KindSeismic,
		Title:      f.Properties.Title,
		Summary:    f.Properties.Place,
		OccurredAt: time.UnixMilli(f.Properties.Time).UTC(),
		Location:   loc,
		Magnitude:  f.Properties.Mag,
		DepthKm:    depth,
		Region:     domain.ClassifyRegion(loc),
		Provider:   u.Name(),
		SourceURL:  f.Properties.URL,
	}, true
}

// USGS GeoJSON response types.

type usgsResponse struct {
	Features []usgsFeature `json:"features"`
}

type usgsFeature struct {
	ID         string `json:"id"`
	Properties struct {
		Mag   *float64 `json:"mag"`
		Place string   `json:"place"`
		Time  int64    `json:"time"` // epoch ms
		URL   string   `json:"url"`
		Title string   `json:"title"`
	} `json:"properties"`
	Geometry struct {
		Coordinates []float64 `json:"coordinates"` // [lon, lat, depth_km]
	} `json:"geometry"`
}
