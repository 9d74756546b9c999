package provider

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quakewatch/quake-feed-service/internal/domain"
)

// NCS adapts the National Center for Seismology (India) catalog API.
// The catalog reports every numeric field as a string and timestamps in
// Indian Standard Time without a zone suffix.
type NCS struct {
	baseURL    string
	days       int
	httpClient *http.Client
	logger     *slog.Logger
}

// istZone is fixed rather than looked up so parsing does not depend on the
// host's tzdata.
var istZone = time.FixedZone("IST", 5*3600+30*60)

const ncsTimeLayout = "2006-01-02 15:04:05"

// NewNCS creates an NCS catalog adapter covering the trailing number of days.
func NewNCS(baseURL string, days int, timeout time.Duration, logger *slog.Logger) *NCS {
	return &NCS{
		baseURL:    baseURL,
		days:       days,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (n *NCS) Name() string { return "ncs" }

func (n *NCS) Fetch(ctx context.Context) domain.ProviderResult {
	var payload ncsResponse
	url := n.baseURL + "/riseq/earthquake/list?days=" + strconv.Itoa(n.days)
	if err := getJSON(ctx, n.httpClient, url, &payload); err != nil {
		n.logger.Warn("ncs fetch failed", "error", err)
		return domain.ProviderResult{Provider: n.Name(), Status: statusForError(err)}
	}

	events := make([]domain.Event, 0, len(payload.Events))
	for _, rec := range payload.Events {
		ev, ok := n.toEvent(rec)
		if !ok {
			n.logger.Debug("ncs record skipped", "event_id", rec.EventID, "origin_time", rec.OriginTime)
			continue
		}
		events = append(events, ev)
	}
	return domain.ProviderResult{Provider: n.Name(), Status: domain.StatusOK, Events: events}
}

func (n *NCS) toEvent(rec ncsRecord) (domain.Event, bool) {
	if rec.EventID == "" {
		return domain.Event{}, false
	}
	// Unparsable origin times drop the record; a quake without a valid
	// instant cannot be ranked or deduplicated.
	occurred, err := time.ParseInLocation(ncsTimeLayout, strings.TrimSpace(rec.OriginTime), istZone)
	if err != nil {
		return domain.Event{}, false
	}

	loc := domain.Location{FreeText: rec.Region}
	lat, latErr := strconv.ParseFloat(strings.TrimSpace(rec.Latitude), 64)
	lon, lonErr := strconv.ParseFloat(strings.TrimSpace(rec.Longitude), 64)
	if latErr == nil && lonErr == nil {
		loc.Geo = &domain.Geo{Lat: lat, Lon: lon}
	}

	ev := domain.Event{
		ID:         "ncs-" + rec.EventID,
		Kind:       domain.KindSeismic,
		Title:      ncsTitle(rec),
		Summary:    rec.Region,
		OccurredAt: occurred.UTC(),
		Location:   loc,
		Region:     domain.ClassifyRegion(loc),
		Provider:   n.Name(),
		SourceURL:  rec.DetailURL,
	}
	if mag, err := strconv.ParseFloat(strings.TrimSpace(rec.Magnitude), 64); err == nil {
		ev.Magnitude = &mag
	}
	if depth, err := strconv.ParseFloat(strings.TrimSpace(rec.Depth), 64); err == nil {
		ev.DepthKm = &depth
	}
	return ev, true
}

func ncsTitle(rec ncsRecord) string {
	mag := strings.TrimSpace(rec.Magnitude)
	if mag == "" {
		return rec.Region
	}
	return "M " + mag + " - " + rec.Region
}

// NCS API response types. Every field arrives as a string.

type ncsResponse struct {
	Events []ncsRecord `json:"events"`
}

type ncsRecord struct {
	EventID    string `json:"eventId"`
	OriginTime string `json:"originTime"` // "2006-01-02 15:04:05" in IST
	Latitude   string `json:"latitude"`
	Longitude  string `json:"longitude"`
	Magnitude  string `json:"magnitude"`
	Depth      string `json:"depth"` // km
	Region     string `json:"region"`
	DetailURL  string `json:"detailUrl"`
}
