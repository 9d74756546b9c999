package pipeline

import (
	"math"
	"sort"
	"time"

	"github.com/quakewatch/quake-feed-service/internal/domain"
)

// Two seismic events are the same phenomenon when their origin times and
// epicenters both fall within these tolerances. Catalog agencies disagree by
// seconds and kilometers, not minutes and degrees.
const (
	dupTimeTolerance = 60 * time.Second
	dupDistanceKm    = 30.0
)

// Dedup collapses events that describe the same underlying phenomenon.
// Seismic pairs match on identical ID, or on origin time within
// dupTimeTolerance plus epicenters within dupDistanceKm. Narrative events
// match on identical ID only: distinct articles about one quake stay
// distinct. When a pair matches, the record from the higher-priority
// provider (lower tier index in priority) wins outright; fields are never
// merged. Running Dedup on its own output is a no-op.
func Dedup(events []domain.Event, priority map[string]int) []domain.Event {
	if len(events) <= 1 {
		return snapshotEvents(events)
	}

	// Process in provider-priority order so the kept record is always the
	// higher-priority one. Sort is stable w.r.t. a deterministic key chain
	// so output does not depend on arrival order.
	sorted := snapshotEvents(events)
	sort.SliceStable(sorted, func(i, j int) bool {
		pi, pj := tierOf(sorted[i], priority), tierOf(sorted[j], priority)
		if pi != pj {
			return pi < pj
		}
		if !sorted[i].OccurredAt.Equal(sorted[j].OccurredAt) {
			return sorted[i].OccurredAt.After(sorted[j].OccurredAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	seenIDs := make(map[string]bool, len(sorted))
	kept := make([]domain.Event, 0, len(sorted))
	for _, ev := range sorted {
		if seenIDs[ev.ID] {
			continue
		}
		if ev.Kind == domain.KindSeismic && matchesKeptSeismic(ev, kept) {
			continue
		}
		seenIDs[ev.ID] = true
		kept = append(kept, ev)
	}
	return kept
}

func tierOf(ev domain.Event, priority map[string]int) int {
	if p, ok := priority[ev.Provider]; ok {
		return p
	}
	return math.MaxInt
}

func matchesKeptSeismic(ev domain.Event, kept []domain.Event) bool {
	for _, k := range kept {
		if k.Kind != domain.KindSeismic {
			continue
		}
		if sameQuake(ev, k) {
			return true
		}
	}
	return false
}

// sameQuake applies the time+distance tolerance test. Events without
// coordinates can only collide via identical IDs, handled upstream.
func sameQuake(a, b domain.Event) bool {
	if a.Location.Geo == nil || b.Location.Geo == nil {
		return false
	}
	dt := a.OccurredAt.Sub(b.OccurredAt)
	if dt < 0 {
		dt = -dt
	}
	if dt > dupTimeTolerance {
		return false
	}
	return haversineKm(*a.Location.Geo, *b.Location.Geo) <= dupDistanceKm
}

const earthRadiusKm = 6371.0

func haversineKm(a, b domain.Geo) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
