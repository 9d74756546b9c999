package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Kind distinguishes sensor-reported earthquakes from human-authored
// (or model-authored) articles about them.
type Kind string

const (
	KindSeismic   Kind = "seismic"
	KindNarrative Kind = "narrative"
)

// RegionTag is the classifier's verdict on where an event belongs.
type RegionTag string

const (
	RegionPriority RegionTag = "priority_region"
	RegionOther    RegionTag = "other"
)

// Status describes the outcome of a single provider fetch.
type Status string

const (
	StatusOK             Status = "ok"
	StatusTimedOut       Status = "timed_out"
	StatusFailed         Status = "failed"
	StatusSkippedByQuota Status = "skipped_by_quota"
)

// Geo represents a WGS-84 latitude/longitude coordinate pair.
type Geo struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Location holds the provider's free-text place description plus
// coordinates when the provider reports them.
type Location struct {
	FreeText string `json:"free_text,omitempty"`
	Geo      *Geo   `json:"geo,omitempty"`
}

// Event is the canonical record every provider payload is normalized into.
// ID is stable per phenomenon within one provider; cross-provider collisions
// are resolved by the deduplicator, not by the adapters.
type Event struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Title      string    `json:"title"`
	Summary    string    `json:"summary,omitempty"`
	Body       string    `json:"body,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Location   Location  `json:"location,omitempty"`
	Magnitude  *float64  `json:"magnitude,omitempty"`
	DepthKm    *float64  `json:"depth_km,omitempty"`
	Region     RegionTag `json:"region"`
	Provider   string    `json:"provider"`
	SourceURL  string    `json:"source_url,omitempty"`

	// Synthetic marks fallback content served in place of a live provider
	// (quota exhaustion), so consumers can tell it apart from real data.
	Synthetic bool `json:"synthetic,omitempty"`
}

// ProviderResult is the ephemeral outcome of one adapter fetch. Never persisted.
type ProviderResult struct {
	Provider string
	Status   Status
	Events   []Event
	Latency  time.Duration
}

// DeriveID produces a deterministic ID for providers that do not assign their
// own (news articles keyed by URL). Reprocessing the same payload yields the
// same ID, which keeps deduplication and replays stable.
func DeriveID(prefix string, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	short := hex.EncodeToString(h.Sum(nil)[:8])
	if prefix == "" {
		return short
	}
	return prefix + "-" + short
}
